package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"contentflow/internal/queue"
)

const (
	statusLabelWidth = 18
	statusIndent     = "  "
)

var stageTitle = cases.Title(language.English)

// palette colours status words when the output is a terminal.
type palette struct {
	ok, active, warn, fail, header *color.Color
}

func newPalette(colorize bool) palette {
	p := palette{
		ok:     color.New(color.FgGreen),
		active: color.New(color.FgCyan),
		warn:   color.New(color.FgYellow),
		fail:   color.New(color.FgRed, color.Bold),
		header: color.New(color.FgBlue),
	}
	for _, c := range []*color.Color{p.ok, p.active, p.warn, p.fail, p.header} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) status(value string) string {
	status, ok := queue.ParseStatus(value)
	if !ok {
		return value
	}
	switch {
	case status == queue.StatusCompleted:
		return p.ok.Sprint(value)
	case status == queue.StatusFailed:
		return p.fail.Sprint(value)
	case status == queue.StatusRetrying:
		return p.warn.Sprint(value)
	case status.IsInFlight():
		return p.active.Sprint(value)
	}
	return value
}

func (p palette) line(label, value string, healthy bool) string {
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", value)
	if healthy {
		return base
	}
	return p.warn.Sprint(base)
}

func (p palette) section(title string) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	return []string{p.header.Sprint(line), p.header.Sprint(strings.Repeat("-", len(line)))}
}

// stageLabel renders a stage name for humans, e.g. "render" as "Render".
func stageLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "-"
	}
	return stageTitle.String(name)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
