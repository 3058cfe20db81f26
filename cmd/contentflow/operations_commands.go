package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"contentflow/internal/api"
	"contentflow/internal/daemonrun"
	"contentflow/internal/queue"
)

func newOperationsCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newReleaseCommand(ctx),
		newSweepCommand(ctx),
		newStatsCommand(ctx),
	}
}

func newReleaseCommand(ctx *commandContext) *cobra.Command {
	var brand string

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release queued workflows up to each brand's concurrency cap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd, func(c *daemonrun.Components) error {
				var (
					released int
					err      error
				)
				if brand = strings.TrimSpace(brand); brand != "" {
					released, err = c.Scheduler.ReleaseNextQueued(cmd.Context(), brand)
				} else {
					released, err = c.Scheduler.ReleaseAll(cmd.Context())
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, releaseOutput{Brand: brand, Released: released})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released %d workflow(s)\n", released)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&brand, "brand", "", "Only release workflows for this brand")
	return cmd
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one recovery sweep over stuck workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd, func(c *daemonrun.Components) error {
				report, err := c.Sweeper.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				dto := api.FromSweepReport(report)
				if ctx.jsonOutput() {
					return writeJSON(cmd, dto)
				}
				out := cmd.OutOrStdout()
				if dto.Skipped {
					fmt.Fprintln(out, "Sweep skipped: another process holds the sweep lease")
					return nil
				}
				fmt.Fprintf(out, "Recovered %d, failed %d, errors %d\n", len(dto.Recovered), len(dto.Failed), dto.Errors)
				for _, id := range dto.Recovered {
					fmt.Fprintf(out, "  recovered %s\n", id)
				}
				for _, id := range dto.Failed {
					fmt.Fprintf(out, "  failed    %s\n", id)
				}
				return nil
			})
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show workflow counts and database health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd, func(c *daemonrun.Components) error {
				stats, err := api.NewWorkflowService(c.Store).Stats(cmd.Context())
				if err != nil {
					return err
				}
				health, healthErr := c.Store.CheckHealth(cmd.Context())
				db := api.FromDatabaseHealth(health)
				if healthErr != nil {
					db.Error = healthErr.Error()
				}
				vendors := api.FromHealth(c.Engine.Clients().Health(cmd.Context()))
				if ctx.jsonOutput() {
					return writeJSON(cmd, statsOutput{StatsResponse: stats, Database: db, Vendors: vendors})
				}

				out := cmd.OutOrStdout()
				p := newPalette(shouldColorize(out))
				fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, buildStatsRows(stats, p), []columnAlignment{alignLeft, alignRight}))
				for _, line := range p.section("Database") {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, p.line("Path", db.Path, true))
				fmt.Fprintln(out, p.line("Schema version", strconv.Itoa(db.SchemaVersion), true))
				fmt.Fprintln(out, p.line("Readable", yesNo(db.Readable), db.Readable))
				fmt.Fprintln(out, p.line("Integrity", yesNo(db.Integrity), db.Integrity))
				if db.Error != "" {
					fmt.Fprintln(out, p.line("Error", db.Error, false))
				}
				for _, line := range p.section("Vendors") {
					fmt.Fprintln(out, line)
				}
				for _, v := range vendors {
					fmt.Fprintln(out, p.line(stageLabel(v.Stage), vendorSummary(v), v.Ready))
				}
				return nil
			})
		},
	}
}

func buildStatsRows(stats api.StatsResponse, p palette) [][]string {
	rows := make([][]string, 0, len(stats.Counts)+1)
	for _, status := range queue.AllStatuses() {
		count := stats.Counts[string(status)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{p.status(string(status)), strconv.Itoa(count)})
	}
	rows = append(rows, []string{"total", strconv.Itoa(stats.Total)})
	return rows
}

func vendorSummary(v api.StageHealth) string {
	value := "ready"
	if !v.Ready {
		value = v.Detail
	}
	if v.Vendor != "" {
		value = v.Vendor + ", " + value
	}
	return value
}
