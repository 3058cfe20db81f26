package logging

import (
	"context"
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Alert(value string) Attr { return slog.String(FieldAlert, value) }

func Group(key string, attrs ...Attr) Attr {
	return slog.Group(key, Args(attrs...)...)
}

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// WorkflowID tags a line with the record it concerns.
func WorkflowID(id string) Attr { return slog.String(FieldWorkflowID, id) }

// Stage tags a line with a pipeline stage.
func Stage(stage string) Attr { return slog.String(FieldStage, stage) }

// JobID tags a line with a vendor job id.
func JobID(id string) Attr { return slog.String(FieldJobID, id) }

// Workflow returns the attributes that identify a record at a stage, in the
// form slog.Logger.With takes. Empty values are left out so a record that has
// not entered a stage yet carries no stage key.
func Workflow(id, brand, stage string) []any {
	args := make([]any, 0, 3)
	if id != "" {
		args = append(args, WorkflowID(id))
	}
	if brand != "" {
		args = append(args, slog.String(FieldBrand, brand))
	}
	if stage != "" {
		args = append(args, Stage(stage))
	}
	return args
}

func Args(attrs ...Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

func attrValue(attrs []Attr, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value.String(), true
		}
	}
	return "", false
}

// defaultHint points at the workflow when the line names one.
func defaultHint(attrs []Attr) string {
	if id, ok := attrValue(attrs, FieldWorkflowID); ok && id != "" {
		return "inspect with `contentflow status " + id + "`"
	}
	return "check recent workflow events in the log"
}

// WarnWithContext logs a warning with enforced event_type, error_hint, and impact fields.
// Missing fields are filled with defaults so every warning states cause, impact and next step.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	if _, ok := attrValue(attrs, FieldEventType); !ok {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if _, ok := attrValue(attrs, FieldErrorHint); !ok {
		attrs = append(attrs, String(FieldErrorHint, defaultHint(attrs)))
	}
	if _, ok := attrValue(attrs, FieldImpact); !ok {
		attrs = append(attrs, String(FieldImpact, "workflow left for the recovery sweep"))
	}
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext logs an error with enforced event_type and error_hint fields.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	if _, ok := attrValue(attrs, FieldEventType); !ok {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if _, ok := attrValue(attrs, FieldErrorHint); !ok {
		attrs = append(attrs, String(FieldErrorHint, defaultHint(attrs)))
	}
	logger.Error(msg, Args(attrs...)...)
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }
