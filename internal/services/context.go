package services

import "context"

type contextKey string

const (
	workflowIDKey contextKey = "workflow_id"
	brandKey      contextKey = "brand"
	stageKey      contextKey = "stage"
	requestIDKey  contextKey = "request_id"
)

// WithWorkflowID annotates context with the workflow record identifier.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return withString(ctx, workflowIDKey, id)
}

// WorkflowIDFromContext extracts the workflow record identifier if present.
func WorkflowIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, workflowIDKey)
}

// WithBrand annotates context with the tenant brand.
func WithBrand(ctx context.Context, brand string) context.Context {
	return withString(ctx, brandKey, brand)
}

// BrandFromContext returns the brand if present.
func BrandFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, brandKey)
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
