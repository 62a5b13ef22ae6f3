package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	workspaceIDKey contextKey = "workspace_id"
	jobIDKey       contextKey = "job_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithWorkspaceID adds a workspace ID to the context.
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, workspaceIDKey, workspaceID)
}

// WorkspaceIDFromContext retrieves the workspace ID from context.
// Returns empty string if not present.
func WorkspaceIDFromContext(ctx context.Context) string {
	if v := ctx.Value(workspaceIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithJobID adds a discovery job ID to the context.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobIDFromContext retrieves the discovery job ID from context.
// Returns empty string if not present.
func JobIDFromContext(ctx context.Context) string {
	if v := ctx.Value(jobIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// JobContext contains all the context data for a discovery job.
type JobContext struct {
	RequestID   string
	WorkspaceID string
	JobID       string
}

// WithJobContext adds all job context values to the context.
func WithJobContext(ctx context.Context, jc JobContext) context.Context {
	if jc.RequestID != "" {
		ctx = WithRequestID(ctx, jc.RequestID)
	}
	if jc.WorkspaceID != "" {
		ctx = WithWorkspaceID(ctx, jc.WorkspaceID)
	}
	if jc.JobID != "" {
		ctx = WithJobID(ctx, jc.JobID)
	}
	return ctx
}

// JobContextFromContext extracts all job context values from the context.
func JobContextFromContext(ctx context.Context) JobContext {
	return JobContext{
		RequestID:   RequestIDFromContext(ctx),
		WorkspaceID: WorkspaceIDFromContext(ctx),
		JobID:       JobIDFromContext(ctx),
	}
}
