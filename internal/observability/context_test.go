package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithRequestID(ctx, "req-123")

		result := RequestIDFromContext(ctx)
		assert.Equal(t, "req-123", result)
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		ctx := context.Background()
		result := RequestIDFromContext(ctx)
		assert.Equal(t, "", result)
	})
}

func TestWorkspaceIDContext(t *testing.T) {
	t.Run("stores and retrieves workspace ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithWorkspaceID(ctx, "ws-456")

		result := WorkspaceIDFromContext(ctx)
		assert.Equal(t, "ws-456", result)
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		ctx := context.Background()
		result := WorkspaceIDFromContext(ctx)
		assert.Equal(t, "", result)
	})
}

func TestJobIDContext(t *testing.T) {
	t.Run("stores and retrieves job ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithJobID(ctx, "job-789")

		result := JobIDFromContext(ctx)
		assert.Equal(t, "job-789", result)
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		ctx := context.Background()
		result := JobIDFromContext(ctx)
		assert.Equal(t, "", result)
	})
}

func TestJobContextFull(t *testing.T) {
	t.Run("stores and retrieves full job context", func(t *testing.T) {
		ctx := context.Background()
		jc := JobContext{
			RequestID:   "req-123",
			WorkspaceID: "ws-456",
			JobID:       "job-789",
		}

		ctx = WithJobContext(ctx, jc)
		result := JobContextFromContext(ctx)

		assert.Equal(t, jc.RequestID, result.RequestID)
		assert.Equal(t, jc.WorkspaceID, result.WorkspaceID)
		assert.Equal(t, jc.JobID, result.JobID)
	})

	t.Run("handles partial context", func(t *testing.T) {
		ctx := context.Background()
		jc := JobContext{
			RequestID: "req-only",
		}

		ctx = WithJobContext(ctx, jc)
		result := JobContextFromContext(ctx)

		assert.Equal(t, "req-only", result.RequestID)
		assert.Equal(t, "", result.WorkspaceID)
		assert.Equal(t, "", result.JobID)
	})

	t.Run("returns empty context when nothing set", func(t *testing.T) {
		ctx := context.Background()
		result := JobContextFromContext(ctx)

		assert.Equal(t, JobContext{}, result)
	})
}

func TestContextChaining(t *testing.T) {
	ctx := context.Background()

	// Chain multiple context additions
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithWorkspaceID(ctx, "ws-1")
	ctx = WithJobID(ctx, "job-1")

	// All values should be retrievable
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "ws-1", WorkspaceIDFromContext(ctx))
	assert.Equal(t, "job-1", JobIDFromContext(ctx))
}

func TestContextOverwrite(t *testing.T) {
	ctx := context.Background()

	// Set initial values
	ctx = WithRequestID(ctx, "req-1")

	// Overwrite with new values
	ctx = WithRequestID(ctx, "req-2")

	// Should have new value
	assert.Equal(t, "req-2", RequestIDFromContext(ctx))
}
