package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/interaction-discovery-service/internal/domain"
)

// JobRepository handles discovery job persistence and lifecycle management.
// It provides methods for creating, retrieving, updating and listing jobs,
// including the cooperative cancellation flag a running job polls between steps.
type JobRepository interface {
	// Create inserts a new discovery job.
	// The job must have a valid ID, WorkspaceID, TargetVariable and a positive TargetCount.
	// Returns domain.ErrAlreadyExists if a job with the same ID already exists.
	// Returns domain.ErrInvalidInput if required fields are missing.
	Create(ctx context.Context, job *domain.Job) error

	// Get retrieves a discovery job by its ID.
	// Returns domain.ErrNotFound if no matching job exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// List retrieves discovery jobs matching the filter criteria.
	// Returns the matching jobs and total count for pagination.
	// The total count reflects all matching records regardless of limit/offset.
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, int64, error)

	// UpdateStatus transitions a job to a new status with optional error message.
	// The transition is validated against the job lifecycle; an invalid transition
	// returns domain.ErrInvalidInput. Entering running sets StartedAt, entering a
	// terminal status sets CompletedAt. The errorMsg is stored only when
	// transitioning to failed.
	// Returns domain.ErrNotFound if no matching job exists.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error

	// AppendLog appends one formatted log line to the job log, updates the
	// current step, and notifies listeners on the job's LISTEN/NOTIFY channel.
	// Returns domain.ErrNotFound if no matching job exists.
	AppendLog(ctx context.Context, id uuid.UUID, step, message string) error

	// UpdateProgress sets the accepted/checked counters and accumulated cost.
	// The running worker owns its job exclusively, so absolute writes are safe.
	// Returns domain.ErrNotFound if no matching job exists.
	UpdateProgress(ctx context.Context, id uuid.UUID, accepted, checked int, costUSD float64) error

	// RequestCancel sets the cooperative cancellation flag on a non-terminal job.
	// The running worker observes the flag at its next poll and halts cleanly.
	// Returns domain.ErrInvalidInput if the job is already terminal.
	// Returns domain.ErrNotFound if no matching job exists.
	RequestCancel(ctx context.Context, id uuid.UUID) error

	// IsCancelRequested reads the cancellation flag for a job.
	// Returns domain.ErrNotFound if no matching job exists.
	IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error)

	// Delete removes a job and, via cascade, its extracted interactions.
	// Returns domain.ErrNotFound if no matching job exists.
	Delete(ctx context.Context, id uuid.UUID) error

	// MarkStuckFailed fails running jobs that have made no progress since the
	// cutoff and returns their IDs. Used by the admin fix-stuck-jobs command to
	// recover from worker crashes that left jobs in running state.
	MarkStuckFailed(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// JobFilter specifies criteria for listing discovery jobs.
type JobFilter struct {
	// WorkspaceID filters by workspace (optional).
	WorkspaceID string

	// Status filters by one or more job statuses (optional).
	// When multiple statuses are provided, jobs matching any status are returned.
	Status []domain.JobStatus

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate normalizes the filter, applying pagination defaults.
func (f *JobFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
