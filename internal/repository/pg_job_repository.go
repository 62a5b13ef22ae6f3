package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/interaction-discovery-service/internal/domain"
)

// txBeginner is an interface for types that can begin a transaction (e.g., *pgxpool.Pool, *database.DB).
// Used by UpdateStatus to automatically wrap SELECT FOR UPDATE + UPDATE in a transaction
// when the underlying DBTX is a pool rather than an existing transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505" // unique_violation
	pgForeignKeyViolation = "23503" // foreign_key_violation
)

// jobColumns is the canonical column list for discovery job queries.
const jobColumns = `id, workspace_id, target_variable, target_count, status,
		accepted_count, checked_count, current_step, logs,
		error_message, cancel_requested, cost_usd,
		started_at, completed_at, created_at, updated_at`

// validStatusTransitions defines the allowed status transitions for discovery jobs.
// This is a package-level variable to avoid re-allocating on every call.
var validStatusTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusPending: {
		domain.JobStatusRunning,
		domain.JobStatusCancelled,
		domain.JobStatusFailed,
	},
	domain.JobStatusRunning: {
		domain.JobStatusCompleted,
		domain.JobStatusCancelled,
		domain.JobStatusFailed,
	},
}

// Compile-time interface verification.
var _ JobRepository = (*PgJobRepository)(nil)

// PgJobRepository is a PostgreSQL implementation of JobRepository.
type PgJobRepository struct {
	db DBTX
}

// NewPgJobRepository creates a new PostgreSQL job repository.
func NewPgJobRepository(db DBTX) *PgJobRepository {
	return &PgJobRepository{db: db}
}

// Create inserts a new discovery job.
func (r *PgJobRepository) Create(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return domain.NewValidationError("job", "job cannot be nil")
	}
	if job.ID == uuid.Nil {
		return domain.NewValidationError("id", "job ID is required")
	}
	if job.WorkspaceID == "" {
		return domain.NewValidationError("workspace_id", "workspace ID is required")
	}
	if job.TargetVariable == "" {
		return domain.NewValidationError("target_variable", "target variable is required")
	}
	if job.TargetCount <= 0 {
		return domain.NewValidationError("target_count", "target count must be positive")
	}

	query := `
		INSERT INTO discovery_jobs (
			id, workspace_id, target_variable, target_count, status,
			accepted_count, checked_count, current_step, logs,
			error_message, cancel_requested, cost_usd,
			started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16
		)`

	logs := job.Logs
	if logs == nil {
		logs = []string{}
	}

	_, err := r.db.Exec(ctx, query,
		job.ID, job.WorkspaceID, job.TargetVariable, job.TargetCount, job.Status,
		job.AcceptedCount, job.CheckedCount, job.CurrentStep, logs,
		job.ErrorMessage, job.CancelRequested, job.CostUSD,
		job.StartedAt, job.CompletedAt, job.CreatedAt, job.UpdatedAt,
	)

	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("job", job.ID.String())
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Get retrieves a discovery job by its ID.
func (r *PgJobRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM discovery_jobs WHERE id = $1`, jobColumns)

	row := r.db.QueryRow(ctx, query, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("job", id.String())
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// List retrieves discovery jobs matching the filter criteria.
func (r *PgJobRepository) List(ctx context.Context, filter JobFilter) ([]*domain.Job, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 1

	if filter.WorkspaceID != "" {
		conditions = append(conditions, fmt.Sprintf("workspace_id = $%d", argIndex))
		args = append(args, filter.WorkspaceID)
		argIndex++
	}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	whereClause := strings.Join(conditions, " AND ")

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM discovery_jobs WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM discovery_jobs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		jobColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0, filter.Limit)
	for rows.Next() {
		job, err := scanJobFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, totalCount, nil
}

// UpdateStatus transitions a job to a new status with optional error message.
//
// Transaction Management:
// This method uses SELECT FOR UPDATE which requires a transaction for correct locking.
// If the underlying DBTX is a connection pool (supports Begin), the method automatically
// wraps the SELECT FOR UPDATE + UPDATE in an explicit transaction. If the underlying
// DBTX is already a transaction, it executes within that existing transaction.
func (r *PgJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error {
	// If the underlying DBTX supports Begin (i.e., it's a pool, not already a transaction),
	// wrap the SELECT FOR UPDATE + UPDATE in an explicit transaction to prevent lost updates.
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for status update: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgJobRepository{db: tx}
		if err := txRepo.updateStatusInTx(ctx, id, status, errorMsg); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	// Already running within a transaction, execute directly.
	return r.updateStatusInTx(ctx, id, status, errorMsg)
}

// updateStatusInTx performs the actual SELECT FOR UPDATE + UPDATE within the current DBTX.
// This must be called within a transaction for correct row-level locking.
func (r *PgJobRepository) updateStatusInTx(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error {
	selectQuery := `
		SELECT status, started_at, completed_at
		FROM discovery_jobs
		WHERE id = $1
		FOR UPDATE`

	var (
		current     domain.JobStatus
		startedAt   *time.Time
		completedAt *time.Time
	)
	err := r.db.QueryRow(ctx, selectQuery, id).Scan(&current, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("job", id.String())
		}
		return fmt.Errorf("failed to query job for status update: %w", err)
	}

	if !isValidStatusTransition(current, status) {
		return fmt.Errorf("invalid status transition from %s to %s: %w",
			current, status, domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if status == domain.JobStatusRunning && startedAt == nil {
		startedAt = &now
	}
	if status.IsTerminal() && completedAt == nil {
		completedAt = &now
	}

	// The error message is retained only for failures; other transitions clear it.
	if status != domain.JobStatusFailed {
		errorMsg = ""
	}

	updateQuery := `
		UPDATE discovery_jobs SET
			status = $1,
			error_message = $2,
			started_at = $3,
			completed_at = $4,
			updated_at = $5
		WHERE id = $6`

	_, err = r.db.Exec(ctx, updateQuery, status, errorMsg, startedAt, completedAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	return nil
}

// AppendLog appends one formatted log line to the job log, updates the current
// step, and notifies listeners on the job's channel. The notify fires only if
// the row exists, so a missing job is reported as not found.
func (r *PgJobRepository) AppendLog(ctx context.Context, id uuid.UUID, step, message string) error {
	line := domain.FormatLogLine(time.Now(), step, message)

	query := `
		WITH updated AS (
			UPDATE discovery_jobs
			SET logs = array_append(logs, $2),
				current_step = $3,
				updated_at = NOW()
			WHERE id = $1
			RETURNING id
		)
		SELECT pg_notify($4, $2) FROM updated`

	tag, err := r.db.Exec(ctx, query, id, line, message, JobLogChannel(id))
	if err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("job", id.String())
	}

	return nil
}

// UpdateProgress sets the accepted/checked counters and accumulated cost.
func (r *PgJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, accepted, checked int, costUSD float64) error {
	query := `
		UPDATE discovery_jobs
		SET accepted_count = $1,
			checked_count = $2,
			cost_usd = $3,
			updated_at = NOW()
		WHERE id = $4`

	tag, err := r.db.Exec(ctx, query, accepted, checked, costUSD, id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("job", id.String())
	}

	return nil
}

// RequestCancel sets the cooperative cancellation flag on a non-terminal job.
func (r *PgJobRepository) RequestCancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE discovery_jobs
		SET cancel_requested = TRUE,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to request job cancellation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish missing jobs from jobs already in a terminal state.
		var status domain.JobStatus
		err := r.db.QueryRow(ctx, `SELECT status FROM discovery_jobs WHERE id = $1`, id).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.NewNotFoundError("job", id.String())
			}
			return fmt.Errorf("failed to check job status: %w", err)
		}
		return fmt.Errorf("job %s is already %s: %w", id, status, domain.ErrInvalidInput)
	}

	return nil
}

// IsCancelRequested reads the cancellation flag for a job.
func (r *PgJobRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	err := r.db.QueryRow(ctx, `SELECT cancel_requested FROM discovery_jobs WHERE id = $1`, id).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.NewNotFoundError("job", id.String())
		}
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}

	return requested, nil
}

// Delete removes a job and, via cascade, its extracted interactions.
func (r *PgJobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM discovery_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("job", id.String())
	}

	return nil
}

// MarkStuckFailed fails running jobs that have made no progress since the cutoff.
func (r *PgJobRepository) MarkStuckFailed(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE discovery_jobs
		SET status = 'failed',
			error_message = 'job stuck in running state without progress',
			completed_at = NOW(),
			updated_at = NOW()
		WHERE status = 'running' AND updated_at < $1
		RETURNING id`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to mark stuck jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stuck job ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stuck jobs: %w", err)
	}

	return ids, nil
}

// isValidStatusTransition validates that a status transition is allowed.
func isValidStatusTransition(from, to domain.JobStatus) bool {
	// Terminal states cannot transition to anything.
	if from.IsTerminal() {
		return false
	}

	allowed, ok := validStatusTransitions[from]
	if !ok {
		return false
	}

	for _, s := range allowed {
		if s == to {
			return true
		}
	}

	return false
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// isPgForeignKeyViolation checks if the error is a PostgreSQL foreign key violation.
func isPgForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}
	return false
}

// jobScanDest holds the destination pointers for scanning a discovery job row.
// This eliminates code duplication between pgx.Row and pgx.Rows scanning.
type jobScanDest struct {
	job domain.Job
}

// destinations returns the slice of pointers for Scan operations.
func (d *jobScanDest) destinations() []interface{} {
	return []interface{}{
		&d.job.ID, &d.job.WorkspaceID, &d.job.TargetVariable, &d.job.TargetCount, &d.job.Status,
		&d.job.AcceptedCount, &d.job.CheckedCount, &d.job.CurrentStep, &d.job.Logs,
		&d.job.ErrorMessage, &d.job.CancelRequested, &d.job.CostUSD,
		&d.job.StartedAt, &d.job.CompletedAt, &d.job.CreatedAt, &d.job.UpdatedAt,
	}
}

// scanJob scans a single row into a Job.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var dest jobScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return &dest.job, nil
}

// scanJobFromRows scans the current row from pgx.Rows into a Job.
func scanJobFromRows(rows pgx.Rows) (*domain.Job, error) {
	var dest jobScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return &dest.job, nil
}
