package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/interaction-discovery-service/internal/domain"
)

// interactionColumns is the canonical column list for interaction queries.
const interactionColumns = `id, job_id, workspace_id, independent_variable,
		dependent_variable, effect, reference, date_published, created_at`

// Compile-time interface verification.
var _ InteractionRepository = (*PgInteractionRepository)(nil)

// PgInteractionRepository is a PostgreSQL implementation of InteractionRepository.
type PgInteractionRepository struct {
	db DBTX
}

// NewPgInteractionRepository creates a new PostgreSQL interaction repository.
func NewPgInteractionRepository(db DBTX) *PgInteractionRepository {
	return &PgInteractionRepository{db: db}
}

// Create inserts a validated interaction.
func (r *PgInteractionRepository) Create(ctx context.Context, interaction *domain.Interaction) error {
	if interaction == nil {
		return domain.NewValidationError("interaction", "interaction cannot be nil")
	}
	if interaction.ID == uuid.Nil {
		return domain.NewValidationError("id", "interaction ID is required")
	}
	if interaction.JobID == uuid.Nil {
		return domain.NewValidationError("job_id", "job ID is required")
	}
	if interaction.WorkspaceID == "" {
		return domain.NewValidationError("workspace_id", "workspace ID is required")
	}
	if interaction.IndependentVariable == "" {
		return domain.NewValidationError("independent_variable", "independent variable is required")
	}
	if interaction.DependentVariable == "" {
		return domain.NewValidationError("dependent_variable", "dependent variable is required")
	}
	if interaction.Effect != domain.EffectPositive && interaction.Effect != domain.EffectNegative {
		return domain.NewValidationError("effect", "effect must be '+' or '-'")
	}

	query := `
		INSERT INTO interactions (
			id, job_id, workspace_id, independent_variable,
			dependent_variable, effect, reference, date_published, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9
		)`

	_, err := r.db.Exec(ctx, query,
		interaction.ID, interaction.JobID, interaction.WorkspaceID, interaction.IndependentVariable,
		interaction.DependentVariable, interaction.Effect, interaction.Reference,
		interaction.DatePublished, interaction.CreatedAt,
	)

	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("interaction", interaction.ID.String())
		}
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("job", interaction.JobID.String())
		}
		return fmt.Errorf("failed to create interaction: %w", err)
	}

	return nil
}

// ListByJob retrieves all interactions extracted by a single job in extraction order.
func (r *PgInteractionRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Interaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM interactions
		WHERE job_id = $1
		ORDER BY created_at ASC`, interactionColumns)

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job interactions: %w", err)
	}
	defer rows.Close()

	var interactions []*domain.Interaction
	for rows.Next() {
		interaction, err := scanInteractionFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		interactions = append(interactions, interaction)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interactions: %w", err)
	}

	return interactions, nil
}

// List retrieves interactions matching the filter criteria.
func (r *PgInteractionRepository) List(ctx context.Context, filter InteractionFilter) ([]*domain.Interaction, int64, error) {
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

	if filter.Effect != "" {
		conditions = append(conditions, fmt.Sprintf("effect = $%d", argIndex))
		args = append(args, filter.Effect)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM interactions WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count interactions: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM interactions
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		interactionColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer rows.Close()

	interactions := make([]*domain.Interaction, 0, filter.Limit)
	for rows.Next() {
		interaction, err := scanInteractionFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan interaction: %w", err)
		}
		interactions = append(interactions, interaction)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating interactions: %w", err)
	}

	return interactions, totalCount, nil
}

// CountByJob returns the number of interactions persisted for a job.
func (r *PgInteractionRepository) CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM interactions WHERE job_id = $1`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count job interactions: %w", err)
	}
	return count, nil
}

// scanInteractionFromRows scans the current row from pgx.Rows into an Interaction.
func scanInteractionFromRows(rows pgx.Rows) (*domain.Interaction, error) {
	var i domain.Interaction
	err := rows.Scan(
		&i.ID, &i.JobID, &i.WorkspaceID, &i.IndependentVariable,
		&i.DependentVariable, &i.Effect, &i.Reference, &i.DatePublished, &i.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}
