package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/interaction-discovery-service/internal/domain"
)

// InteractionRepository handles persistence of extracted interactions.
// Interactions are written once by the extraction loop and never mutated,
// so the interface is append-and-read only.
type InteractionRepository interface {
	// Create inserts a validated interaction.
	// The interaction must have a valid ID, JobID, WorkspaceID, both variables
	// and a normalized effect sign.
	// Returns domain.ErrNotFound if the referenced job does not exist.
	Create(ctx context.Context, interaction *domain.Interaction) error

	// ListByJob retrieves all interactions extracted by a single job,
	// ordered by creation time ascending (extraction order).
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Interaction, error)

	// List retrieves interactions matching the filter criteria,
	// ordered by creation time descending.
	// Returns the matching interactions and total count for pagination.
	List(ctx context.Context, filter InteractionFilter) ([]*domain.Interaction, int64, error)

	// CountByJob returns the number of interactions persisted for a job.
	CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error)
}

// InteractionFilter specifies criteria for listing interactions.
type InteractionFilter struct {
	// WorkspaceID filters by workspace (optional).
	WorkspaceID string

	// Effect filters by effect sign, "+" or "-" (optional).
	Effect string

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate normalizes the filter and rejects effect values outside the sign vocabulary.
func (f *InteractionFilter) Validate() error {
	if f.Effect != "" && f.Effect != domain.EffectPositive && f.Effect != domain.EffectNegative {
		return domain.NewValidationError("effect", "effect must be '+' or '-'")
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
