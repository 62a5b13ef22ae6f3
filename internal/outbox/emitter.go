package outbox

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/interaction-discovery-service/internal/domain"
)

// Emitter stages job lifecycle events into the outbox table. It satisfies
// the discovery pipeline's event emitter boundary; the Dispatcher delivers
// what it stages.
type Emitter struct {
	repo   *Repository
	logger zerolog.Logger
}

// NewEmitter creates an Emitter writing through the given repository.
func NewEmitter(repo *Repository, logger zerolog.Logger) *Emitter {
	return &Emitter{
		repo:   repo,
		logger: logger.With().Str("component", "outbox_emitter").Logger(),
	}
}

// Emit stages one event. The write shares the job database, so an event is
// only ever visible alongside the state change it describes.
func (e *Emitter) Emit(ctx context.Context, event *domain.OutboxEvent) error {
	if err := e.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("stage outbox event: %w", err)
	}
	e.logger.Debug().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Str("aggregate_id", event.AggregateID).
		Msg("event staged")
	return nil
}
