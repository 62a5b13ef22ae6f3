package outbox

import (
	"context"
	"fmt"

	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/repository"
)

// outboxColumns is the canonical column list for outbox queries.
const outboxColumns = `event_id, event_version, aggregate_id, aggregate_type,
		event_type, payload, workspace_id, created_at, published_at`

// Repository persists outbox events in the same database that holds the job
// state they describe.
type Repository struct {
	db repository.DBTX
}

// NewRepository creates a PostgreSQL outbox repository.
func NewRepository(db repository.DBTX) *Repository {
	return &Repository{db: db}
}

// Insert stages one event for publication.
func (r *Repository) Insert(ctx context.Context, event *domain.OutboxEvent) error {
	if event == nil {
		return domain.NewValidationError("event", "event cannot be nil")
	}
	if event.EventID == "" {
		return domain.NewValidationError("event_id", "event ID is required")
	}
	if event.EventType == "" {
		return domain.NewValidationError("event_type", "event type is required")
	}
	if event.AggregateID == "" {
		return domain.NewValidationError("aggregate_id", "aggregate ID is required")
	}

	query := `
		INSERT INTO outbox_events (
			event_id, event_version, aggregate_id, aggregate_type,
			event_type, payload, workspace_id, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)`

	_, err := r.db.Exec(ctx, query,
		event.EventID, event.EventVersion, event.AggregateID, event.AggregateType,
		event.EventType, event.Payload, event.WorkspaceID, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// FetchUnpublished returns up to limit undelivered events, oldest first.
func (r *Repository) FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at ASC, event_id ASC
		LIMIT $1`, outboxColumns)

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unpublished events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent
		if err := rows.Scan(
			&event.EventID, &event.EventVersion, &event.AggregateID, &event.AggregateType,
			&event.EventType, &event.Payload, &event.WorkspaceID, &event.CreatedAt, &event.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	return events, nil
}

// MarkPublished stamps the given events as delivered.
func (r *Repository) MarkPublished(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	query := `
		UPDATE outbox_events
		SET published_at = NOW()
		WHERE event_id = ANY($1)`

	_, err := r.db.Exec(ctx, query, eventIDs)
	if err != nil {
		return fmt.Errorf("failed to mark events published: %w", err)
	}
	return nil
}

// CountUnpublished returns the current publication backlog size.
func (r *Repository) CountUnpublished(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE published_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unpublished events: %w", err)
	}
	return count, nil
}
