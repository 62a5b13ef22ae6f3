package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/observability"
)

// dispatchLockKey is the advisory lock key shared by all replicas. Spells
// "outbox" in ASCII.
const dispatchLockKey int64 = 0x6F7574626F78

// Polling defaults.
const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
)

// MessageWriter is the subset of kafka.Writer the dispatcher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// AdvisoryLocker elects the draining replica. *database.DB satisfies it.
type AdvisoryLocker interface {
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) error
}

// eventEnvelope is the published message body. The staged payload rides
// inside it untouched.
type eventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventVersion  int             `json:"event_version"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	WorkspaceID   string          `json:"workspace_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// DispatcherConfig holds dispatcher settings.
type DispatcherConfig struct {
	// PollInterval is how often the outbox is checked for pending events.
	PollInterval time.Duration

	// BatchSize is the maximum number of events fetched and published per
	// round trip.
	BatchSize int
}

// applyDefaults fills in zero values.
func (c *DispatcherConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
}

// Dispatcher drains staged events to Kafka. Only one replica drains at a
// time, elected through a Postgres advisory lock, so events leave the table
// in staging order.
type Dispatcher struct {
	repo    *Repository
	locker  AdvisoryLocker
	writer  MessageWriter
	config  DispatcherConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewDispatcher creates a Dispatcher.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewDispatcher(repo *Repository, locker AdvisoryLocker, writer MessageWriter, config DispatcherConfig, logger zerolog.Logger, metrics *observability.Metrics) *Dispatcher {
	config.applyDefaults()
	return &Dispatcher{
		repo:    repo,
		locker:  locker,
		writer:  writer,
		config:  config,
		logger:  logger.With().Str("component", "outbox_dispatcher").Logger(),
		metrics: metrics,
	}
}

// Run polls and drains the outbox until the context is cancelled. Blocks;
// callers run it on its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().
		Dur("poll_interval", d.config.PollInterval).
		Int("batch_size", d.config.BatchSize).
		Msg("starting outbox dispatcher")

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("outbox dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// drain publishes pending events until the table is empty or an error makes
// this round give up. Every failure path leaves the unpublished rows in
// place for the next poll.
func (d *Dispatcher) drain(ctx context.Context) {
	acquired, err := d.locker.AcquireAdvisoryLock(ctx, dispatchLockKey)
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to acquire dispatch lock")
		return
	}
	if !acquired {
		// Another replica is draining.
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := d.locker.ReleaseAdvisoryLock(releaseCtx, dispatchLockKey); err != nil {
			d.logger.Warn().Err(err).Msg("failed to release dispatch lock")
		}
	}()

	for {
		events, err := d.repo.FetchUnpublished(ctx, d.config.BatchSize)
		if err != nil {
			d.logger.Error().Err(err).Msg("failed to fetch unpublished events")
			return
		}
		if len(events) == 0 {
			return
		}

		if err := d.publish(ctx, events); err != nil {
			d.logger.Error().Err(err).Int("count", len(events)).Msg("failed to publish outbox batch")
			return
		}

		if len(events) < d.config.BatchSize {
			return
		}
	}
}

// publish writes one batch to the broker and stamps it delivered. A failed
// bookkeeping write means the batch is re-published next round; consumers
// deduplicate on event_id.
func (d *Dispatcher) publish(ctx context.Context, events []*domain.OutboxEvent) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(eventEnvelope{
			EventID:       event.EventID,
			EventVersion:  event.EventVersion,
			EventType:     event.EventType,
			AggregateID:   event.AggregateID,
			AggregateType: event.AggregateType,
			WorkspaceID:   event.WorkspaceID,
			OccurredAt:    event.CreatedAt,
			Payload:       event.Payload,
		})
		if err != nil {
			return fmt.Errorf("marshal envelope for event %s: %w", event.EventID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(event.AggregateID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
			},
		})
	}

	if err := d.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}

	ids := make([]string, len(events))
	for i, event := range events {
		ids[i] = event.EventID
	}
	if err := d.repo.MarkPublished(ctx, ids); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}

	if d.metrics != nil {
		for _, event := range events {
			d.metrics.RecordEventPublished(event.EventType)
		}
	}
	d.logger.Debug().Int("count", len(events)).Msg("outbox batch published")
	return nil
}
