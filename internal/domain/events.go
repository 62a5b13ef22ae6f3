package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for outbox events.
const (
	EventTypeJobStarted   = "discovery.job.started"
	EventTypeJobCompleted = "discovery.job.completed"
	EventTypeJobFailed    = "discovery.job.failed"
	EventTypeJobCancelled = "discovery.job.cancelled"
)

// AggregateTypeJob is the aggregate type for all job lifecycle events.
const AggregateTypeJob = "discovery_job"

// OutboxEvent represents an event to be published via the outbox pattern.
type OutboxEvent struct {
	EventID       string
	EventVersion  int
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	WorkspaceID   string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// NewOutboxEvent creates a new outbox event with the given parameters.
// The payload is JSON-serialized automatically.
func NewOutboxEvent(eventType, aggregateID, aggregateType string, payload interface{}) (*OutboxEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &OutboxEvent{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now(),
	}, nil
}

// WithWorkspace sets the workspace reference on the event.
func (e *OutboxEvent) WithWorkspace(workspaceID string) *OutboxEvent {
	e.WorkspaceID = workspaceID
	return e
}

// JobStartedPayload is the payload for discovery.job.started events.
type JobStartedPayload struct {
	JobID          uuid.UUID `json:"job_id"`
	WorkspaceID    string    `json:"workspace_id"`
	TargetVariable string    `json:"target_variable"`
	TargetCount    int       `json:"target_count"`
}

// JobCompletedPayload is the payload for discovery.job.completed events.
// CostUSD is the value the external billing service deducts; the deduction
// logic itself lives outside this service.
type JobCompletedPayload struct {
	JobID        uuid.UUID     `json:"job_id"`
	WorkspaceID  string        `json:"workspace_id"`
	Accepted     int           `json:"accepted"`
	Checked      int           `json:"checked"`
	CostUSD      float64       `json:"cost_usd"`
	Duration     time.Duration `json:"duration_ns"`
}

// JobFailedPayload is the payload for discovery.job.failed events.
type JobFailedPayload struct {
	JobID       uuid.UUID `json:"job_id"`
	WorkspaceID string    `json:"workspace_id"`
	Error       string    `json:"error"`
	Step        string    `json:"step"`
}

// JobCancelledPayload is the payload for discovery.job.cancelled events.
// Cancelled runs carry no cost value: cancellation never results in a charge.
type JobCancelledPayload struct {
	JobID       uuid.UUID `json:"job_id"`
	WorkspaceID string    `json:"workspace_id"`
	Accepted    int       `json:"accepted"`
	Checked     int       `json:"checked"`
}
