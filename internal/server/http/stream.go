package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/repository"
)

const (
	// ssePollInterval is how often the DB is polled for authoritative state.
	ssePollInterval = 2 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
)

// sseEvent represents an event sent on the job stream. Log events carry the
// appended line; progress and terminal events carry the counters.
type sseEvent struct {
	EventType string    `json:"event_type"`
	JobID     string    `json:"job_id"`
	Status    string    `json:"status,omitempty"`
	Accepted  int       `json:"accepted"`
	Checked   int       `json:"checked"`
	Step      string    `json:"step,omitempty"`
	Line      string    `json:"line,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// streamJob handles GET /jobs/{jobID}/stream (SSE).
// Log lines arrive over Postgres LISTEN/NOTIFY; a poll loop provides the
// authoritative status so a missed notification can only delay an event,
// never lose the terminal state.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// If already terminal, send one event and close.
	if job.Status.IsTerminal() {
		sendSSEEvent(w, flusher, terminalEvent(job))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Channel for Postgres NOTIFY log lines. The poll loop alone serves when
	// no listen pool is wired.
	logCh := make(chan string, 100)
	if s.pool != nil {
		go s.listenJobLog(ctx, jobID, logCh)
	}

	// Send initial state.
	sendSSEEvent(w, flusher, snapshotEvent("stream_started", job, "progress stream started"))

	deadlineTimer := time.NewTimer(sseMaxDuration)
	defer deadlineTimer.Stop()
	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadlineTimer.C:
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "timeout",
				JobID:     jobID.String(),
				Message:   "stream max duration exceeded",
				Timestamp: time.Now(),
			})
			return

		case line := <-logCh:
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "log",
				JobID:     jobID.String(),
				Line:      line,
				Timestamp: time.Now(),
			})

		case <-ticker.C:
			current, pollErr := s.jobs.Get(ctx, jobID)
			if pollErr != nil {
				s.logger.Error().Err(pollErr).Str("job_id", jobID.String()).Msg("failed to poll job status")
				continue
			}

			if current.Status.IsTerminal() {
				sendSSEEvent(w, flusher, terminalEvent(current))
				return
			}

			sendSSEEvent(w, flusher, snapshotEvent("progress", current, "status: "+string(current.Status)))
		}
	}
}

// listenJobLog forwards Postgres NOTIFY payloads for one job's log channel.
func (s *Server) listenJobLog(ctx context.Context, jobID uuid.UUID, out chan<- string) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to acquire connection for LISTEN")
		return
	}
	defer conn.Release()

	channel := repository.JobLogChannel(jobID)
	sanitizedChannel := pgx.Identifier{channel}.Sanitize()

	// Use the underlying pgx connection for LISTEN (not the pooled wrapper).
	pgConn := conn.Conn()
	if _, execErr := pgConn.Exec(ctx, fmt.Sprintf("LISTEN %s", sanitizedChannel)); execErr != nil {
		s.logger.Error().Err(execErr).Str("channel", channel).Msg("LISTEN failed")
		return
	}
	defer func() {
		_, _ = pgConn.Exec(context.Background(), fmt.Sprintf("UNLISTEN %s", sanitizedChannel))
	}()

	for {
		notification, waitErr := pgConn.WaitForNotification(ctx)
		if waitErr != nil {
			// Context cancelled or connection error.
			return
		}

		select {
		case out <- notification.Payload:
		case <-ctx.Done():
			return
		default:
			// Channel full, drop the line rather than block the listener;
			// the full log stays on the job record.
			s.logger.Warn().
				Str("job_id", jobID.String()).
				Msg("SSE log channel full, dropping line")
		}
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	flusher.Flush()
}

// snapshotEvent builds a counter-carrying event from the current job record.
func snapshotEvent(eventType string, job *domain.Job, message string) sseEvent {
	return sseEvent{
		EventType: eventType,
		JobID:     job.ID.String(),
		Status:    string(job.Status),
		Accepted:  job.AcceptedCount,
		Checked:   job.CheckedCount,
		Step:      job.CurrentStep,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// terminalEvent builds the final event sent before the stream closes.
func terminalEvent(job *domain.Job) sseEvent {
	return snapshotEvent("completed", job, "job finished with status: "+string(job.Status))
}
