package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/llm"
	"github.com/helixir/interaction-discovery-service/internal/observability"
	"github.com/helixir/interaction-discovery-service/internal/repository"
)

// Shared metrics sink for this package's tests. promauto registers against
// the default registry, so the namespace must be unique per test package.
var testMetrics = observability.NewMetrics("test_discovery")

var (
	_ llm.Client                       = (*fakeChatClient)(nil)
	_ repository.JobRepository         = (*memJobs)(nil)
	_ repository.InteractionRepository = (*memInteractions)(nil)
	_ Searcher                         = (*fakeSearcher)(nil)
	_ TextAcquirer                     = (*fakeAcquirer)(nil)
	_ QueryComposer                    = (*fakeComposer)(nil)
	_ RelevanceClassifier              = (*fakeClassifier)(nil)
	_ InteractionExtractor             = (*fakeExtractor)(nil)
	_ EventEmitter                     = (*memEmitter)(nil)
)

// chatTurn is one scripted reply from fakeChatClient.
type chatTurn struct {
	resp *llm.ChatResponse
	err  error
}

// textTurn scripts a plain text reply.
func textTurn(content string) chatTurn {
	return chatTurn{resp: &llm.ChatResponse{
		Content:    content,
		StopReason: llm.StopEndTurn,
		Model:      "fake-model",
		Usage:      llm.Usage{InputTokens: 100, OutputTokens: 20},
	}}
}

// toolTurn scripts a reply invoking the given tool calls.
func toolTurn(calls ...llm.ToolCall) chatTurn {
	return chatTurn{resp: &llm.ChatResponse{
		ToolCalls:  calls,
		StopReason: llm.StopToolUse,
		Model:      "fake-model",
		Usage:      llm.Usage{InputTokens: 500, OutputTokens: 60},
	}}
}

// fakeChatClient replays scripted turns in order and records every request.
type fakeChatClient struct {
	mu       sync.Mutex
	turns    []chatTurn
	requests []llm.ChatRequest
}

func (c *fakeChatClient) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.turns) == 0 {
		return nil, fmt.Errorf("no scripted response for request %d", len(c.requests))
	}
	turn := c.turns[0]
	c.turns = c.turns[1:]
	if turn.err != nil {
		return nil, turn.err
	}
	return turn.resp, nil
}

func (c *fakeChatClient) Provider() string { return "fake" }
func (c *fakeChatClient) Model() string    { return "fake-model" }

// logLine is one recorded job log append.
type logLine struct {
	Step    string
	Message string
}

// memJobs is an in-memory JobRepository with the same transition rules as
// the Postgres implementation, plus fault injection for runner tests.
type memJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job

	statuses []domain.JobStatus
	logLines []logLine

	failUpdateStatus error
	failAppendLog    error
	failCancelRead   error

	// cancelAfterChecks sets the cancel flag on every job once this many
	// IsCancelRequested reads have happened. Zero disables the trigger.
	cancelAfterChecks int
	cancelChecks      int
}

func newMemJobs(jobs ...*domain.Job) *memJobs {
	m := &memJobs{jobs: make(map[uuid.UUID]*domain.Job)}
	for _, job := range jobs {
		m.jobs[job.ID] = job
	}
	return m
}

func (m *memJobs) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) Get(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobs) List(_ context.Context, filter repository.JobFilter) ([]*domain.Job, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, job := range m.jobs {
		if filter.WorkspaceID != "" && job.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if len(filter.Status) > 0 {
			match := false
			for _, s := range filter.Status {
				if job.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		cp := *job
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (m *memJobs) UpdateStatus(_ context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdateStatus != nil {
		return m.failUpdateStatus
	}
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !validTransition(job.Status, status) {
		return fmt.Errorf("%w: cannot transition from %s to %s", domain.ErrInvalidInput, job.Status, status)
	}
	now := time.Now().UTC()
	job.Status = status
	if status == domain.JobStatusRunning {
		job.StartedAt = &now
	}
	if status.IsTerminal() {
		job.CompletedAt = &now
	}
	if status == domain.JobStatusFailed {
		job.ErrorMessage = errorMsg
	} else {
		job.ErrorMessage = ""
	}
	m.statuses = append(m.statuses, status)
	return nil
}

func validTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusPending:
		return to == domain.JobStatusRunning || to == domain.JobStatusCancelled || to == domain.JobStatusFailed
	case domain.JobStatusRunning:
		return to == domain.JobStatusCompleted || to == domain.JobStatusCancelled || to == domain.JobStatusFailed
	default:
		return false
	}
}

func (m *memJobs) AppendLog(_ context.Context, id uuid.UUID, step, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppendLog != nil {
		return m.failAppendLog
	}
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.Logs = append(job.Logs, domain.FormatLogLine(time.Now(), step, message))
	job.CurrentStep = message
	m.logLines = append(m.logLines, logLine{Step: step, Message: message})
	return nil
}

func (m *memJobs) UpdateProgress(_ context.Context, id uuid.UUID, accepted, checked int, costUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.AcceptedCount = accepted
	job.CheckedCount = checked
	job.CostUSD = costUSD
	return nil
}

func (m *memJobs) RequestCancel(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job is already %s", domain.ErrInvalidInput, job.Status)
	}
	job.CancelRequested = true
	return nil
}

func (m *memJobs) IsCancelRequested(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCancelRead != nil {
		return false, m.failCancelRead
	}
	m.cancelChecks++
	if m.cancelAfterChecks > 0 && m.cancelChecks >= m.cancelAfterChecks {
		for _, job := range m.jobs {
			job.CancelRequested = true
		}
	}
	job, ok := m.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	return job.CancelRequested, nil
}

func (m *memJobs) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *memJobs) MarkStuckFailed(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, job := range m.jobs {
		if job.Status != domain.JobStatusRunning || job.UpdatedAt.After(cutoff) {
			continue
		}
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = "job stuck in running state"
		ids = append(ids, job.ID)
	}
	return ids, nil
}

// messages returns the logged messages for one step tag, in append order.
func (m *memJobs) messages(step string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, line := range m.logLines {
		if line.Step == step {
			out = append(out, line.Message)
		}
	}
	return out
}

// allMessages returns every logged message in append order.
func (m *memJobs) allMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logLines))
	for _, line := range m.logLines {
		out = append(out, line.Message)
	}
	return out
}

// memInteractions is an in-memory InteractionRepository.
type memInteractions struct {
	mu         sync.Mutex
	items      []*domain.Interaction
	failCreate error
}

func (m *memInteractions) Create(_ context.Context, interaction *domain.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	cp := *interaction
	m.items = append(m.items, &cp)
	return nil
}

func (m *memInteractions) ListByJob(_ context.Context, jobID uuid.UUID) ([]*domain.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Interaction
	for _, item := range m.items {
		if item.JobID == jobID {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memInteractions) List(_ context.Context, filter repository.InteractionFilter) ([]*domain.Interaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Interaction
	for i := len(m.items) - 1; i >= 0; i-- {
		item := m.items[i]
		if filter.WorkspaceID != "" && item.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.Effect != "" && item.Effect != filter.Effect {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (m *memInteractions) CountByJob(_ context.Context, jobID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, item := range m.items {
		if item.JobID == jobID {
			n++
		}
	}
	return n, nil
}

// searchTurn is one scripted search result batch.
type searchTurn struct {
	papers []domain.CandidatePaper
	err    error
}

// fakeSearcher replays scripted batches in call order. Once the script is
// exhausted, further searches return no results.
type fakeSearcher struct {
	mu      sync.Mutex
	turns   []searchTurn
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]domain.CandidatePaper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if len(f.turns) == 0 {
		return nil, nil
	}
	turn := f.turns[0]
	f.turns = f.turns[1:]
	return turn.papers, turn.err
}

// fakeAcquirer resolves DOIs from a fixed text map. Unknown DOIs are not
// available; the errs map overrides specific DOIs with a failure.
type fakeAcquirer struct {
	mu    sync.Mutex
	texts map[string]string
	errs  map[string]error
	dois  []string
}

func (f *fakeAcquirer) Acquire(_ context.Context, doi string) (*domain.FullText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dois = append(f.dois, doi)
	if err := f.errs[doi]; err != nil {
		return nil, err
	}
	text, ok := f.texts[doi]
	if !ok {
		return nil, domain.ErrNotAvailable
	}
	return &domain.FullText{
		DOI:         doi,
		Text:        text,
		SourceURL:   "https://example.org/" + doi,
		RetrievedAt: time.Now().UTC(),
	}, nil
}

// fakeComposer returns "query 1", "query 2", ... on successive calls.
type fakeComposer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeComposer) Compose(_ context.Context, _ ComposeRequest) (*ComposeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	return &ComposeResult{
		Query: fmt.Sprintf("query %d", f.calls),
		Model: "gpt-4o-mini",
		Usage: llm.Usage{InputTokens: 50, OutputTokens: 10},
	}, nil
}

// fakeClassifier judges relevance from a verdict map keyed by title. The
// errTitles map makes specific titles fail classification.
type fakeClassifier struct {
	relevant  map[string]bool
	errTitles map[string]error
}

func (f *fakeClassifier) Classify(_ context.Context, req ClassifyRequest) (*ClassifyResult, error) {
	if err := f.errTitles[req.Title]; err != nil {
		return nil, err
	}
	return &ClassifyResult{
		Relevant: f.relevant[req.Title],
		Model:    "gpt-4o-mini",
		Usage:    llm.Usage{InputTokens: 200, OutputTokens: 5},
	}, nil
}

// fakeFound is one scripted extraction hit.
type fakeFound struct {
	iv, dv, effect string
}

// fakeExtractor feeds a fixed batch per DOI through the sink, the way the
// real extractor persists during its tool loop.
type fakeExtractor struct {
	perDOI map[string][]fakeFound
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, req ExtractRequest, sink InteractionSink) (*ExtractResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	res := &ExtractResult{
		Finished:   true,
		Iterations: 1,
		Model:      "gpt-4o-mini",
		Usage:      llm.Usage{InputTokens: 1000, OutputTokens: 100},
	}
	for _, found := range f.perDOI[req.DOI] {
		interaction := &domain.Interaction{
			ID:                  uuid.New(),
			JobID:               req.JobID,
			WorkspaceID:         req.WorkspaceID,
			IndependentVariable: found.iv,
			DependentVariable:   found.dv,
			Effect:              found.effect,
			Reference:           req.DOI,
			DatePublished:       req.PublicationDate,
			CreatedAt:           time.Now().UTC(),
		}
		if err := sink.AcceptInteraction(ctx, interaction); err != nil {
			return nil, err
		}
		res.Accepted++
	}
	return res, nil
}

// memEmitter records emitted events in order.
type memEmitter struct {
	mu     sync.Mutex
	events []*domain.OutboxEvent
}

func (e *memEmitter) Emit(_ context.Context, event *domain.OutboxEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

// types returns the emitted event types in order.
func (e *memEmitter) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, event := range e.events {
		out = append(out, event.EventType)
	}
	return out
}

// newTestJob builds a pending job ready to run.
func newTestJob(target int) *domain.Job {
	return &domain.Job{
		ID:             uuid.New(),
		WorkspaceID:    "ws-1",
		TargetVariable: "creatine",
		TargetCount:    target,
		Status:         domain.JobStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
}

// candidate builds a minimal search result with a DOI.
func candidate(title, doi string) domain.CandidatePaper {
	return domain.CandidatePaper{
		Title:           title,
		Abstract:        "abstract for " + title,
		DOI:             doi,
		PublicationDate: "2023-05-01",
	}
}
