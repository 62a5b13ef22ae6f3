package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/llm"
	"github.com/helixir/interaction-discovery-service/internal/observability"
	"github.com/helixir/interaction-discovery-service/internal/repository"
)

// Run bounds.
const (
	// defaultStepBudget is the maximum number of state entries per run.
	defaultStepBudget = 400

	// defaultMaxQueries bounds the exhausted-literature loop independently
	// of the step budget.
	defaultMaxQueries = 25

	// defaultMaxSearchResults is the per-query result cap.
	defaultMaxSearchResults = 100

	// defaultMaxConcurrentJobs caps simultaneously running jobs.
	defaultMaxConcurrentJobs = 4

	// terminalWriteTimeout bounds final status writes after the run context
	// has died.
	terminalWriteTimeout = 10 * time.Second
)

// state is one node of the per-job state machine.
type state int

const (
	stateComposeQuery state = iota
	stateSearch
	stateFilter
	stateClassifyRelevance
	stateAcquireFullText
	stateExtractInteractions

	// stateDone is the terminal marker returned when the run is over.
	stateDone
)

// String returns the state name used in logs and failure events.
func (s state) String() string {
	switch s {
	case stateComposeQuery:
		return "compose_query"
	case stateSearch:
		return "search"
	case stateFilter:
		return "filter"
	case stateClassifyRelevance:
		return "classify_relevance"
	case stateAcquireFullText:
		return "acquire_full_text"
	case stateExtractInteractions:
		return "extract_interactions"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config bounds every discovery run.
type Config struct {
	// StepBudget is the maximum number of state entries per run. Exceeding
	// it fails the job.
	StepBudget int

	// MaxQueries is the maximum number of composed queries per run.
	// Exceeding it fails the job.
	MaxQueries int

	// MaxSearchResults is the per-query result cap passed to the searcher.
	MaxSearchResults int

	// CancelPollInterval rate-limits cancel-flag reads at transition
	// boundaries. Zero reads the flag on every transition.
	CancelPollInterval time.Duration

	// MaxConcurrentJobs caps simultaneously running jobs.
	MaxConcurrentJobs int
}

// applyDefaults fills in zero values.
func (c *Config) applyDefaults() {
	if c.StepBudget <= 0 {
		c.StepBudget = defaultStepBudget
	}
	if c.MaxQueries <= 0 {
		c.MaxQueries = defaultMaxQueries
	}
	if c.MaxSearchResults <= 0 {
		c.MaxSearchResults = defaultMaxSearchResults
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
}

// Dependencies bundles everything a job run needs. Emitter and Metrics may
// be nil; all other fields are required.
type Dependencies struct {
	Jobs         repository.JobRepository
	Interactions repository.InteractionRepository
	Searcher     Searcher
	Acquirer     TextAcquirer
	Composer     QueryComposer
	Classifier   RelevanceClassifier
	Extractor    InteractionExtractor
	Emitter      EventEmitter
	Metrics      *observability.Metrics
}

// runner executes one discovery job from start to terminal status. It owns
// all writes to the job record for the lifetime of the run.
type runner struct {
	deps   Dependencies
	config Config
	job    *domain.Job
	logger zerolog.Logger

	// Machine state. The queue is FIFO: candidates are classified head-first
	// in the order the search ranked them.
	queue   []domain.CandidatePaper
	checked map[string]struct{}
	tried   []string
	query   string
	current *domain.CandidatePaper
	text    string

	accepted     int
	steps        int
	costUSD      float64
	currentState state

	lastCancelCheck time.Time
	startTime       time.Time
}

// newRunner assembles the run state for one job.
func newRunner(deps Dependencies, config Config, job *domain.Job, logger zerolog.Logger) *runner {
	return &runner{
		deps:    deps,
		config:  config,
		job:     job,
		logger:  logger,
		checked: make(map[string]struct{}),
	}
}

// metrics returns the shared metrics sink, which may be nil.
func (r *runner) metrics() *observability.Metrics {
	return r.deps.Metrics
}

// run drives the job to a terminal status. It returns once the job record
// holds a terminal state, or once the run is abandoned because its context
// died without a cancel request (stuck-job recovery picks those up).
func (r *runner) run(ctx context.Context) {
	r.startTime = time.Now()

	if err := r.deps.Jobs.UpdateStatus(ctx, r.job.ID, domain.JobStatusRunning, ""); err != nil {
		r.finishFailed(ctx, fmt.Errorf("mark job running: %w", err))
		return
	}
	if r.metrics() != nil {
		r.metrics().RecordJobStarted()
	}
	r.emitEvent(ctx, domain.EventTypeJobStarted, domain.JobStartedPayload{
		JobID:          r.job.ID,
		WorkspaceID:    r.job.WorkspaceID,
		TargetVariable: r.job.TargetVariable,
		TargetCount:    r.job.TargetCount,
	})
	r.logger.Info().
		Str("target_variable", r.job.TargetVariable).
		Int("target_count", r.job.TargetCount).
		Msg("job started")

	r.currentState = stateComposeQuery
	for r.currentState != stateDone {
		cancelled, abandoned := r.checkBoundary(ctx)
		if cancelled {
			r.finishCancelled(ctx)
			return
		}
		if abandoned {
			return
		}

		r.steps++
		if r.steps > r.config.StepBudget {
			r.finishFailed(ctx, fmt.Errorf("%w: %d state entries", domain.ErrStepBudgetExceeded, r.config.StepBudget))
			return
		}

		next, err := r.executeState(ctx, r.currentState)
		if err != nil {
			// A state aborted by the dying run context is not a failure of
			// its own; the boundary decision applies instead.
			if ctx.Err() != nil {
				cancelled, _ := r.checkBoundary(ctx)
				if cancelled {
					r.finishCancelled(ctx)
				}
				return
			}
			r.finishFailed(ctx, err)
			return
		}
		r.currentState = next
	}

	r.finishCompleted(ctx)
}

// executeState dispatches one state entry.
func (r *runner) executeState(ctx context.Context, s state) (state, error) {
	switch s {
	case stateComposeQuery:
		return r.stepCompose(ctx)
	case stateSearch:
		return r.stepSearch(ctx)
	case stateFilter:
		return r.stepFilter(ctx)
	case stateClassifyRelevance:
		return r.stepClassify(ctx)
	case stateAcquireFullText:
		return r.stepAcquire(ctx)
	case stateExtractInteractions:
		return r.stepExtract(ctx)
	default:
		return stateDone, fmt.Errorf("unknown state %q", s)
	}
}

// stepCompose asks the composer for one new query. Running out of query
// budget or losing the composer is fatal: without a query there is nothing
// left to try.
func (r *runner) stepCompose(ctx context.Context) (state, error) {
	if len(r.tried) >= r.config.MaxQueries {
		return stateDone, fmt.Errorf("%w: %d queries tried without reaching the target",
			domain.ErrQueryBudgetExceeded, len(r.tried))
	}

	if len(r.tried) == 0 {
		r.jobLog(ctx, domain.LogStepQuery, "Creating query for: %s", r.job.TargetVariable)
	} else {
		r.jobLog(ctx, domain.LogStepQuery, "Creating new query (tried %d already)", len(r.tried))
	}

	res, err := r.deps.Composer.Compose(ctx, ComposeRequest{
		TargetVariable: r.job.TargetVariable,
		TriedQueries:   r.tried,
	})
	if err != nil {
		return stateDone, err
	}
	r.recordUsage(res.Model, res.Usage)

	r.query = res.Query
	r.tried = append(r.tried, res.Query)
	r.jobLog(ctx, domain.LogStepQuery, "Generated: %s", res.Query)
	return stateSearch, nil
}

// stepSearch runs the current query. Transport failure after the search
// client's own retries is fatal to the job.
func (r *runner) stepSearch(ctx context.Context) (state, error) {
	r.jobLog(ctx, domain.LogStepSearch, "Searching: %s", r.query)
	if r.metrics() != nil {
		r.metrics().RecordSearchStarted()
	}

	start := time.Now()
	papers, err := r.deps.Searcher.Search(ctx, r.query, r.config.MaxSearchResults)
	duration := time.Since(start).Seconds()
	if err != nil {
		if r.metrics() != nil {
			r.metrics().RecordSearchFailed(duration)
		}
		return stateDone, fmt.Errorf("search failed: %w", err)
	}
	if r.metrics() != nil {
		r.metrics().RecordSearchCompleted(len(papers), duration)
	}

	r.jobLog(ctx, domain.LogStepSearch, "Found %d papers", len(papers))
	r.queue = papers
	return stateFilter, nil
}

// stepFilter drops candidates without a DOI and candidates already checked,
// preserving the search ranking of what remains.
func (r *runner) stepFilter(ctx context.Context) (state, error) {
	filtered := make([]domain.CandidatePaper, 0, len(r.queue))
	duplicates := 0
	for _, paper := range r.queue {
		if !paper.HasDOI() {
			continue
		}
		if _, seen := r.checked[paper.Identifier()]; seen {
			duplicates++
			continue
		}
		filtered = append(filtered, paper)
	}
	if r.metrics() != nil && duplicates > 0 {
		r.metrics().RecordPapersDuplicate(duplicates)
	}

	r.queue = filtered
	r.jobLog(ctx, domain.LogStepFilter, "Filtered to %d new papers", len(filtered))
	return stateClassifyRelevance, nil
}

// stepClassify consumes the queue head and asks the classifier for a
// verdict. The paper joins the checked set no matter what happens to it
// afterwards, so it is never reconsidered by a later search round.
func (r *runner) stepClassify(ctx context.Context) (state, error) {
	if len(r.queue) == 0 {
		return stateComposeQuery, nil
	}

	paper := r.queue[0]
	r.queue = r.queue[1:]
	r.checked[paper.Identifier()] = struct{}{}

	r.jobLog(ctx, domain.LogStepAbstract, "Checking paper: '%s'", paper.Title)

	res, err := r.deps.Classifier.Classify(ctx, ClassifyRequest{
		TargetVariable: r.job.TargetVariable,
		Title:          paper.Title,
		Abstract:       paper.Abstract,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("doi", paper.DOI).Msg("relevance classification failed, skipping paper")
		r.persistProgress(ctx)
		return r.advance(), nil
	}
	r.recordUsage(res.Model, res.Usage)
	if r.metrics() != nil {
		r.metrics().RecordPaperChecked(res.Relevant)
	}

	if res.Relevant {
		r.jobLog(ctx, domain.LogStepAbstract, "Paper is relevant! Will download.")
		r.current = &paper
		r.persistProgress(ctx)
		return stateAcquireFullText, nil
	}

	r.jobLog(ctx, domain.LogStepAbstract, "Not relevant. Skipping.")
	r.persistProgress(ctx)
	return r.advance(), nil
}

// stepAcquire resolves the current paper's DOI to plain text. Acquisition
// failures are per-candidate: the paper is skipped and the queue advances.
func (r *runner) stepAcquire(ctx context.Context) (state, error) {
	paper := r.current
	if paper == nil {
		return r.advance(), nil
	}

	r.jobLog(ctx, domain.LogStepDownload, "Downloading PDF for DOI: %s", paper.DOI)

	fullText, err := r.deps.Acquirer.Acquire(ctx, paper.DOI)
	if err != nil {
		r.current = nil
		switch {
		case errors.Is(err, domain.ErrNotAvailable):
			r.jobLog(ctx, domain.LogStepDownload, "Paper is paywalled (not open access). Skipping.")
		case domain.IsSkippable(err):
			r.jobLog(ctx, domain.LogStepDownload, "Download failed: %v", err)
		default:
			return stateDone, fmt.Errorf("acquire full text for %s: %w", paper.DOI, err)
		}
		return r.advance(), nil
	}

	r.jobLog(ctx, domain.LogStepDownload, "PDF downloaded successfully")
	r.jobLog(ctx, domain.LogStepConvert, "Converted to text (%d characters)", len(fullText.Text))
	r.text = fullText.Text
	return stateExtractInteractions, nil
}

// stepExtract runs the extraction loop over the current paper. Accepted
// interactions reach persistence through AcceptInteraction while the loop is
// still running.
func (r *runner) stepExtract(ctx context.Context) (state, error) {
	paper := r.current
	text := r.text
	r.current = nil
	r.text = ""

	if paper == nil || text == "" {
		return r.advance(), nil
	}

	r.jobLog(ctx, domain.LogStepExtract, "Extracting interactions")

	res, err := r.deps.Extractor.Extract(ctx, ExtractRequest{
		JobID:           r.job.ID,
		WorkspaceID:     r.job.WorkspaceID,
		TargetVariable:  r.job.TargetVariable,
		DOI:             paper.DOI,
		PublicationDate: paper.PublicationDate,
		Text:            text,
		Remaining:       r.job.TargetCount - r.accepted,
	}, r)
	if err != nil {
		return stateDone, fmt.Errorf("extract interactions from %s: %w", paper.DOI, err)
	}
	r.recordUsage(res.Model, res.Usage)

	// Hitting the iteration cap is a soft failure for this paper only.
	if !res.Finished && r.accepted < r.job.TargetCount {
		r.jobLog(ctx, domain.LogStepExtract, "Reached max iterations (%d), stopping extraction", res.Iterations)
	}

	r.jobLog(ctx, domain.LogStepStatus, "Progress: %d/%d interactions", r.accepted, r.job.TargetCount)

	if r.accepted >= r.job.TargetCount {
		r.jobLog(ctx, domain.LogStepStatus, "Target reached!")
		return stateDone, nil
	}
	return r.advance(), nil
}

// advance routes to the next queued candidate, or to a fresh query when the
// queue is empty.
func (r *runner) advance() state {
	if len(r.queue) > 0 {
		return stateClassifyRelevance
	}
	return stateComposeQuery
}

// AcceptInteraction persists one validated interaction and advances the
// job's visible progress. Called from inside the extraction loop so logs and
// counters move while the loop is still running.
func (r *runner) AcceptInteraction(ctx context.Context, interaction *domain.Interaction) error {
	if err := r.deps.Interactions.Create(ctx, interaction); err != nil {
		return err
	}
	r.accepted++
	r.jobLog(ctx, domain.LogStepExtract, "Found interaction: %s -> %s (%s)",
		interaction.IndependentVariable, interaction.DependentVariable, interaction.Effect)
	r.persistProgress(ctx)
	return nil
}

// checkBoundary re-reads the cancel flag at a state-transition boundary.
// Reads are rate-limited by CancelPollInterval unless the run context has
// died, in which case the flag decides between a cancelled finish and
// abandoning the run for stuck-job recovery.
func (r *runner) checkBoundary(ctx context.Context) (cancelled, abandoned bool) {
	ctxDead := ctx.Err() != nil
	if !ctxDead && r.config.CancelPollInterval > 0 && time.Since(r.lastCancelCheck) < r.config.CancelPollInterval {
		return false, false
	}
	r.lastCancelCheck = time.Now()

	readCtx, cancel := detachedCtx(ctx)
	defer cancel()
	requested, err := r.deps.Jobs.IsCancelRequested(readCtx, r.job.ID)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to read cancel flag")
		return false, ctxDead
	}
	if requested {
		return true, false
	}
	if ctxDead {
		r.logger.Warn().Msg("run context ended without a cancel request; leaving job for stuck-job recovery")
		return false, true
	}
	return false, false
}

// recordUsage accumulates the cost of one LLM call into the job.
func (r *runner) recordUsage(model string, usage llm.Usage) {
	r.costUSD += llm.EstimateCost(model, usage.InputTokens, usage.OutputTokens)
}

// persistProgress writes the visible counters. Progress writes are
// best-effort; a lost update is repaired by the next one.
func (r *runner) persistProgress(ctx context.Context) {
	if err := r.deps.Jobs.UpdateProgress(ctx, r.job.ID, r.accepted, len(r.checked), r.costUSD); err != nil {
		r.logger.Warn().Err(err).Msg("failed to persist job progress")
	}
}

// jobLog appends one line to the job's visible log stream. Losing a log
// line must not fail the job.
func (r *runner) jobLog(ctx context.Context, step, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	if err := r.deps.Jobs.AppendLog(ctx, r.job.ID, step, message); err != nil {
		r.logger.Warn().Err(err).Str("step", step).Msg("failed to append job log")
	}
	r.logger.Info().Str("step", step).Msg(message)
}

// emitEvent writes a lifecycle event through the outbox. Event loss is
// logged, not fatal: the job outcome is already persisted.
func (r *runner) emitEvent(ctx context.Context, eventType string, payload any) {
	if r.deps.Emitter == nil {
		return
	}
	event, err := domain.NewOutboxEvent(eventType, r.job.ID.String(), domain.AggregateTypeJob, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to build outbox event")
		return
	}
	event.WithWorkspace(r.job.WorkspaceID)
	if err := r.deps.Emitter.Emit(ctx, event); err != nil {
		r.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to emit outbox event")
	}
}

// finishCompleted writes the completed terminal state and emits the
// completion event that the billing boundary charges from.
func (r *runner) finishCompleted(ctx context.Context) {
	tctx, cancel := detachedCtx(ctx)
	defer cancel()

	r.persistProgress(tctx)
	r.jobLog(tctx, domain.LogStepStatus, "Completed: %d interactions from %d papers", r.accepted, len(r.checked))
	if err := r.deps.Jobs.UpdateStatus(tctx, r.job.ID, domain.JobStatusCompleted, ""); err != nil {
		r.logger.Error().Err(err).Msg("failed to mark job completed")
	}

	duration := time.Since(r.startTime)
	if r.metrics() != nil {
		r.metrics().RecordJobCompleted(duration.Seconds(), r.steps)
	}
	r.emitEvent(tctx, domain.EventTypeJobCompleted, domain.JobCompletedPayload{
		JobID:       r.job.ID,
		WorkspaceID: r.job.WorkspaceID,
		Accepted:    r.accepted,
		Checked:     len(r.checked),
		CostUSD:     r.costUSD,
		Duration:    duration,
	})
	r.logger.Info().
		Int("accepted", r.accepted).
		Int("checked", len(r.checked)).
		Int("steps", r.steps).
		Float64("cost_usd", r.costUSD).
		Dur("duration", duration).
		Msg("job completed")
}

// finishCancelled writes the cancelled terminal state. Cancellation emits
// its own event type and never a completion event, so no charge follows.
func (r *runner) finishCancelled(ctx context.Context) {
	tctx, cancel := detachedCtx(ctx)
	defer cancel()

	r.persistProgress(tctx)
	r.jobLog(tctx, domain.LogStepStatus, "Cancelled by request")
	if err := r.deps.Jobs.UpdateStatus(tctx, r.job.ID, domain.JobStatusCancelled, ""); err != nil {
		r.logger.Error().Err(err).Msg("failed to mark job cancelled")
	}

	if r.metrics() != nil {
		r.metrics().RecordJobCancelled()
	}
	r.emitEvent(tctx, domain.EventTypeJobCancelled, domain.JobCancelledPayload{
		JobID:       r.job.ID,
		WorkspaceID: r.job.WorkspaceID,
		Accepted:    r.accepted,
		Checked:     len(r.checked),
	})
	r.logger.Info().
		Int("accepted", r.accepted).
		Int("checked", len(r.checked)).
		Msg("job cancelled")
}

// finishFailed writes the failed terminal state, preserving partial results
// and the error message for operator visibility.
func (r *runner) finishFailed(ctx context.Context, cause error) {
	tctx, cancel := detachedCtx(ctx)
	defer cancel()

	r.persistProgress(tctx)
	r.jobLog(tctx, domain.LogStepStatus, "Failed: %v", cause)
	if err := r.deps.Jobs.UpdateStatus(tctx, r.job.ID, domain.JobStatusFailed, cause.Error()); err != nil {
		r.logger.Error().Err(err).Msg("failed to mark job failed")
	}

	duration := time.Since(r.startTime)
	if r.metrics() != nil {
		r.metrics().RecordJobFailed(duration.Seconds(), r.steps)
	}
	r.emitEvent(tctx, domain.EventTypeJobFailed, domain.JobFailedPayload{
		JobID:       r.job.ID,
		WorkspaceID: r.job.WorkspaceID,
		Error:       cause.Error(),
		Step:        r.currentState.String(),
	})
	r.logger.Error().
		Err(cause).
		Str("state", r.currentState.String()).
		Int("steps", r.steps).
		Msg("job failed")
}

// detachedCtx derives a bounded context that survives run-context
// cancellation, for terminal writes and cancel-flag reads.
func detachedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}
