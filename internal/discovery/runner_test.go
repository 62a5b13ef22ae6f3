package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/interaction-discovery-service/internal/domain"
)

// runnerHarness wires a runner against in-memory fakes.
type runnerHarness struct {
	job          *domain.Job
	jobs         *memJobs
	interactions *memInteractions
	searcher     *fakeSearcher
	acquirer     *fakeAcquirer
	composer     *fakeComposer
	classifier   *fakeClassifier
	extractor    *fakeExtractor
	emitter      *memEmitter
	config       Config
}

func newRunnerHarness(target int) *runnerHarness {
	job := newTestJob(target)
	return &runnerHarness{
		job:          job,
		jobs:         newMemJobs(job),
		interactions: &memInteractions{},
		searcher:     &fakeSearcher{},
		acquirer:     &fakeAcquirer{texts: map[string]string{}, errs: map[string]error{}},
		composer:     &fakeComposer{},
		classifier:   &fakeClassifier{relevant: map[string]bool{}, errTitles: map[string]error{}},
		extractor:    &fakeExtractor{perDOI: map[string][]fakeFound{}},
		emitter:      &memEmitter{},
		config:       Config{StepBudget: 100, MaxQueries: 10},
	}
}

// run executes the job to its terminal state on the calling goroutine.
func (h *runnerHarness) run(ctx context.Context) {
	deps := Dependencies{
		Jobs:         h.jobs,
		Interactions: h.interactions,
		Searcher:     h.searcher,
		Acquirer:     h.acquirer,
		Composer:     h.composer,
		Classifier:   h.classifier,
		Extractor:    h.extractor,
		Emitter:      h.emitter,
		Metrics:      testMetrics,
	}
	h.config.applyDefaults()
	newRunner(deps, h.config, h.job, zerolog.Nop()).run(ctx)
}

func (h *runnerHarness) storedJob(t *testing.T) *domain.Job {
	t.Helper()
	job, err := h.jobs.Get(context.Background(), h.job.ID)
	require.NoError(t, err)
	return job
}

func TestRunnerCompletesJob(t *testing.T) {
	h := newRunnerHarness(3)

	paperA := candidate("Paper A", "10.1000/a")
	paperB := candidate("Paper B", "10.1000/b")
	paperC := candidate("Paper C", "10.1000/c")
	paperD := candidate("Paper D", "10.1000/d")
	paperE := candidate("Paper E", "10.1000/e")
	h.searcher.turns = []searchTurn{{papers: []domain.CandidatePaper{paperA, paperB, paperC, paperD, paperE}}}
	h.classifier.relevant = map[string]bool{
		"Paper A": true, "Paper B": false, "Paper C": true, "Paper D": false, "Paper E": true,
	}
	h.acquirer.texts = map[string]string{"10.1000/a": "text a", "10.1000/c": "text c", "10.1000/e": "text e"}
	h.extractor.perDOI = map[string][]fakeFound{
		"10.1000/a": {{iv: "creatine", dv: "power output", effect: "+"}},
		"10.1000/c": {{iv: "creatine", dv: "sprint time", effect: "-"}},
		"10.1000/e": {{iv: "creatine", dv: "fatigue", effect: "-"}},
	}

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, 3, job.AcceptedCount)
	assert.Equal(t, 5, job.CheckedCount)
	assert.Greater(t, job.CostUSD, 0.0)
	assert.Empty(t, job.ErrorMessage)

	assert.Equal(t, []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusCompleted}, h.jobs.statuses)

	stored, err := h.interactions.ListByJob(context.Background(), h.job.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "power output", stored[0].DependentVariable)
	assert.Equal(t, "sprint time", stored[1].DependentVariable)
	assert.Equal(t, "fatigue", stored[2].DependentVariable)

	assert.Equal(t, []string{domain.EventTypeJobStarted, domain.EventTypeJobCompleted}, h.emitter.types())

	want := []string{
		"Creating query for: creatine",
		"Generated: query 1",
		"Searching: query 1",
		"Found 5 papers",
		"Filtered to 5 new papers",
		"Checking paper: 'Paper A'",
		"Paper is relevant! Will download.",
		"Downloading PDF for DOI: 10.1000/a",
		"PDF downloaded successfully",
		"Converted to text (6 characters)",
		"Extracting interactions",
		"Found interaction: creatine -> power output (+)",
		"Progress: 1/3 interactions",
		"Checking paper: 'Paper B'",
		"Not relevant. Skipping.",
		"Checking paper: 'Paper C'",
		"Paper is relevant! Will download.",
		"Downloading PDF for DOI: 10.1000/c",
		"PDF downloaded successfully",
		"Converted to text (6 characters)",
		"Extracting interactions",
		"Found interaction: creatine -> sprint time (-)",
		"Progress: 2/3 interactions",
		"Checking paper: 'Paper D'",
		"Not relevant. Skipping.",
		"Checking paper: 'Paper E'",
		"Paper is relevant! Will download.",
		"Downloading PDF for DOI: 10.1000/e",
		"PDF downloaded successfully",
		"Converted to text (6 characters)",
		"Extracting interactions",
		"Found interaction: creatine -> fatigue (-)",
		"Progress: 3/3 interactions",
		"Target reached!",
		"Completed: 3 interactions from 5 papers",
	}
	assert.Equal(t, want, h.jobs.allMessages())
}

func TestRunnerCompletedEventCarriesCost(t *testing.T) {
	h := newRunnerHarness(1)
	paper := candidate("Paper A", "10.1000/a")
	h.searcher.turns = []searchTurn{{papers: []domain.CandidatePaper{paper}}}
	h.classifier.relevant = map[string]bool{"Paper A": true}
	h.acquirer.texts = map[string]string{"10.1000/a": "text"}
	h.extractor.perDOI = map[string][]fakeFound{
		"10.1000/a": {{iv: "creatine", dv: "power output", effect: "+"}},
	}

	h.run(context.Background())

	types := h.emitter.types()
	require.Equal(t, []string{domain.EventTypeJobStarted, domain.EventTypeJobCompleted}, types)

	completed := h.emitter.events[1]
	assert.Equal(t, h.job.ID.String(), completed.AggregateID)
	assert.Equal(t, domain.AggregateTypeJob, completed.AggregateType)
	assert.Equal(t, "ws-1", completed.WorkspaceID)

	var payload domain.JobCompletedPayload
	require.NoError(t, json.Unmarshal(completed.Payload, &payload))
	assert.Equal(t, h.job.ID, payload.JobID)
	assert.Equal(t, 1, payload.Accepted)
	assert.Equal(t, 1, payload.Checked)
	assert.Greater(t, payload.CostUSD, 0.0)
}

func TestRunnerQueryBudgetExhausted(t *testing.T) {
	h := newRunnerHarness(1)
	h.config.MaxQueries = 3
	// Every search returns nothing, so the run cycles back to composing.

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "query budget exceeded")
	assert.Equal(t, 3, h.composer.calls)

	require.Equal(t, []string{domain.EventTypeJobStarted, domain.EventTypeJobFailed}, h.emitter.types())
	var payload domain.JobFailedPayload
	require.NoError(t, json.Unmarshal(h.emitter.events[1].Payload, &payload))
	assert.Equal(t, "compose_query", payload.Step)
	assert.Contains(t, payload.Error, "query budget exceeded")
}

func TestRunnerStepBudgetExhausted(t *testing.T) {
	h := newRunnerHarness(1)
	h.config.StepBudget = 5

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "step budget exceeded")
}

func TestRunnerCancelledAtBoundary(t *testing.T) {
	h := newRunnerHarness(1)
	h.jobs.cancelAfterChecks = 3
	paper := candidate("Paper A", "10.1000/a")
	h.searcher.turns = []searchTurn{{papers: []domain.CandidatePaper{paper}}}
	h.classifier.relevant = map[string]bool{"Paper A": true}
	h.acquirer.texts = map[string]string{"10.1000/a": "text"}

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMessage)

	require.Equal(t, []string{domain.EventTypeJobStarted, domain.EventTypeJobCancelled}, h.emitter.types())
	assert.Contains(t, h.jobs.messages(domain.LogStepStatus), "Cancelled by request")

	// No interaction was stored and no completion event was emitted, so
	// nothing downstream can charge for this run.
	assert.Empty(t, h.interactions.items)
}

func TestRunnerCancelRequestedBeforeFirstStep(t *testing.T) {
	h := newRunnerHarness(1)
	h.jobs.jobs[h.job.ID].CancelRequested = true

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusCancelled, job.Status)
	assert.Equal(t, 0, h.composer.calls)
}

func TestRunnerAbandonedWhenContextDiesWithoutCancelRequest(t *testing.T) {
	h := newRunnerHarness(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.run(ctx)

	// The record stays running for stuck-job recovery; no terminal status
	// and no terminal event were written.
	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	assert.Equal(t, []domain.JobStatus{domain.JobStatusRunning}, h.jobs.statuses)
	assert.Equal(t, []string{domain.EventTypeJobStarted}, h.emitter.types())
}

func TestRunnerContextDeathWithCancelRequestFinishesCancelled(t *testing.T) {
	h := newRunnerHarness(1)
	h.jobs.jobs[h.job.ID].CancelRequested = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.run(ctx)

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusCancelled, job.Status)
}

func TestRunnerSkipsUnavailableAndFailedDownloads(t *testing.T) {
	h := newRunnerHarness(1)
	paperA := candidate("Paper A", "10.1000/a")
	paperB := candidate("Paper B", "10.1000/b")
	paperC := candidate("Paper C", "10.1000/c")
	h.searcher.turns = []searchTurn{{papers: []domain.CandidatePaper{paperA, paperB, paperC}}}
	h.classifier.relevant = map[string]bool{"Paper A": true, "Paper B": true, "Paper C": true}
	// A has no text (paywalled), B fails transiently, C resolves.
	h.acquirer.errs["10.1000/b"] = fmt.Errorf("%w: unpaywall: status 502", domain.ErrTransient)
	h.acquirer.texts["10.1000/c"] = "text"
	h.extractor.perDOI = map[string][]fakeFound{
		"10.1000/c": {{iv: "creatine", dv: "power output", effect: "+"}},
	}

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.CheckedCount)
	assert.Equal(t, 1, job.AcceptedCount)

	downloads := h.jobs.messages(domain.LogStepDownload)
	assert.Contains(t, downloads, "Paper is paywalled (not open access). Skipping.")
	assert.Contains(t, downloads, "Download failed: transient failure: unpaywall: status 502")
}

func TestRunnerClassifierFailureSkipsPaper(t *testing.T) {
	h := newRunnerHarness(1)
	paperA := candidate("Paper A", "10.1000/a")
	paperB := candidate("Paper B", "10.1000/b")
	h.searcher.turns = []searchTurn{{papers: []domain.CandidatePaper{paperA, paperB}}}
	h.classifier.errTitles["Paper A"] = errors.New("rate limited")
	h.classifier.relevant = map[string]bool{"Paper B": true}
	h.acquirer.texts["10.1000/b"] = "text"
	h.extractor.perDOI = map[string][]fakeFound{
		"10.1000/b": {{iv: "creatine", dv: "power output", effect: "+"}},
	}

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	// The failed candidate still counts as checked so it is never retried.
	assert.Equal(t, 2, job.CheckedCount)

	abstracts := h.jobs.messages(domain.LogStepAbstract)
	assert.Equal(t, []string{
		"Checking paper: 'Paper A'",
		"Checking paper: 'Paper B'",
		"Paper is relevant! Will download.",
	}, abstracts)
}

func TestRunnerDeduplicatesAcrossQueries(t *testing.T) {
	h := newRunnerHarness(1)
	paperA := candidate("Paper A", "10.1000/a")
	paperB := candidate("Paper B", "10.1000/b")
	h.searcher.turns = []searchTurn{
		{papers: []domain.CandidatePaper{paperA}},
		{papers: []domain.CandidatePaper{paperA, paperB}},
	}
	h.classifier.relevant = map[string]bool{"Paper A": false, "Paper B": true}
	h.acquirer.texts["10.1000/b"] = "text"
	h.extractor.perDOI = map[string][]fakeFound{
		"10.1000/b": {{iv: "creatine", dv: "power output", effect: "+"}},
	}

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.CheckedCount)

	// Paper A was classified once; its second appearance was filtered out.
	checkCount := 0
	for _, msg := range h.jobs.messages(domain.LogStepAbstract) {
		if msg == "Checking paper: 'Paper A'" {
			checkCount++
		}
	}
	assert.Equal(t, 1, checkCount)
	assert.Equal(t, []string{"Filtered to 1 new papers", "Filtered to 1 new papers"}, h.jobs.messages(domain.LogStepFilter))
}

func TestRunnerDropsCandidatesWithoutDOI(t *testing.T) {
	h := newRunnerHarness(1)
	noDOI := domain.CandidatePaper{Title: "No DOI", Abstract: "abstract"}
	paperB := candidate("Paper B", "10.1000/b")
	h.searcher.turns = []searchTurn{{papers: []domain.CandidatePaper{noDOI, paperB}}}
	h.classifier.relevant = map[string]bool{"Paper B": true}
	h.acquirer.texts["10.1000/b"] = "text"
	h.extractor.perDOI = map[string][]fakeFound{
		"10.1000/b": {{iv: "creatine", dv: "power output", effect: "+"}},
	}

	h.run(context.Background())

	assert.Equal(t, domain.JobStatusCompleted, h.storedJob(t).Status)
	assert.Contains(t, h.jobs.messages(domain.LogStepFilter), "Filtered to 1 new papers")

	for _, msg := range h.jobs.messages(domain.LogStepAbstract) {
		assert.NotContains(t, msg, "No DOI")
	}
}

func TestRunnerComposerFailureIsFatal(t *testing.T) {
	h := newRunnerHarness(1)
	h.composer.err = errors.New("compose query: connection refused")

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "compose query")
}

func TestRunnerSearchFailureIsFatal(t *testing.T) {
	h := newRunnerHarness(1)
	h.searcher.turns = []searchTurn{{err: errors.New("esearch: status 500")}}

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "search failed")

	var payload domain.JobFailedPayload
	require.Len(t, h.emitter.events, 2)
	require.NoError(t, json.Unmarshal(h.emitter.events[1].Payload, &payload))
	assert.Equal(t, "search", payload.Step)
}

func TestRunnerNonSkippableAcquireFailureIsFatal(t *testing.T) {
	h := newRunnerHarness(1)
	paper := candidate("Paper A", "10.1000/a")
	h.searcher.turns = []searchTurn{{papers: []domain.CandidatePaper{paper}}}
	h.classifier.relevant = map[string]bool{"Paper A": true}
	h.acquirer.errs["10.1000/a"] = errors.New("text converter crashed")

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "acquire full text for 10.1000/a")
}

func TestRunnerExtractorFailureIsFatal(t *testing.T) {
	h := newRunnerHarness(1)
	paper := candidate("Paper A", "10.1000/a")
	h.searcher.turns = []searchTurn{{papers: []domain.CandidatePaper{paper}}}
	h.classifier.relevant = map[string]bool{"Paper A": true}
	h.acquirer.texts["10.1000/a"] = "text"
	h.extractor.err = errors.New("extraction iteration 3: connection reset")

	h.run(context.Background())

	job := h.storedJob(t)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "extract interactions from 10.1000/a")
}
