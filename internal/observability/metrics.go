package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the interaction discovery service.
// Metrics are organized by subsystem: jobs, searches, candidates, full text, and
// LLM operations. All counters and histograms are registered via promauto for
// automatic registration with the default Prometheus registry.
type Metrics struct {
	// JobsStarted counts the total number of discovery jobs started.
	JobsStarted prometheus.Counter

	// JobsCompleted counts the total number of jobs that reached their target.
	JobsCompleted prometheus.Counter

	// JobsFailed counts the total number of jobs that ended in failure.
	JobsFailed prometheus.Counter

	// JobsCancelled counts the total number of jobs cancelled by user or system.
	JobsCancelled prometheus.Counter

	// JobDuration observes the end-to-end duration of jobs in seconds.
	JobDuration prometheus.Histogram

	// JobSteps observes the number of state machine steps consumed per job.
	JobSteps prometheus.Histogram

	// QueriesComposed counts search queries composed across all jobs.
	QueriesComposed prometheus.Counter

	// SearchesStarted counts literature searches initiated.
	SearchesStarted prometheus.Counter

	// SearchesFailed counts literature searches that failed.
	SearchesFailed prometheus.Counter

	// SearchDuration observes search duration in seconds.
	SearchDuration prometheus.Histogram

	// PapersPerSearch observes the distribution of papers returned per search.
	PapersPerSearch prometheus.Histogram

	// PapersChecked counts candidates classified for relevance, labeled by verdict.
	PapersChecked *prometheus.CounterVec

	// PapersDuplicate counts candidates dropped by the checked-set filter.
	PapersDuplicate prometheus.Counter

	// FullTextAttempts counts full-text acquisition attempts, labeled by stage.
	FullTextAttempts *prometheus.CounterVec

	// FullTextFailures counts full-text acquisition failures, labeled by stage and error type.
	FullTextFailures *prometheus.CounterVec

	// FullTextDuration observes full-text acquisition duration in seconds, labeled by stage.
	FullTextDuration *prometheus.HistogramVec

	// InteractionsAccepted counts extracted interactions that passed validation.
	InteractionsAccepted prometheus.Counter

	// InteractionsRejected counts submitted interactions rejected by validation, labeled by reason.
	InteractionsRejected *prometheus.CounterVec

	// ExtractionIterations observes tool-loop iterations consumed per paper.
	ExtractionIterations prometheus.Histogram

	// LLMRequestsTotal counts LLM API requests, labeled by operation and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests, labeled by operation, model, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM API request duration in seconds, labeled by operation and model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed counts tokens consumed by LLM operations, labeled by operation, model, and token type.
	LLMTokensUsed *prometheus.CounterVec

	// EventsPublished counts outbox events published to the broker, labeled by event type.
	EventsPublished *prometheus.CounterVec

	// HTTPRequestsInflight tracks API requests currently being served.
	HTTPRequestsInflight prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Jobs
		JobsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of discovery jobs started",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of discovery jobs completed successfully",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of discovery jobs that failed",
		}),
		JobsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Total number of discovery jobs cancelled",
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of discovery jobs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		JobSteps: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_steps",
			Help:      "State machine steps consumed per job",
			Buckets:   []float64{5, 10, 25, 50, 100, 200, 400},
		}),

		// Queries and searches
		QueriesComposed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_composed_total",
			Help:      "Total number of search queries composed",
		}),
		SearchesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of literature searches started",
		}),
		SearchesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of literature searches that failed",
		}),
		SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of literature searches in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		PapersPerSearch: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "papers_per_search",
			Help:      "Number of papers returned per search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),

		// Candidates
		PapersChecked: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_checked_total",
			Help:      "Total number of candidates classified for relevance by verdict",
		}, []string{"verdict"}),
		PapersDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_duplicate_total",
			Help:      "Total number of candidates dropped as already checked",
		}),

		// Full text
		FullTextAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulltext_attempts_total",
			Help:      "Total number of full-text acquisition attempts by stage",
		}, []string{"stage"}),
		FullTextFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulltext_failures_total",
			Help:      "Total number of full-text acquisition failures by stage",
		}, []string{"stage", "error_type"}),
		FullTextDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fulltext_duration_seconds",
			Help:      "Duration of full-text acquisition stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),

		// Extraction
		InteractionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_accepted_total",
			Help:      "Total number of extracted interactions accepted",
		}),
		InteractionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_rejected_total",
			Help:      "Total number of submitted interactions rejected by reason",
		}, []string{"reason"}),
		ExtractionIterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_iterations",
			Help:      "Tool-loop iterations consumed per paper",
			Buckets:   []float64{1, 2, 3, 5, 10, 15, 20},
		}),

		// LLM
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests by operation",
		}, []string{"operation", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM requests by operation",
		}, []string{"operation", "model", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"operation", "model"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used by LLM operations",
		}, []string{"operation", "model", "token_type"}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of outbox events published by type",
		}, []string{"event_type"}),

		// HTTP
		HTTPRequestsInflight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "Number of HTTP requests currently being served",
		}),
	}
}

// RecordJobStarted records that a job has started.
func (m *Metrics) RecordJobStarted() {
	m.JobsStarted.Inc()
}

// RecordJobCompleted records that a job has completed.
func (m *Metrics) RecordJobCompleted(durationSeconds float64, steps int) {
	m.JobsCompleted.Inc()
	m.JobDuration.Observe(durationSeconds)
	m.JobSteps.Observe(float64(steps))
}

// RecordJobFailed records that a job has failed.
func (m *Metrics) RecordJobFailed(durationSeconds float64, steps int) {
	m.JobsFailed.Inc()
	m.JobDuration.Observe(durationSeconds)
	m.JobSteps.Observe(float64(steps))
}

// RecordJobCancelled records that a job has been cancelled.
func (m *Metrics) RecordJobCancelled() {
	m.JobsCancelled.Inc()
}

// RecordQueryComposed records a composed search query.
func (m *Metrics) RecordQueryComposed() {
	m.QueriesComposed.Inc()
}

// RecordSearchStarted records that a literature search has started.
func (m *Metrics) RecordSearchStarted() {
	m.SearchesStarted.Inc()
}

// RecordSearchCompleted records that a literature search has completed.
func (m *Metrics) RecordSearchCompleted(paperCount int, durationSeconds float64) {
	m.SearchDuration.Observe(durationSeconds)
	m.PapersPerSearch.Observe(float64(paperCount))
}

// RecordSearchFailed records that a literature search has failed.
func (m *Metrics) RecordSearchFailed(durationSeconds float64) {
	m.SearchesFailed.Inc()
	m.SearchDuration.Observe(durationSeconds)
}

// RecordPaperChecked records a relevance classification outcome.
func (m *Metrics) RecordPaperChecked(relevant bool) {
	verdict := "rejected"
	if relevant {
		verdict = "relevant"
	}
	m.PapersChecked.WithLabelValues(verdict).Inc()
}

// RecordPapersDuplicate records candidates dropped by the checked-set filter.
func (m *Metrics) RecordPapersDuplicate(count int) {
	m.PapersDuplicate.Add(float64(count))
}

// RecordFullTextAttempt records one acquisition stage attempt.
func (m *Metrics) RecordFullTextAttempt(stage string, durationSeconds float64) {
	m.FullTextAttempts.WithLabelValues(stage).Inc()
	m.FullTextDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordFullTextFailure records one acquisition stage failure.
func (m *Metrics) RecordFullTextFailure(stage, errorType string) {
	m.FullTextFailures.WithLabelValues(stage, errorType).Inc()
}

// RecordInteractionAccepted records an accepted interaction.
func (m *Metrics) RecordInteractionAccepted() {
	m.InteractionsAccepted.Inc()
}

// RecordInteractionRejected records a rejected interaction submission.
func (m *Metrics) RecordInteractionRejected(reason string) {
	m.InteractionsRejected.WithLabelValues(reason).Inc()
}

// RecordExtractionIterations records the tool-loop iterations used for one paper.
func (m *Metrics) RecordExtractionIterations(count int) {
	m.ExtractionIterations.Observe(float64(count))
}

// RecordLLMRequest records an LLM request.
func (m *Metrics) RecordLLMRequest(operation, model string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestsTotal.WithLabelValues(operation, model).Inc()
	m.LLMRequestDuration.WithLabelValues(operation, model).Observe(durationSeconds)
	m.LLMTokensUsed.WithLabelValues(operation, model, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(operation, model, "output").Add(float64(outputTokens))
}

// RecordLLMRequestFailed records a failed LLM request.
func (m *Metrics) RecordLLMRequestFailed(operation, model, errorType string) {
	m.LLMRequestsFailed.WithLabelValues(operation, model, errorType).Inc()
}

// RecordEventPublished records an outbox event published to the broker.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// HTTPRequestStarted marks an HTTP request in flight.
func (m *Metrics) HTTPRequestStarted() {
	m.HTTPRequestsInflight.Inc()
}

// HTTPRequestFinished marks an HTTP request complete.
func (m *Metrics) HTTPRequestFinished() {
	m.HTTPRequestsInflight.Dec()
}
