// Package discovery implements the autonomous interaction discovery pipeline.
//
// A discovery job is a bounded state machine that repeatedly composes a
// literature search query, searches PubMed, filters out already-checked
// papers, classifies each candidate's relevance from its abstract, acquires
// the full text of relevant papers, and drives a tool-calling extraction loop
// until the job's target number of validated interactions is reached.
//
// Each job runs on one dedicated goroutine owned by the Manager; all external
// calls are blocking with their own timeouts, and cancellation is cooperative:
// the worker re-reads the job's cancel flag at state-transition boundaries.
package discovery
