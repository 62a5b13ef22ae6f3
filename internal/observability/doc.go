// Package observability provides logging, metrics, and tracing support for
// the interaction discovery service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for jobs, searches, and extraction
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("job_id", jobID).Msg("discovery job started")
//
// Add job context to logger:
//
//	logger = observability.WithJobLogContext(logger, requestID, workspaceID, jobID)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("discovery")
//
// Record metrics:
//
//	metrics.RecordJobStarted()
//	metrics.RecordPaperChecked(true)
//	metrics.RecordFullTextAttempt("unpaywall", 1.2)
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithWorkspaceID(ctx, workspaceID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	wsID := observability.WorkspaceIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP request identifier
//   - workspace_id: Workspace identifier
//   - job_id: Discovery job identifier
//   - query: PubMed search query
//   - source: Full-text source (arxiv, unpaywall, proxy, direct)
//   - doi: Paper DOI
//   - trace_id: Distributed trace identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
