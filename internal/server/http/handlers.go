package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/interaction-discovery-service/internal/discovery"
	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/repository"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// createJobRequest is the JSON request body for starting a discovery job.
// A zero target_count falls back to the configured default.
type createJobRequest struct {
	WorkspaceID    string `json:"workspace_id" validate:"required,max=100"`
	TargetVariable string `json:"target_variable" validate:"required,min=2,max=500"`
	TargetCount    int    `json:"target_count" validate:"omitempty,min=1,max=100"`
}

// createJob handles POST /jobs.
// It persists a pending job and hands it to the in-process run manager.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req createJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.TargetVariable = strings.TrimSpace(req.TargetVariable)
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if req.TargetCount == 0 {
		req.TargetCount = s.config.DefaultTargetCount
	}

	now := time.Now()
	job := &domain.Job{
		ID:             uuid.New(),
		WorkspaceID:    req.WorkspaceID,
		TargetVariable: req.TargetVariable,
		TargetCount:    req.TargetCount,
		Status:         domain.JobStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.runs.Start(job); err != nil {
		// A row no worker will ever pick up must not linger.
		if delErr := s.jobs.Delete(ctx, job.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("job_id", job.ID.String()).Msg("failed to remove unstarted job")
		}
		switch {
		case errors.Is(err, discovery.ErrTooManyJobs):
			writeError(w, http.StatusTooManyRequests, "too many concurrent jobs, retry later")
		case errors.Is(err, discovery.ErrManagerClosed):
			writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		default:
			writeDomainError(w, err)
		}
		return
	}

	s.logger.Info().
		Str("job_id", job.ID.String()).
		Str("workspace_id", job.WorkspaceID).
		Str("target_variable", job.TargetVariable).
		Int("target_count", job.TargetCount).
		Msg("discovery job started")

	writeJSON(w, http.StatusCreated, domainJobToResponse(job))
}

// getJob handles GET /jobs/{jobID}.
// It returns the job's status, counters, current step and a log tail.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainJobToResponse(job))
}

// listJobs handles GET /jobs.
// It returns a paginated list of job summaries with optional filters.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.JobFilter{
		WorkspaceID: r.URL.Query().Get("workspace_id"),
		Limit:       limit,
		Offset:      offset,
	}

	statuses, err := parseStatusFilter(r.URL.Query()["status"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Status = statuses

	jobs, totalCount, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]jobSummaryResponse, len(jobs))
	for i, job := range jobs {
		summaries[i] = domainJobToSummary(job)
	}

	writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:          summaries,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// stopJob handles POST /jobs/{jobID}/stop.
// It sets the persistent cancellation flag and nudges the live run.
func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if job.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "job is already in terminal state")
		return
	}

	// The flag is persisted first: the run's poll boundary honors it even if
	// the nudge below misses.
	if err := s.jobs.RequestCancel(ctx, jobID); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusConflict, "job is already in terminal state")
			return
		}
		writeDomainError(w, err)
		return
	}
	s.runs.Stop(jobID)

	writeJSON(w, http.StatusOK, stopJobResponse{
		Success: true,
		Message: "cancellation requested",
		Status:  string(job.Status),
	})
}

// deleteJob handles DELETE /jobs/{jobID}.
// A live run is cancelled and drained before the record (and, via cascade,
// its interactions) is removed.
func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if !job.Status.IsTerminal() {
		// Flag first so the run lands on cancelled, then wait it out.
		if err := s.jobs.RequestCancel(ctx, jobID); err != nil && !errors.Is(err, domain.ErrInvalidInput) {
			writeDomainError(w, err)
			return
		}
		if err := s.runs.StopAndWait(ctx, jobID); err != nil {
			writeError(w, http.StatusInternalServerError, "timed out waiting for job to stop")
			return
		}
	}

	if err := s.jobs.Delete(ctx, jobID); err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info().Str("job_id", jobID.String()).Msg("job deleted")
	w.WriteHeader(http.StatusNoContent)
}

// listJobInteractions handles GET /jobs/{jobID}/interactions.
// It returns every interaction the job has accepted, in extraction order.
func (s *Server) listJobInteractions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		writeDomainError(w, err)
		return
	}

	items, err := s.interactions.ListByJob(ctx, jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]interactionResponse, len(items))
	for i, item := range items {
		responses[i] = domainInteractionToResponse(item)
	}

	writeJSON(w, http.StatusOK, listInteractionsResponse{
		Interactions: responses,
		TotalCount:   len(responses),
	})
}

// listInteractions handles GET /interactions.
// It returns a paginated list across jobs with workspace and effect filters.
func (s *Server) listInteractions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.InteractionFilter{
		WorkspaceID: r.URL.Query().Get("workspace_id"),
		Effect:      r.URL.Query().Get("effect"),
		Limit:       limit,
		Offset:      offset,
	}
	if err := filter.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	items, totalCount, err := s.interactions.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]interactionResponse, len(items))
	for i, item := range items {
		responses[i] = domainInteractionToResponse(item)
	}

	writeJSON(w, http.StatusOK, listInteractionsResponse{
		Interactions:  responses,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// writeDomainError maps domain errors to appropriate HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// validationMessage renders the first field failure of a validator error in
// the json-tag vocabulary the client sent.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "min":
			return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
		case "max":
			return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
		default:
			return fe.Field() + " is invalid"
		}
	}
	return "invalid request body"
}

// parseStatusFilter validates status query values against the job lifecycle.
func parseStatusFilter(values []string) ([]domain.JobStatus, error) {
	if len(values) == 0 {
		return nil, nil
	}
	statuses := make([]domain.JobStatus, 0, len(values))
	for _, v := range values {
		status := domain.JobStatus(v)
		switch status {
		case domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusCompleted,
			domain.JobStatusCancelled, domain.JobStatusFailed:
			statuses = append(statuses, status)
		default:
			return nil, fmt.Errorf("unsupported status: %s", v)
		}
	}
	return statuses, nil
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// Returns the parsed UUID and true on success, or uuid.Nil and false on failure.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
