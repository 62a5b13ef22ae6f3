package httpserver

import (
	"time"

	"github.com/helixir/interaction-discovery-service/internal/domain"
)

// logTailLines bounds the log excerpt returned on single-job reads. The full
// history stays in the database and on the SSE stream.
const logTailLines = 100

// Job response types for JSON serialization.

type jobResponse struct {
	JobID           string     `json:"job_id"`
	WorkspaceID     string     `json:"workspace_id"`
	TargetVariable  string     `json:"target_variable"`
	TargetCount     int        `json:"target_count"`
	Status          string     `json:"status"`
	AcceptedCount   int        `json:"accepted_count"`
	CheckedCount    int        `json:"checked_count"`
	CurrentStep     string     `json:"current_step,omitempty"`
	Logs            []string   `json:"logs,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	CostUSD         float64    `json:"cost_usd"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Duration        string     `json:"duration,omitempty"`
}

type jobSummaryResponse struct {
	JobID          string     `json:"job_id"`
	WorkspaceID    string     `json:"workspace_id"`
	TargetVariable string     `json:"target_variable"`
	TargetCount    int        `json:"target_count"`
	Status         string     `json:"status"`
	AcceptedCount  int        `json:"accepted_count"`
	CheckedCount   int        `json:"checked_count"`
	CurrentStep    string     `json:"current_step,omitempty"`
	CostUSD        float64    `json:"cost_usd"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type listJobsResponse struct {
	Jobs          []jobSummaryResponse `json:"jobs"`
	NextPageToken string               `json:"next_page_token,omitempty"`
	TotalCount    int                  `json:"total_count"`
}

type stopJobResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type interactionResponse struct {
	ID                  string    `json:"id"`
	JobID               string    `json:"job_id"`
	WorkspaceID         string    `json:"workspace_id"`
	IndependentVariable string    `json:"independent_variable"`
	DependentVariable   string    `json:"dependent_variable"`
	Effect              string    `json:"effect"`
	Reference           string    `json:"reference,omitempty"`
	DatePublished       string    `json:"date_published,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

type listInteractionsResponse struct {
	Interactions  []interactionResponse `json:"interactions"`
	NextPageToken string                `json:"next_page_token,omitempty"`
	TotalCount    int                   `json:"total_count"`
}

// Converter functions

func domainJobToResponse(j *domain.Job) jobResponse {
	resp := jobResponse{
		JobID:           j.ID.String(),
		WorkspaceID:     j.WorkspaceID,
		TargetVariable:  j.TargetVariable,
		TargetCount:     j.TargetCount,
		Status:          string(j.Status),
		AcceptedCount:   j.AcceptedCount,
		CheckedCount:    j.CheckedCount,
		CurrentStep:     j.CurrentStep,
		Logs:            logTail(j.Logs, logTailLines),
		CancelRequested: j.CancelRequested,
		CostUSD:         j.CostUSD,
		ErrorMessage:    j.ErrorMessage,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
	if d := jobDuration(j); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

func domainJobToSummary(j *domain.Job) jobSummaryResponse {
	return jobSummaryResponse{
		JobID:          j.ID.String(),
		WorkspaceID:    j.WorkspaceID,
		TargetVariable: j.TargetVariable,
		TargetCount:    j.TargetCount,
		Status:         string(j.Status),
		AcceptedCount:  j.AcceptedCount,
		CheckedCount:   j.CheckedCount,
		CurrentStep:    j.CurrentStep,
		CostUSD:        j.CostUSD,
		CreatedAt:      j.CreatedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func domainInteractionToResponse(i *domain.Interaction) interactionResponse {
	return interactionResponse{
		ID:                  i.ID.String(),
		JobID:               i.JobID.String(),
		WorkspaceID:         i.WorkspaceID,
		IndependentVariable: i.IndependentVariable,
		DependentVariable:   i.DependentVariable,
		Effect:              i.Effect,
		Reference:           i.Reference,
		DatePublished:       i.DatePublished,
		CreatedAt:           i.CreatedAt,
	}
}

// jobDuration returns the elapsed run time: start to completion for finished
// jobs, start to now for running ones, zero if the job never started.
func jobDuration(j *domain.Job) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return time.Since(*j.StartedAt)
}

// logTail returns the last n lines of a job log.
func logTail(logs []string, n int) []string {
	if len(logs) <= n {
		return logs
	}
	return logs[len(logs)-n:]
}
