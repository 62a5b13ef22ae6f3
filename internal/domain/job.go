// Package domain provides domain models and business logic for the Interaction Discovery Service.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle states of a discovery job.
// These values must match the database enum job_status.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Log step tags. These are user-visible in the job log stream, so the values
// are stable.
const (
	LogStepQuery    = "QUERY"
	LogStepSearch   = "PUBMED"
	LogStepFilter   = "FILTER"
	LogStepAbstract = "ABSTRACT"
	LogStepDownload = "DOWNLOAD"
	LogStepConvert  = "CONVERT"
	LogStepExtract  = "EXTRACT"
	LogStepStatus   = "STATUS"
)

// Job represents one end-to-end discovery run targeting a specific variable.
// A job is owned exclusively by one worker goroutine for its lifetime; external
// observers read it through the repository without mutation rights.
type Job struct {
	ID             uuid.UUID
	WorkspaceID    string
	TargetVariable string

	// TargetCount is the number of accepted interactions that completes the job.
	TargetCount int

	Status          JobStatus
	AcceptedCount   int
	CheckedCount    int
	CurrentStep     string
	Logs            []string
	ErrorMessage    string
	CancelRequested bool
	CostUSD         float64

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FormatLogLine renders one append-only job log line with a wall-clock
// timestamp and a step tag, e.g. "[14:03:21] [PUBMED] Found 42 papers".
func FormatLogLine(now time.Time, step, message string) string {
	return fmt.Sprintf("[%s] [%s] %s", now.Format("15:04:05"), step, message)
}
