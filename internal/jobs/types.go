// Package jobs defines the asynchronous parse-statement job and the ports
// used to queue, consume and track it.
package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeParseStatement parses an uploaded statement document.
	JobTypeParseStatement JobType = "parse_statement"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed and will not be retried.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries applies when a job is published without MaxRetries.
const DefaultMaxRetries = 3

// ParseStatementJob asks a worker to parse the raw document of an upload
// and report the outcome to the coordinator.
type ParseStatementJob struct {
	JobID    string `json:"job_id"`
	UploadID string `json:"upload_id"`
	UserID   string `json:"user_id"`

	// DocumentURI locates the raw file (gs:// or file://).
	DocumentURI string `json:"document_uri"`
	FileName    string `json:"file_name"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error holds the last handler error.
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ParseStatementJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ParseStatementJob) GetType() JobType {
	return JobTypeParseStatement
}

// GetStatus implements the Job interface.
func (j *ParseStatementJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher enqueues jobs.
type Publisher interface {
	PublishParseStatement(ctx context.Context, job *ParseStatementJob) error
	Close() error
}

// Consumer runs a handler for every queued job.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error makes the job eligible for
// retry.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job state for the status API.
type JobStore interface {
	SaveJob(ctx context.Context, job *ParseStatementJob) error
	GetJob(ctx context.Context, jobID string) (*ParseStatementJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ParseStatementJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	UploadID string
	UserID   string
	Status   JobStatus

	Limit  int
	Offset int
}
