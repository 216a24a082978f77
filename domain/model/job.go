package model

import "time"

// JobStatus represents the lifecycle state of a batch job.
// Transitions are one-directional except running -> retrying -> running.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusRetrying  JobStatus = "retrying"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusTimedOut  JobStatus = "timed-out"
)

// Terminal reports whether the status is a final one.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// JobResult is delivered to the caller once a job reaches a terminal state.
type JobResult struct {
	Transcript   string
	Confidence   float64
	FromCache    bool
	SimilarMatch bool
	Optimization *OptimizationResult
	CostUnits    float64
}

// JobSnapshot is a read-only view of a batch job, safe to hand to callers
// while workers keep mutating the underlying job.
type JobSnapshot struct {
	ID          string
	Status      JobStatus
	Attempts    int
	Result      *JobResult
	Err         error
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

// SubmitOptions carries per-submission overrides.
type SubmitOptions struct {
	// FormatHint tells the pipeline the caller already knows the container
	// format. It is passed to the external service instead of re-detecting,
	// unless optimization re-encoded the blob.
	FormatHint AudioFormat

	// DurationHint overrides the analyzed duration (seconds) used for
	// shortest-first ordering. Zero means "analyze the blob".
	DurationHint float64
}
