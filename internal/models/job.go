package models

import (
	"time"
)

// JobStatus enumerates the lifecycle of an analysis job as the pipeline observes it.
type JobStatus string

const (
	StatusSubmitted     JobStatus = "SUBMITTED"
	StatusInProgress    JobStatus = "IN_PROGRESS"
	StatusSucceeded     JobStatus = "SUCCEEDED"
	StatusFailed        JobStatus = "FAILED"
	StatusUnrecoverable JobStatus = "UNRECOVERABLE"
)

// Terminal reports whether no further status transition is expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusUnrecoverable:
		return true
	}
	return false
}

// AnalysisJob is reconstructed from queue payloads and recorded in the ledger for operators.
type AnalysisJob struct {
	JobID          string    `json:"job_id"`
	SourceBucket   string    `json:"source_bucket"`
	SourceKey      string    `json:"source_key"`
	Status         JobStatus `json:"status"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	LastError      *string   `json:"last_error,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
