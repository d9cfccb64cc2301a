// Package store records analysis jobs and their audit trail for operators.
// Nothing in the pipeline reads the ledger to decide how to route a message.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"document-pipeline/internal/models"
)

// ErrNotFound is returned when no job with the given id is recorded.
var ErrNotFound = errors.New("job not found")

// Audit event names.
const (
	EventSubmitted   = "submitted"
	EventReused      = "reused"
	EventPersisted   = "persisted"
	EventQuarantined = "quarantined"
)

// Ledger is the write-mostly job record.
type Ledger interface {
	// RecordSubmission inserts a job; an existing row is left unchanged.
	RecordSubmission(ctx context.Context, job models.AnalysisJob) error
	// UpdateStatus upserts the job's status. Terminal rows are never moved back.
	UpdateStatus(ctx context.Context, job models.AnalysisJob) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
	GetJob(ctx context.Context, jobID string) (models.AnalysisJob, error)
	ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.AnalysisJob, error)
	Close()
}

// Nop discards writes and finds nothing. It is used when no database is configured.
type Nop struct{}

func (Nop) RecordSubmission(context.Context, models.AnalysisJob) error { return nil }
func (Nop) UpdateStatus(context.Context, models.AnalysisJob) error     { return nil }
func (Nop) AppendAudit(context.Context, string, string, string) error  { return nil }
func (Nop) GetJob(context.Context, string) (models.AnalysisJob, error) {
	return models.AnalysisJob{}, ErrNotFound
}
func (Nop) ListByStatus(context.Context, models.JobStatus, int) ([]models.AnalysisJob, error) {
	return nil, nil
}
func (Nop) Close() {}

// Memory is an in-process Ledger for local runs and tests.
type Memory struct {
	mu     sync.Mutex
	jobs   map[string]models.AnalysisJob
	audits []models.AuditLog
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{jobs: map[string]models.AnalysisJob{}, now: func() time.Time { return time.Now().UTC() }}
}

func (m *Memory) RecordSubmission(_ context.Context, job models.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.JobID]; ok {
		return nil
	}
	now := m.now()
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.JobID] = job
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, job models.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	existing, ok := m.jobs[job.JobID]
	if !ok {
		if job.SubmittedAt.IsZero() {
			job.SubmittedAt = now
		}
		job.UpdatedAt = now
		m.jobs[job.JobID] = job
		return nil
	}
	if existing.Status.Terminal() {
		return nil
	}
	existing.Status = job.Status
	existing.LastError = job.LastError
	existing.UpdatedAt = now
	m.jobs[job.JobID] = existing
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, jobID, event, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, models.AuditLog{JobID: jobID, Event: event, Detail: detail, Recorded: m.now()})
	return nil
}

func (m *Memory) GetJob(_ context.Context, jobID string) (models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return models.AnalysisJob{}, ErrNotFound
	}
	return job, nil
}

func (m *Memory) ListByStatus(_ context.Context, status models.JobStatus, limit int) ([]models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AnalysisJob
	for _, job := range m.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Audits returns a copy of the recorded audit events, oldest first.
func (m *Memory) Audits() []models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditLog(nil), m.audits...)
}

func (m *Memory) Close() {}
