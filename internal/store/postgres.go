package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"document-pipeline/internal/models"
)

// Postgres is the Ledger backed by pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RecordSubmission inserts the job row; a row for the same job id is kept as is.
func (s *Postgres) RecordSubmission(ctx context.Context, job models.AnalysisJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_jobs (job_id, source_bucket, source_key, status, idempotency_key, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (job_id) DO NOTHING
	`, job.JobID, job.SourceBucket, job.SourceKey, job.Status, emptyToNil(job.IdempotencyKey))
	if err != nil {
		return fmt.Errorf("insert analysis job: %w", err)
	}
	return nil
}

// UpdateStatus upserts status and last_error. Rows already in a terminal state are left alone.
func (s *Postgres) UpdateStatus(ctx context.Context, job models.AnalysisJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_jobs (job_id, source_bucket, source_key, status, last_error, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status, last_error = EXCLUDED.last_error, updated_at = NOW()
		WHERE analysis_jobs.status NOT IN ($6, $7, $8)
	`, job.JobID, job.SourceBucket, job.SourceKey, job.Status, job.LastError,
		models.StatusSucceeded, models.StatusFailed, models.StatusUnrecoverable)
	if err != nil {
		return fmt.Errorf("update analysis job %s: %w", job.JobID, err)
	}
	return nil
}

// AppendAudit adds an audit row.
func (s *Postgres) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

const jobColumns = `job_id, source_bucket, source_key, status, idempotency_key, last_error, submitted_at, updated_at`

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, jobID string) (models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE job_id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisJob{}, fmt.Errorf("%s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return models.AnalysisJob{}, fmt.Errorf("scan analysis job: %w", err)
	}
	return job, nil
}

// ListByStatus returns the most recently updated jobs with status.
func (s *Postgres) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.AnalysisJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM analysis_jobs WHERE status = $1
		ORDER BY updated_at DESC, job_id
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list analysis jobs: %w", err)
	}
	defer rows.Close()

	var out []models.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (models.AnalysisJob, error) {
	var job models.AnalysisJob
	var idem, lastErr pgtype.Text
	if err := row.Scan(&job.JobID, &job.SourceBucket, &job.SourceKey, &job.Status, &idem, &lastErr, &job.SubmittedAt, &job.UpdatedAt); err != nil {
		return models.AnalysisJob{}, err
	}
	if idem.Valid {
		job.IdempotencyKey = idem.String
	}
	job.LastError = textPtr(lastErr)
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
