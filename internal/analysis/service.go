// Package analysis wraps the asynchronous document-analysis service: job
// submission, status polling, and retrieval of the recognised block graph.
package analysis

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"document-pipeline/internal/models"
)

// Submission asks for table analysis of one stored object.
type Submission struct {
	Bucket  string
	Key     string
	Version string
	// ClientToken makes repeated submissions of the same document return the same job id.
	ClientToken string
}

// Result is the full output of a finished job.
type Result struct {
	Status        models.JobStatus
	StatusMessage string
	Pages         int
	Blocks        []types.Block
}

// Service is the analysis capability the pipeline depends on.
type Service interface {
	Submit(ctx context.Context, sub Submission) (string, error)
	Status(ctx context.Context, jobID string) (models.JobStatus, error)
	Result(ctx context.Context, jobID string) (Result, error)
}

// MapStatus converts the service's job status into the pipeline's lifecycle.
// Anything other than the three documented states is passed through so callers treat it as not ready.
func MapStatus(s types.JobStatus) models.JobStatus {
	switch s {
	case types.JobStatusInProgress:
		return models.StatusInProgress
	case types.JobStatusSucceeded:
		return models.StatusSucceeded
	case types.JobStatusFailed:
		return models.StatusFailed
	}
	return models.JobStatus(s)
}
