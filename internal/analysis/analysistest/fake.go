// Package analysistest provides an in-memory analysis.Service for tests.
package analysistest

import (
	"context"
	"fmt"
	"sync"

	"document-pipeline/internal/analysis"
	"document-pipeline/internal/models"
)

// Fake records submissions and serves canned statuses and results.
type Fake struct {
	mu sync.Mutex

	// SubmitErrs are returned, in order, by the first len(SubmitErrs) Submit calls.
	SubmitErrs []error
	StatusErr  error
	ResultErr  error

	Submissions []analysis.Submission
	StatusCalls int
	ResultCalls int

	statuses map[string]models.JobStatus
	results  map[string]analysis.Result
	byToken  map[string]string
	nextID   int
}

func New() *Fake {
	return &Fake{
		statuses: map[string]models.JobStatus{},
		results:  map[string]analysis.Result{},
		byToken:  map[string]string{},
	}
}

// SetStatus fixes the status reported for jobID.
func (f *Fake) SetStatus(jobID string, status models.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = status
}

// SetResult fixes the result for jobID and marks it SUCCEEDED.
func (f *Fake) SetResult(jobID string, res analysis.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res.Status = models.StatusSucceeded
	f.results[jobID] = res
	f.statuses[jobID] = models.StatusSucceeded
}

// SetFailed marks jobID FAILED with the service's status message.
func (f *Fake) SetFailed(jobID, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[jobID] = analysis.Result{Status: models.StatusFailed, StatusMessage: message}
	f.statuses[jobID] = models.StatusFailed
}

func (f *Fake) Submit(_ context.Context, sub analysis.Submission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Submissions = append(f.Submissions, sub)
	if n := len(f.Submissions); n <= len(f.SubmitErrs) && f.SubmitErrs[n-1] != nil {
		return "", f.SubmitErrs[n-1]
	}
	if id, ok := f.byToken[sub.ClientToken]; ok && sub.ClientToken != "" {
		return id, nil
	}
	f.nextID++
	id := fmt.Sprintf("job-%d", f.nextID)
	if sub.ClientToken != "" {
		f.byToken[sub.ClientToken] = id
	}
	f.statuses[id] = models.StatusInProgress
	return id, nil
}

func (f *Fake) Status(_ context.Context, jobID string) (models.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusCalls++
	if f.StatusErr != nil {
		return "", f.StatusErr
	}
	status, ok := f.statuses[jobID]
	if !ok {
		return "", fmt.Errorf("unknown job %s", jobID)
	}
	return status, nil
}

func (f *Fake) Result(_ context.Context, jobID string) (analysis.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ResultCalls++
	if f.ResultErr != nil {
		return analysis.Result{}, f.ResultErr
	}
	res, ok := f.results[jobID]
	if !ok {
		return analysis.Result{}, fmt.Errorf("no result for job %s", jobID)
	}
	return res, nil
}
