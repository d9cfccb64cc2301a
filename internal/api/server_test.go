package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"document-pipeline/internal/analysis/analysistest"
	"document-pipeline/internal/models"
	"document-pipeline/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory, *analysistest.Fake) {
	t.Helper()
	ledger := store.NewMemory()
	svc := analysistest.New()
	srv := httptest.NewServer(New(ledger, svc, zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return srv, ledger, svc
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetJob(t *testing.T) {
	srv, ledger, _ := newTestServer(t)
	require.NoError(t, ledger.RecordSubmission(context.Background(), models.AnalysisJob{
		JobID: "job-1", SourceBucket: "uploads", SourceKey: "a.pdf", Status: models.StatusSubmitted,
	}))

	var job models.AnalysisJob
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/jobs/job-1", &job))
	assert.Equal(t, "a.pdf", job.SourceKey)
	assert.Equal(t, models.StatusSubmitted, job.Status)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/jobs/missing", nil))
}

func TestJobStatusQueriesService(t *testing.T) {
	srv, _, svc := newTestServer(t)
	svc.SetStatus("job-2", models.StatusInProgress)

	var body statusResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/jobs/job-2/status", &body))
	assert.Equal(t, statusResponse{JobID: "job-2", Status: models.StatusInProgress}, body)

	svc.SetStatus("job-2", models.StatusSucceeded)
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/jobs/job-2/status", &body))
	assert.Equal(t, statusResponse{JobID: "job-2", Status: models.StatusSucceeded, Terminal: true}, body)

	svc.StatusErr = errors.New("throttled")
	assert.Equal(t, http.StatusBadGateway, getJSON(t, srv.URL+"/jobs/job-2/status", nil))
}

func TestQuarantineListsUnrecoverable(t *testing.T) {
	srv, ledger, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ledger.UpdateStatus(ctx, models.AnalysisJob{JobID: "bad", Status: models.StatusUnrecoverable}))
	require.NoError(t, ledger.UpdateStatus(ctx, models.AnalysisJob{JobID: "good", Status: models.StatusSucceeded}))

	var body struct {
		Items []models.AnalysisJob `json:"items"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/quarantine", &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "bad", body.Items[0].JobID)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/quarantine?limit=zero", nil))
}

func TestQuarantineEmptyList(t *testing.T) {
	srv := httptest.NewServer(New(nil, nil, nil).Router())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/quarantine")
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw["items"]))
}
