package submitter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/aws/smithy-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"document-pipeline/internal/analysis/analysistest"
	"document-pipeline/internal/idempotency"
	"document-pipeline/internal/models"
	"document-pipeline/internal/queue/queuetest"
	"document-pipeline/internal/ratelimit"
	"document-pipeline/internal/retry"
	"document-pipeline/internal/store"
)

type harness struct {
	log           *queuetest.Log
	notifications *queuetest.Queue
	results       *queuetest.Queue
	analysis      *analysistest.Fake
	ledger        *store.Memory
	redis         *redis.Client
	logs          *observer.ObservedLogs
	sub           *Submitter
}

func newHarness(t *testing.T, mutate func(*Options, *redis.Client)) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		log:      &queuetest.Log{},
		analysis: analysistest.New(),
		ledger:   store.NewMemory(),
		redis:    client,
		logs:     logs,
	}
	h.notifications = queuetest.New("notifications", h.log)
	h.results = queuetest.New("results", h.log)

	opts := Options{
		Claims:        idempotency.NewClaimer(client, time.Minute, time.Hour),
		Ledger:        h.ledger,
		Policy:        retry.Policy{Attempts: 3},
		TrackingDelay: 20 * time.Second,
		Logger:        zap.New(core),
	}
	if mutate != nil {
		mutate(&opts, client)
	}
	h.sub = New(h.notifications, h.results, h.analysis, opts)
	return h
}

func notification(t *testing.T, bucket, key, version string) string {
	t.Helper()
	body, err := models.NewNotification(models.ObjectRef{Bucket: bucket, Key: key, VersionID: version})
	require.NoError(t, err)
	return string(body)
}

func TestPublishesTrackingRecordBeforeAck(t *testing.T) {
	h := newHarness(t, nil)
	msg := h.notifications.Deliver(notification(t, "uploads", "scans/invoice 1.pdf", "v1"), 1)

	require.NoError(t, h.sub.HandleMessage(context.Background(), msg))

	sent := h.results.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 20*time.Second, sent[0].Delay)

	var rec models.TrackingRecord
	require.NoError(t, json.Unmarshal([]byte(sent[0].Body), &rec))
	assert.Equal(t, models.TrackingRecord{JobID: "job-1", ObjectKey: "scans/invoice 1.pdf", BucketName: "uploads"}, rec)
	assert.JSONEq(t, `{"JobId":"job-1","ObjectKey":"scans/invoice 1.pdf","BucketName":"uploads"}`, sent[0].Body)

	assert.Equal(t, []string{"send:results", "delete:notifications:" + msg.ID}, h.log.Events())

	require.Len(t, h.analysis.Submissions, 1)
	sub := h.analysis.Submissions[0]
	assert.Equal(t, "v1", sub.Version)
	assert.Len(t, sub.ClientToken, 64)

	job, err := h.ledger.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, job.Status)
	assert.Equal(t, sub.ClientToken, job.IdempotencyKey)
}

func TestRetriesSubmitUntilSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.analysis.SubmitErrs = []error{errors.New("throttled"), errors.New("timeout")}
	msg := h.notifications.Deliver(notification(t, "uploads", "a.pdf", ""), 1)

	require.NoError(t, h.sub.HandleMessage(context.Background(), msg))

	assert.Len(t, h.analysis.Submissions, 3)
	assert.Len(t, h.results.Sent(), 1)
	assert.Equal(t, []string{msg.ID}, h.notifications.Deleted())
	assert.Equal(t, 2, h.logs.FilterMessage("submit attempt failed").Len())
}

func TestExhaustedSubmitLeavesMessage(t *testing.T) {
	h := newHarness(t, nil)
	boom := errors.New("service unavailable")
	h.analysis.SubmitErrs = []error{boom, boom, boom}
	body := notification(t, "uploads", "a.pdf", "")
	msg := h.notifications.Deliver(body, 1)

	err := h.sub.HandleMessage(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.results.Sent())
	assert.Empty(t, h.notifications.Deleted())
	assert.Equal(t, 3, h.logs.FilterMessage("submit attempt failed").Len())

	// The claim was released, so the redelivery submits again.
	require.NoError(t, h.sub.HandleMessage(context.Background(), h.notifications.Deliver(body, 2)))
	assert.Len(t, h.analysis.Submissions, 4)
	assert.Len(t, h.results.Sent(), 1)
}

func TestPermanentRejectionStopsRetrying(t *testing.T) {
	h := newHarness(t, nil)
	h.analysis.SubmitErrs = []error{&smithy.GenericAPIError{Code: "UnsupportedDocumentException"}}
	msg := h.notifications.Deliver(notification(t, "uploads", "a.docx", ""), 1)

	err := h.sub.HandleMessage(context.Background(), msg)
	require.Error(t, err)
	assert.NotErrorIs(t, err, retry.ErrExhausted)
	assert.Len(t, h.analysis.Submissions, 1)
	assert.Empty(t, h.notifications.Deleted())
}

func TestMalformedNotificationIsAcked(t *testing.T) {
	h := newHarness(t, nil)
	msg := h.notifications.Deliver(`{"Records":[{"s3":{"bucket":{"name":"uploads"},"object":{}}}]}`, 1)

	err := h.sub.HandleMessage(context.Background(), msg)
	assert.ErrorIs(t, err, models.ErrMalformed)
	assert.Empty(t, h.analysis.Submissions)
	assert.Empty(t, h.results.Sent())
	assert.Equal(t, []string{msg.ID}, h.notifications.Deleted())
	assert.Equal(t, 1, h.logs.FilterMessage("dropping malformed notification").Len())
}

func TestPublishFailureReusesJobOnRedelivery(t *testing.T) {
	h := newHarness(t, nil)
	body := notification(t, "uploads", "a.pdf", "v1")
	h.results.SendErr = errors.New("queue unavailable")

	err := h.sub.HandleMessage(context.Background(), h.notifications.Deliver(body, 1))
	require.Error(t, err)
	assert.Empty(t, h.notifications.Deleted())

	h.results.SendErr = nil
	require.NoError(t, h.sub.HandleMessage(context.Background(), h.notifications.Deliver(body, 2)))

	assert.Len(t, h.analysis.Submissions, 1)
	require.Len(t, h.results.Sent(), 1)
	assert.Contains(t, h.results.Sent()[0].Body, `"JobId":"job-1"`)

	audits := h.ledger.Audits()
	require.Len(t, audits, 2)
	assert.Equal(t, store.EventSubmitted, audits[0].Event)
	assert.Equal(t, store.EventReused, audits[1].Event)
}

func TestClaimHeldIsRetriable(t *testing.T) {
	h := newHarness(t, nil)
	ref := models.ObjectRef{Bucket: "uploads", Key: "a.pdf"}
	claimer := idempotency.NewClaimer(h.redis, time.Minute, time.Hour)
	_, err := claimer.Acquire(context.Background(), ref.IdempotencyKey())
	require.NoError(t, err)

	err = h.sub.HandleMessage(context.Background(), h.notifications.Deliver(notification(t, "uploads", "a.pdf", ""), 1))
	assert.ErrorIs(t, err, idempotency.ErrClaimHeld)
	assert.Empty(t, h.analysis.Submissions)
	assert.Empty(t, h.notifications.Deleted())
}

func TestThrottledSubmitIsRetriable(t *testing.T) {
	h := newHarness(t, func(o *Options, client *redis.Client) {
		o.Limiter = ratelimit.NewTokenBucket(client, 0, 0, time.Minute)
		o.ThrottleWait = 100 * time.Millisecond
	})
	msg := h.notifications.Deliver(notification(t, "uploads", "a.pdf", ""), 1)
	err := h.sub.HandleMessage(context.Background(), msg)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.NotErrorIs(t, err, retry.ErrExhausted)
	assert.Empty(t, h.analysis.Submissions)
	assert.Empty(t, h.notifications.Deleted())

	// The claim was released, so a redelivery may submit.
	_, err = idempotency.NewClaimer(h.redis, time.Minute, time.Hour).Acquire(context.Background(), models.ObjectRef{Bucket: "uploads", Key: "a.pdf"}.IdempotencyKey())
	assert.NoError(t, err)
}

func TestThrottleWaitDoesNotUseSubmitAttempts(t *testing.T) {
	h := newHarness(t, func(o *Options, client *redis.Client) {
		o.Limiter = ratelimit.NewTokenBucket(client, 1, 20, time.Minute)
		o.ThrottleWait = 2 * time.Second
	})
	boom := errors.New("timeout")
	// The first message takes the only token; the second waits for a refill
	// and still gets all three service calls.
	h.analysis.SubmitErrs = []error{nil, boom, boom}

	require.NoError(t, h.sub.HandleMessage(context.Background(), h.notifications.Deliver(notification(t, "uploads", "a.pdf", ""), 1)))
	require.NoError(t, h.sub.HandleMessage(context.Background(), h.notifications.Deliver(notification(t, "uploads", "b.pdf", ""), 1)))
	assert.Len(t, h.analysis.Submissions, 4)
	assert.Len(t, h.results.Sent(), 2)
}

func TestWorksWithoutRedis(t *testing.T) {
	h := newHarness(t, func(o *Options, _ *redis.Client) {
		o.Claims = nil
		o.Ledger = nil
	})
	require.NoError(t, h.sub.HandleMessage(context.Background(), h.notifications.Deliver(notification(t, "uploads", "a.pdf", ""), 1)))
	assert.Len(t, h.results.Sent(), 1)
}
