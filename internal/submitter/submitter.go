// Package submitter turns "new object" notifications into analysis jobs and
// publishes a tracking record for each job onto the results queue.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"document-pipeline/internal/analysis"
	"document-pipeline/internal/idempotency"
	"document-pipeline/internal/logging"
	"document-pipeline/internal/models"
	"document-pipeline/internal/queue"
	"document-pipeline/internal/ratelimit"
	"document-pipeline/internal/retry"
	"document-pipeline/internal/store"
	"document-pipeline/internal/telemetry"
)

// ErrThrottled is returned for a submit attempt the rate limiter turned away.
var ErrThrottled = errors.New("analysis submissions throttled")

// Options carries the optional collaborators and tunables of a Submitter.
type Options struct {
	Claims        *idempotency.Claimer
	Limiter       *ratelimit.TokenBucket
	Ledger        store.Ledger
	Policy        retry.Policy
	TrackingDelay time.Duration
	// ThrottleWait bounds how long one submission waits for a rate limit token.
	ThrottleWait time.Duration
	Logger       *zap.Logger
}

// Submitter handles one notification message at a time.
type Submitter struct {
	source   queue.Queue
	results  queue.Queue
	analysis analysis.Service
	claims   *idempotency.Claimer
	limiter  *ratelimit.TokenBucket
	ledger   store.Ledger
	policy   retry.Policy
	delay    time.Duration
	throttle time.Duration
	logger   *zap.Logger
}

// New builds a submitter that acknowledges on source and publishes to results.
func New(source, results queue.Queue, svc analysis.Service, opts Options) *Submitter {
	if opts.Ledger == nil {
		opts.Ledger = store.Nop{}
	}
	if opts.Policy.Attempts == 0 {
		opts.Policy.Attempts = 3
	}
	if opts.ThrottleWait == 0 {
		opts.ThrottleWait = 5 * time.Second
	}
	return &Submitter{
		source:   source,
		results:  results,
		analysis: svc,
		claims:   opts.Claims,
		limiter:  opts.Limiter,
		ledger:   opts.Ledger,
		policy:   opts.Policy,
		delay:    opts.TrackingDelay,
		throttle: opts.ThrottleWait,
		logger:   logging.Component(opts.Logger, "submitter"),
	}
}

// HandleMessage submits the object named by msg and publishes its tracking record,
// then acknowledges msg. A malformed notification is acknowledged and reported as
// models.ErrMalformed. Any other error leaves msg for redelivery.
func (s *Submitter) HandleMessage(ctx context.Context, msg queue.Message) error {
	log := s.logger.With(zap.String(logging.FieldMessageID, msg.ID))

	ref, err := models.ParseNotification([]byte(msg.Body))
	if err != nil {
		telemetry.Malformed.WithLabelValues(s.source.Name()).Inc()
		log.Error("dropping malformed notification", zap.Error(err))
		s.ack(ctx, log, msg)
		return err
	}
	log = log.With(logging.Object(ref.Bucket, ref.Key)...)

	key := ref.IdempotencyKey()
	claim, err := s.claims.Acquire(ctx, key)
	switch {
	case errors.Is(err, idempotency.ErrClaimHeld):
		return fmt.Errorf("submit %s/%s: %w", ref.Bucket, ref.Key, err)
	case err != nil:
		// The client request token still deduplicates at the service.
		log.Warn("idempotency claim unavailable", zap.Error(err))
		claim = idempotency.Claim{Key: key}
	}

	jobID := claim.JobID
	if claim.Existing() {
		telemetry.SubmitsReused.Inc()
		log.Info("reusing submitted job", zap.String(logging.FieldJobID, jobID))
		s.audit(ctx, log, jobID, store.EventReused, msg.ID)
	} else {
		jobID, err = s.submit(ctx, log, ref, key)
		if err != nil {
			if rerr := s.claims.Release(ctx, claim); rerr != nil {
				log.Warn("release idempotency claim", zap.Error(rerr))
			}
			return fmt.Errorf("submit %s/%s: %w", ref.Bucket, ref.Key, err)
		}
		if err := s.claims.Complete(ctx, claim, jobID); err != nil {
			log.Warn("record idempotency claim", zap.Error(err))
		}
		telemetry.Submissions.Inc()
		s.record(ctx, log, ref, key, jobID)
	}
	log = log.With(zap.String(logging.FieldJobID, jobID))

	rec := models.TrackingRecord{JobID: jobID, ObjectKey: ref.Key, BucketName: ref.Bucket}
	body, err := rec.Body()
	if err != nil {
		return err
	}
	if err := s.results.Send(ctx, body, s.delay); err != nil {
		return fmt.Errorf("publish tracking record for job %s: %w", jobID, err)
	}
	log.Info("tracking record published")

	s.ack(ctx, log, msg)
	return nil
}

func (s *Submitter) submit(ctx context.Context, log *zap.Logger, ref models.ObjectRef, key string) (string, error) {
	var jobID string
	err := retry.Do(ctx, s.policy, func(ctx context.Context, _ int) error {
		if err := s.awaitToken(ctx, log); err != nil {
			return retry.Stop(err)
		}
		id, err := s.analysis.Submit(ctx, analysis.Submission{
			Bucket:      ref.Bucket,
			Key:         ref.Key,
			Version:     ref.VersionID,
			ClientToken: key,
		})
		if err != nil {
			if analysis.Permanent(err) {
				return retry.Stop(err)
			}
			return err
		}
		jobID = id
		return nil
	}, func(attempt int, err error) {
		telemetry.SubmitRetries.Inc()
		log.Warn("submit attempt failed", zap.Int(logging.FieldAttempt, attempt), zap.Error(err))
	})
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// awaitToken waits up to the throttle window for a submission token. Waiting
// does not use up a submission attempt; running out of window returns
// ErrThrottled and the notification is redelivered later.
func (s *Submitter) awaitToken(ctx context.Context, log *zap.Logger) error {
	deadline := time.Now().Add(s.throttle)
	for step := 1; ; step++ {
		allowed, _, err := s.limiter.Allow(ctx, ratelimit.SubmitKey)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.Error(err))
			return nil
		}
		if allowed {
			return nil
		}
		telemetry.RateLimitRejects.Inc()
		pause := retry.BackoffWithJitter(50*time.Millisecond, time.Second, step)
		if remaining := time.Until(deadline); remaining < pause {
			return ErrThrottled
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrThrottled, ctx.Err())
		case <-time.After(pause):
		}
	}
}

func (s *Submitter) record(ctx context.Context, log *zap.Logger, ref models.ObjectRef, key, jobID string) {
	err := s.ledger.RecordSubmission(ctx, models.AnalysisJob{
		JobID:          jobID,
		SourceBucket:   ref.Bucket,
		SourceKey:      ref.Key,
		Status:         models.StatusSubmitted,
		IdempotencyKey: key,
	})
	if err != nil {
		log.Warn("ledger record submission", zap.Error(err))
	}
	s.audit(ctx, log, jobID, store.EventSubmitted, ref.Revision())
}

func (s *Submitter) audit(ctx context.Context, log *zap.Logger, jobID, event, detail string) {
	if err := s.ledger.AppendAudit(ctx, jobID, event, detail); err != nil {
		log.Warn("ledger audit", zap.String("event", event), zap.Error(err))
	}
}

// ack deletes msg. A failed delete means a redelivery, which the idempotency
// key turns into a re-publish of the same job.
func (s *Submitter) ack(ctx context.Context, log *zap.Logger, msg queue.Message) {
	if err := s.source.Delete(ctx, msg.ReceiptHandle); err != nil {
		telemetry.AckFailures.WithLabelValues(s.source.Name()).Inc()
		log.Warn("delete notification", zap.Error(err))
	}
}
