package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"document-pipeline/internal/logging"
	"document-pipeline/internal/queue"
	"document-pipeline/internal/retry"
	"document-pipeline/internal/telemetry"
)

const (
	maxReceiveBackoff = 30 * time.Second
	maxBackoffStep    = 16
)

// depthReporter is implemented by queues that can report their backlog.
type depthReporter interface {
	ReadyDepth(ctx context.Context) (int64, error)
	InFlightDepth(ctx context.Context) (int64, error)
}

// Poller drives the receive loop for hosts without an event source mapping.
type Poller struct {
	queue     queue.Queue
	handler   Handler
	batchSize int
	wait      time.Duration
	logger    *zap.Logger

	errBackoff time.Duration // base backoff after a failed receive
	idle       time.Duration // pause after an empty receive
}

// NewPoller builds a poller that receives up to batchSize messages, waiting at most wait per receive.
func NewPoller(q queue.Queue, h Handler, batchSize int, wait time.Duration, logger *zap.Logger) *Poller {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Poller{
		queue:      q,
		handler:    h,
		batchSize:  batchSize,
		wait:       wait,
		errBackoff: time.Second,
		idle:       100 * time.Millisecond,
		logger:     logging.Component(logger, "poller").With(zap.String(logging.FieldQueue, q.Name())),
	}
}

// Run receives and processes batches until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.reportDepth(ctx)

		msgs, err := p.queue.Receive(ctx, p.batchSize, p.wait)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			p.logger.Warn("receive failed", zap.Int(logging.FieldAttempt, failures), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.receiveBackoff(failures)):
			}
			continue
		}
		failures = 0
		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.idle):
			}
			continue
		}

		out := RunBatch(ctx, p.handler, p.queue.Name(), msgs, p.logger)
		p.logger.Debug("batch processed",
			zap.Int("records", len(msgs)),
			zap.Int("succeeded", out.Succeeded),
			zap.Int("malformed", out.Malformed),
			zap.Int("failed", len(out.Failed)))
	}
}

// receiveBackoff is the pause after the given number of consecutive receive failures.
func (p *Poller) receiveBackoff(failures int) time.Duration {
	if failures > maxBackoffStep {
		failures = maxBackoffStep
	}
	return retry.BackoffWithJitter(p.errBackoff, maxReceiveBackoff, failures)
}

func (p *Poller) reportDepth(ctx context.Context) {
	dr, ok := p.queue.(depthReporter)
	if !ok {
		return
	}
	if depth, err := dr.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.WithLabelValues(p.queue.Name()).Set(float64(depth))
	}
	if inflight, err := dr.InFlightDepth(ctx); err == nil {
		telemetry.InFlightGauge.WithLabelValues(p.queue.Name()).Set(float64(inflight))
	}
}
