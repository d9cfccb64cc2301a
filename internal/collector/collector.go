// Package collector checks analysis jobs named by tracking records and, once a
// job has finished, persists its per-page output or quarantines the record.
package collector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"document-pipeline/internal/analysis"
	"document-pipeline/internal/blob"
	"document-pipeline/internal/extract"
	"document-pipeline/internal/logging"
	"document-pipeline/internal/models"
	"document-pipeline/internal/queue"
	"document-pipeline/internal/store"
	"document-pipeline/internal/telemetry"
)

// ErrNotReady means the job has not reached a terminal status yet.
var ErrNotReady = errors.New("analysis job not ready")

// Quarantine reasons.
const (
	ReasonFailed    = "failed"
	ReasonExhausted = "exhausted"
	ReasonMalformed = "malformed"
)

const jsonContentType = "application/json"

// Options carries the optional collaborators and tunables of a Collector.
type Options struct {
	Ledger store.Ledger
	// MaxReceives bounds redeliveries of a record; 0 means unbounded.
	MaxReceives int
	Logger      *zap.Logger
}

// Collector handles one tracking message at a time.
type Collector struct {
	source       queue.Queue
	quarantine   queue.Queue
	analysis     analysis.Service
	blobs        blob.Store
	outputBucket string
	ledger       store.Ledger
	maxReceives  int
	logger       *zap.Logger
}

// New builds a collector that acknowledges on source and writes page documents to outputBucket.
func New(source, quarantine queue.Queue, svc analysis.Service, blobs blob.Store, outputBucket string, opts Options) *Collector {
	if opts.Ledger == nil {
		opts.Ledger = store.Nop{}
	}
	return &Collector{
		source:       source,
		quarantine:   quarantine,
		analysis:     svc,
		blobs:        blobs,
		outputBucket: outputBucket,
		ledger:       opts.Ledger,
		maxReceives:  opts.MaxReceives,
		logger:       logging.Component(opts.Logger, "collector"),
	}
}

// HandleMessage acknowledges msg once the job it tracks reached a terminal outcome:
// output persisted, or record quarantined. It returns ErrNotReady, or the failure
// of an external call, to leave msg for redelivery.
func (c *Collector) HandleMessage(ctx context.Context, msg queue.Message) error {
	log := c.logger.With(zap.String(logging.FieldMessageID, msg.ID))

	rec, err := models.ParseTrackingRecord([]byte(msg.Body))
	if err != nil {
		telemetry.Malformed.WithLabelValues(c.source.Name()).Inc()
		log.Error("quarantining malformed tracking record", zap.Error(err))
		if qerr := c.sendQuarantine(ctx, msg, ReasonMalformed); qerr != nil {
			return qerr
		}
		c.ack(ctx, log, msg)
		return err
	}
	log = log.With(zap.String(logging.FieldJobID, rec.JobID))
	log = log.With(logging.Object(rec.BucketName, rec.ObjectKey)...)

	status, err := c.analysis.Status(ctx, rec.JobID)
	if err != nil {
		return c.retriable(ctx, log, msg, rec, fmt.Errorf("query status of job %s: %w", rec.JobID, err))
	}

	switch status {
	case models.StatusSucceeded:
		pages, err := c.persist(ctx, log, rec)
		if err != nil {
			return c.retriable(ctx, log, msg, rec, err)
		}
		telemetry.Collected.Inc()
		c.update(ctx, log, rec, models.StatusSucceeded, nil)
		c.audit(ctx, log, rec.JobID, store.EventPersisted, fmt.Sprintf("pages=%d bucket=%s", pages, c.outputBucket))
		log.Info("job output persisted", zap.Int("pages", pages))
		c.ack(ctx, log, msg)
		return nil

	case models.StatusFailed:
		detail := c.failureDetail(ctx, rec.JobID)
		log.Warn("analysis job failed", zap.String("detail", detail))
		return c.quarantineRecord(ctx, log, msg, rec, ReasonFailed, detail)

	default:
		telemetry.NotReady.Inc()
		c.update(ctx, log, rec, models.StatusInProgress, nil)
		log.Debug("job not ready", zap.String(logging.FieldStatus, string(status)), zap.Int("receives", msg.ReceiveCount))
		return c.retriable(ctx, log, msg, rec, fmt.Errorf("%w: job %s is %s", ErrNotReady, rec.JobID, status))
	}
}

// persist writes one JSON document per page and returns the page count.
// Re-running it for the same job overwrites the same keys with the same bytes.
func (c *Collector) persist(ctx context.Context, log *zap.Logger, rec models.TrackingRecord) (int, error) {
	res, err := c.analysis.Result(ctx, rec.JobID)
	if err != nil {
		return 0, fmt.Errorf("fetch result of job %s: %w", rec.JobID, err)
	}
	pages := extract.BuildPages(res.Blocks)
	if len(pages) == 0 {
		log.Warn("job result has no pages", zap.Int("reported_pages", res.Pages))
	}
	for _, page := range pages {
		body, err := page.Encode(rec.JobID, rec.BucketName, rec.ObjectKey)
		if err != nil {
			return 0, err
		}
		key := extract.OutputKey(rec.ObjectKey, page.Number)
		if err := c.blobs.Put(ctx, c.outputBucket, key, body, jsonContentType); err != nil {
			return 0, fmt.Errorf("persist page %d of job %s: %w", page.Number, rec.JobID, err)
		}
		telemetry.PagesPersisted.Inc()
		log.Debug("page persisted", zap.Int(logging.FieldPage, page.Number), zap.Int("tables", len(page.Tables)))
	}
	return len(pages), nil
}

// failureDetail describes a FAILED job, with the service's status message when it can be fetched.
func (c *Collector) failureDetail(ctx context.Context, jobID string) string {
	const reported = "analysis service reported FAILED"
	res, err := c.analysis.Result(ctx, jobID)
	if err != nil || res.StatusMessage == "" {
		return reported
	}
	return reported + ": " + res.StatusMessage
}

// retriable leaves msg for redelivery, unless it has used up its receive budget,
// in which case the record is quarantined instead.
func (c *Collector) retriable(ctx context.Context, log *zap.Logger, msg queue.Message, rec models.TrackingRecord, cause error) error {
	if c.maxReceives > 0 && msg.ReceiveCount >= c.maxReceives {
		log.Error("receive budget exhausted", zap.Int("receives", msg.ReceiveCount), zap.Error(cause))
		return c.quarantineRecord(ctx, log, msg, rec, ReasonExhausted, cause.Error())
	}
	return cause
}

// quarantineRecord forwards the record unchanged, marks the job unrecoverable and acknowledges msg.
func (c *Collector) quarantineRecord(ctx context.Context, log *zap.Logger, msg queue.Message, rec models.TrackingRecord, reason, detail string) error {
	if err := c.sendQuarantine(ctx, msg, reason); err != nil {
		return err
	}
	c.update(ctx, log, rec, models.StatusUnrecoverable, &detail)
	c.audit(ctx, log, rec.JobID, store.EventQuarantined, reason+": "+detail)
	log.Warn("record quarantined", zap.String("reason", reason))
	c.ack(ctx, log, msg)
	return nil
}

func (c *Collector) sendQuarantine(ctx context.Context, msg queue.Message, reason string) error {
	if err := c.quarantine.Send(ctx, msg.Body, 0); err != nil {
		return fmt.Errorf("send to quarantine: %w", err)
	}
	telemetry.Quarantined.WithLabelValues(reason).Inc()
	return nil
}

func (c *Collector) update(ctx context.Context, log *zap.Logger, rec models.TrackingRecord, status models.JobStatus, lastErr *string) {
	err := c.ledger.UpdateStatus(ctx, models.AnalysisJob{
		JobID:        rec.JobID,
		SourceBucket: rec.BucketName,
		SourceKey:    rec.ObjectKey,
		Status:       status,
		LastError:    lastErr,
	})
	if err != nil {
		log.Warn("ledger update status", zap.Error(err))
	}
}

func (c *Collector) audit(ctx context.Context, log *zap.Logger, jobID, event, detail string) {
	if err := c.ledger.AppendAudit(ctx, jobID, event, detail); err != nil {
		log.Warn("ledger audit", zap.String("event", event), zap.Error(err))
	}
}

// ack deletes msg; a failure is logged and not retried.
func (c *Collector) ack(ctx context.Context, log *zap.Logger, msg queue.Message) {
	if err := c.source.Delete(ctx, msg.ReceiptHandle); err != nil {
		telemetry.AckFailures.WithLabelValues(c.source.Name()).Inc()
		log.Warn("delete tracking record", zap.Error(err))
	}
}
