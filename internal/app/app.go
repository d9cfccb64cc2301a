// Package app builds the clients and handlers a pipeline process needs, once
// per process, from configuration.
package app

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"document-pipeline/internal/analysis"
	"document-pipeline/internal/blob"
	"document-pipeline/internal/collector"
	"document-pipeline/internal/config"
	"document-pipeline/internal/idempotency"
	"document-pipeline/internal/queue"
	"document-pipeline/internal/ratelimit"
	"document-pipeline/internal/retry"
	"document-pipeline/internal/store"
	"document-pipeline/internal/submitter"
	"document-pipeline/internal/transform"
	"document-pipeline/internal/worker"
)

// Deps holds the shared clients of one process.
type Deps struct {
	Config   config.Config
	Logger   *zap.Logger
	Blobs    blob.Store
	Analysis analysis.Service
	Ledger   store.Ledger
	// Redis is nil when REDIS_ADDR is empty.
	Redis *redis.Client

	sqs *sqs.Client
}

// Build creates every client the configuration asks for.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Deps, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}

	d := &Deps{
		Config:   cfg,
		Logger:   logger,
		Analysis: analysis.NewTextractService(textract.NewFromConfig(awsCfg), cfg.AnalysisTopicARN, cfg.AnalysisRoleARN),
		Ledger:   store.Nop{},
		sqs:      sqs.NewFromConfig(awsCfg),
	}

	if cfg.BlobDir != "" {
		d.Blobs = blob.NewLocalStore(cfg.BlobDir)
	} else {
		d.Blobs = blob.NewS3Store(s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.S3PathStyle
		}), 0)
	}

	if cfg.RedisAddr != "" {
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	if cfg.PostgresDSN != "" {
		pg, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			d.Close()
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			d.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		d.Ledger = pg
	}
	return d, nil
}

func loadAWS(ctx context.Context, cfg config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.AWSEndpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWSEndpoint)
	}
	return awsCfg, nil
}

// Close releases connections held by d.
func (d *Deps) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.Ledger != nil {
		d.Ledger.Close()
	}
}

// Queue binds the configured backend to one queue URL.
func (d *Deps) Queue(url string) queue.Queue {
	if d.Config.QueueBackend == config.BackendRedis && d.Redis != nil {
		return queue.NewRedisQueue(d.Redis, QueueName(url), d.Config.VisibilityTimeout)
	}
	return queue.NewSQSQueue(d.sqs, url, d.Config.VisibilityTimeout)
}

// QueueName is the last path segment of an SQS queue URL, or the value itself when it is a bare name.
func QueueName(url string) string {
	return path.Base(strings.TrimRight(url, "/"))
}

func (d *Deps) claimer() *idempotency.Claimer {
	if d.Redis == nil {
		return nil
	}
	return idempotency.NewClaimer(d.Redis, d.Config.ClaimTTL, d.Config.IdempotencyTTL)
}

func (d *Deps) limiter() *ratelimit.TokenBucket {
	if d.Redis == nil || d.Config.RateLimitCapacity <= 0 {
		return nil
	}
	return ratelimit.NewTokenBucket(d.Redis, d.Config.RateLimitCapacity, d.Config.RateLimitRefill, 0)
}

// Submitter builds the notification handler and returns it with the queue it consumes.
func (d *Deps) Submitter() (*submitter.Submitter, queue.Queue) {
	source := d.Queue(d.Config.SubmissionQueueURL)
	return submitter.New(source, d.Queue(d.Config.ResultQueueURL), d.Analysis, submitter.Options{
		Claims:  d.claimer(),
		Limiter: d.limiter(),
		Ledger:  d.Ledger,
		Policy: retry.Policy{
			Attempts: d.Config.SubmitMaxAttempts,
			Initial:  d.Config.SubmitBackoffInitial,
			Max:      d.Config.SubmitBackoffMax,
		},
		TrackingDelay: d.Config.TrackingDelay,
		ThrottleWait:  d.Config.SubmitThrottleWait,
		Logger:        d.Logger,
	}), source
}

// Collector builds the tracking record handler and returns it with the queue it consumes.
func (d *Deps) Collector() (*collector.Collector, queue.Queue) {
	source := d.Queue(d.Config.ResultQueueURL)
	return collector.New(source, d.Queue(d.Config.QuarantineQueueURL), d.Analysis, d.Blobs, d.Config.OutputBucket, collector.Options{
		Ledger:      d.Ledger,
		MaxReceives: d.Config.CollectorMaxReceives,
		Logger:      d.Logger,
	}), source
}

// Transformer builds the normalisation handler and returns it with the queue it consumes.
func (d *Deps) Transformer() (*transform.Normalizer, queue.Queue) {
	source := d.Queue(d.Config.TransferQueueURL)
	return transform.New(source, d.Blobs, d.Config.TransformBucket, transform.Options{
		MaxDimension: d.Config.TransformMaxDimension,
		Logger:       d.Logger,
	}), source
}

// Handler returns the handler for a worker role and the queue it consumes.
func (d *Deps) Handler(role string) (worker.Handler, queue.Queue, error) {
	switch role {
	case config.RoleSubmitter:
		h, q := d.Submitter()
		return h, q, nil
	case config.RoleCollector:
		h, q := d.Collector()
		return h, q, nil
	case config.RoleTransformer:
		h, q := d.Transformer()
		return h, q, nil
	}
	return nil, nil, fmt.Errorf("no handler for worker role %q", role)
}
