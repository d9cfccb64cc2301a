package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Worker roles understood by Validate and cmd/worker.
const (
	RoleSubmitter   = "submitter"
	RoleCollector   = "collector"
	RoleTransformer = "transformer"
	RoleAPI         = "api"
)

// APP_ENV values. Anything other than dev logs as production.
const (
	EnvProduction  = "prod"
	EnvDevelopment = "dev"
)

// Queue backends.
const (
	BackendSQS   = "sqs"
	BackendRedis = "redis"
)

// Config holds shared runtime configuration for the pipeline workers and the ops API.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string
	WorkerRole  string

	AWSRegion   string
	AWSEndpoint string
	S3PathStyle bool
	// BlobDir switches object storage to the local filesystem when set.
	BlobDir     string

	QueueBackend       string
	SubmissionQueueURL string
	ResultQueueURL     string
	QuarantineQueueURL string
	OutputBucket       string

	TransferQueueURL      string
	TransformBucket       string
	TransformMaxDimension int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string

	SubmitMaxAttempts    int
	SubmitBackoffInitial time.Duration
	SubmitBackoffMax     time.Duration
	SubmitThrottleWait   time.Duration
	TrackingDelay        time.Duration

	BatchSize            int
	PollWait             time.Duration
	VisibilityTimeout    time.Duration
	CollectorMaxReceives int

	IdempotencyTTL    time.Duration
	ClaimTTL          time.Duration
	RateLimitCapacity int
	RateLimitRefill   float64

	AnalysisTopicARN string
	AnalysisRoleARN  string
}

// Load reads an optional .env file and then environment variables, with sane defaults for local development.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return Config{
		Env:         getEnv("APP_ENV", EnvProduction),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		WorkerRole:  getEnv("WORKER_ROLE", ""),

		AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
		AWSEndpoint: getEnv("AWS_ENDPOINT_URL", ""),
		S3PathStyle: getEnvBool("S3_PATH_STYLE", false),
		BlobDir:     getEnv("BLOB_DIR", ""),

		QueueBackend:       getEnv("QUEUE_BACKEND", BackendSQS),
		SubmissionQueueURL: getEnv("SUBMISSION_QUEUE_URL", ""),
		ResultQueueURL:     getEnv("RESULT_QUEUE_URL", ""),
		QuarantineQueueURL: getEnv("QUARANTINE_QUEUE_URL", ""),
		OutputBucket:       getEnv("OUTPUT_BUCKET", ""),

		TransferQueueURL:      getEnv("TRANSFER_QUEUE_URL", ""),
		TransformBucket:       getEnv("TRANSFORM_BUCKET", ""),
		TransformMaxDimension: getEnvInt("TRANSFORM_MAX_DIMENSION", 4096),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),

		SubmitMaxAttempts:    getEnvInt("SUBMIT_MAX_ATTEMPTS", 3),
		SubmitBackoffInitial: getEnvDuration("SUBMIT_BACKOFF_INITIAL", 500*time.Millisecond),
		SubmitBackoffMax:     getEnvDuration("SUBMIT_BACKOFF_MAX", 5*time.Second),
		SubmitThrottleWait:   getEnvDuration("SUBMIT_THROTTLE_WAIT", 5*time.Second),
		TrackingDelay:        getEnvDuration("TRACKING_DELAY", 20*time.Second),

		BatchSize:            getEnvInt("BATCH_SIZE", 10),
		PollWait:             getEnvDuration("POLL_WAIT", 20*time.Second),
		VisibilityTimeout:    getEnvDuration("VISIBILITY_TIMEOUT", 60*time.Second),
		CollectorMaxReceives: getEnvInt("COLLECTOR_MAX_RECEIVES", 15),

		IdempotencyTTL:    getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		ClaimTTL:          getEnvDuration("CLAIM_TTL", 5*time.Minute),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 10),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 2),

		AnalysisTopicARN: getEnv("ANALYSIS_SNS_TOPIC_ARN", ""),
		AnalysisRoleARN:  getEnv("ANALYSIS_SNS_ROLE_ARN", ""),
	}, nil
}

// Validate reports every required key that is missing for the given role.
// The four pipeline keys are required by both pipeline roles.
func (c Config) Validate(role string) error {
	var errs []error
	require := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	switch role {
	case RoleSubmitter, RoleCollector:
		require("RESULT_QUEUE_URL", c.ResultQueueURL)
		require("SUBMISSION_QUEUE_URL", c.SubmissionQueueURL)
		require("OUTPUT_BUCKET", c.OutputBucket)
		require("QUARANTINE_QUEUE_URL", c.QuarantineQueueURL)
	case RoleTransformer:
		require("TRANSFER_QUEUE_URL", c.TransferQueueURL)
		require("TRANSFORM_BUCKET", c.TransformBucket)
	case RoleAPI:
	default:
		errs = append(errs, fmt.Errorf("unknown worker role %q", role))
	}
	switch c.QueueBackend {
	case BackendSQS:
	case BackendRedis:
		require("REDIS_ADDR", c.RedisAddr)
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}
	if c.SubmitMaxAttempts < 1 {
		errs = append(errs, errors.New("SUBMIT_MAX_ATTEMPTS must be at least 1"))
	}
	if c.BatchSize < 1 || c.BatchSize > 10 {
		errs = append(errs, errors.New("BATCH_SIZE must be between 1 and 10"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
