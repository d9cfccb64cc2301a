// Package logging builds the zap loggers shared by the pipeline binaries and
// defines the field keys every component tags its log lines with.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field keys.
const (
	FieldComponent = "component"
	FieldJobID     = "job_id"
	FieldBucket    = "bucket"
	FieldObjectKey = "object_key"
	FieldMessageID = "message_id"
	FieldAttempt   = "attempt"
	FieldStatus    = "status"
	FieldPage      = "page"
	FieldQueue     = "queue"
	FieldRole      = "role"
)

// New returns a JSON production logger, or a console development logger when env is "dev".
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Component scopes a logger to a named pipeline component.
func Component(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String(FieldComponent, name))
}

// Object returns the bucket/key pair fields for a source object.
func Object(bucket, key string) []zap.Field {
	return []zap.Field{zap.String(FieldBucket, bucket), zap.String(FieldObjectKey, key)}
}

// RoleField tags every line of a process with its worker role.
func RoleField(role string) zap.Field {
	return zap.String(FieldRole, role)
}
