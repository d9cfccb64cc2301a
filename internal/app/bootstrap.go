package app

import (
	"context"
	"fmt"

	"document-pipeline/internal/config"
	"document-pipeline/internal/logging"
)

// Bootstrap loads and validates configuration for role, builds the logger and
// then the shared clients. Any error is startup-fatal for the caller.
func Bootstrap(ctx context.Context, role string) (*Deps, error) {
	cfg, err := config.Load(".env")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(role); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", role, err)
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		return nil, err
	}
	logger = logger.With(logging.RoleField(role))
	d, err := Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return d, nil
}
