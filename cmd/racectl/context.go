package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/vnmchuo/race-predictor/config"
	"github.com/vnmchuo/race-predictor/internal/logging"
)

type commandContext struct {
	logLevelFlag *string

	once      sync.Once
	config    *config.Config
	logger    *zap.Logger
	configErr error
}

func newCommandContext(logLevelFlag *string) *commandContext {
	return &commandContext{logLevelFlag: logLevelFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, *zap.Logger, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		level := cfg.LogLevel
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			level = *c.logLevelFlag
		}
		logger, err := logging.New(logging.Options{Level: level, Format: "console", OutputPaths: []string{"stderr"}})
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.logger, c.configErr
}

func (c *commandContext) tracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("racectl")
}

func (c *commandContext) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, _, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
