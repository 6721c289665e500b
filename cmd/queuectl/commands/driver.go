package commands

import (
	"context"
	"fmt"
	"time"

	"cloudqueues-driver/configs"
	"cloudqueues-driver/internal/app/backend"
	"cloudqueues-driver/internal/pkg/logger"
)

// Driver is the part of *driver.Driver the commands use.
type Driver interface {
	ListQueues(ctx context.Context) ([]string, error)
	CreateQueue(ctx context.Context, name string) error
	RemoveQueue(ctx context.Context, name string) error
	CountMessages(ctx context.Context, name string) (int, error)
	PushMessage(ctx context.Context, name, body string) error
	PopMessage(ctx context.Context, name string, wait time.Duration) (string, string, error)
	AcknowledgeMessage(ctx context.Context, name, receipt string) error
	PeekQueue(ctx context.Context, name string, index, limit int) ([]string, error)
	Info() map[string]any
}

// Opener connects a Driver.
type Opener func(ctx context.Context) (Driver, error)

// OpenFromEnv builds a driver from the environment configuration. Prefetch
// is forced to 1: each invocation pops at most one message and exits, so any
// extra claimed message would stay invisible until its claim expired.
func OpenFromEnv(ctx context.Context) (Driver, error) {
	cfg, err := configs.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.QueuePrefetch = 1
	if err := logger.Setup(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	d, err := backend.NewDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}
