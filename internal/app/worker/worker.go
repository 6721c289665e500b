package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"cloudqueues-driver/internal/pkg/logger"
	"cloudqueues-driver/internal/pkg/observability/metrics"
)

// Consumer is the part of the driver a worker needs.
type Consumer interface {
	PopMessage(ctx context.Context, queue string, wait time.Duration) (string, string, error)
	AcknowledgeMessage(ctx context.Context, queue, receipt string) error
}

// Handler processes one message body. A nil error acknowledges the message,
// anything else leaves it claimed until the claim expires.
type Handler func(ctx context.Context, body string) error

type Worker struct {
	Consumer Consumer
	Queue    string
	Wait     time.Duration
	Handler  Handler
	// ErrorBackoff is the pause after a failed pop. Defaults to Wait.
	ErrorBackoff time.Duration
}

// Run pops and handles messages one at a time until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.Consumer == nil || w.Handler == nil {
		return errors.New("worker: consumer and handler are required")
	}
	backoff := w.ErrorBackoff
	if backoff <= 0 {
		backoff = max(w.Wait, time.Second)
	}

	logger.Info("Consuming queue %s", w.Queue)
	for {
		if ctx.Err() != nil {
			logger.Info("Stopping consumer for queue %s", w.Queue)
			return nil
		}

		body, receipt, err := w.Consumer.PopMessage(ctx, w.Queue, w.Wait)
		if err != nil && ctx.Err() != nil {
			continue
		}
		if err != nil {
			logger.Error("Failed to pop from %s: %s", w.Queue, err)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			continue
		}
		if receipt == "" {
			continue
		}

		w.process(ctx, body, receipt)
	}
}

func (w *Worker) process(ctx context.Context, body, receipt string) {
	ctx = logger.WithTraceID(ctx, uuid.NewString())

	if err := w.handle(ctx, body); err != nil {
		logger.ErrorCtx(ctx, "Handler failed, message stays claimed: %s", err)
		metrics.MessagesFailed.WithLabelValues(w.Queue).Inc()
		return
	}

	if err := w.Consumer.AcknowledgeMessage(ctx, w.Queue, receipt); err != nil {
		logger.ErrorCtx(ctx, "Failed to acknowledge message: %s", err)
		return
	}
	logger.DebugCtx(ctx, "Message processed")
}

func (w *Worker) handle(ctx context.Context, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "Handler panic: %v\nStack: %s", r, string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.Handler(ctx, body)
}

// LogHandler logs every body it receives.
func LogHandler(ctx context.Context, body string) error {
	logger.InfoCtx(ctx, "Received message: %s", body)
	return nil
}
