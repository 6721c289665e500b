package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloudqueues-driver/internal/pkg/logger"
	"cloudqueues-driver/internal/pkg/observability/metrics"
	"cloudqueues-driver/internal/pkg/queue"
)

// Driver exposes a message-queue interface on top of a queue.Service.
// Pops are served from a per-queue prefetch cache that is refilled with one
// claim request of Options.Prefetch messages whenever it runs dry. Messages
// handed out by pop stay claimed until AcknowledgeMessage deletes them.
//
// A Driver is not safe for concurrent use, except for Info.
type Driver struct {
	service queue.Service
	opts    Options

	queues map[string]queue.Queue
	cache  *prefetchCache
	claims map[string]activeClaim // keyed by receipt
}

type activeClaim struct {
	queue   queue.Queue
	claimed queue.Claimed
}

// New builds a Driver over svc. Queue handles named in opts.Queues are
// registered without contacting the service.
func New(svc queue.Service, opts Options) (*Driver, error) {
	if svc == nil {
		return nil, errors.New("driver: nil queue service")
	}
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		service: svc,
		opts:    opts,
		queues:  make(map[string]queue.Queue),
		cache:   newPrefetchCache(),
		claims:  make(map[string]activeClaim),
	}
	for _, name := range opts.Queues {
		d.queues[name] = svc.Queue(name)
	}
	return d, nil
}

// queue returns the cached handle for name, creating one locally on first use.
func (d *Driver) queue(name string) queue.Queue {
	q, ok := d.queues[name]
	if !ok {
		q = d.service.Queue(name)
		d.queues[name] = q
	}
	return q
}

// ListQueues returns the names of every queue visible to the account.
func (d *Driver) ListQueues(ctx context.Context) ([]string, error) {
	names, err := d.service.ListQueues(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// CreateQueue creates name on the service and remembers its handle.
func (d *Driver) CreateQueue(ctx context.Context, name string) error {
	_, err := d.createQueue(ctx, name)
	return err
}

func (d *Driver) createQueue(ctx context.Context, name string) (queue.Queue, error) {
	q, err := d.service.CreateQueue(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create queue %s: %w", name, err)
	}
	d.queues[name] = q
	logger.InfoCtx(ctx, "Queue %s created", name)
	return q, nil
}

// RemoveQueue deletes name remotely. Prefetched but undelivered messages for
// the queue are discarded.
func (d *Driver) RemoveQueue(ctx context.Context, name string) error {
	if err := d.queue(name).Delete(ctx); err != nil {
		return fmt.Errorf("remove queue %s: %w", name, err)
	}
	delete(d.queues, name)
	d.cache.drop(name)
	logger.InfoCtx(ctx, "Queue %s removed", name)
	return nil
}

// CountMessages reports the total number of messages in name, claimed ones
// included. A queue that does not exist counts as empty.
func (d *Driver) CountMessages(ctx context.Context, name string) (int, error) {
	stats, err := d.queue(name).Stats(ctx)
	if errors.Is(err, queue.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count messages in %s: %w", name, err)
	}
	return stats.Total, nil
}

// PushMessage enqueues body with the configured TTL. If the queue does not
// exist it is created and the push retried once.
func (d *Driver) PushMessage(ctx context.Context, name, body string) error {
	msg := queue.NewMessage{Body: body, TTL: d.opts.TTL}

	q := d.queue(name)
	err := q.CreateMessages(ctx, msg)
	if errors.Is(err, queue.ErrNotFound) {
		logger.InfoCtx(ctx, "Queue %s does not exist, creating it before push", name)
		if q, err = d.createQueue(ctx, name); err != nil {
			return err
		}
		err = q.CreateMessages(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("push message to %s: %w", name, err)
	}
	metrics.MessagesPushed.WithLabelValues(name).Inc()
	return nil
}

// PopMessage returns the next message body and its receipt. Cached messages
// are returned without contacting the service. Otherwise the queue is polled
// until a claim succeeds or wait has elapsed, in which case both strings are
// empty and the error is nil. At least one claim request is made even when
// wait is zero.
func (d *Driver) PopMessage(ctx context.Context, name string, wait time.Duration) (string, string, error) {
	start := time.Now()
	defer func() {
		metrics.PopWait.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	if c, ok := d.cache.pop(name); ok {
		metrics.CacheHits.WithLabelValues(name).Inc()
		return d.deliver(name, c)
	}

	q := d.queue(name)
	deadline := start.Add(wait)
	for {
		claims, err := d.claim(ctx, q)
		if err != nil {
			return "", "", err
		}
		if len(claims) > 0 {
			d.cache.push(name, claims...)
			c, _ := d.cache.pop(name)
			return d.deliver(name, c)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", "", nil
		}
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(min(d.opts.PollInterval, remaining)):
		}
	}
}

// claim issues one claim request. A missing queue yields no claims.
func (d *Driver) claim(ctx context.Context, q queue.Queue) ([]queue.Claimed, error) {
	metrics.ClaimRequests.WithLabelValues(q.Name()).Inc()
	claims, err := q.ClaimMessages(ctx, d.opts.Prefetch, d.opts.TTL)
	if errors.Is(err, queue.ErrNotFound) {
		logger.DebugCtx(ctx, "Queue %s does not exist, nothing to claim", q.Name())
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim messages from %s: %w", q.Name(), err)
	}
	if len(claims) == 0 {
		metrics.EmptyPolls.WithLabelValues(q.Name()).Inc()
		return nil, nil
	}
	metrics.MessagesClaimed.WithLabelValues(q.Name()).Add(float64(len(claims)))
	return claims, nil
}

func (d *Driver) deliver(name string, c queue.Claimed) (string, string, error) {
	d.claims[c.Receipt] = activeClaim{queue: d.queue(name), claimed: c}
	metrics.ActiveClaims.Set(float64(len(d.claims)))
	return c.Body, c.Receipt, nil
}

// AcknowledgeMessage deletes the message behind receipt. Unknown receipts,
// including ones already acknowledged, are ignored. If the service reports
// queue.ErrNotFound (message gone, or the claim expired and was taken by
// another consumer) the receipt is forgotten without error. Any other error
// keeps the receipt so the call can be retried.
func (d *Driver) AcknowledgeMessage(ctx context.Context, name, receipt string) error {
	ac, ok := d.claims[receipt]
	if !ok {
		logger.DebugCtx(ctx, "Ignoring acknowledgement for unknown receipt on %s", name)
		return nil
	}

	err := ac.queue.DeleteClaimed(ctx, ac.claimed)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		logger.WarnCtx(ctx, "Message on %s was already gone at acknowledgement: %s", ac.queue.Name(), err)
	case err != nil:
		return fmt.Errorf("acknowledge message on %s: %w", ac.queue.Name(), err)
	default:
		metrics.MessagesAcked.WithLabelValues(ac.queue.Name()).Inc()
	}

	delete(d.claims, receipt)
	metrics.ActiveClaims.Set(float64(len(d.claims)))
	return nil
}

// PeekQueue returns the bodies of up to limit unclaimed messages starting at
// position index, without claiming them. Every call reads a fresh listing.
// A queue that does not exist peeks as empty.
func (d *Driver) PeekQueue(ctx context.Context, name string, index, limit int) ([]string, error) {
	index = max(index, 0)
	bodies := []string{}
	if limit <= 0 {
		return bodies, nil
	}

	it := d.queue(name).ListMessages(ctx)
	for pos := 0; pos < index+limit && it.Next(); pos++ {
		if pos >= index {
			bodies = append(bodies, it.Message().Body)
		}
	}
	if err := it.Err(); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("peek queue %s: %w", name, err)
	}
	return bodies, nil
}

// Info describes the driver configuration. TTL is reported in seconds.
func (d *Driver) Info() map[string]any {
	info := d.service.Info()
	return map[string]any{
		"client_id": info.ClientID,
		"name":      info.Name,
		"url":       info.URL,
		"region":    info.Region,
		"url_type":  info.URLType,
		"prefetch":  d.opts.Prefetch,
		"ttl":       int(d.opts.TTL / time.Second),
	}
}

// Pending reports how many prefetched messages for name are waiting to be
// popped.
func (d *Driver) Pending(name string) int {
	return d.cache.len(name)
}
