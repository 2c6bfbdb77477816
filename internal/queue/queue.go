// Package queue is the single-consumer notification queue drained at the
// downstream rate limit.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"spawnwatch/internal/model"
)

// Sender performs the final delivery of one message.
type Sender interface {
	Deliver(ctx context.Context, recipient, message string) error
}

// Observer is told about every dispatched item; err is nil on success.
type Observer func(item model.DeliveryItem, err error)

type Stats struct {
	Pending   int    `json:"pending"`
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// Queue is FIFO. Enqueue never blocks; Run is the only consumer.
type Queue struct {
	mu    sync.Mutex
	items []model.DeliveryItem
	wake  chan struct{}

	limiter   *rate.Limiter
	sender    Sender
	observers []Observer
	logger    *slog.Logger

	enqueued  atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// New returns a queue that sends at most one item per delay.
func New(delay time.Duration, sender Sender, logger *slog.Logger) *Queue {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Queue{
		wake:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
		sender:  sender,
		logger:  logger,
	}
}

// Observe registers fn before Run starts.
func (q *Queue) Observe(fn Observer) {
	if fn != nil {
		q.observers = append(q.observers, fn)
	}
}

func (q *Queue) Enqueue(item model.DeliveryItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.enqueued.Add(1)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Stats() Stats {
	return Stats{
		Pending:   q.Len(),
		Enqueued:  q.enqueued.Load(),
		Delivered: q.delivered.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *Queue) pop() (model.DeliveryItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.DeliveryItem{}, false
	}
	item := q.items[0]
	q.items[0] = model.DeliveryItem{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

// Run drains the queue until ctx is done. Items still queued at shutdown
// are dropped.
func (q *Queue) Run(ctx context.Context) error {
	for {
		item, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.wake:
				continue
			}
		}
		if err := q.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if q.logger != nil {
				q.logger.Warn("rate limiter wait failed", "err", err)
			}
		}
		q.dispatch(ctx, item)
	}
}

func (q *Queue) dispatch(ctx context.Context, item model.DeliveryItem) {
	err := q.sender.Deliver(ctx, item.Recipient, item.Payload)
	if err != nil {
		q.failed.Add(1)
		if q.logger != nil {
			q.logger.Error("delivery failed",
				"id", item.ID,
				"recipient", item.Recipient,
				"origin", item.Origin,
				"err", err,
			)
		}
	} else {
		q.delivered.Add(1)
		if q.logger != nil {
			q.logger.Debug("delivered", "id", item.ID, "recipient", item.Recipient, "origin", item.Origin)
		}
	}
	for _, fn := range q.observers {
		fn(item, err)
	}
}
