// Package engine runs the event pipeline: duplicate and expiry screening,
// alarm evaluation, subscription matching and hand-off to the delivery queue.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"spawnwatch/internal/alarm"
	"spawnwatch/internal/config"
	"spawnwatch/internal/geofence"
	"spawnwatch/internal/model"
	"spawnwatch/internal/stats"
	"spawnwatch/internal/subscription"
)

type Alarms interface {
	Evaluate(ev model.Event, now time.Time) []alarm.Match
}

type Subscribers interface {
	Evaluate(ctx context.Context, ev model.Event, subs []*model.Subscription, fences []*geofence.Geofence, now time.Time) []subscription.Outcome
}

// Subscriptions is the live subscription repository.
type Subscriptions interface {
	Snapshot() []*model.Subscription
	RecordSnoozed(ctx context.Context, item model.SnoozedItem) error
}

// Regions lists the geofences subscriber regions are resolved against.
type Regions func() []*geofence.Geofence

type Enqueuer interface {
	Enqueue(item model.DeliveryItem)
}

type Deps struct {
	Alarms        Alarms
	Matcher       Subscribers
	Subscriptions Subscriptions
	Regions       Regions
	Queue         Enqueuer
	Stats         *stats.Store
}

type Engine struct {
	logger  *slog.Logger
	deps    Deps
	cfg     atomic.Value
	deDupe  *DedupeCache
	started time.Time
	now     func() time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, deps Deps) *Engine {
	e := &Engine{
		logger:  logger,
		deps:    deps,
		deDupe:  NewDedupeCache(),
		started: time.Now().UTC(),
		now:     time.Now,
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Started() time.Time { return e.started }

// Run drains in with the configured number of workers until ctx is done or
// in is closed.
func (e *Engine) Run(ctx context.Context, in <-chan model.Event) error {
	workers := e.config().Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case ev, ok := <-in:
					if !ok {
						return
					}
					e.ProcessEvent(ctx, ev)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// ProcessEvent evaluates one event and returns the items it queued. A panic
// while evaluating is logged and only loses this event.
func (e *Engine) ProcessEvent(ctx context.Context, ev model.Event) (queued []model.DeliveryItem) {
	if ev == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			if e.logger != nil {
				e.logger.Error("event evaluation panicked", "kind", ev.Kind(), "key", ev.Key(), "panic", fmt.Sprint(r))
			}
			queued = nil
		}
	}()

	cfg := e.config()
	now := e.now()
	if model.Expired(ev, now) {
		e.recordEvent(ev.Kind(), stats.OutcomeExpired)
		return nil
	}
	if e.isDuplicate(ev, now, cfg.Ingest.DedupeWindow) {
		e.recordEvent(ev.Kind(), stats.OutcomeDuplicate)
		return nil
	}
	e.recordEvent(ev.Kind(), stats.OutcomeAccepted)

	if e.deps.Alarms != nil {
		for _, m := range e.deps.Alarms.Evaluate(ev, now) {
			item := m.Item(ev, now)
			queued = append(queued, item)
			e.enqueue(item)
			if e.logger != nil {
				e.logger.Info("alarm triggered",
					"rule", m.Rule.Name,
					"geofence", m.Geofence.Name,
					"kind", ev.Kind(),
					"subject", ev.Subject(),
				)
			}
		}
	}

	if cfg.Subscriptions.Enabled && e.deps.Matcher != nil && e.deps.Subscriptions != nil {
		var fences []*geofence.Geofence
		if e.deps.Regions != nil {
			fences = e.deps.Regions()
		}
		outcomes := e.deps.Matcher.Evaluate(ctx, ev, e.deps.Subscriptions.Snapshot(), fences, now)
		for _, o := range outcomes {
			switch {
			case o.Delivery != nil:
				queued = append(queued, *o.Delivery)
				e.enqueue(*o.Delivery)
			case o.Snoozed != nil:
				if err := e.deps.Subscriptions.RecordSnoozed(ctx, *o.Snoozed); err != nil && e.logger != nil {
					e.logger.Warn("snoozed item not saved", "subscriber_id", o.SubscriberID, "err", err)
				}
			}
		}
	}
	return queued
}

func (e *Engine) enqueue(item model.DeliveryItem) {
	if e.deps.Queue != nil {
		e.deps.Queue.Enqueue(item)
	}
	if e.deps.Stats != nil {
		e.deps.Stats.RecordMatch(item.Source, item.Kind, item.Subject)
	}
}

func (e *Engine) recordEvent(kind model.Kind, outcome stats.Outcome) {
	if e.deps.Stats != nil {
		e.deps.Stats.RecordEvent(kind, outcome)
	}
}

// Reset forgets every event seen so far.
func (e *Engine) Reset() {
	e.deDupe.Reset()
}

func (e *Engine) isDuplicate(ev model.Event, now time.Time, dedupeWindow time.Duration) bool {
	if dedupeWindow <= 0 {
		return false
	}
	return e.deDupe.Seen(hashEvent(ev), now, dedupeWindow)
}

func hashEvent(ev model.Event) string {
	h := sha256.Sum256([]byte(string(ev.Kind()) + "|" + ev.Key()))
	return hex.EncodeToString(h[:])
}
