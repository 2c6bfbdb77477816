package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reporter periodically publishes the stats snapshot as a JSON string under
// a single Redis key.
type Reporter struct {
	store    *Store
	client   *redis.Client
	key      string
	interval time.Duration
	ttl      time.Duration
	topN     int
	logger   *slog.Logger
}

type ReporterOptions struct {
	Key      string
	Interval time.Duration
	TTL      time.Duration
	TopN     int
}

func NewReporter(store *Store, client *redis.Client, opts ReporterOptions, logger *slog.Logger) *Reporter {
	if opts.Key == "" {
		opts.Key = "stats:spawnwatch"
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Reporter{
		store:    store,
		client:   client,
		key:      opts.Key,
		interval: opts.Interval,
		ttl:      opts.TTL,
		topN:     opts.TopN,
		logger:   logger,
	}
}

// Publish writes one snapshot.
func (r *Reporter) Publish(ctx context.Context) error {
	data, err := json.Marshal(r.store.Snapshot(r.topN))
	if err != nil {
		return fmt.Errorf("marshal stats snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("write stats to redis key %s: %w", r.key, err)
	}
	return nil
}

// Run publishes on every tick until ctx is done, then makes a final attempt
// with a short deadline.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := r.Publish(flushCtx)
			cancel()
			if err != nil && r.logger != nil {
				r.logger.Warn("final stats publish failed", "err", err)
			}
			return nil
		case <-ticker.C:
			if err := r.Publish(ctx); err != nil && r.logger != nil {
				r.logger.Warn("stats publish failed", "key", r.key, "err", err)
			}
		}
	}
}
