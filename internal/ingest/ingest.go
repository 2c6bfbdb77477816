package ingest

import (
	"context"
	"log/slog"
	"time"

	"spawnwatch/internal/model"
)

// SendNonBlocking hands ev to the pipeline, dropping it when the channel is
// full so a slow pipeline never stalls a reader.
func SendNonBlocking(ctx context.Context, out chan<- model.Event, ev model.Event, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "kind", ev.Kind(), "key", ev.Key())
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
