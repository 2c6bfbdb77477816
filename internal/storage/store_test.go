package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"spawnwatch/internal/config"
	"spawnwatch/internal/model"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "subs.db") + "?_pragma=busy_timeout(5000)"
	sqlite, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{"sqlite": sqlite, "memory": NewMemory()}
}

func sampleSubscription(id string) *model.Subscription {
	at := 9 * time.Hour
	sub := model.NewSubscription(id)
	sub.Creatures = []model.CreaturePref{{SpeciesID: 1, MinIV: 90, Gender: model.GenderAny}}
	sub.Bosses = []model.BossPref{{SpeciesID: 150, Regions: []string{"Downtown"}}}
	sub.Tasks = []model.TaskPref{{RewardKeyword: "stardust"}}
	sub.Venues = []model.VenuePref{{Name: "Old Church"}}
	sub.AlertTime = &at
	sub.DistanceM = 1500
	sub.Latitude = 1.5
	sub.Longitude = 2.5
	sub.UpdatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return sub
}

func TestSubscriptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Init(ctx); err != nil {
				t.Fatalf("init: %v", err)
			}
			if ok, err := store.Exists(ctx, "u1"); err != nil || ok {
				t.Fatalf("expected missing subscriber, got %v %v", ok, err)
			}
			if _, err := store.Get(ctx, "u1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			want := sampleSubscription("u1")
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := store.Get(ctx, "u1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.AlertTime == nil || *got.AlertTime != 9*time.Hour {
				t.Fatalf("alert time not persisted: %v", got.AlertTime)
			}
			if len(got.Creatures) != 1 || got.Creatures[0].MinIV != 90 {
				t.Fatalf("creatures not persisted: %+v", got.Creatures)
			}
			if len(got.Bosses) != 1 || got.Bosses[0].Regions[0] != "Downtown" {
				t.Fatalf("bosses not persisted: %+v", got.Bosses)
			}
			if !got.UpdatedAt.Equal(want.UpdatedAt) {
				t.Fatalf("updated_at mismatch: %v", got.UpdatedAt)
			}

			want.Enabled = false
			want.AlertTime = nil
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			all, err := store.List(ctx)
			if err != nil || len(all) != 1 {
				t.Fatalf("list: %v %d", err, len(all))
			}
			if all[0].Enabled || all[0].AlertTime != nil {
				t.Fatalf("upsert not applied: %+v", all[0])
			}

			if err := store.Delete(ctx, "u1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := store.Delete(ctx, "u1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on second delete, got %v", err)
			}
		})
	}
}

func TestSnoozedByDay(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Init(ctx); err != nil {
				t.Fatalf("init: %v", err)
			}
			now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
			for i, day := range []time.Time{now, now, now.Add(-24 * time.Hour)} {
				task := &model.Task{StopName: "Stop", Reward: "stardust", Text: "catch"}
				item := model.NewSnoozedItem("u1", task, "Downtown", day)
				item.StopName = []string{"a", "b", "c"}[i]
				if err := store.AddSnoozed(ctx, item); err != nil {
					t.Fatalf("add snoozed: %v", err)
				}
			}
			items, err := store.ListSnoozed(ctx, "u1", model.DayBucket(now))
			if err != nil {
				t.Fatalf("list snoozed: %v", err)
			}
			if len(items) != 2 || items[0].StopName != "a" || items[1].StopName != "b" {
				t.Fatalf("unexpected snoozed items: %+v", items)
			}
			other, _ := store.ListSnoozed(ctx, "u2", model.DayBucket(now))
			if len(other) != 0 {
				t.Fatalf("expected no items for other subscriber, got %d", len(other))
			}
		})
	}
}

func TestNewStoreDrivers(t *testing.T) {
	store, err := NewStore(config.StorageConfig{Enabled: false})
	if err != nil || store == nil {
		t.Fatalf("disabled storage should fall back to memory: %v", err)
	}
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestBindRewritesPlaceholders(t *testing.T) {
	b := baseStore{dollarArg: true}
	got := b.bind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Fatalf("unexpected bind result %q", got)
	}
}
