package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/spawnwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, dollarArg: true}}, nil
}

// Timestamps are kept as RFC 3339 text so both backends scan them the same
// way.
func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			subscriber_id TEXT PRIMARY KEY,
			enabled BOOLEAN NOT NULL,
			alert_time_sec INTEGER,
			distance_m INTEGER NOT NULL DEFAULT 0,
			latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
			longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
			creatures_json TEXT NOT NULL,
			bosses_json TEXT NOT NULL,
			tasks_json TEXT NOT NULL,
			venues_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snoozed (
			id BIGSERIAL PRIMARY KEY,
			subscriber_id TEXT NOT NULL,
			day TEXT NOT NULL,
			region TEXT NOT NULL,
			stop_name TEXT NOT NULL,
			reward TEXT NOT NULL,
			summary TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snoozed_subscriber_day ON snoozed(subscriber_id, day)`,
	})
}
