package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:spawnwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			subscriber_id TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL,
			alert_time_sec INTEGER,
			distance_m INTEGER NOT NULL DEFAULT 0,
			latitude REAL NOT NULL DEFAULT 0,
			longitude REAL NOT NULL DEFAULT 0,
			creatures_json TEXT NOT NULL,
			bosses_json TEXT NOT NULL,
			tasks_json TEXT NOT NULL,
			venues_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snoozed (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subscriber_id TEXT NOT NULL,
			day TEXT NOT NULL,
			region TEXT NOT NULL,
			stop_name TEXT NOT NULL,
			reward TEXT NOT NULL,
			summary TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snoozed_subscriber_day ON snoozed(subscriber_id, day)`,
	})
}
