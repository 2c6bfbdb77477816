package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"spawnwatch/internal/config"
	"spawnwatch/internal/model"
)

var ErrNotFound = errors.New("subscription not found")

// Store persists subscriptions and snoozed task notifications.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Exists(ctx context.Context, subscriberID string) (bool, error)
	Get(ctx context.Context, subscriberID string) (*model.Subscription, error)
	List(ctx context.Context) ([]*model.Subscription, error)
	Save(ctx context.Context, sub *model.Subscription) error
	Delete(ctx context.Context, subscriberID string) error
	AddSnoozed(ctx context.Context, item model.SnoozedItem) error
	// ListSnoozed returns the items for one subscriber and day bucket in
	// insertion order.
	ListSnoozed(ctx context.Context, subscriberID, day string) ([]model.SnoozedItem, error)
}

// NewStore opens the configured backend. With storage disabled the process
// keeps subscriptions in memory only.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return NewMemory(), nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// baseStore carries the SQL shared by the sqlite and postgres backends.
// Queries are written with '?' placeholders and rewritten by bind.
type baseStore struct {
	db        *sql.DB
	dollarArg bool
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) bind(query string) string {
	if !b.dollarArg {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) Exists(ctx context.Context, subscriberID string) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx, b.bind(`SELECT COUNT(1) FROM subscriptions WHERE subscriber_id = ?`), subscriberID).Scan(&n)
	return n > 0, err
}

const subscriptionColumns = `subscriber_id, enabled, alert_time_sec, distance_m, latitude, longitude,
	creatures_json, bosses_json, tasks_json, venues_json, updated_at`

func (b *baseStore) Get(ctx context.Context, subscriberID string) (*model.Subscription, error) {
	row := b.db.QueryRowContext(ctx, b.bind(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscriber_id = ?`), subscriberID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, err
}

func (b *baseStore) List(ctx context.Context) ([]*model.Subscription, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY subscriber_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (b *baseStore) Save(ctx context.Context, sub *model.Subscription) error {
	if sub == nil || sub.SubscriberID == "" {
		return errors.New("subscription has no subscriber id")
	}
	var alert sql.NullInt64
	if sub.AlertTime != nil {
		alert = sql.NullInt64{Int64: int64(*sub.AlertTime / time.Second), Valid: true}
	}
	updated := sub.UpdatedAt
	if updated.IsZero() {
		updated = nowUTC()
	}
	_, err := b.db.ExecContext(ctx, b.bind(`INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subscriber_id) DO UPDATE SET
			enabled = excluded.enabled,
			alert_time_sec = excluded.alert_time_sec,
			distance_m = excluded.distance_m,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			creatures_json = excluded.creatures_json,
			bosses_json = excluded.bosses_json,
			tasks_json = excluded.tasks_json,
			venues_json = excluded.venues_json,
			updated_at = excluded.updated_at`),
		sub.SubscriberID,
		sub.Enabled,
		alert,
		sub.DistanceM,
		sub.Latitude,
		sub.Longitude,
		encodeJSON(sub.Creatures),
		encodeJSON(sub.Bosses),
		encodeJSON(sub.Tasks),
		encodeJSON(sub.Venues),
		formatTime(updated),
	)
	return err
}

func (b *baseStore) Delete(ctx context.Context, subscriberID string) error {
	res, err := b.db.ExecContext(ctx, b.bind(`DELETE FROM subscriptions WHERE subscriber_id = ?`), subscriberID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *baseStore) AddSnoozed(ctx context.Context, item model.SnoozedItem) error {
	_, err := b.db.ExecContext(ctx, b.bind(`INSERT INTO snoozed
		(subscriber_id, day, region, stop_name, reward, summary, latitude, longitude, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		item.SubscriberID,
		item.Day,
		item.Region,
		item.StopName,
		item.Reward,
		item.Summary,
		item.Latitude,
		item.Longitude,
		formatTime(item.CreatedAt),
	)
	return err
}

func (b *baseStore) ListSnoozed(ctx context.Context, subscriberID, day string) ([]model.SnoozedItem, error) {
	rows, err := b.db.QueryContext(ctx, b.bind(`SELECT subscriber_id, day, region, stop_name, reward, summary, latitude, longitude, created_at
		FROM snoozed WHERE subscriber_id = ? AND day = ? ORDER BY id`), subscriberID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SnoozedItem
	for rows.Next() {
		var item model.SnoozedItem
		var created string
		if err := rows.Scan(&item.SubscriberID, &item.Day, &item.Region, &item.StopName, &item.Reward,
			&item.Summary, &item.Latitude, &item.Longitude, &created); err != nil {
			return nil, err
		}
		item.CreatedAt = parseTime(created)
		out = append(out, item)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*model.Subscription, error) {
	var sub model.Subscription
	var alert sql.NullInt64
	var creatures, bosses, tasks, venues, updated string
	if err := row.Scan(&sub.SubscriberID, &sub.Enabled, &alert, &sub.DistanceM, &sub.Latitude, &sub.Longitude,
		&creatures, &bosses, &tasks, &venues, &updated); err != nil {
		return nil, err
	}
	if alert.Valid {
		at := time.Duration(alert.Int64) * time.Second
		sub.AlertTime = &at
	}
	for _, col := range []struct {
		raw  string
		dest any
	}{
		{creatures, &sub.Creatures},
		{bosses, &sub.Bosses},
		{tasks, &sub.Tasks},
		{venues, &sub.Venues},
	} {
		if err := decodeJSON(col.raw, col.dest); err != nil {
			return nil, fmt.Errorf("subscription %s: %w", sub.SubscriberID, err)
		}
	}
	sub.UpdatedAt = parseTime(updated)
	return &sub, nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeJSON(raw string, dest any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
