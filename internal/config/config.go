package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel      string             `json:"log_level" yaml:"log_level" env:"SPAWNWATCH_LOG_LEVEL"`
	Timezone      string             `json:"timezone" yaml:"timezone" env:"SPAWNWATCH_TIMEZONE"`
	Rules         RulesConfig        `json:"rules" yaml:"rules"`
	Catalog       CatalogConfig      `json:"catalog" yaml:"catalog"`
	Ingest        IngestConfig       `json:"ingest" yaml:"ingest"`
	Subscriptions SubscriptionConfig `json:"subscriptions" yaml:"subscriptions"`
	Access        AccessConfig       `json:"access" yaml:"access"`
	Queue         QueueConfig        `json:"queue" yaml:"queue"`
	Delivery      DeliveryConfig     `json:"delivery" yaml:"delivery"`
	API           APIConfig          `json:"api" yaml:"api"`
	Storage       StorageConfig      `json:"storage" yaml:"storage"`
	Stats         StatsConfig        `json:"stats" yaml:"stats"`
	History       HistoryConfig      `json:"history" yaml:"history"`
}

type RulesConfig struct {
	Path          string        `json:"path" yaml:"path" env:"SPAWNWATCH_RULES_PATH"`
	Watch         bool          `json:"watch" yaml:"watch" env:"SPAWNWATCH_RULES_WATCH"`
	WatchDebounce time.Duration `json:"watch_debounce" yaml:"watch_debounce"`
}

type CatalogConfig struct {
	Path       string `json:"path" yaml:"path" env:"SPAWNWATCH_CATALOG_PATH"`
	MaxSpecies int    `json:"max_species" yaml:"max_species"`
}

type IngestConfig struct {
	ChannelBuffer int           `json:"channel_buffer" yaml:"channel_buffer"`
	Workers       int           `json:"workers" yaml:"workers" env:"SPAWNWATCH_INGEST_WORKERS"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	REST          RESTConfig    `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig   `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Addr         string `json:"addr" yaml:"addr" env:"SPAWNWATCH_INGEST_ADDR"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" env:"SPAWNWATCH_KAFKA_ENABLED"`
	Brokers []string `json:"brokers" yaml:"brokers" env:"SPAWNWATCH_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `json:"topic" yaml:"topic" env:"SPAWNWATCH_KAFKA_TOPIC"`
	GroupID string   `json:"group_id" yaml:"group_id" env:"SPAWNWATCH_KAFKA_GROUP_ID"`
}

type SubscriptionConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" env:"SPAWNWATCH_SUBSCRIPTIONS_ENABLED"`
	MaxCreatures int  `json:"max_creatures" yaml:"max_creatures"`
	MaxBosses    int  `json:"max_bosses" yaml:"max_bosses"`
	MaxTasks     int  `json:"max_tasks" yaml:"max_tasks"`
	// BulkMinIV is the lowest minimum IV accepted when subscribing to every
	// species at once.
	BulkMinIV   int         `json:"bulk_min_iv" yaml:"bulk_min_iv"`
	IVOverrides map[int]int `json:"iv_overrides" yaml:"iv_overrides"`
	// CommonSpecies may only be subscribed with at least CommonMinIV unless
	// the subscriber is a moderator.
	CommonSpecies   []int `json:"common_species" yaml:"common_species"`
	CommonMinIV     int   `json:"common_min_iv" yaml:"common_min_iv"`
	MaxLevel        int   `json:"max_level" yaml:"max_level"`
	EnforceDistance bool  `json:"enforce_distance" yaml:"enforce_distance"`
	EnforceVenues   bool  `json:"enforce_venues" yaml:"enforce_venues"`
	// RefreshInterval re-reads the subscription repository so edits made by
	// other writers are picked up. Zero disables refreshing.
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval" env:"SPAWNWATCH_SUBSCRIPTIONS_REFRESH"`
}

// AccessConfig is the static source of subscriber eligibility. Regions maps
// a subscriber id to the region names it has joined.
type AccessConfig struct {
	AllEligible bool                `json:"all_eligible" yaml:"all_eligible" env:"SPAWNWATCH_ACCESS_ALL_ELIGIBLE"`
	Supporters  []string            `json:"supporters" yaml:"supporters"`
	Moderators  []string            `json:"moderators" yaml:"moderators"`
	Regions     map[string][]string `json:"regions" yaml:"regions"`
}

type QueueConfig struct {
	Delay time.Duration `json:"delay" yaml:"delay" env:"SPAWNWATCH_QUEUE_DELAY"`
}

type DeliveryConfig struct {
	// Default is the channel for recipients that are not URLs, e.g. "log"
	// or "kafka".
	Default string              `json:"default" yaml:"default" env:"SPAWNWATCH_DELIVERY_DEFAULT"`
	Webhook WebhookConfig       `json:"webhook" yaml:"webhook"`
	Kafka   DeliveryKafkaConfig `json:"kafka" yaml:"kafka"`
}

type WebhookConfig struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type DeliveryKafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers" env:"SPAWNWATCH_DELIVERY_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `json:"topic" yaml:"topic" env:"SPAWNWATCH_DELIVERY_KAFKA_TOPIC"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" env:"SPAWNWATCH_API_ADDR"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"SPAWNWATCH_STORAGE_ENABLED"`
	Driver  string `json:"driver" yaml:"driver" env:"SPAWNWATCH_STORAGE_DRIVER"`
	DSN     string `json:"dsn" yaml:"dsn" env:"SPAWNWATCH_STORAGE_DSN"`
}

type StatsConfig struct {
	TopN  int         `json:"top_n" yaml:"top_n"`
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled" env:"SPAWNWATCH_REDIS_ENABLED"`
	Addr     string        `json:"addr" yaml:"addr" env:"SPAWNWATCH_REDIS_ADDR"`
	Password string        `json:"password" yaml:"password" env:"SPAWNWATCH_REDIS_PASSWORD"`
	DB       int           `json:"db" yaml:"db"`
	Key      string        `json:"key" yaml:"key"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"`
}

type HistoryConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Timezone: "Local",
		Rules:    RulesConfig{Path: "alarms.yaml", Watch: true, WatchDebounce: 500 * time.Millisecond},
		Catalog:  CatalogConfig{MaxSpecies: 492},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			Workers:       4,
			DedupeWindow:  5 * time.Minute,
			REST:          RESTConfig{Enabled: true, Addr: ":8080", MaxBodyBytes: 8 << 20},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Subscriptions: SubscriptionConfig{
			Enabled:         true,
			MaxCreatures:    25,
			MaxBosses:       5,
			MaxTasks:        5,
			BulkMinIV:       80,
			IVOverrides:     map[int]int{201: 0},
			CommonMinIV:     90,
			MaxLevel:        35,
			RefreshInterval: time.Minute,
		},
		Queue:    QueueConfig{Delay: 50 * time.Millisecond},
		Delivery: DeliveryConfig{Default: "log", Webhook: WebhookConfig{Timeout: 10 * time.Second}},
		API:      APIConfig{Enabled: true, Addr: ":8081"},
		Storage:  StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:spawnwatch.db?_pragma=busy_timeout(5000)"},
		Stats: StatsConfig{
			TopN:  25,
			Redis: RedisConfig{Addr: "localhost:6379", Key: "stats:spawnwatch", Interval: 10 * time.Second, TTL: time.Minute},
		},
		History: HistoryConfig{StoreLimit: 1000},
	}
}

// Load decodes a YAML or JSON file over DefaultConfig, then applies
// SPAWNWATCH_* environment overrides.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	applyDefaults(cfg)
	cfg.Rules.Path = resolveRelative(filepath.Dir(path), cfg.Rules.Path)
	cfg.Catalog.Path = resolveRelative(filepath.Dir(path), cfg.Catalog.Path)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults and the environment alone.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.REST.MaxBodyBytes <= 0 {
		cfg.Ingest.REST.MaxBodyBytes = 8 << 20
	}
	if cfg.Queue.Delay <= 0 {
		cfg.Queue.Delay = 50 * time.Millisecond
	}
	if cfg.Subscriptions.BulkMinIV <= 0 {
		cfg.Subscriptions.BulkMinIV = 80
	}
	if cfg.Subscriptions.MaxLevel <= 0 {
		cfg.Subscriptions.MaxLevel = 35
	}
	if cfg.Catalog.MaxSpecies <= 0 {
		cfg.Catalog.MaxSpecies = 492
	}
	if cfg.Stats.TopN <= 0 {
		cfg.Stats.TopN = 25
	}
	if cfg.Stats.Redis.Interval <= 0 {
		cfg.Stats.Redis.Interval = 10 * time.Second
	}
	if cfg.Stats.Redis.Key == "" {
		cfg.Stats.Redis.Key = "stats:spawnwatch"
	}
	if cfg.History.StoreLimit <= 0 {
		cfg.History.StoreLimit = 1000
	}
	if cfg.Delivery.Default == "" {
		cfg.Delivery.Default = "log"
	}
	if cfg.Delivery.Webhook.Timeout <= 0 {
		cfg.Delivery.Webhook.Timeout = 10 * time.Second
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

func Validate(cfg *Config) error {
	if cfg.Rules.Path == "" {
		return errors.New("rules.path is required")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Delivery.Kafka.Enabled && (len(cfg.Delivery.Kafka.Brokers) == 0 || cfg.Delivery.Kafka.Topic == "") {
		return errors.New("delivery.kafka requires brokers and topic")
	}
	switch cfg.Delivery.Default {
	case "log":
	case "kafka":
		if !cfg.Delivery.Kafka.Enabled {
			return errors.New("delivery.default is kafka but delivery.kafka.enabled is false")
		}
	default:
		return fmt.Errorf("delivery.default must be log or kafka, got %q", cfg.Delivery.Default)
	}
	if cfg.Stats.Redis.Enabled && cfg.Stats.Redis.Addr == "" {
		return errors.New("stats.redis.addr required when stats.redis.enabled is true")
	}
	if cfg.Subscriptions.MaxCreatures < 0 || cfg.Subscriptions.MaxBosses < 0 || cfg.Subscriptions.MaxTasks < 0 {
		return errors.New("subscriptions limits must be >= 0")
	}
	if cfg.Subscriptions.RefreshInterval < 0 {
		return errors.New("subscriptions.refresh_interval must be >= 0")
	}
	if cfg.Subscriptions.BulkMinIV > 100 || cfg.Subscriptions.CommonMinIV > 100 {
		return errors.New("subscriptions iv floors must be <= 100")
	}
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// Location resolves Timezone for time-of-day decisions.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Manager holds the active configuration so components that can change at
// runtime (subscriber access lists, log level) pick up edits without a
// restart.
type Manager struct {
	path    string
	cfg     atomic.Pointer[Config]
	modTime atomic.Int64
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

func (m *Manager) Get() *Config {
	if cfg := m.cfg.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

func (m *Manager) touch() {
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
}

// Watch polls the file's modification time until ctx is done. Failed
// reloads keep the previous configuration.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				// Record the attempt so a broken file is not re-parsed every tick.
				m.touch()
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-ctx.Done():
			return
		}
	}
}

func resolveRelative(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
