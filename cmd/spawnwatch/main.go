package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"spawnwatch/internal/alarm"
	"spawnwatch/internal/api"
	"spawnwatch/internal/catalog"
	"spawnwatch/internal/config"
	"spawnwatch/internal/delivery"
	"spawnwatch/internal/engine"
	"spawnwatch/internal/geofence"
	"spawnwatch/internal/history"
	"spawnwatch/internal/ingest"
	"spawnwatch/internal/logging"
	"spawnwatch/internal/model"
	"spawnwatch/internal/queue"
	"spawnwatch/internal/rules"
	"spawnwatch/internal/stats"
	"spawnwatch/internal/storage"
	"spawnwatch/internal/subscription"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML or JSON config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfgManager, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	// --- Rules ---
	ruleStore := rules.NewStore(cfg.Rules.Path, logger)
	if err := ruleStore.Open(); err != nil {
		return fmt.Errorf("loading alarm rules: %w", err)
	}
	regionFences := func() []*geofence.Geofence { return ruleStore.Current().Geofences }
	regionNames := func() []string {
		fences := regionFences()
		names := make([]string, 0, len(fences))
		for _, g := range fences {
			names = append(names, g.Name)
		}
		return names
	}

	// --- Catalog ---
	cat := catalog.Default(cfg.Catalog.MaxSpecies)
	if cfg.Catalog.Path != "" {
		if cat, err = catalog.Load(cfg.Catalog.Path); err != nil {
			return fmt.Errorf("loading species catalog: %w", err)
		}
	}

	// --- Subscriptions ---
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening subscription store: %w", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("initializing subscription store: %w", err)
	}
	access := subscription.NewStaticAccess(cfg.Access)
	subs := subscription.NewManager(cfg.Subscriptions, store, cat, access, regionNames, loc, logger)
	if err := subs.Load(ctx); err != nil {
		return err
	}
	matcher := subscription.NewMatcher(cfg.Subscriptions, access, access, cat, loc, logger)

	// --- Delivery ---
	logChannel := delivery.NewLogChannel(logger)
	var fallback delivery.Channel = logChannel
	if cfg.Delivery.Kafka.Enabled {
		kc, err := delivery.NewKafkaChannel(cfg.Delivery.Kafka.Brokers, cfg.Delivery.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("creating kafka delivery: %w", err)
		}
		defer kc.Close()
		if cfg.Delivery.Default == "kafka" {
			fallback = kc
		}
	}
	router := delivery.NewRouter(delivery.NewWebhookChannel(cfg.Delivery.Webhook.Timeout), logChannel, fallback)

	statsStore := stats.NewStore(0)
	hist := history.NewStore(cfg.History.StoreLimit)
	q := queue.New(cfg.Queue.Delay, router, logger)
	q.Observe(hist.Observe)
	q.Observe(statsStore.RecordDelivery)

	// --- Pipeline ---
	events := make(chan model.Event, cfg.Ingest.ChannelBuffer)
	eng := engine.NewEngine(cfg, logger, engine.Deps{
		Alarms:        alarm.NewEngine(ruleStore, logger),
		Matcher:       matcher,
		Subscriptions: subs,
		Regions:       regionFences,
		Queue:         q,
		Stats:         statsStore,
	})
	onReject := func(kind model.Kind, _ error) {
		statsStore.RecordEvent(kind, stats.OutcomeRejected)
	}

	applyConfig := func(next *config.Config) {
		access.Update(next.Access)
		subs.UpdateConfig(next.Subscriptions)
		matcher.UpdateConfig(next.Subscriptions)
		eng.UpdateConfig(next)
		logger.Info("config reloaded", "path", cfgManager.Path())
	}

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return eng.Run(gctx, events) })
	g.Go(func() error { return q.Run(gctx) })
	g.Go(func() error { return subs.Run(gctx, cfg.Subscriptions.RefreshInterval) })

	g.Go(func() error {
		cfgManager.Watch(gctx, 3*time.Second, applyConfig, func(err error) {
			logger.Error("config reload failed", "err", err)
		})
		return nil
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("SIGHUP received, reloading")
				_ = ruleStore.Reload()
				if next, err := cfgManager.Reload(); err != nil {
					logger.Error("config reload failed", "err", err)
				} else {
					applyConfig(next)
				}
			}
		}
	})

	if cfg.Rules.Watch {
		watcher := rules.NewWatcher(ruleStore, cfg.Rules.WatchDebounce, logger)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if cfg.Ingest.REST.Enabled {
		rest := ingest.NewRESTHandler(events, cfg.Ingest.REST.MaxBodyBytes, onReject, logger)
		g.Go(func() error { return rest.Serve(gctx, cfg.Ingest.REST.Addr) })
	} else {
		logger.Info("rest ingest disabled")
	}

	if cfg.Ingest.Kafka.Enabled {
		consumer := ingest.NewKafkaConsumer(cfg.Ingest.Kafka, events, onReject, logger)
		g.Go(func() error { return consumer.Run(gctx) })
	} else {
		logger.Info("kafka ingest disabled")
	}

	if cfg.API.Enabled {
		srv := api.New(cfg.API.Addr, api.Deps{
			Config:        cfgManager,
			Rules:         ruleStore,
			Engine:        eng,
			Queue:         q,
			Stats:         statsStore,
			History:       hist,
			Subscriptions: subs,
		}, logger, version)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if cfg.Stats.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Stats.Redis.Addr,
			Password: cfg.Stats.Redis.Password,
			DB:       cfg.Stats.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, stats will be retried", "addr", cfg.Stats.Redis.Addr, "err", err)
		}
		reporter := stats.NewReporter(statsStore, rdb, stats.ReporterOptions{
			Key:      cfg.Stats.Redis.Key,
			Interval: cfg.Stats.Redis.Interval,
			TTL:      cfg.Stats.Redis.TTL,
			TopN:     cfg.Stats.TopN,
		}, logger)
		g.Go(func() error { return reporter.Run(gctx) })
	}

	logger.Info("spawnwatch started",
		"version", version,
		"rules", len(ruleStore.Current().Rules),
		"subscriptions", len(subs.Snapshot()),
		"timezone", loc.String(),
	)
	return g.Wait()
}
