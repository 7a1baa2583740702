package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/scoopsocials/scoop-trust/internal/api"
	"github.com/scoopsocials/scoop-trust/internal/config"
	"github.com/scoopsocials/scoop-trust/internal/counter"
	"github.com/scoopsocials/scoop-trust/internal/hermes"
	"github.com/scoopsocials/scoop-trust/internal/memstore"
	"github.com/scoopsocials/scoop-trust/internal/metrics"
	"github.com/scoopsocials/scoop-trust/internal/moderation"
	"github.com/scoopsocials/scoop-trust/internal/ratelimit"
	"github.com/scoopsocials/scoop-trust/internal/slack"
	"github.com/scoopsocials/scoop-trust/internal/store"
)

func main() {
	dotenvErr := config.LoadDotEnv()
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	if dotenvErr != nil {
		slog.Debug("no .env file loaded", "error", dotenvErr)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	policy, err := cfg.Policy()
	if err != nil {
		slog.Error("failed to load moderation policy", "error", err)
		os.Exit(1)
	}

	slog.Info("scoop-trust starting", "port", cfg.Port, "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serverOpts []api.Option

	// Record store
	var records moderation.Store
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx, slog.Default()); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		records = db
		serverOpts = append(serverOpts, api.WithHealthCheck("postgres", db.Ping))
		slog.Info("database connected")
	} else {
		records = memstore.New()
		slog.Warn("DATABASE_URL not set, using in-memory record store")
	}

	// Counter store
	var counters ratelimit.CounterStore
	if cfg.RedisURL != "" {
		rdb, err := counter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		redisCounter := counter.NewRedis(rdb)
		defer redisCounter.Close()
		counters = redisCounter
		serverOpts = append(serverOpts, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	} else {
		counters = counter.NewMemory()
		slog.Warn("REDIS_URL not set, using in-memory counter store")
	}
	limiter := ratelimit.New(counters, slog.Default(), ratelimit.WithFailOpen(cfg.CounterFailOpen))
	if cfg.CounterFailOpen {
		slog.Warn("daily flag limit fails open when the counter store is down")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	serverOpts = append(serverOpts, api.WithMetricsHandler(m.Handler()))

	// Notifiers
	var notifiers moderation.Notifiers
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		notifiers = append(notifiers, hermes.NewNotifier(hermesClient))
		serverOpts = append(serverOpts, api.WithHealthCheck("nats", func(context.Context) error {
			if !hermesClient.Connected() {
				return errors.New("not connected")
			}
			return nil
		}))
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, events will not be published")
	}

	// Slack alerts are optional, the queue works without them.
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifiers = append(notifiers, slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default()))
		slog.Info("slack alerts ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, running without urgent flag alerts")
	}

	svc := moderation.New(records, limiter, notifiers, policy, slog.Default(), moderation.WithMetrics(m))

	if hermesClient != nil {
		if err := hermesClient.Subscribe(hermes.SubjectUserRegistered, svc.HandleUserRegistered); err != nil {
			slog.Error("failed to subscribe to user registrations", "error", err)
			os.Exit(1)
		}
	}

	serverOpts = append(serverOpts, api.WithAPIToken(cfg.APIToken))
	srv := api.NewServer(cfg.Port, svc, slog.Default(), serverOpts...)

	slog.Info("scoop-trust ready", "port", cfg.Port, "need_info_expiry", policy.NeedInfoExpiry)
	if err := srv.Start(ctx); err != nil {
		slog.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
	slog.Info("scoop-trust stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
