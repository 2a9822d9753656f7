// pulsed runs a pulse worker node with the admin HTTP API. Configuration
// comes from the environment; see the env tags on config below.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/api"
	"github.com/xraph/pulse/engine"
	"github.com/xraph/pulse/store"
	"github.com/xraph/pulse/store/memory"
	"github.com/xraph/pulse/store/postgres"
	"github.com/xraph/pulse/store/redis"
)

type config struct {
	Store         string        `env:"PULSE_STORE" envDefault:"redis"`
	RedisAddr     string        `env:"PULSE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"PULSE_REDIS_PASSWORD"`
	PostgresDSN   string        `env:"PULSE_POSTGRES_DSN"`
	HTTPAddr      string        `env:"PULSE_HTTP_ADDR" envDefault:":8484"`
	Queues        []string      `env:"PULSE_QUEUES" envDefault:"default"`
	Concurrency   int           `env:"PULSE_CONCURRENCY" envDefault:"10"`
	DrainTimeout  time.Duration `env:"PULSE_DRAIN_TIMEOUT" envDefault:"30s"`
	LogLevel      slog.Level    `env:"PULSE_LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("pulsed exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	ecfg := pulse.DefaultConfig()
	ecfg.Queues = cfg.Queues
	ecfg.Concurrency = cfg.Concurrency
	ecfg.DrainTimeout = cfg.DrainTimeout

	eng, err := engine.Build(st, ecfg,
		engine.WithLogger(logger),
		engine.WithBroadcast(st),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	logger.Info("engine started",
		"store", cfg.Store,
		"queues", strings.Join(cfg.Queues, ","),
		"concurrency", cfg.Concurrency,
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(eng, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErr:
		return fmt.Errorf("admin api: %w", err)
	}

	// Stop taking admin traffic first, then drain the engine. Both get
	// a fresh deadline since the signal context is already done.
	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("admin api shutdown", "error", err)
	}
	if err := eng.Stop(shutCtx); err != nil {
		return fmt.Errorf("stop engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg config) (store.Store, error) {
	switch cfg.Store {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		return redis.New(client), nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, errors.New("PULSE_POSTGRES_DSN is required for the postgres store")
		}
		s, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return s, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q (want redis, postgres, or memory)", cfg.Store)
	}
}
