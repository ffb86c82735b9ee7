package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/engine"
	"github.com/xraph/conductor/inference"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/store/postgres"
	"github.com/xraph/conductor/store/redis"
)

// app bundles what every command opens.
type app struct {
	cfg    Config
	logger *slog.Logger
	eng    *engine.Engine
	redis  *goredis.Client
}

// openApp loads configuration, opens and migrates the store, and builds
// an engine without starting it.
func openApp(ctx context.Context, registerer prometheus.Registerer) (*app, error) {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: cfg.Logger()}
	a.logger.Debug("configuration loaded",
		slog.String("driver", cfg.Driver()),
		slog.String("flags", commandLine()),
	)

	if cfg.Store.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = goredis.NewClient(opts)
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.Driver(), err)
	}

	c, err := conductor.New(
		conductor.WithConfig(cfg.Conductor),
		conductor.WithLogger(a.logger),
		conductor.WithStore(s),
	)
	if err != nil {
		return nil, err
	}

	ollamaOpts := []inference.OllamaOption{inference.WithLogger(a.logger)}
	for class, model := range cfg.Ollama.Models {
		ollamaOpts = append(ollamaOpts, inference.WithModel(class, model))
	}
	if cfg.Ollama.RateLimit > 0 {
		ollamaOpts = append(ollamaOpts, inference.WithRateLimit(cfg.Ollama.RateLimit, cfg.Ollama.RateBurst))
	}

	engOpts := []engine.Option{
		engine.WithQueues(cfg.Queues...),
		engine.WithInference(inference.NewOllama(cfg.Ollama.URL, ollamaOpts...)),
		engine.WithSchedule(cfg.Schedules...),
	}
	if registerer != nil {
		engOpts = append(engOpts, engine.WithPrometheusRegisterer(registerer))
	}
	if cfg.Events.Redis && a.redis != nil {
		engOpts = append(engOpts, engine.WithRedisPublisher(a.redis, cfg.Events.Codec))
	}

	a.eng, err = engine.Build(c, engOpts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.Driver() {
	case "postgres":
		return postgres.New(ctx, a.cfg.Store.PostgresURL, postgres.WithLogger(a.logger))
	case "redis":
		return redis.New(a.redis, redis.WithLogger(a.logger)), nil
	default:
		a.logger.Warn("using in-memory store; jobs do not survive restarts")
		return memory.New(), nil
	}
}

// close stops the engine, which closes the store, then the redis client.
func (a *app) close(ctx context.Context) {
	if err := a.eng.Stop(ctx); err != nil {
		a.logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
