// Package app opens the store, queue and connections selected by config.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"buddyband/internal/config"
	"buddyband/internal/handler"
	"buddyband/internal/queue"
	"buddyband/internal/remote"
	"buddyband/internal/store"
)

// Resources are the long-lived dependencies shared by the binaries.
type Resources struct {
	Backend remote.Backend
	Queue   queue.Queue
	Checks  map[string]handler.HealthCheck

	closers []func() error
}

// Open connects to the configured store and queue. On error everything
// opened so far is closed.
func Open(ctx context.Context, cfg config.App, log *zap.Logger) (*Resources, error) {
	res := &Resources{Checks: make(map[string]handler.HealthCheck)}
	if err := res.open(ctx, cfg, log); err != nil {
		_ = res.Close()
		return nil, err
	}
	return res, nil
}

func (res *Resources) open(ctx context.Context, cfg config.App, log *zap.Logger) error {
	var rdb *store.Redis
	if cfg.StoreBackend == config.BackendRedis || cfg.QueueBackend == config.BackendRedis {
		rdb = store.NewRedis(cfg.RedisAddr)
		res.closers = append(res.closers, rdb.Close)
		res.Checks["redis"] = rdb.Healthy
		if !rdb.Healthy(ctx) {
			log.Warn("redis not reachable yet", zap.String("addr", cfg.RedisAddr))
		}
	}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		res.Backend = remote.NewRedisBackend(rdb.Client, cfg.RedisPrefix, log)
	case config.BackendPostgres:
		db, err := store.NewDB(cfg.DatabaseURL)
		if db != nil {
			res.closers = append(res.closers, db.Close)
		}
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		res.Checks["db"] = db.Healthy
		pg := remote.NewPostgresBackend(db.Client, log)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		res.Backend = pg
	default:
		mem := remote.NewMemoryBackend()
		if cfg.SeedFile != "" {
			if err := seed(mem, cfg.SeedFile); err != nil {
				return err
			}
			log.Info("memory store seeded", zap.String("file", cfg.SeedFile))
		}
		res.Backend = mem
	}
	res.closers = append(res.closers, res.Backend.Close)

	switch cfg.QueueBackend {
	case config.BackendRedis:
		res.Queue = queue.NewRedisQueue(rdb.Client, cfg.RedisPrefix+":telemetry", log)
	default:
		res.Queue = queue.NewInMemory(256)
	}
	return nil
}

// InProcessWorker reports whether readings must be applied by the API
// process itself because nothing else can reach its queue or store.
func InProcessWorker(cfg config.App) bool {
	return cfg.QueueBackend == config.BackendMemory || cfg.StoreBackend == config.BackendMemory
}

// Close releases resources in reverse order of opening.
func (res *Resources) Close() error {
	var errs []error
	for i := len(res.closers) - 1; i >= 0; i-- {
		errs = append(errs, res.closers[i]())
	}
	res.closers = nil
	return errors.Join(errs...)
}

func seed(mem *remote.MemoryBackend, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return mem.Seed(f)
}
