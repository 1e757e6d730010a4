package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"buddyband/internal/app"
	"buddyband/internal/config"
	"buddyband/internal/logging"
	"buddyband/internal/remote"
	"buddyband/internal/telemetry"
)

// Worker consumes queued device readings and applies them to the store.
func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if app.InProcessWorker(cfg) {
		log.Warn("memory store or queue is private to the api process; this worker will see nothing",
			zap.String("store", cfg.StoreBackend), zap.String("queue", cfg.QueueBackend))
	}

	res, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("open resources failed", zap.Error(err))
	}
	defer func() { _ = res.Close() }()

	src := remote.NewSource(res.Backend, log.Named("remote"))
	svc := telemetry.NewService(src, log.Named("telemetry"), telemetry.WithLowBattery(cfg.LowBatteryPercent))

	log.Info("worker started, waiting for readings")
	if err := telemetry.Consume(ctx, res.Queue, svc, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", zap.Error(err))
		return
	}
	log.Info("worker stopped")
}
