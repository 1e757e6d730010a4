package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"buddyband/internal/app"
	"buddyband/internal/auth"
	"buddyband/internal/config"
	"buddyband/internal/dashboard"
	"buddyband/internal/handler"
	"buddyband/internal/httpmiddleware"
	"buddyband/internal/logging"
	"buddyband/internal/remote"
	"buddyband/internal/telemetry"
)

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

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("api failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	src := remote.NewSource(res.Backend, log.Named("remote"))
	registry := dashboard.NewRegistry(src, log.Named("dashboard"),
		dashboard.WithEngineOptions(dashboard.WithResyncDelay(cfg.ResyncDelay)),
		dashboard.WithIdleTTL(cfg.EngineIdleTTL),
	)
	defer registry.Close()

	readings := telemetry.NewService(src, log.Named("telemetry"), telemetry.WithLowBattery(cfg.LowBatteryPercent))
	if app.InProcessWorker(cfg) {
		log.Info("applying telemetry in-process", zap.String("store", cfg.StoreBackend), zap.String("queue", cfg.QueueBackend))
		go func() {
			if err := telemetry.Consume(ctx, res.Queue, readings, log.Named("worker")); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("in-process worker stopped", zap.Error(err))
			}
		}()
	}

	h := handler.New(handler.Deps{
		Registry:  registry,
		Readings:  readings,
		Queue:     res.Queue,
		Issuer:    auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL),
		Limiter:   httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Checks:    res.Checks,
		Log:       log.Named("http"),
		DevTokens: !cfg.Production(),
	})
	r := gin.New()
	h.Register(r)

	// WriteTimeout stays zero: the dashboard stream is long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}
