package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/config"
	httpHandler "github.com/layzsource/midi-morphing-power-arranger-sub002/internal/delivery/http"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/delivery/ws"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/journal"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/logger"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/middleware"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/usecase"
)

func main() {
	// Load .env file (ignore error if not exists, e.g. in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	level, silent := logger.ParseLevel(cfg.LogLevel)
	logger.Init(logger.Config{
		Service: cfg.Service,
		Version: cfg.Version,
		Env:     logger.ParseEnv(cfg.LogEnv),
		Backend: logger.Backend(cfg.LogBackend),
		Level:   level,
		Silent:  silent,
	})

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies
	engine := usecase.NewEngine(cfg.FeedFPS)

	var (
		recorder ws.Recorder
		events   httpHandler.EventLister
	)
	if cfg.JournalPath != "" {
		store, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder, events = store, store
		slog.Info("journal enabled", "path", cfg.JournalPath)
	}

	var (
		metrics        *ws.Metrics
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = ws.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	coord := ws.NewCoordinator(ws.NewRegistry(cfg.MaxHistorySize), recorder, metrics, engine)
	handler := httpHandler.NewHandler(coord, engine, httpHandler.HandlerOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Events:         events,
		Client: ws.ClientOptions{
			QueueSize:      cfg.SendQueueSize,
			MaxMessageSize: int64(cfg.MaxMessageSize),
			FeedInterval:   cfg.FeedInterval(),
		},
	})

	apiLimiter := middleware.NewIPRateLimiter(cfg.RateLimitAPI, int(cfg.RateLimitAPI)*2)
	wsLimiter := middleware.NewIPRateLimiter(cfg.RateLimitWS, int(cfg.RateLimitWS)*2)
	go apiLimiter.Run(ctx)
	go wsLimiter.Run(ctx)

	router := httpHandler.NewRouter(httpHandler.RouterDeps{
		Handler:        handler,
		AllowedOrigins: cfg.AllowedOrigins,
		APILimiter:     apiLimiter,
		WSLimiter:      wsLimiter,
		Metrics:        metricsHandler,
	})

	// Create server with timeouts. Upgraded connections manage their own
	// deadlines and end when ctx is cancelled.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("collaboration server listening",
			"addr", server.Addr, "feed_fps", cfg.FeedFPS, "journal", cfg.JournalPath != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// hijacked connections are not tracked by Shutdown
	if err := handler.Drain(shutdownCtx); err != nil {
		slog.Warn("connections still open at exit", "err", err)
	}
	slog.Info("server exited gracefully")
	return nil
}
