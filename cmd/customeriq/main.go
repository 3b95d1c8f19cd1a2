package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/customeriq/internal/adapter/fsm"
	oteladapter "github.com/neomorfeo/customeriq/internal/adapter/otel"
	redisadapter "github.com/neomorfeo/customeriq/internal/adapter/redis"
	riveradapter "github.com/neomorfeo/customeriq/internal/adapter/river"
	"github.com/neomorfeo/customeriq/internal/adapter/sqlite"
	"github.com/neomorfeo/customeriq/internal/app"
	"github.com/neomorfeo/customeriq/internal/config"
	"github.com/neomorfeo/customeriq/internal/domain"

	handler "github.com/neomorfeo/customeriq/internal/adapter/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("customeriq stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CUSTOMERIQ_CONFIG"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	providers, err := oteladapter.Setup(ctx, oteladapter.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Telemetry.Environment,
		Exporter:       cfg.Telemetry.Exporter,
		Insecure:       cfg.Telemetry.Environment == "development",
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := oteladapter.OpenDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	store, err := sqlite.NewFromDB(db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("database: %w", err)
	}
	defer store.Close()

	counters, closeCounters, err := newCounterStore(ctx, cfg, store)
	if err != nil {
		return fmt.Errorf("counters: %w", err)
	}
	defer closeCounters()
	counters = oteladapter.NewTracingCounterStore(counters)
	audit := oteladapter.NewTracingAuditTrail(store.Audit())

	graph, err := cfg.Graph()
	if err != nil {
		return fmt.Errorf("state graph: %w", err)
	}
	policy := cfg.CountingPolicy()

	// --- Reconciliation jobs ---
	gate := app.NewCountGate()
	reconciler := app.NewReconciler(audit, counters, gate, logger)
	client, err := riveradapter.Setup(ctx, db, riveradapter.Config{
		Reconciler: reconciler,
		Counting:   policy,
		Interval:   cfg.Reconcile.Interval,
		Lookback:   cfg.Reconcile.Lookback,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}
	// River stops its workers when the start context ends, so it gets its
	// own and is stopped explicitly after the HTTP server drains.
	if err := client.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("river start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			logger.Error("river shutdown", "error", err)
		}
	}()

	// --- Application ---
	metrics, err := oteladapter.NewTransitionMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	svc := app.NewLifecycleService(
		oteladapter.NewTracingCustomerRepository(store.Customers()),
		audit,
		counters,
		fsm.New(graph),
		app.LifecycleConfig{
			InitialState:   graph.Initial(),
			Counting:       policy,
			MaxAttempts:    cfg.Lifecycle.MaxAttempts,
			RecordCreation: cfg.Lifecycle.RecordCreation,
		},
		app.WithReconcileQueue(riveradapter.NewQueue(client)),
		app.WithCountGate(gate),
		app.WithObserver(metrics),
	)

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(otelchi.Middleware(cfg.Telemetry.ServiceName, otelchi.WithChiRoutes(router)))
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	api := humachi.New(router, huma.DefaultConfig("customeriq", cfg.Telemetry.ServiceVersion))
	handler.Register(api, svc)

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("customeriq listening",
			"addr", srv.Addr,
			"docs", "http://localhost:"+cfg.HTTP.Port+"/docs",
			"counter_backend", cfg.Counters.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("stopped")
	return nil
}

// newCounterStore returns the configured counter backend and a function
// releasing it.
func newCounterStore(ctx context.Context, cfg config.Config, store *sqlite.Store) (domain.CounterStore, func(), error) {
	if cfg.Counters.Backend != config.BackendRedis {
		return store.Counters(), func() {}, nil
	}

	client := goredis.NewClient(&goredis.Options{Addr: cfg.Counters.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Counters.RedisAddr, err)
	}
	return redisadapter.NewCounterStore(client, cfg.Counters.RedisPrefix), func() { _ = client.Close() }, nil
}

// requestLogger logs one structured line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
