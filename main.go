package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/s1natex/todo-fixture-api/internal/auth"
	"github.com/s1natex/todo-fixture-api/internal/config"
	"github.com/s1natex/todo-fixture-api/internal/middleware"
	"github.com/s1natex/todo-fixture-api/internal/tasks"
	"github.com/s1natex/todo-fixture-api/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger) // for third-party packages that use slog

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.TraceExporter, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	repo, closeRepo, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	keys, err := auth.NewRemoteKeySet(ctx, auth.RemoteKeySetConfig{
		URL:                cfg.JWKSURL,
		RefreshInterval:    cfg.JWKSRefreshInterval,
		WarmupTimeout:      cfg.JWKSWarmupTimeout,
		UnknownKIDInterval: cfg.JWKSUnknownKIDGap,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	verifier := auth.NewVerifier(keys, auth.VerifierConfig{
		Issuer:        cfg.Issuer,
		RequiredScope: cfg.RequiredScope,
		Leeway:        30 * time.Second,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(cfg, repo, verifier, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listen",
			slog.String("addr", cfg.Addr),
			slog.String("store", cfg.StoreDriver),
			slog.String("issuer", cfg.Issuer),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_error", slog.String("error", err.Error()))
			return err
		}
	case <-ctx.Done():
		logger.Info("server_shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func newStore(ctx context.Context, cfg *config.Config) (tasks.Store, func(), error) {
	if cfg.StoreDriver != config.StoreSQLite {
		return tasks.NewInMemoryRepo(), func() {}, nil
	}
	dsn := cfg.SQLiteDSN
	if cfg.SQLitePath != "" {
		var err error
		dsn, err = tasks.SQLiteFileDSN(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite path: %w", err)
		}
	}
	repo, err := tasks.NewSQLiteRepo(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := repo.ApplyMigrations(ctx); err != nil {
		_ = repo.Close()
		return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return repo, func() { _ = repo.Close() }, nil
}

// newRouter wires the public endpoints, task routes, and middleware stack
func newRouter(cfg *config.Config, repo tasks.Store, verifier middleware.TokenVerifier, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// ---- Middleware stack (order matters a bit) ----
	// RequestID first so downstream can include it (logger, errors, etc.)
	r.Use(chimw.RequestID)

	// Panic recovery: never crash the server; returns 500 on panics
	r.Use(chimw.Recoverer)

	// Timeouts: cancel handlers that exceed this duration
	r.Use(chimw.Timeout(cfg.RequestTimeout))

	// CORS for the browser frontend
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Trace-Id"},
		AllowCredentials: false,
		MaxAge:           300, // 5 minutes
	}))

	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.RateLimitMiddleware(middleware.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)))

	// ---- Routes ----

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"_links": map[string]string{
				"tasks": scheme + "://" + r.Host + "/tasks",
			},
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", middleware.MetricsHandler())

	if cfg.EnableDebugReset {
		logger.Warn("debug_reset_enabled")
		tasks.RegisterDebugRoutes(r, repo, logger)
	}

	// everything under /tasks requires a verified bearer token
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(middleware.AuthConfig{
			Verifier: verifier,
			Logger:   logger,
		}))
		tasks.RegisterRoutes(r, repo, logger)
	})

	return r
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: l,
	})
	return slog.New(handler)
}
