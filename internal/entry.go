// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tripbook/internal/api"
	"github.com/starford/tripbook/internal/kv"
	"github.com/starford/tripbook/internal/mcpserver"
	"github.com/starford/tripbook/internal/mirror"
	"github.com/starford/tripbook/internal/sse"
	"github.com/starford/tripbook/internal/trip"
	"github.com/starford/tripbook/internal/tripstore"
	"github.com/starford/tripbook/internal/watch"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger(fallback io.Writer) *slog.Logger {
	out := a.logOutput
	if out == nil {
		out = fallback
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openBackend returns the configured backend and a function releasing it.
func (a *application) openBackend() (kv.Backend, func(), error) {
	if a.backend != nil {
		return a.backend, func() {}, nil
	}
	b, err := openBackend(a.config.Store)
	if err != nil {
		return nil, nil, err
	}
	return b, func() { _ = b.Close() }, nil
}

func openBackend(cfg StoreConfig) (kv.Backend, error) {
	switch cfg.Backend {
	case BackendFS:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return kv.NewFS(cfg.Path)
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		return kv.OpenSQLite(cfg.Path)
	case BackendMemory:
		return kv.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func newStore(cfg *Config, backend kv.Backend, logger *slog.Logger, notify tripstore.Notifier) *tripstore.Store {
	opts := []tripstore.Option{
		tripstore.WithPolicy(cfg.Store.Policy),
		tripstore.WithRetry(cfg.Store.Retry.Options()),
		tripstore.WithLogger(logger),
	}
	if notify != nil {
		opts = append(opts, tripstore.WithNotifier(notify))
	}
	return tripstore.New(backend, opts...)
}

// newRouter builds the root HTTP handler: health probes, the trip API under
// /api and uploaded images under /images.
func newRouter(cfg *Config, backend kv.Backend, store *tripstore.Store, broker *sse.Broker, sharer api.Sharer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := backend.Keys(req.Context(), trip.KeyPrefix); err != nil {
			slog.Warn("readiness check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	var events http.Handler
	if broker != nil {
		events = broker
	}
	r.Mount("/api", api.NewRouter(store, sharer, cfg.Auth.AuthEnabled(), cfg.Auth.Token, events, cfg.Images.Dir))
	r.Mount("/images", api.NewImageRouter(cfg.Images.Dir))

	return r
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger(os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("store_path", cfg.Store.Path),
		slog.String("policy", string(cfg.Store.Policy)),
		slog.String("images_dir", cfg.Images.Dir),
		slog.Bool("mirror", cfg.Mirror.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	backend, release, err := app.openBackend()
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer release()

	broker := sse.NewBroker(cfg.Store.ListThrottle)
	defer broker.Close()

	store := newStore(cfg, backend, logger, func(kind tripstore.EventKind, id string) {
		broker.PublishTripEvent(string(kind), id, "store")
	})

	var sharer api.Sharer
	if cfg.Mirror.Enabled() {
		sharer = mirror.New(cfg.Mirror.URL, cfg.Mirror.Token, cfg.Mirror.Timeout)
	}

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: newRouter(cfg, backend, store, broker, sharer),
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Only the filesystem backend can be edited behind our back.
	if fsBackend, ok := backend.(*kv.FS); ok {
		w := watch.New(fsBackend, logger, func(kind, id string) {
			broker.PublishTripEvent(kind, id, "disk")
		})
		g.Go(func() error {
			if err := w.Run(gCtx); err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the trip tools over MCP on stdin/stdout until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger(os.Stderr)

	backend, release, err := app.openBackend()
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer release()

	store := newStore(cfg, backend, logger, nil)
	logger.Info("MCP server starting", slog.String("store_backend", cfg.Store.Backend))

	srv := mcpserver.New(store, cfg.Images.Dir)
	if err := srv.ServeStdio(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
