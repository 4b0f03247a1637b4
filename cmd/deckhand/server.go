package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsline/deckhand/internal/shell/api"
	"github.com/opsline/deckhand/internal/shell/deploy"
	"github.com/opsline/deckhand/internal/shell/dockerx"
	"github.com/opsline/deckhand/internal/shell/executor"
	"github.com/opsline/deckhand/internal/shell/notify"
	"github.com/opsline/deckhand/internal/shell/store"
	"github.com/opsline/deckhand/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitStartupError = 2
	ExitRuntimeError = 3
)

// =============================================================================
// Server
// =============================================================================

// Server wires the deckhand daemon together: journal, deploy engine,
// dispatcher, janitor and the HTTP surface.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	inspector  *dockerx.Inspector
	dispatcher *workers.Dispatcher
	janitor    *workers.Janitor
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Open the run journal
	st, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitStartupError,
		}
	}

	// A pending or running run in the journal at this point was orphaned
	// by a previous process; settle it before accepting new work.
	failed, err := st.FailAbandonedRuns(context.Background(), "daemon restarted while the run was in flight")
	if err != nil {
		st.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitStartupError,
		}
	}
	if failed > 0 {
		logger.Warn("settled abandoned runs from previous process", "count", failed)
	}

	targets := cfg.Targets()
	if len(targets) == 0 {
		logger.Warn("no deploy targets configured; the daemon will accept nothing")
	}

	execConfig := executor.Config{
		CommandTimeout: cfg.Executor.CommandTimeout,
		ConnectTimeout: cfg.Executor.ConnectTimeout,
	}
	engine := deploy.NewEngine(st, logger, execConfig)

	// The notifier is optional; a nil interface disables it.
	var notifier workers.Notifier
	if cfg.Notify.URL != "" {
		notifier = notify.NewClient(notify.Config{
			URL:       cfg.Notify.URL,
			AuthToken: cfg.Notify.Token,
			Timeout:   cfg.Notify.Timeout,
		}, logger)
		logger.Info("run notifications enabled", "url", cfg.Notify.URL)
	}

	dispatcher := workers.NewDispatcher(targets, st, engine, notifier, workers.DispatcherConfig{
		MaxQueuePerTarget: cfg.Dispatcher.MaxQueuePerTarget,
		DrainTimeout:      cfg.Dispatcher.DrainTimeout,
	}, logger)

	var janitor *workers.Janitor
	if cfg.Janitor.Enabled {
		janitor = workers.NewJanitor(st, workers.JanitorConfig{
			Interval:      cfg.Janitor.Interval,
			Retention:     cfg.Janitor.Retention,
			KeepPerTarget: cfg.Janitor.KeepPerTarget,
		}, logger)
	}

	// The inspector is optional; when enabled the daemon must be reachable,
	// otherwise container observations silently degrade to compose ps.
	var inspector *dockerx.Inspector
	if cfg.Docker.Enabled {
		inspector, err = dockerx.NewInspector(cfg.Docker.Host)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = inspector.Ping(pingCtx)
			cancel()
		}
		if err != nil {
			st.Close()
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitStartupError,
			}
		}
	}

	handler := api.NewHandler(api.Config{
		Store:      st,
		Dispatcher: dispatcher,
		Inspector:  inspector,
		Executor:   execConfig,
		HookSecret: []byte(cfg.Hook.Secret),
		APIToken:   cfg.API.Token,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      st,
		inspector:  inspector,
		dispatcher: dispatcher,
		janitor:    janitor,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.dispatcher.Start()
	if s.janitor != nil {
		s.janitor.Start()
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitRuntimeError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server. Intake stops first so no new
// runs are accepted while the lanes finish their in-flight work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.dispatcher.Stop()

	if s.janitor != nil {
		s.janitor.Stop()
	}

	if s.inspector != nil {
		if err := s.inspector.Close(); err != nil {
			s.logger.Error("docker inspector close error", "error", err)
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("journal close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
