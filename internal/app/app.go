package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/habitloop/notifier/internal/api"
	"github.com/habitloop/notifier/internal/cache"
	"github.com/habitloop/notifier/internal/config"
	"github.com/habitloop/notifier/internal/db"
	"github.com/habitloop/notifier/internal/dispatch"
	"github.com/habitloop/notifier/internal/logstore"
	"github.com/habitloop/notifier/internal/metrics"
	"github.com/habitloop/notifier/internal/repository"
	"github.com/habitloop/notifier/internal/segment"
	"github.com/habitloop/notifier/internal/transport"
	"github.com/habitloop/notifier/internal/worker"
)

// App is the main application
type App struct {
	config        *config.Config
	database      *db.DB
	logs          *logstore.Store
	cache         cache.Cache
	queuePub      *transport.QueuePublisher
	dispatcher    *dispatch.Dispatcher
	scanner       *dispatch.Scanner
	apiServer     *api.Server
	metricsServer *metrics.Server
	worker        *worker.Worker
	logger        *slog.Logger
}

// New wires all components from configuration
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logs, err := logstore.Open(cfg.LogStore.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open delivery log store: %w", err)
	}

	var c cache.Cache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c = rc
		logger.Info("redis cache enabled")
	} else {
		c = &cache.NoOpCache{}
	}

	recipients := repository.NewRecipientRepository(database.DB)
	notifications := repository.NewNotificationRepository(database.DB)

	resolver := segment.NewResolver(recipients, segment.Windows{
		ActiveWindow:   time.Duration(cfg.Segments.ActiveWindowDays) * 24 * time.Hour,
		InactiveWindow: time.Duration(cfg.Segments.InactiveWindowDays) * 24 * time.Hour,
		RelapseWindow:  time.Duration(cfg.Segments.RelapseWindowDays) * 24 * time.Hour,
		StreakCutoff:   cfg.Segments.StreakCutoffDays,
	})

	var senders []transport.Sender
	var queuePub *transport.QueuePublisher

	if cfg.Push.BaseURL != "" {
		senders = append(senders, transport.NewPushClient(cfg.Push.BaseURL, cfg.Push.APIKey))
		logger.Info("push channel enabled", "gateway", cfg.Push.BaseURL)
	}
	if cfg.Email.Enabled {
		senders = append(senders, transport.NewEmailSender(
			cfg.Email.Addr, cfg.Email.From, cfg.Email.Username, cfg.Email.Password))
		logger.Info("email channel enabled", "addr", cfg.Email.Addr)
	}
	if cfg.AMQP.Enabled {
		queuePub, err = transport.NewQueuePublisher(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to amqp: %w", err)
		}
		senders = append(senders, queuePub)
		logger.Info("queue channel enabled", "queue", cfg.AMQP.Queue)
	}

	m := metrics.New()

	scanner := dispatch.NewScanner(notifications, cfg.Scheduler.OverdueGrace, cfg.Scheduler.StaleClaim)

	dispatcher := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Notifications:  notifications,
		Recipients:     recipients,
		Resolver:       resolver,
		Logs:           logs,
		Transport:      transport.NewManager(senders...),
		Metrics:        m,
		Logger:         logger.With("component", "dispatcher"),
		Concurrency:    cfg.Dispatch.Concurrency,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
		StaleClaim:     cfg.Scheduler.StaleClaim,
	}, scanner)

	apiServer := api.NewServer(dispatcher, scanner, notifications, resolver, logs, c,
		cfg.Server.ListenAddr, logger.With("component", "api"))

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			logger.With("component", "metrics"))
	}

	var w *worker.Worker
	if cfg.Worker.Enabled {
		w = worker.New(dispatcher, cfg.Worker.PollInterval, logger)
	}

	return &App{
		config:        cfg,
		database:      database,
		logs:          logs,
		cache:         c,
		queuePub:      queuePub,
		dispatcher:    dispatcher,
		scanner:       scanner,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		worker:        w,
		logger:        logger,
	}, nil
}

// Dispatcher exposes the pipeline for one-shot command runs.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Scanner exposes the due/overdue scanner for one-shot command runs.
func (a *App) Scanner() *dispatch.Scanner {
	return a.scanner
}

// Logger returns the configured root logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting notifier",
		"api_addr", a.config.Server.ListenAddr,
		"worker_enabled", a.config.Worker.Enabled,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.worker != nil {
		a.worker.Start()
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// stop producing new work before draining servers
	if a.worker != nil {
		a.worker.Stop()
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.Close()

	a.logger.Info("shutdown complete")
	return nil
}

// Close releases storage and connections, for both serve and one-shot modes.
func (a *App) Close() {
	if a.queuePub != nil {
		if err := a.queuePub.Close(); err != nil {
			a.logger.Error("amqp close error", "error", err)
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("cache close error", "error", err)
	}
	if err := a.logs.Close(); err != nil {
		a.logger.Error("log store close error", "error", err)
	}
	if err := a.database.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
