// Package main is the entrypoint for the chesshelper delivery worker.
//
// The worker is a single long-running process that owns the whole delivery
// pipeline:
//
//  1. Load configuration from the environment and connect to Postgres.
//  2. Apply embedded schema migrations (idempotent).
//  3. Start the background scheduler loops: batch processing, stale-claim
//     sweeping, health probing, and retention cleanup.
//  4. Serve the admin HTTP API alongside /health and /metrics.
//
// Shutdown is cooperative: SIGINT/SIGTERM cancels the root context, the
// scheduler loops drain, and the HTTP server gets a bounded grace period.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"chesshelper/internal/api"
	"chesshelper/internal/config"
	"chesshelper/internal/db"
	"chesshelper/internal/delivery"
	"chesshelper/internal/external"
	"chesshelper/internal/health"
	"chesshelper/internal/mail"
	"chesshelper/internal/observability"
	"chesshelper/internal/queue"
	"chesshelper/internal/render"
	"chesshelper/internal/scheduler"
	"chesshelper/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error, and Warn directly, but With returns
// *slog.Logger rather than types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// newLogger builds the process logger: colorized tint output for local
// development, JSON for everything else.
func newLogger(cfg *config.Config) types.Logger {
	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Environment == "local" {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler).With(
		"service", cfg.Service,
		"env", cfg.Environment,
	)
	return &slogAdapter{logger: logger}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)
	logger.Info("starting delivery worker",
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database.
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("schema migrations applied")
	}

	queueRepo := db.NewQueueRepository(pool)
	suppressionRepo := db.NewSuppressionRepository(pool)
	attemptRepo := db.NewAttemptRepository(pool)

	// Collaborators.
	clock := types.RealClock{}
	metrics := observability.NewMetrics()

	renderer, err := render.NewRenderer(clock)
	if err != nil {
		return fmt.Errorf("build renderer: %w", err)
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}

	engine := mail.NewEngine(
		rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger.With("component", "retry_engine"),
	)

	queueService := queue.NewService(
		queueRepo,
		suppressionRepo,
		attemptRepo,
		renderer,
		clock,
		logger.With("component", "queue"),
		cfg.Processor.DefaultPolicy,
	)

	processor := delivery.NewProcessor(
		queueRepo,
		suppressionRepo,
		attemptRepo,
		engine,
		provider,
		clock,
		logger.With("component", "processor"),
		metrics,
		delivery.ProcessorConfig{
			From: types.SenderIdentity{
				Name:    cfg.Email.FromName,
				Address: cfg.Email.FromAddress,
			},
			Concurrency: cfg.Processor.Concurrency,
			SendTimeout: cfg.Email.SendTimeout,
		},
	)

	monitor := health.NewMonitor(
		queueRepo,
		attemptRepo,
		clock,
		logger.With("component", "health"),
		cfg.Health,
	)

	cleanup, err := newCleanup(cfg, queueRepo, clock, logger)
	if err != nil {
		return err
	}

	// Admin HTTP server.
	server := api.NewServer(api.ServerConfig{
		Queue:        queueService,
		Processor:    processor,
		Health:       monitor,
		Cleanup:      cleanup,
		Suppressions: suppressionRepo,
		Metrics:      metrics.Handler(),
		Logger:       logger.With("component", "http"),
		AdminAPIKey:  cfg.Security.AdminAPIKey,
		MaxBatchSize: cfg.Processor.MaxBatchSize,
		BuildVersion: cfg.Build.Version,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
			stop()
		}
	}()

	// Background loops.
	runner := scheduler.NewRunner(logger.With("component", "scheduler"),
		scheduler.Task{
			Name:     "process_queue",
			Interval: cfg.Scheduler.ProcessInterval,
			Run: func(ctx context.Context) error {
				_, err := processor.ProcessQueue(ctx, nil, cfg.Processor.MaxBatchSize, false)
				return err
			},
		},
		scheduler.Task{
			Name:     "sweep_stale",
			Interval: cfg.Scheduler.SweepInterval,
			Run: func(ctx context.Context) error {
				cutoff := clock.Now().Add(-cfg.Processor.ProcessingTimeout)
				n, err := queueRepo.SweepStale(ctx, cutoff)
				if err != nil {
					return err
				}
				if n > 0 {
					metrics.AddSwept(n)
					logger.Warn("reclaimed stale processing items", "count", n)
				}
				return nil
			},
		},
		scheduler.Task{
			Name:     "health_check",
			Interval: cfg.Scheduler.HealthInterval,
			Run: func(ctx context.Context) error {
				status := monitor.Check(ctx)
				metrics.SetHealthy(status.Healthy)
				stats, err := queueRepo.Statistics(ctx, clock.Now())
				if err != nil {
					return err
				}
				metrics.SetQueueDepth(stats)
				return nil
			},
		},
		scheduler.Task{
			Name:     "cleanup",
			Interval: cfg.Scheduler.CleanupInterval,
			Run: func(ctx context.Context) error {
				result, err := cleanup.Run(ctx, false)
				if err != nil {
					return err
				}
				if result.Purged > 0 {
					logger.Info("retention cleanup finished",
						"purged", result.Purged,
						"archives", len(result.ArchiveFiles),
					)
				}
				return nil
			},
		},
	)

	// Blocks until the signal context is cancelled and all loops drain.
	runner.Start(ctx)

	select {
	case err := <-httpErr:
		return fmt.Errorf("admin API server: %w", err)
	default:
	}

	logger.Info("shutting down", "grace", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	logger.Info("delivery worker stopped")
	return nil
}

// newProvider selects the outbound email transport. The stub provider keeps
// local development free of real sends and API keys.
func newProvider(cfg *config.Config, logger types.Logger) (external.EmailProvider, error) {
	switch cfg.Email.Provider {
	case "stub":
		logger.Warn("using stub email provider; no real mail will be sent")
		return external.NewStubEmailProvider(logger.With("component", "stub_provider")), nil
	case "sendgrid":
		return external.NewSendGridClient(&http.Client{}, external.SendGridClientConfig{
			APIKey: cfg.Email.SendGridAPIKey.Unmask(),
			Logger: logger.With("component", "sendgrid"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}

// newCleanup builds the retention cleanup, with the gzip JSONL archiver when
// archiving is enabled.
func newCleanup(cfg *config.Config, items *db.QueueRepository, clock types.Clock, logger types.Logger) (*scheduler.Cleanup, error) {
	var archiver scheduler.Archiver
	if cfg.Cleanup.ArchiveEnabled {
		fileArchiver, err := scheduler.NewFileArchiver(cfg.Cleanup.ArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
		archiver = fileArchiver
	}
	return scheduler.NewCleanup(items, archiver, clock, logger.With("component", "cleanup"), cfg.Cleanup), nil
}
