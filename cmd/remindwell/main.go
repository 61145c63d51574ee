// Package main is the entry point for the remindwell scheduler service.
//
// It wires the three pillars together: the constraint evaluator (profiles,
// prayer and cultural-calendar upstreams, result cache), the batching
// optimizer (battery-keyed strategies) and the task orchestrator (periodic
// jobs driving the delivery pipeline). The HTTP API runs alongside the
// orchestrator in the same process and shares its working set.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// the orchestrator loop stops first, in-flight job cycles finish under their
// own budget deadlines, then the HTTP server drains.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"remindwell/internal/api"
	"remindwell/internal/archive"
	"remindwell/internal/batching"
	"remindwell/internal/config"
	"remindwell/internal/constraint"
	"remindwell/internal/db"
	"remindwell/internal/external"
	"remindwell/internal/metrics"
	"remindwell/internal/orchestrator"
	"remindwell/internal/queue"
	"remindwell/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("remindwell starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database pool.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = cfg.Database.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	// AWS clients. BaseEndpoint overrides route everything to LocalStack in
	// local development.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	clock := types.RealClock{}

	// Repositories.
	constraintRepo := db.NewConstraintRepository(pool)
	workRepo := db.NewWorkRepository(pool)
	jobStateRepo := db.NewJobStateRepository(pool)
	batchRepo := db.NewBatchRepository(pool)

	// Upstream collaborators.
	httpClient := &http.Client{Timeout: cfg.Upstream.RequestTimeout}
	prayerClient := external.NewPrayerClient(httpClient, external.PrayerClientConfig{
		BaseURL:   cfg.Upstream.PrayerAPIBaseURL,
		UserAgent: cfg.Upstream.UserAgent,
		Logger:    logger,
	})
	calendarClient := external.NewCalendarClient(httpClient, external.CalendarClientConfig{
		BaseURL:   cfg.Upstream.CalendarAPIBaseURL,
		UserAgent: cfg.Upstream.UserAgent,
		Logger:    logger,
	}, clock)

	var battery types.BatterySource
	if cfg.Upstream.BatteryPath != "" {
		battery = external.NewSysfsBatterySource(cfg.Upstream.BatteryPath)
	} else {
		// No battery on this host; full charge keeps batching unconstrained.
		battery = &external.StaticBatterySource{Level: 100}
	}

	// Constraint evaluation.
	cache := constraint.NewResultCache(cfg.Evaluator.CacheSize, cfg.Evaluator.CacheTTL)
	profiles := constraint.NewProfileSet(constraint.ProfileSetConfig{
		Store:    constraintRepo,
		Work:     workRepo,
		Cache:    cache,
		Prayer:   prayerClient,
		Calendar: calendarClient,
		Clock:    clock,
		Logger:   logger,
	})
	evaluator := constraint.NewEvaluator(profiles, cache, clock, constraint.Config{
		MinLeadTime:        cfg.Evaluator.MinLeadTime,
		SearchHorizonSteps: cfg.Evaluator.SearchHorizonSteps,
		SearchStep:         cfg.Evaluator.SearchStep,
	}, logger)

	// Batching.
	optimizer := batching.NewOptimizer(evaluator, battery, profiles, clock, batching.Config{
		BaseCostPerItemMAh: cfg.Batching.BaseCostPerItemMAh,
		MinBatchSize:       cfg.Batching.MinBatchSize,
		MaxBatchSize:       cfg.Batching.MaxBatchSize,
	}, logger)

	// Dispatch, archive, metrics.
	dispatcher := queue.NewDispatcher(sqsClient, cfg.AWS, logger)
	archiver, err := archive.NewArchiver(archive.NewFileSink(cfg.Orchestrator.ArchiveDir), clock, logger)
	if err != nil {
		return fmt.Errorf("creating archiver: %w", err)
	}
	metricsPub := metrics.NewCloudWatchPublisher(cwClient, cfg.AWS.MetricNamespace)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.MaxConcurrentJobs = cfg.Orchestrator.MaxConcurrentJobs
	orchCfg.CycleBudget = cfg.Orchestrator.CycleBudget
	orchCfg.AdaptInterval = cfg.Orchestrator.AdaptInterval
	orchCfg.AdaptThresholdMAh = cfg.Orchestrator.AdaptThresholdMAh
	orchCfg.AdaptMultiplier = cfg.Orchestrator.AdaptMultiplier
	orchCfg.AdaptIntervalCap = cfg.Orchestrator.AdaptIntervalCap
	orchCfg.DueWorkPullLimit = cfg.Orchestrator.DueWorkPullLimit
	orchCfg.TerminalRetention = cfg.Orchestrator.TerminalRetention
	orchCfg.DispatchRatePerSec = cfg.Orchestrator.DispatchRatePerSec
	orchCfg.TuneInterval = cfg.Batching.TuneInterval

	orch := orchestrator.New(orchCfg, orchestrator.Deps{
		Queue:     workRepo,
		Batcher:   optimizer,
		Evaluator: evaluator,
		Transport: dispatcher,
		Refresher: profiles,
		Gate: &culturalGate{
			profiles:  profiles,
			evaluator: evaluator,
			clock:     clock,
		},
		Store:    jobStateRepo,
		Metrics:  metricsPub,
		Archiver: archiver,
		BatchLog: &multiBatchLog{logs: []orchestrator.BatchLog{batchRepo, dispatcher}},
		Battery:  battery,
		Clock:    clock,
		Logger:   logger,
	})

	// HTTP API.
	handler := api.NewHandler(profiles, evaluator, workRepo, orch, orch, pool, clock, logger)
	srv, err := api.NewServer(cfg, handler, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	httpServer := &http.Server{
		Addr:         net.JoinHostPort("", cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	orchErr := make(chan error, 1)
	go func() {
		orchErr <- orch.Start(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case err := <-orchErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("orchestrator: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// culturalGate pauses culturally sensitive background jobs while any user
// with a high cultural priority is inside a restricted window right now.
// Errors fail open: a broken gate must never stall delivery indefinitely.
type culturalGate struct {
	profiles  *constraint.ProfileSet
	evaluator *constraint.Evaluator
	clock     types.Clock
}

func (g *culturalGate) RestrictedNow(ctx context.Context) bool {
	ids, err := g.profiles.UserIDs(ctx)
	if err != nil || len(ids) == 0 {
		return false
	}
	affected, err := g.evaluator.AffectedUsers(ctx, ids, g.clock.Now())
	if err != nil {
		return false
	}
	for _, id := range affected {
		if has, high := g.profiles.CulturalContext(ctx, id); has && high {
			return true
		}
	}
	return false
}

// multiBatchLog fans settled batch records out to every configured sink: the
// database row for telemetry review and the dispatch queue announcement.
type multiBatchLog struct {
	logs []orchestrator.BatchLog
}

func (m *multiBatchLog) RecordBatch(ctx context.Context, batch types.Batch) error {
	var firstErr error
	for _, l := range m.logs {
		if err := l.RecordBatch(ctx, batch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// newLogger creates a structured slog.Logger configured for the given log
// level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
