package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/earnings-watch/internal/api/handler"
	"github.com/cuongbtq/earnings-watch/internal/api/router"
	"github.com/cuongbtq/earnings-watch/internal/config"
	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/internal/producer"
	"github.com/cuongbtq/earnings-watch/internal/queue"
	"github.com/cuongbtq/earnings-watch/internal/scheduler"
	"github.com/cuongbtq/earnings-watch/internal/storage"
	"github.com/cuongbtq/earnings-watch/shared/logger"
	"github.com/cuongbtq/earnings-watch/shared/postgresql"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Queue.Backend == config.QueueBackendBadger {
		appLogger.Warn("Badger queue is local to the worker, new jobs wait for the scheduler sweep")
	}

	store := storage.NewStore(dbClient.GetDB(), appLogger.Logger)
	r := initRouter(cfg, appLogger.Logger, dbClient, store)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down server",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   timeFormat,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		URL:             cfg.URL,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// pingerFunc adapts a check function to handler.Pinger
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func queueCheck(q queue.Store) pingerFunc {
	return func(ctx context.Context) error {
		if !q.Ping(ctx) {
			return errors.New("queue unreachable")
		}
		return nil
	}
}

var errQueueOwnedByWorker = errors.New("queue is embedded in the worker process")

// workerOwnedQueue refuses pushes, so producers revert new rows to pending
// and the worker's sweep delivers them
type workerOwnedQueue struct{}

func (workerOwnedQueue) Enqueue(context.Context, string, any, time.Duration) error {
	return errQueueOwnedByWorker
}

// initRouter wires handlers onto the Postgres store
func initRouter(cfg *config.Config, logger *slog.Logger, db *postgresql.Client, store *storage.Store) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	opts := queue.Options{
		PollInterval: cfg.Queue.PollInterval,
		BusyRetries:  cfg.Queue.BusyRetries,
		BusyDelay:    cfg.Queue.BusyDelay,
	}
	pgQueue := queue.NewPostgresStore(db.GetDB(), logger, opts)

	var pusher producer.Pusher = pgQueue
	if cfg.Queue.Backend == config.QueueBackendBadger {
		pusher = workerOwnedQueue{}
	}

	analyses := producer.NewAnalysisProducer(store.Jobs(domain.KindAnalysis), pusher, store, logger)

	loop := scheduler.NewLoop(scheduler.Config{
		Store: store,
		Saver: store,
		Sync:  scheduler.NewSync(store, logger),
		Queue: pusher,
		Sweeps: []scheduler.Sweep{
			{Jobs: store.Jobs(domain.KindAnalysis), Limit: cfg.Scheduler.AnalysisSweep},
			{Jobs: store.Jobs(domain.KindEmail), Limit: cfg.Scheduler.EmailSweep},
			{Jobs: store.Jobs(domain.KindGroupResearch), Limit: cfg.Scheduler.GroupSweep},
		},
		Logger:          logger,
		EnqueueBatch:    cfg.Scheduler.EnqueueBatch,
		EnqueueInterval: cfg.Scheduler.EnqueueInterval,
		ScheduleLease:   cfg.Scheduler.ScheduleLease,
		SweepLease:      cfg.Scheduler.SweepLease,
	})

	return router.SetupRouter(&handler.Dependencies{
		Logger:   logger,
		Analyses: analyses,
		Trigger:  scheduler.NewTrigger(store, loop, logger),
		Status:   scheduler.NewStatus(store, pgQueue, cfg.Scheduler.EnqueueInterval),
		Jobs:     store.Jobs(domain.KindAnalysis),
		Health: map[string]handler.Pinger{
			"database": pingerFunc(db.HealthCheck),
			"queue":    queueCheck(pgQueue),
		},
	})
}
