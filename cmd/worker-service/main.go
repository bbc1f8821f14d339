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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/earnings-watch/internal/config"
	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/internal/events"
	"github.com/cuongbtq/earnings-watch/internal/external/llm"
	"github.com/cuongbtq/earnings-watch/internal/external/mail"
	"github.com/cuongbtq/earnings-watch/internal/external/transcripts"
	"github.com/cuongbtq/earnings-watch/internal/producer"
	"github.com/cuongbtq/earnings-watch/internal/queue"
	"github.com/cuongbtq/earnings-watch/internal/recovery"
	"github.com/cuongbtq/earnings-watch/internal/retry"
	"github.com/cuongbtq/earnings-watch/internal/scheduler"
	"github.com/cuongbtq/earnings-watch/internal/storage"
	"github.com/cuongbtq/earnings-watch/internal/worker"
	"github.com/cuongbtq/earnings-watch/shared/logger"
	"github.com/cuongbtq/earnings-watch/shared/postgresql"
	"github.com/cuongbtq/earnings-watch/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// workQueue is the queue store plus its shutdown hook
type workQueue interface {
	queue.Store
	Close() error
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	slog.SetDefault(appLogger.Logger)

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_backend", cfg.Queue.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.NewStore(dbClient.GetDB(), appLogger.Logger)
	if cfg.Database.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	workQ, err := initQueue(cfg, dbClient, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	defer workQ.Close()

	publisher, closePublisher, err := initEvents(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event publisher: %w", err)
	}
	defer closePublisher()

	policy := retry.NewPolicy(cfg.Retry.Base, cfg.Retry.Cap, nil)

	analysisJobs := store.Jobs(domain.KindAnalysis)
	emailJobs := store.Jobs(domain.KindEmail)
	groupJobs := store.Jobs(domain.KindGroupResearch)

	analysisProducer := producer.NewAnalysisProducer(analysisJobs, workQ, store, appLogger.Logger)
	emailProducer := producer.NewEmailProducer(emailJobs, workQ, store, appLogger.Logger)
	groupProducer := producer.NewGroupResearchProducer(groupJobs, workQ, appLogger.Logger)

	// Recovery runs to completion before anything consumes the queue
	recoveryService := recovery.NewService(recovery.Config{
		Store:         store,
		Jobs:          []recovery.JobRecoverer{analysisJobs, emailJobs, groupJobs},
		Analyses:      analysisProducer,
		StaleAfter:    cfg.Recovery.StaleAfter,
		LegacyPhrases: cfg.Recovery.LegacyPhrases,
		Logger:        appLogger.Logger,
	})
	summary := recoveryService.Run(ctx)
	appLogger.Info("Startup recovery finished", slog.Any("summary", summary))

	reaper, err := recovery.NewReaper(recoveryService, cfg.Recovery.ReapSchedule, appLogger.Logger)
	if err != nil {
		return err
	}

	workers, err := initWorkers(ctx, cfg, workerDeps{
		store:     store,
		queue:     workQ,
		analyses:  analysisProducer,
		emails:    emailProducer,
		publisher: publisher,
		policy:    policy,
		logger:    appLogger.Logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Scheduler.Enabled {
		loop := scheduler.NewLoop(scheduler.Config{
			Store: store,
			Saver: store,
			Sync:  scheduler.NewSync(store, appLogger.Logger),
			Queue: workQ,
			Sweeps: []scheduler.Sweep{
				{Jobs: analysisJobs, Limit: cfg.Scheduler.AnalysisSweep},
				{Jobs: emailJobs, Limit: cfg.Scheduler.EmailSweep},
				{Jobs: groupJobs, Limit: cfg.Scheduler.GroupSweep},
			},
			Groups:             scheduler.NewGroupReadiness(store, groupProducer, appLogger.Logger),
			State:              &scheduler.State{},
			Logger:             appLogger.Logger,
			Tick:               cfg.Scheduler.Tick,
			SyncInterval:       cfg.Scheduler.SyncInterval,
			EnqueueInterval:    cfg.Scheduler.EnqueueInterval,
			GroupCheckInterval: cfg.Scheduler.GroupCheckInterval,
			EnqueueBatch:       cfg.Scheduler.EnqueueBatch,
			ScheduleLease:      cfg.Scheduler.ScheduleLease,
			SweepLease:         cfg.Scheduler.SweepLease,
		})
		g.Go(func() error { return loop.Run(gctx) })
	} else {
		appLogger.Warn("Scheduler disabled, only consuming queued work")
	}

	for _, w := range workers {
		g.Go(func() error { return w.Start(gctx) })
	}
	g.Go(func() error { return reaper.Run(gctx) })

	appLogger.Info("Worker service started successfully", slog.Int("workers", len(workers)))

	<-gctx.Done()
	appLogger.Info("Shutting down worker service")
	for _, w := range workers {
		w.Stop()
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("Worker service stopped with error", slog.Any("error", err))
			return err
		}
		appLogger.Info("Worker service shutdown complete", slog.String("db_stats", dbClient.Stats()))
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}
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

type postgresQueue struct {
	*queue.PostgresStore
}

func (postgresQueue) Close() error { return nil }

// initQueue opens the configured queue backend
func initQueue(cfg *config.Config, db *postgresql.Client, logger *slog.Logger) (workQueue, error) {
	opts := queue.Options{
		PollInterval: cfg.Queue.PollInterval,
		BusyRetries:  cfg.Queue.BusyRetries,
		BusyDelay:    cfg.Queue.BusyDelay,
	}
	if cfg.Queue.Backend == config.QueueBackendBadger {
		return queue.OpenBadger(queue.BadgerConfig{Path: cfg.Queue.BadgerPath}, logger, opts)
	}
	return postgresQueue{queue.NewPostgresStore(db.GetDB(), logger, opts)}, nil
}

// initEvents connects the RabbitMQ publisher, or logs events when disabled
func initEvents(cfg *config.RabbitMQConfig, logger *slog.Logger) (worker.EventPublisher, func(), error) {
	if !cfg.Enabled {
		return events.NewLogPublisher(logger), func() {}, nil
	}

	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		URL:               cfg.URL,
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		Exchange:          cfg.Exchange,
		ExchangeType:      cfg.ExchangeType,
		RetryAttempts:     cfg.RetryAttempts,
		RetryInterval:     cfg.RetryInterval,
		Heartbeat:         cfg.Heartbeat,
		PublishRetries:    cfg.PublishRetries,
		PublishRetryDelay: cfg.PublishRetryDelay,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return events.NewRabbitPublisher(client, cfg.RoutingKeyPrefix), func() { client.Close() }, nil
}

type workerDeps struct {
	store     *storage.Store
	queue     queue.Store
	analyses  *producer.AnalysisProducer
	emails    *producer.EmailProducer
	publisher worker.EventPublisher
	policy    *retry.Policy
	logger    *slog.Logger
}

// initWorkers builds one worker per topic with a positive concurrency
func initWorkers(ctx context.Context, cfg *config.Config, deps workerDeps) ([]*worker.Worker, error) {
	concurrency := cfg.Worker.Concurrency
	state := &worker.State{}
	var workers []*worker.Worker

	add := func(topic string, n int, p worker.Processor) {
		if n <= 0 {
			return
		}
		workers = append(workers, worker.NewWorker(worker.Config{
			Topic:       topic,
			Queue:       deps.queue,
			Processor:   p,
			Concurrency: n,
			PollTimeout: cfg.Worker.PollTimeout,
			State:       state,
			Logger:      deps.logger,
		}))
	}

	var source *transcripts.Client
	if concurrency.TranscriptCheck+concurrency.Analysis > 0 {
		tc := cfg.Providers.Transcripts
		source = transcripts.NewClient(tc.BaseURL, tc.APIKey,
			transcripts.WithRateLimit(tc.RateLimit),
			transcripts.WithHTTPClient(&http.Client{Timeout: tc.Timeout}),
			transcripts.WithLogger(deps.logger),
		)
	}

	var generator llm.Generator
	if concurrency.Analysis+concurrency.GroupResearch > 0 {
		g, err := initGenerator(ctx, &cfg.Providers.LLM)
		if err != nil {
			return nil, err
		}
		generator = g
	}

	add(domain.TopicTranscriptCheck, concurrency.TranscriptCheck, worker.NewCheckProcessor(worker.CheckConfig{
		Store:    deps.store,
		Source:   source,
		Analyses: deps.analyses,
		Events:   deps.publisher,
		Retry:    deps.policy,
		Timeout:  cfg.Worker.JobTimeout,
		Logger:   deps.logger,
	}))

	add(domain.TopicAnalysis, concurrency.Analysis, worker.NewAnalysisProcessor(worker.AnalysisConfig{
		Jobs:      deps.store.Jobs(domain.KindAnalysis),
		Store:     deps.store,
		Source:    source,
		Generator: generator,
		Emails:    deps.emails,
		Events:    deps.publisher,
		Retry:     deps.policy,
		Timeout:   cfg.Worker.JobTimeout,
		MaxTokens: cfg.Worker.MaxTokens,
		Logger:    deps.logger,
	}))

	add(domain.TopicGroupResearch, concurrency.GroupResearch, worker.NewGroupResearchProcessor(worker.GroupResearchConfig{
		Jobs:      deps.store.Jobs(domain.KindGroupResearch),
		Store:     deps.store,
		Generator: generator,
		Events:    deps.publisher,
		Retry:     deps.policy,
		Timeout:   cfg.Worker.JobTimeout,
		MaxTokens: cfg.Worker.MaxTokens,
		Logger:    deps.logger,
	}))

	sc := cfg.Providers.SMTP
	add(domain.TopicEmail, concurrency.Email, worker.NewEmailProcessor(worker.EmailConfig{
		Jobs:  deps.store.Jobs(domain.KindEmail),
		Store: deps.store,
		Mailer: mail.NewSMTPMailer(mail.Config{
			Host:     sc.Host,
			Port:     sc.Port,
			Username: sc.Username,
			Password: sc.Password,
			From:     sc.From,
			FromName: sc.FromName,
			Timeout:  sc.Timeout,
		}),
		Events:  deps.publisher,
		Retry:   deps.policy,
		Timeout: cfg.Worker.JobTimeout,
		Logger:  deps.logger,
	}))

	return workers, nil
}

func initGenerator(ctx context.Context, cfg *config.LLMConfig) (llm.Generator, error) {
	generator, err := llm.New(ctx, llm.Config{
		Provider:           cfg.Provider,
		Model:              cfg.Model,
		APIKey:             cfg.APIKey,
		MaxTokens:          cfg.MaxTokens,
		ThinkingBudget:     cfg.ThinkingBudget,
		InputPricePerMTok:  cfg.InputPricePerMTok,
		OutputPricePerMTok: cfg.OutputPricePerMTok,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize text generator: %w", err)
	}
	return generator, nil
}
