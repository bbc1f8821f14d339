// Package worker runs queue consumers and the job processors behind them.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/earnings-watch/internal/queue"
)

// DefaultPollTimeout bounds one Dequeue call
const DefaultPollTimeout = 5 * time.Second

// Processor handles one claimed queue message. Returned errors are logged;
// the message is never redelivered by the worker itself.
type Processor interface {
	Process(ctx context.Context, msg *queue.Message) error
}

// Dequeuer is the consuming side of the queue store
type Dequeuer interface {
	Dequeue(ctx context.Context, topic string, timeout time.Duration) (*queue.Message, error)
}

// State is owned by the composition root and shared with every worker it
// starts. Counters are cumulative across workers.
type State struct {
	running   atomic.Int32
	processed atomic.Int64
	failed    atomic.Int64
}

// Running reports how many workers are currently started
func (s *State) Running() int {
	return int(s.running.Load())
}

// Processed counts messages handled without error
func (s *State) Processed() int64 {
	return s.processed.Load()
}

// Failed counts messages whose processor returned an error or panicked
func (s *State) Failed() int64 {
	return s.failed.Load()
}

// Config holds worker configuration
type Config struct {
	Name        string
	Topic       string
	Queue       Dequeuer
	Processor   Processor
	Concurrency int
	PollTimeout time.Duration
	State       *State
	Logger      *slog.Logger
}

// Worker polls one topic with Concurrency goroutines
type Worker struct {
	logger      *slog.Logger
	name        string
	topic       string
	queue       Dequeuer
	processor   Processor
	concurrency int
	pollTimeout time.Duration
	state       *State
	workerID    string
	wg          sync.WaitGroup
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.State == nil {
		cfg.State = &State{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Topic
	}

	workerID := cfg.Name + "-" + uuid.NewString()[:8]
	return &Worker{
		logger:      cfg.Logger.With(slog.String("worker", cfg.Name), slog.String("topic", cfg.Topic)),
		name:        cfg.Name,
		topic:       cfg.Topic,
		queue:       cfg.Queue,
		processor:   cfg.Processor,
		concurrency: cfg.Concurrency,
		pollTimeout: cfg.PollTimeout,
		state:       cfg.State,
		workerID:    workerID,
		stopChan:    make(chan struct{}),
	}
}

// Start spawns the pool and blocks until ctx is canceled or Stop is called,
// then waits for in-flight messages to finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_timeout", w.pollTimeout),
	)
	w.state.running.Add(1)
	defer w.state.running.Add(-1)

	w.spawnWorkerPool(ctx)

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
	}

	w.wg.Wait()
	w.logger.Info("Worker stopped")
	return nil
}

// Stop asks every goroutine to exit after its current message
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}
