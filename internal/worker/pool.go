package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/queue"
)

// dequeueErrorDelay keeps a broken queue from spinning the loop
const dequeueErrorDelay = time.Second

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started", slog.String("worker_name", workerName))

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed", slog.String("worker_name", workerName))
			return
		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled", slog.String("worker_name", workerName))
			return
		default:
		}

		msg, err := w.queue.Dequeue(ctx, w.topic, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Failed to dequeue message",
				slog.String("worker_name", workerName),
				slog.Any("error", err),
			)
			w.sleep(ctx, dequeueErrorDelay)
			continue
		}
		if msg == nil {
			continue
		}

		if err := w.processSafely(ctx, msg); err != nil {
			w.state.failed.Add(1)
			w.logger.Error("Message processing failed",
				slog.String("worker_name", workerName),
				slog.Int64("message_id", msg.ID),
				slog.Any("error", err),
			)
			continue
		}
		w.state.processed.Add(1)
	}
}

// processSafely turns a processor panic into an error so the loop survives
func (w *Worker) processSafely(ctx context.Context, msg *queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Processor panicked",
				slog.Int64("message_id", msg.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return w.processor.Process(ctx, msg)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopChan:
	case <-timer.C:
	}
}
