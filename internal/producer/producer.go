// Package producer creates job rows idempotently and hands them to the queue.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// DefaultLease protects a queued row while its message waits for a worker
const DefaultLease = 15 * time.Minute

// JobStore is the slice of a job repository the producer needs
type JobStore interface {
	Kind() domain.Kind
	InsertOrGet(ctx context.Context, n domain.NewJob) (*domain.Job, error)
	Transition(ctx context.Context, id int64, now time.Time, u domain.JobUpdate) (bool, error)
}

// Pusher publishes job messages
type Pusher interface {
	Enqueue(ctx context.Context, topic string, payload any, delay time.Duration) error
}

// Producer inserts a job row, moves it to queued and pushes one message.
// A row another producer already queued is returned without a second push.
type Producer struct {
	jobs   JobStore
	queue  Pusher
	lease  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Producer for the kind served by jobs
func New(jobs JobStore, queue Pusher, lease time.Duration, logger *slog.Logger) *Producer {
	if lease <= 0 {
		lease = DefaultLease
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		jobs:   jobs,
		queue:  queue,
		lease:  lease,
		logger: logger.With(slog.String("kind", string(jobs.Kind()))),
		now:    time.Now,
	}
}

// Produce returns the stored job and whether a message was pushed for it
func (p *Producer) Produce(ctx context.Context, n domain.NewJob) (*domain.Job, bool, error) {
	kind := p.jobs.Kind()
	n.Kind = kind

	job, err := p.jobs.InsertOrGet(ctx, n)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create %s job: %w", kind, err)
	}

	if job.Status == domain.StatusDone && !n.Force {
		return job, false, nil
	}

	now := p.now()
	queued, err := p.jobs.Transition(ctx, job.ID, now, domain.QueuedUpdate(now.Add(p.lease)))
	if err != nil {
		return job, false, fmt.Errorf("failed to queue %s job %d: %w", kind, job.ID, err)
	}
	if !queued {
		p.logger.Debug("Job already queued or running",
			slog.Int64("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		return job, false, nil
	}

	if err := p.queue.Enqueue(ctx, kind.Topic(), domain.NewJobMessage(kind, job.ID), 0); err != nil {
		p.logger.Warn("Failed to push queue message, job left for the scheduler sweep",
			slog.Int64("job_id", job.ID),
			slog.Any("error", err),
		)
		if _, revertErr := p.jobs.Transition(ctx, job.ID, now, domain.PendingUpdate(now)); revertErr != nil {
			p.logger.Error("Failed to revert job to pending",
				slog.Int64("job_id", job.ID),
				slog.Any("error", revertErr),
			)
		}
		return job, false, nil
	}

	p.logger.Info("Job queued", slog.Int64("job_id", job.ID), slog.String("key", job.Key))
	return job, true, nil
}
