package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/internal/queue"
	"github.com/cuongbtq/earnings-watch/internal/retry"
)

// JobStore is the slice of a job repository processors need
type JobStore interface {
	Claim(ctx context.Context, id int64, now, lease time.Time) (*domain.Job, error)
	Transition(ctx context.Context, id int64, now time.Time, u domain.JobUpdate) (bool, error)
}

// phases are the steps of one job attempt. validate and commit run against
// the store; execute holds no transaction and is bounded by the job timeout.
type phases struct {
	validate func(ctx context.Context, job *domain.Job) error
	execute  func(ctx context.Context, job *domain.Job) error
	commit   func(ctx context.Context, job *domain.Job) error
	// onFailure runs after the job row recorded the error
	onFailure func(ctx context.Context, job *domain.Job, err error)
}

// jobRunner drives the claim → validate → execute → commit sequence shared
// by every job-shaped processor and records failures on the row.
type jobRunner struct {
	kind    domain.Kind
	jobs    JobStore
	retry   *retry.Policy
	lease   time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func newJobRunner(kind domain.Kind, jobs JobStore, policy *retry.Policy, lease, timeout time.Duration, logger *slog.Logger) *jobRunner {
	if policy == nil {
		policy = retry.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &jobRunner{
		kind:    kind,
		jobs:    jobs,
		retry:   policy,
		lease:   lease,
		timeout: timeout,
		logger:  logger.With(slog.String("kind", string(kind))),
		now:     time.Now,
	}
}

func (r *jobRunner) run(ctx context.Context, msg *queue.Message, p phases) error {
	var payload domain.JobMessage
	if err := msg.Decode(&payload); err != nil {
		r.logger.Warn("Dropping undecodable message", slog.Int64("message_id", msg.ID), slog.Any("error", err))
		return err
	}
	id, err := payload.JobID(r.kind)
	if err != nil {
		r.logger.Warn("Dropping message without job id", slog.Int64("message_id", msg.ID))
		return err
	}

	now := r.now()
	job, err := r.jobs.Claim(ctx, id, now, now.Add(r.lease))
	switch {
	case errors.Is(err, domain.ErrJobTerminal),
		errors.Is(err, domain.ErrJobAlreadyClaimed),
		errors.Is(err, domain.ErrJobNotFound):
		r.logger.Info("Skipping duplicate delivery", slog.Int64("job_id", id), slog.String("reason", err.Error()))
		return nil
	case err != nil:
		return fmt.Errorf("failed to claim job %d: %w", id, err)
	}

	r.logger.Info("Job claimed", slog.Int64("job_id", job.ID), slog.Int("attempts", job.Attempts))

	err = r.safeAttempt(ctx, job, p)
	if err == nil {
		r.logger.Info("Job completed successfully", slog.Int64("job_id", job.ID))
		return nil
	}
	if errors.Is(err, domain.ErrJobAlreadyClaimed) {
		r.logger.Warn("Lost job ownership before commit", slog.Int64("job_id", job.ID))
		return nil
	}

	r.fail(ctx, job, err)
	if p.onFailure != nil {
		p.onFailure(ctx, job, err)
	}
	return err
}

// safeAttempt turns a panic in any phase into a retryable error so the
// claimed row is still moved out of in_progress.
func (r *jobRunner) safeAttempt(ctx context.Context, job *domain.Job, p phases) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Job panicked",
				slog.Int64("job_id", job.ID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			err = domain.NewRetryableError(fmt.Errorf("job panic: %v", rec))
		}
	}()
	return r.attempt(ctx, job, p)
}

func (r *jobRunner) attempt(ctx context.Context, job *domain.Job, p phases) error {
	if p.validate != nil {
		if err := p.validate(ctx, job); err != nil {
			return err
		}
	}

	if p.execute != nil {
		execCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			execCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		if err := p.execute(execCtx, job); err != nil {
			return err
		}
	}

	if p.commit != nil {
		return p.commit(ctx, job)
	}
	return nil
}

// fail moves the row out of in_progress. It uses a fresh context so a
// canceled job context still records the outcome.
func (r *jobRunner) fail(ctx context.Context, job *domain.Job, cause error) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	now := r.now()
	var update domain.JobUpdate
	if domain.IsRetryable(cause) {
		next := now.Add(r.retry.Backoff(job.Attempts + 1))
		update = domain.RetryingUpdate(next, cause.Error(), true)
		r.logger.Warn("Job failed, will retry",
			slog.Int64("job_id", job.ID),
			slog.Int("attempts", job.Attempts+1),
			slog.Time("retry_next_at", next),
			slog.Any("error", cause),
		)
	} else {
		update = domain.ErrorUpdate(cause.Error())
		r.logger.Error("Job failed permanently",
			slog.Int64("job_id", job.ID),
			slog.Any("error", cause),
		)
	}

	ok, err := r.jobs.Transition(storeCtx, job.ID, now, update)
	if err != nil {
		r.logger.Error("Failed to record job failure", slog.Int64("job_id", job.ID), slog.Any("error", err))
		return
	}
	if !ok {
		r.logger.Warn("Job left in_progress before failure was recorded", slog.Int64("job_id", job.ID))
	}
}

// complete marks a job done when the commit has nothing else to persist
func (r *jobRunner) complete(ctx context.Context, job *domain.Job) error {
	ok, err := r.jobs.Transition(ctx, job.ID, r.now(), domain.DoneUpdate())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrJobAlreadyClaimed
	}
	return nil
}

func publish(ctx context.Context, publisher EventPublisher, logger *slog.Logger, event domain.Event) {
	if publisher == nil {
		return
	}
	event.ID = uuid.NewString()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("Failed to publish event", slog.String("type", event.Type), slog.Any("error", err))
	}
}
