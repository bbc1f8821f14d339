package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// Loop defaults
const (
	DefaultTick               = time.Second
	DefaultSyncInterval       = 60 * time.Second
	DefaultEnqueueInterval    = 5 * time.Second
	DefaultGroupCheckInterval = 300 * time.Second
	DefaultEnqueueBatch       = 100
	DefaultScheduleLease      = 120 * time.Second
	DefaultSweepLease         = 900 * time.Second
)

// ScheduleStore is the part of storage the loop polls and locks
type ScheduleStore interface {
	ScheduleEntries(ctx context.Context, period domain.Period) ([]domain.ScheduleEntry, error)
	LockSchedule(ctx context.Context, id int64, now, until time.Time) (bool, error)
	UnlockSchedule(ctx context.Context, id int64, now time.Time) error
}

// StateSaver persists the loop state for the API process
type StateSaver interface {
	SaveSchedulerState(ctx context.Context, st domain.SchedulerState) error
}

// Pusher publishes queue messages
type Pusher interface {
	Enqueue(ctx context.Context, topic string, payload any, delay time.Duration) error
}

// DueClaimer moves due job rows to queued in one statement
type DueClaimer interface {
	Kind() domain.Kind
	ClaimDue(ctx context.Context, now, lease time.Time, limit int) ([]int64, error)
	Transition(ctx context.Context, id int64, now time.Time, u domain.JobUpdate) (bool, error)
}

// GroupChecker triggers group research for groups whose members all reported
type GroupChecker interface {
	CheckAndTrigger(ctx context.Context) (int, error)
}

// Sweep is one job table the loop hands back to the queue
type Sweep struct {
	Jobs  DueClaimer
	Limit int
}

// Config wires a Loop. Zero durations and sizes take the defaults above.
type Config struct {
	Store  ScheduleStore
	Saver  StateSaver
	Sync   *Sync
	Queue  Pusher
	Sweeps []Sweep
	Groups GroupChecker
	State  *State
	Logger *slog.Logger

	Tick               time.Duration
	SyncInterval       time.Duration
	EnqueueInterval    time.Duration
	GroupCheckInterval time.Duration
	EnqueueBatch       int
	ScheduleLease      time.Duration
	SweepLease         time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.EnqueueInterval <= 0 {
		c.EnqueueInterval = DefaultEnqueueInterval
	}
	if c.GroupCheckInterval <= 0 {
		c.GroupCheckInterval = DefaultGroupCheckInterval
	}
	if c.EnqueueBatch <= 0 {
		c.EnqueueBatch = DefaultEnqueueBatch
	}
	if c.ScheduleLease <= 0 {
		c.ScheduleLease = DefaultScheduleLease
	}
	if c.SweepLease <= 0 {
		c.SweepLease = DefaultSweepLease
	}
	if c.State == nil {
		c.State = &State{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// EnqueueResult counts what one enqueue pass pushed
type EnqueueResult struct {
	Checks int
	Jobs   map[domain.Kind]int
}

// Loop is the single scheduler goroutine
type Loop struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewLoop creates a new Loop instance
func NewLoop(cfg Config) *Loop {
	cfg = cfg.withDefaults()
	return &Loop{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "scheduler")),
		now:    time.Now,
	}
}

// State returns the state the loop updates
func (l *Loop) State() *State {
	return l.cfg.State
}

// Run ticks until ctx is canceled. Sync and enqueue run right away; the
// first group check waits one interval. A failed action is logged and
// retried on its next deadline.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Starting scheduler",
		slog.Duration("sync_interval", l.cfg.SyncInterval),
		slog.Duration("enqueue_interval", l.cfg.EnqueueInterval),
		slog.Duration("group_check_interval", l.cfg.GroupCheckInterval),
	)

	l.cfg.State.setRunning(true)
	defer func() {
		l.cfg.State.setRunning(false)
		l.persist(context.WithoutCancel(ctx))
		l.logger.Info("Scheduler stopped")
	}()

	start := l.now()
	nextSync := start
	nextEnqueue := start
	nextGroupCheck := start.Add(l.cfg.GroupCheckInterval)

	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()

	for {
		now := l.now()
		if !now.Before(nextSync) {
			if _, err := l.SyncSchedule(ctx); err != nil {
				l.logger.Error("Schedule sync failed", slog.Any("error", err))
			} else {
				l.cfg.State.markSync(now)
			}
			nextSync = now.Add(l.cfg.SyncInterval)
			l.persist(ctx)
		}
		if !now.Before(nextEnqueue) {
			if _, err := l.Enqueue(ctx); err != nil {
				l.logger.Error("Enqueue pass failed", slog.Any("error", err))
			}
			l.cfg.State.markEnqueue(now)
			nextEnqueue = now.Add(l.cfg.EnqueueInterval)
			l.persist(ctx)
		}
		if !now.Before(nextGroupCheck) {
			if err := l.CheckGroups(ctx); err != nil {
				l.logger.Error("Group check failed", slog.Any("error", err))
			} else {
				l.cfg.State.markGroupCheck(now)
			}
			nextGroupCheck = now.Add(l.cfg.GroupCheckInterval)
			l.persist(ctx)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (l *Loop) persist(ctx context.Context) {
	if l.cfg.Saver == nil {
		return
	}
	if err := l.cfg.Saver.SaveSchedulerState(ctx, l.cfg.State.Snapshot(l.now())); err != nil && ctx.Err() == nil {
		l.logger.Warn("Failed to persist scheduler state", slog.Any("error", err))
	}
}

// SyncSchedule rebuilds the schedule for the latest period
func (l *Loop) SyncSchedule(ctx context.Context) (domain.SyncResult, error) {
	return l.cfg.Sync.Run(ctx, domain.LatestPeriod(l.now()))
}

// Enqueue pushes checks for due schedule rows and sweeps every job table
func (l *Loop) Enqueue(ctx context.Context) (EnqueueResult, error) {
	result := EnqueueResult{Jobs: make(map[domain.Kind]int, len(l.cfg.Sweeps))}

	var errs []error
	checks, err := l.enqueueChecks(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	result.Checks = checks

	for _, sweep := range l.cfg.Sweeps {
		n, err := l.sweep(ctx, sweep)
		if err != nil {
			errs = append(errs, err)
		}
		result.Jobs[sweep.Jobs.Kind()] = n
	}
	return result, errors.Join(errs...)
}

func (l *Loop) enqueueChecks(ctx context.Context) (int, error) {
	now := l.now()
	period := domain.LatestPeriod(now)

	rows, err := l.cfg.Store.ScheduleEntries(ctx, period)
	if err != nil {
		return 0, fmt.Errorf("failed to load schedule: %w", err)
	}

	pushed := 0
	for _, row := range DueScheduleEntries(now, rows, l.cfg.EnqueueBatch) {
		locked, err := l.cfg.Store.LockSchedule(ctx, row.ID, now, now.Add(l.cfg.ScheduleLease))
		if err != nil {
			return pushed, fmt.Errorf("failed to lock schedule row %d: %w", row.ID, err)
		}
		if !locked {
			continue
		}

		msg := domain.CheckMessage{
			StockID:  row.StockID,
			Priority: row.Priority,
			Quarter:  row.Quarter,
			Year:     row.Year,
			Reason:   domain.ReasonScheduled,
		}
		if err := l.cfg.Queue.Enqueue(ctx, domain.TopicTranscriptCheck, msg, 0); err != nil {
			l.logger.Warn("Failed to push transcript check",
				slog.Int64("stock_id", row.StockID),
				slog.Any("error", err),
			)
			if err := l.cfg.Store.UnlockSchedule(ctx, row.ID, now); err != nil {
				l.logger.Error("Failed to unlock schedule row", slog.Int64("schedule_id", row.ID), slog.Any("error", err))
			}
			continue
		}
		pushed++
	}

	if pushed > 0 {
		l.logger.Info("Transcript checks enqueued", slog.Int("count", pushed), slog.String("period", period.String()))
	}
	return pushed, nil
}

func (l *Loop) sweep(ctx context.Context, s Sweep) (int, error) {
	kind := s.Jobs.Kind()
	now := l.now()

	ids, err := s.Jobs.ClaimDue(ctx, now, now.Add(l.cfg.SweepLease), s.Limit)
	if err != nil {
		return 0, fmt.Errorf("failed to claim due %s jobs: %w", kind, err)
	}

	pushed := 0
	for _, id := range ids {
		if err := l.cfg.Queue.Enqueue(ctx, kind.Topic(), domain.NewJobMessage(kind, id), 0); err != nil {
			l.logger.Warn("Failed to push queue message",
				slog.String("kind", string(kind)),
				slog.Int64("job_id", id),
				slog.Any("error", err),
			)
			if _, err := s.Jobs.Transition(ctx, id, now, domain.PendingUpdate(now)); err != nil {
				l.logger.Error("Failed to revert job to pending", slog.Int64("job_id", id), slog.Any("error", err))
			}
			continue
		}
		pushed++
	}

	if pushed > 0 {
		l.logger.Info("Due jobs requeued", slog.String("kind", string(kind)), slog.Int("count", pushed))
	}
	return pushed, nil
}

// CheckGroups runs group readiness once no watchlist row is due or locked
func (l *Loop) CheckGroups(ctx context.Context) error {
	if l.cfg.Groups == nil {
		return nil
	}
	now := l.now()
	rows, err := l.cfg.Store.ScheduleEntries(ctx, domain.LatestPeriod(now))
	if err != nil {
		return fmt.Errorf("failed to load schedule: %w", err)
	}
	if !WatchlistSettled(now, rows) {
		l.logger.Debug("Watchlist checks outstanding, deferring group check")
		return nil
	}

	triggered, err := l.cfg.Groups.CheckAndTrigger(ctx)
	if err != nil {
		return err
	}
	if triggered > 0 {
		l.logger.Info("Group research triggered", slog.Int("runs", triggered))
	}
	return nil
}
