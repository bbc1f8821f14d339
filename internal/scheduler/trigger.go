package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// TriggerStore resets or creates a schedule row on demand
type TriggerStore interface {
	GetStock(ctx context.Context, id int64) (*domain.Stock, error)
	GetMembership(ctx context.Context, stockID int64) (domain.Membership, error)
	TriggerSchedule(ctx context.Context, stockID int64, period domain.Period, priority int, now time.Time) error
}

// Trigger serves manual check requests
type Trigger struct {
	store  TriggerStore
	loop   *Loop
	logger *slog.Logger
	now    func() time.Time
}

// NewTrigger creates a new Trigger instance. loop may be nil when Now is not used.
func NewTrigger(store TriggerStore, loop *Loop, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{store: store, loop: loop, logger: logger, now: time.Now}
}

// ForStock makes the stock's schedule row due immediately. A nil period
// targets the latest one.
func (t *Trigger) ForStock(ctx context.Context, stockID int64, period *domain.Period) error {
	if _, err := t.store.GetStock(ctx, stockID); err != nil {
		return err
	}

	now := t.now()
	target := domain.LatestPeriod(now)
	if period != nil && !period.IsZero() {
		target = *period
	}

	membership, err := t.store.GetMembership(ctx, stockID)
	if err != nil {
		return fmt.Errorf("failed to load membership: %w", err)
	}
	priority := domain.PriorityGroup
	if membership.InWatchlist {
		priority = domain.PriorityWatchlist
	}

	if err := t.store.TriggerSchedule(ctx, stockID, target, priority, now); err != nil {
		return fmt.Errorf("failed to trigger schedule: %w", err)
	}
	t.logger.Info("Transcript check triggered",
		slog.Int64("stock_id", stockID),
		slog.String("period", target.String()),
		slog.Int("priority", priority),
	)
	return nil
}

// Now runs one schedule sync and one enqueue pass outside the loop
func (t *Trigger) Now(ctx context.Context) (EnqueueResult, error) {
	if t.loop == nil {
		return EnqueueResult{}, fmt.Errorf("scheduler trigger has no loop")
	}
	if _, err := t.loop.SyncSchedule(ctx); err != nil {
		return EnqueueResult{}, err
	}
	return t.loop.Enqueue(ctx)
}
