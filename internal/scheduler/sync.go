package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// SyncStore reads tracked stocks and rewrites the fetch schedule
type SyncStore interface {
	WatchlistStockIDs(ctx context.Context) ([]int64, error)
	ActiveGroupStockIDs(ctx context.Context) ([]int64, error)
	SyncSchedule(ctx context.Context, period domain.Period, seeds []domain.ScheduleSeed, now time.Time) (domain.SyncResult, error)
}

// Sync keeps transcript_fetch_schedule aligned with the watchlist and
// active groups for one period.
type Sync struct {
	store  SyncStore
	logger *slog.Logger
	now    func() time.Time
}

// NewSync creates a new Sync instance
func NewSync(store SyncStore, logger *slog.Logger) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{store: store, logger: logger, now: time.Now}
}

// Run rebuilds the schedule for period
func (s *Sync) Run(ctx context.Context, period domain.Period) (domain.SyncResult, error) {
	watchlist, err := s.store.WatchlistStockIDs(ctx)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("failed to load watchlist: %w", err)
	}
	groupStocks, err := s.store.ActiveGroupStockIDs(ctx)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("failed to load group stocks: %w", err)
	}

	seeds := BuildSeeds(watchlist, groupStocks)
	result, err := s.store.SyncSchedule(ctx, period, seeds, s.now())
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("failed to sync schedule: %w", err)
	}

	s.logger.Debug("Schedule synced",
		slog.String("period", period.String()),
		slog.Int("stocks", len(seeds)),
		slog.Int64("upserted", result.Upserted),
		slog.Int64("deleted", result.Deleted),
	)
	return result, nil
}
