package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// GroupStore lists groups and the periods their members have transcripts for
type GroupStore interface {
	ActiveGroups(ctx context.Context) ([]domain.Group, error)
	AvailablePeriods(ctx context.Context, stockIDs []int64) (map[int64][]domain.Period, error)
}

// GroupEnqueuer is satisfied by producer.GroupResearchProducer
type GroupEnqueuer interface {
	EnqueueForGroup(ctx context.Context, groupID int64, period domain.Period) (int64, bool, error)
}

// GroupReadiness starts group research once every member of a group has an
// available transcript for a period.
type GroupReadiness struct {
	store    GroupStore
	producer GroupEnqueuer
	logger   *slog.Logger
}

// NewGroupReadiness creates a new GroupReadiness instance
func NewGroupReadiness(store GroupStore, producer GroupEnqueuer, logger *slog.Logger) *GroupReadiness {
	if logger == nil {
		logger = slog.Default()
	}
	return &GroupReadiness{store: store, producer: producer, logger: logger}
}

// CheckAndTrigger returns how many runs were pushed to the queue. Existing
// runs for a group and period are left as they are.
func (g *GroupReadiness) CheckAndTrigger(ctx context.Context) (int, error) {
	groups, err := g.store.ActiveGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load groups: %w", err)
	}

	var errs []error
	pushed := 0
	for _, group := range groups {
		if strings.TrimSpace(group.Prompt) == "" || len(group.StockIDs) == 0 {
			continue
		}

		available, err := g.store.AvailablePeriods(ctx, group.StockIDs)
		if err != nil {
			errs = append(errs, fmt.Errorf("group %d: %w", group.ID, err))
			continue
		}

		for _, period := range IntersectPeriods(group.StockIDs, available) {
			runID, ok, err := g.producer.EnqueueForGroup(ctx, group.ID, period)
			if err != nil {
				errs = append(errs, fmt.Errorf("group %d %s: %w", group.ID, period, err))
				continue
			}
			if ok {
				pushed++
				g.logger.Info("Group research enqueued",
					slog.Int64("group_id", group.ID),
					slog.Int64("run_id", runID),
					slog.String("period", period.String()),
				)
			}
		}
	}
	return pushed, errors.Join(errs...)
}
