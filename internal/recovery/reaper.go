package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultReapSchedule runs the expired lease sweep every five minutes
const DefaultReapSchedule = "@every 5m"

// Reaper re-runs lease recovery on a cron schedule while the worker runs
type Reaper struct {
	service *Service
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewReaper validates schedule and creates a Reaper
func NewReaper(service *Service, schedule string, logger *slog.Logger) (*Reaper, error) {
	if schedule == "" {
		schedule = DefaultReapSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reaper{
		service: service,
		cron:    cron.New(),
		logger:  logger.With(slog.String("component", "reaper")),
	}
	if _, err := r.cron.AddFunc(schedule, r.reap); err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Run starts the cron and blocks until ctx is canceled
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("Starting reaper")
	r.cron.Start()
	<-ctx.Done()
	<-r.cron.Stop().Done()
	r.logger.Info("Reaper stopped")
	return nil
}

func (r *Reaper) reap() {
	counts := r.service.RecoverExpired(context.Background())
	var total int64
	for _, n := range counts {
		total += n
	}
	r.logger.Debug("Reap finished", slog.Int64("recovered", total))
}
