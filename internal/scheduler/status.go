package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// StatusStore reads what the loop persisted
type StatusStore interface {
	LoadSchedulerState(ctx context.Context) (*domain.SchedulerState, error)
	ScheduleOverview(ctx context.Context, period domain.Period, now time.Time) (domain.ScheduleOverview, error)
}

// QueueInspector reports queue depth and health
type QueueInspector interface {
	Length(ctx context.Context, topic string) (int64, error)
	Ping(ctx context.Context) bool
}

// Report is the scheduler status served by the API
type Report struct {
	Running          bool             `json:"running"`
	QueueOK          bool             `json:"queue_ok"`
	Queues           map[string]int64 `json:"queues"`
	LastScheduleSync *time.Time       `json:"last_schedule_sync"`
	LastEnqueue      *time.Time       `json:"last_enqueue"`
	LastGroupCheck   *time.Time       `json:"last_group_check"`
	Polling          int              `json:"polling"`
	NextCheckAt      *time.Time       `json:"next_check_at"`
}

// Status builds reports from another process' persisted state
type Status struct {
	store           StatusStore
	queue           QueueInspector
	enqueueInterval time.Duration
	now             func() time.Time
}

// NewStatus creates a new Status instance
func NewStatus(store StatusStore, queue QueueInspector, enqueueInterval time.Duration) *Status {
	if enqueueInterval <= 0 {
		enqueueInterval = DefaultEnqueueInterval
	}
	return &Status{store: store, queue: queue, enqueueInterval: enqueueInterval, now: time.Now}
}

// Alive reports whether a heartbeat written at st.HeartbeatAt is recent enough
func (s *Status) Alive(st *domain.SchedulerState, now time.Time) bool {
	return st != nil && st.Running && now.Sub(st.HeartbeatAt) < 3*s.enqueueInterval
}

// Report collects the current status
func (s *Status) Report(ctx context.Context) (*Report, error) {
	now := s.now()

	st, err := s.store.LoadSchedulerState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler state: %w", err)
	}
	overview, err := s.store.ScheduleOverview(ctx, domain.LatestPeriod(now), now)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule overview: %w", err)
	}

	report := &Report{
		Running:     s.Alive(st, now),
		QueueOK:     s.queue.Ping(ctx),
		Queues:      make(map[string]int64, len(domain.Topics)),
		Polling:     overview.Polling,
		NextCheckAt: overview.NextCheckAt,
	}
	if st != nil {
		report.LastScheduleSync = st.LastScheduleSync
		report.LastEnqueue = st.LastEnqueue
		report.LastGroupCheck = st.LastGroupCheck
	}
	if report.QueueOK {
		for _, topic := range domain.Topics {
			n, err := s.queue.Length(ctx, topic)
			if err != nil {
				report.QueueOK = false
				break
			}
			report.Queues[topic] = n
		}
	}
	return report, nil
}
