package producer

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// GroupResearchProducer enqueues one research run per group and period
type GroupResearchProducer struct {
	producer *Producer
}

// NewGroupResearchProducer creates a new GroupResearchProducer instance
func NewGroupResearchProducer(jobs JobStore, queue Pusher, logger *slog.Logger) *GroupResearchProducer {
	return &GroupResearchProducer{producer: New(jobs, queue, DefaultLease, logger)}
}

// EnqueueForGroup returns the run id and whether a message was pushed.
// Runs that already finished or failed are left alone.
func (p *GroupResearchProducer) EnqueueForGroup(ctx context.Context, groupID int64, period domain.Period) (int64, bool, error) {
	job, pushed, err := p.producer.Produce(ctx, domain.NewJob{
		SubjectID: groupID,
		Key:       domain.GroupRunKey(groupID, period),
		Period:    period,
	})
	if err != nil {
		return 0, false, err
	}
	return job.ID, pushed, nil
}
