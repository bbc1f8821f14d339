package worker

import (
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/internal/retry"
)

// Polling intervals per check outcome
const (
	AvailableInterval = 12 * time.Hour
	ImminentInterval  = 10 * time.Minute
	ThisWeekInterval  = 60 * time.Minute
	DefaultInterval   = 4 * time.Hour
	WatchlistErrorCap = 15 * time.Minute
	imminentWindow    = 24 * time.Hour
	thisWeekWindow    = 7 * 24 * time.Hour
)

// Cadence decides when a schedule row is polled next
type Cadence struct {
	Retry *retry.Policy
}

// NextCheck returns the next poll time for a row whose last check ended
// with status. eventTime is the announced call time of an upcoming
// transcript; attempts counts consecutive errors.
func (c Cadence) NextCheck(now time.Time, status domain.CheckStatus, eventTime *time.Time, attempts, priority int) time.Time {
	switch status {
	case domain.CheckAvailable:
		return now.Add(AvailableInterval)
	case domain.CheckUpcoming:
		if eventTime != nil {
			until := eventTime.Sub(now)
			if until <= imminentWindow {
				return now.Add(ImminentInterval)
			}
			if until <= thisWeekWindow {
				return now.Add(ThisWeekInterval)
			}
		}
	case domain.CheckError:
		policy := c.Retry
		if policy == nil {
			policy = retry.Default()
		}
		if priority >= domain.PriorityWatchlist {
			return now.Add(policy.BackoffCapped(attempts, WatchlistErrorCap))
		}
		return now.Add(policy.Backoff(attempts))
	}
	return now.Add(DefaultInterval)
}
