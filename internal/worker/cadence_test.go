package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/internal/retry"
)

func TestCadence_NextCheck(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	inTwelveHours := now.Add(12 * time.Hour)
	inThreeDays := now.Add(72 * time.Hour)
	inTwoWeeks := now.Add(14 * 24 * time.Hour)
	cadence := Cadence{Retry: retry.NewSeeded(time.Minute, time.Hour, 1)}

	tests := []struct {
		name      string
		status    domain.CheckStatus
		eventTime *time.Time
		want      time.Duration
	}{
		{name: "available", status: domain.CheckAvailable, want: AvailableInterval},
		{name: "upcoming within a day", status: domain.CheckUpcoming, eventTime: &inTwelveHours, want: ImminentInterval},
		{name: "upcoming within a week", status: domain.CheckUpcoming, eventTime: &inThreeDays, want: ThisWeekInterval},
		{name: "upcoming far away", status: domain.CheckUpcoming, eventTime: &inTwoWeeks, want: DefaultInterval},
		{name: "upcoming without date", status: domain.CheckUpcoming, want: DefaultInterval},
		{name: "nothing found", status: domain.CheckNone, want: DefaultInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cadence.NextCheck(now, tt.status, tt.eventTime, 0, domain.PriorityWatchlist)
			assert.Equal(t, now.Add(tt.want), got)
		})
	}
}

func TestCadence_ErrorBackoff(t *testing.T) {
	now := time.Now()
	cadence := Cadence{Retry: retry.NewSeeded(time.Minute, time.Hour, 7)}

	t.Run("watchlist is capped at fifteen minutes plus jitter", func(t *testing.T) {
		next := cadence.NextCheck(now, domain.CheckError, nil, 10, domain.PriorityWatchlist)
		assert.LessOrEqual(t, next.Sub(now), WatchlistErrorCap+30*time.Second)
		assert.GreaterOrEqual(t, next.Sub(now), WatchlistErrorCap)
	})

	t.Run("group stocks use the policy cap", func(t *testing.T) {
		next := cadence.NextCheck(now, domain.CheckError, nil, 10, domain.PriorityGroup)
		assert.GreaterOrEqual(t, next.Sub(now), time.Hour)
		assert.LessOrEqual(t, next.Sub(now), time.Hour+30*time.Second)
	})
}
