package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatestPeriod(t *testing.T) {
	tests := []struct {
		month time.Month
		year  int
		want  Period
	}{
		{month: time.January, year: 2026, want: Period{Quarter: "Q3", Year: 2026}},
		{month: time.March, year: 2026, want: Period{Quarter: "Q3", Year: 2026}},
		{month: time.April, year: 2026, want: Period{Quarter: "Q4", Year: 2026}},
		{month: time.June, year: 2026, want: Period{Quarter: "Q4", Year: 2026}},
		{month: time.July, year: 2026, want: Period{Quarter: "Q1", Year: 2027}},
		{month: time.September, year: 2026, want: Period{Quarter: "Q1", Year: 2027}},
		{month: time.October, year: 2026, want: Period{Quarter: "Q2", Year: 2027}},
		{month: time.December, year: 2026, want: Period{Quarter: "Q2", Year: 2027}},
	}

	for _, tt := range tests {
		t.Run(tt.month.String(), func(t *testing.T) {
			now := time.Date(tt.year, tt.month, 15, 10, 0, 0, 0, time.UTC)
			assert.Equal(t, tt.want, LatestPeriod(now))
		})
	}
}

func TestScheduleEntry_DueAndLocked(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	e := ScheduleEntry{}
	assert.True(t, e.Due(now))
	assert.False(t, e.Locked(now))

	e.NextCheckAt = &future
	assert.False(t, e.Due(now))

	e.NextCheckAt = &past
	e.LockedUntil = &future
	assert.True(t, e.Due(now))
	assert.True(t, e.Locked(now))

	e.LockedUntil = &past
	assert.False(t, e.Locked(now))
}

func TestMembership_AutoAnalyze(t *testing.T) {
	assert.True(t, Membership{InWatchlist: true}.AutoAnalyze())
	assert.False(t, Membership{InWatchlist: true, InActiveGroup: true}.AutoAnalyze())
	assert.False(t, Membership{}.AutoAnalyze())
}
