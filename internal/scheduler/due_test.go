package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

func at(t time.Time) *time.Time { return &t }

func TestDueScheduleEntries(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	rows := []domain.ScheduleEntry{
		{ID: 1, Priority: 50, NextCheckAt: at(now.Add(-time.Hour))},
		{ID: 2, Priority: 100, NextCheckAt: at(now.Add(-time.Minute))},
		{ID: 3, Priority: 100, NextCheckAt: at(now.Add(-time.Hour))},
		{ID: 4, Priority: 100, NextCheckAt: at(now.Add(time.Minute))},
		{ID: 5, Priority: 100, NextCheckAt: at(now.Add(-time.Hour)), LockedUntil: at(now.Add(time.Minute))},
		{ID: 6, Priority: 50, NextCheckAt: nil},
		{ID: 7, Priority: 100, NextCheckAt: at(now.Add(-2 * time.Hour)), LockedUntil: at(now.Add(-time.Second))},
	}

	tests := []struct {
		name  string
		limit int
		want  []int64
	}{
		{name: "all due rows by priority then age", limit: 100, want: []int64{7, 3, 2, 6, 1}},
		{name: "limit keeps the head", limit: 2, want: []int64{7, 3}},
		{name: "zero limit means unbounded", limit: 0, want: []int64{7, 3, 2, 6, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DueScheduleEntries(now, rows, tt.limit)
			ids := make([]int64, 0, len(got))
			for _, row := range got {
				ids = append(ids, row.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestBuildSeeds(t *testing.T) {
	seeds := BuildSeeds([]int64{3, 1}, []int64{1, 2, 2})

	assert.Equal(t, []domain.ScheduleSeed{
		{StockID: 1, Priority: domain.PriorityWatchlist},
		{StockID: 2, Priority: domain.PriorityGroup},
		{StockID: 3, Priority: domain.PriorityWatchlist},
	}, seeds)
	assert.Empty(t, BuildSeeds(nil, nil))
}

func TestWatchlistSettled(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	later := at(now.Add(time.Hour))

	tests := []struct {
		name string
		rows []domain.ScheduleEntry
		want bool
	}{
		{name: "no rows", want: true},
		{
			name: "watchlist rows scheduled later",
			rows: []domain.ScheduleEntry{{Priority: 100, NextCheckAt: later}},
			want: true,
		},
		{
			name: "due group rows do not block",
			rows: []domain.ScheduleEntry{{Priority: 50, NextCheckAt: at(now)}, {Priority: 100, NextCheckAt: later}},
			want: true,
		},
		{
			name: "due watchlist row blocks",
			rows: []domain.ScheduleEntry{{Priority: 100, NextCheckAt: at(now.Add(-time.Second))}},
			want: false,
		},
		{
			name: "locked watchlist row blocks",
			rows: []domain.ScheduleEntry{{Priority: 100, NextCheckAt: later, LockedUntil: at(now.Add(time.Minute))}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WatchlistSettled(now, tt.rows))
		})
	}
}

func TestIntersectPeriods(t *testing.T) {
	q1 := domain.Period{Quarter: "Q1", Year: 2027}
	q2 := domain.Period{Quarter: "Q2", Year: 2027}
	q4 := domain.Period{Quarter: "Q4", Year: 2026}

	tests := []struct {
		name      string
		stocks    []int64
		available map[int64][]domain.Period
		want      []domain.Period
	}{
		{
			name:      "common periods oldest first",
			stocks:    []int64{1, 2},
			available: map[int64][]domain.Period{1: {q2, q1, q4}, 2: {q1, q4, q2}},
			want:      []domain.Period{q4, q1, q2},
		},
		{
			name:      "member without transcripts",
			stocks:    []int64{1, 2},
			available: map[int64][]domain.Period{1: {q1}},
			want:      nil,
		},
		{
			name:      "duplicates counted once",
			stocks:    []int64{1, 2},
			available: map[int64][]domain.Period{1: {q1, q1}, 2: {q2}},
			want:      nil,
		},
		{
			name:   "no stocks",
			stocks: nil,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IntersectPeriods(tt.stocks, tt.available))
		})
	}
}
