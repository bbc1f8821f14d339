// Package scheduler decides which stocks get polled for transcripts and
// which job rows are handed back to the queue.
package scheduler

import (
	"sort"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// DueScheduleEntries returns at most limit rows that are due and unlocked
// at now, highest priority first and then the longest waiting.
func DueScheduleEntries(now time.Time, rows []domain.ScheduleEntry, limit int) []domain.ScheduleEntry {
	due := make([]domain.ScheduleEntry, 0, len(rows))
	for _, row := range rows {
		if row.Due(now) && !row.Locked(now) {
			due = append(due, row)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return checkTime(a).Before(checkTime(b))
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due
}

// rows never checked sort first
func checkTime(e domain.ScheduleEntry) time.Time {
	if e.NextCheckAt == nil {
		return time.Time{}
	}
	return *e.NextCheckAt
}

// BuildSeeds merges watchlist and group members into schedule seeds.
// A stock in both keeps the watchlist priority.
func BuildSeeds(watchlist, groupStocks []int64) []domain.ScheduleSeed {
	priority := make(map[int64]int, len(watchlist)+len(groupStocks))
	for _, id := range groupStocks {
		priority[id] = domain.PriorityGroup
	}
	for _, id := range watchlist {
		priority[id] = domain.PriorityWatchlist
	}

	seeds := make([]domain.ScheduleSeed, 0, len(priority))
	for id, p := range priority {
		seeds = append(seeds, domain.ScheduleSeed{StockID: id, Priority: p})
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].StockID < seeds[j].StockID })
	return seeds
}

// WatchlistSettled reports whether no watchlist row is due or being polled
// at now. Group research waits until the watchlist has been worked off.
func WatchlistSettled(now time.Time, rows []domain.ScheduleEntry) bool {
	for _, row := range rows {
		if row.Priority < domain.PriorityWatchlist {
			continue
		}
		if row.Due(now) || row.Locked(now) {
			return false
		}
	}
	return true
}

// IntersectPeriods returns the periods for which every stock has an
// available transcript, oldest first.
func IntersectPeriods(stockIDs []int64, available map[int64][]domain.Period) []domain.Period {
	if len(stockIDs) == 0 {
		return nil
	}

	counts := make(map[domain.Period]int)
	for _, id := range stockIDs {
		seen := make(map[domain.Period]bool)
		for _, p := range available[id] {
			if !seen[p] {
				seen[p] = true
				counts[p]++
			}
		}
	}

	var periods []domain.Period
	for p, n := range counts {
		if n == len(stockIDs) {
			periods = append(periods, p)
		}
	}
	sort.Slice(periods, func(i, j int) bool {
		if periods[i].Year != periods[j].Year {
			return periods[i].Year < periods[j].Year
		}
		return periods[i].Quarter < periods[j].Quarter
	})
	return periods
}
