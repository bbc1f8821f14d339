package domain

import (
	"fmt"
	"time"
)

// Schedule priorities
const (
	PriorityWatchlist = 100
	PriorityGroup     = 50
)

// CheckStatus is the outcome of the latest provider poll for a schedule row
type CheckStatus string

const (
	CheckNone      CheckStatus = "none"
	CheckAvailable CheckStatus = "available"
	CheckUpcoming  CheckStatus = "upcoming"
	CheckError     CheckStatus = "error"
)

// Period is a fiscal reporting quarter
type Period struct {
	Quarter string `json:"quarter" db:"quarter"`
	Year    int    `json:"year" db:"year"`
}

func (p Period) String() string {
	return fmt.Sprintf("%s %d", p.Quarter, p.Year)
}

// IsZero reports whether the period is unset
func (p Period) IsZero() bool {
	return p.Quarter == "" && p.Year == 0
}

// LatestPeriod returns the most recent completed quarter of the Indian
// fiscal year (April–March) at now. Results for a quarter are published
// during the following one, so that is the quarter worth polling for.
func LatestPeriod(now time.Time) Period {
	year := now.Year()
	var current Period
	switch m := now.Month(); {
	case m >= time.April && m <= time.June:
		current = Period{Quarter: "Q1", Year: year + 1}
	case m >= time.July && m <= time.September:
		current = Period{Quarter: "Q2", Year: year + 1}
	case m >= time.October:
		current = Period{Quarter: "Q3", Year: year + 1}
	default:
		current = Period{Quarter: "Q4", Year: year}
	}

	switch current.Quarter {
	case "Q1":
		return Period{Quarter: "Q4", Year: current.Year - 1}
	case "Q2":
		return Period{Quarter: "Q1", Year: current.Year}
	case "Q3":
		return Period{Quarter: "Q2", Year: current.Year}
	default:
		return Period{Quarter: "Q3", Year: current.Year}
	}
}

// ScheduleEntry is one transcript_fetch_schedule row
type ScheduleEntry struct {
	ID              int64       `db:"id" json:"id"`
	StockID         int64       `db:"stock_id" json:"stock_id"`
	Quarter         string      `db:"quarter" json:"quarter"`
	Year            int         `db:"year" json:"year"`
	Priority        int         `db:"priority" json:"priority"`
	NextCheckAt     *time.Time  `db:"next_check_at" json:"next_check_at,omitempty"`
	LastStatus      CheckStatus `db:"last_status" json:"last_status"`
	LastCheckedAt   *time.Time  `db:"last_checked_at" json:"last_checked_at,omitempty"`
	LastAvailableAt *time.Time  `db:"last_available_at" json:"last_available_at,omitempty"`
	Attempts        int         `db:"attempts" json:"attempts"`
	LockedUntil     *time.Time  `db:"locked_until" json:"locked_until,omitempty"`
}

// Period returns the reporting period the row tracks
func (e *ScheduleEntry) Period() Period {
	return Period{Quarter: e.Quarter, Year: e.Year}
}

// Due reports whether next_check_at has passed at now
func (e *ScheduleEntry) Due(now time.Time) bool {
	return e.NextCheckAt == nil || !e.NextCheckAt.After(now)
}

// Locked reports whether a live lease protects the row at now
func (e *ScheduleEntry) Locked(now time.Time) bool {
	return e.LockedUntil != nil && !e.LockedUntil.Before(now)
}

// ScheduleSeed is one row ScheduleSync wants to exist
type ScheduleSeed struct {
	StockID  int64
	Priority int
}

// CheckOutcome is what the check worker writes back after a poll.
type CheckOutcome struct {
	Status      CheckStatus
	NextCheckAt time.Time
	Attempts    int
	CheckedAt   time.Time
}

// Transcript check indicator values kept in transcript_checks
const (
	CheckIndicatorIdle     = "idle"
	CheckIndicatorChecking = "checking"
)

// CheckResult is persisted by the check worker in one transaction. Item is
// nil when the provider returned nothing for the period.
type CheckResult struct {
	StockID int64
	Period  Period
	Item    *TranscriptItem
	Outcome CheckOutcome
}

// CheckRecord reports what RecordCheck wrote
type CheckRecord struct {
	TranscriptID int64
	// BecameAvailable is true when the transcript was not available before this check
	BecameAvailable bool
}

// SyncResult counts rows touched by a schedule sync
type SyncResult struct {
	Upserted int64
	Deleted  int64
}

// SchedulerState is the heartbeat row shared with the API process
type SchedulerState struct {
	Running          bool       `db:"running" json:"running"`
	LastScheduleSync *time.Time `db:"last_schedule_sync" json:"last_schedule_sync"`
	LastEnqueue      *time.Time `db:"last_enqueue" json:"last_enqueue"`
	LastGroupCheck   *time.Time `db:"last_group_check" json:"last_group_check"`
	HeartbeatAt      time.Time  `db:"heartbeat_at" json:"heartbeat_at"`
}

// ScheduleOverview summarises the active period for the status API
type ScheduleOverview struct {
	Polling     int        `db:"polling" json:"polling"`
	NextCheckAt *time.Time `db:"next_check_at" json:"next_check_at"`
}
