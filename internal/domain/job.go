package domain

import "time"

// Kind identifies one of the job-shaped tables
type Kind string

const (
	KindAnalysis      Kind = "analysis"
	KindEmail         Kind = "email"
	KindGroupResearch Kind = "group_research"
)

// Queue topics
const (
	TopicTranscriptCheck = "transcript_check"
	TopicAnalysis        = "analysis"
	TopicEmail           = "email"
	TopicGroupResearch   = "group_research"
)

// Topics lists every topic reported by the status API
var Topics = []string{TopicTranscriptCheck, TopicAnalysis, TopicEmail, TopicGroupResearch}

// Topic returns the queue topic that carries messages for this kind
func (k Kind) Topic() string {
	switch k {
	case KindEmail:
		return TopicEmail
	case KindGroupResearch:
		return TopicGroupResearch
	default:
		return TopicAnalysis
	}
}

// Job is the common shape of analysis jobs, email outbox items and group
// research runs. SubjectID and Key map onto kind-specific columns:
//
//	analysis:       transcript_id, idempotency_key
//	email:          analysis_id,   recipient
//	group_research: group_id,      idempotency_key
type Job struct {
	ID          int64      `db:"id" json:"id"`
	Kind        Kind       `db:"-" json:"kind"`
	SubjectID   int64      `db:"subject_id" json:"subject_id"`
	Key         string     `db:"job_key" json:"key"`
	Force       bool       `db:"force" json:"force"`
	Status      Status     `db:"status" json:"status"`
	Attempts    int        `db:"attempts" json:"attempts"`
	LastError   *string    `db:"last_error" json:"last_error,omitempty"`
	RetryNextAt *time.Time `db:"retry_next_at" json:"retry_next_at,omitempty"`
	LockedUntil *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// NewJob carries the fields a producer supplies on insert. Period is only
// stored for group research runs.
type NewJob struct {
	Kind      Kind
	SubjectID int64
	Key       string
	Force     bool
	Period    Period
}

// LeaseExpired reports whether no live lease protects the row at now.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.LockedUntil == nil || j.LockedUntil.Before(now)
}

// Due reports whether the scheduler sweep should (re)queue the row at now.
// A queued row whose lease lapsed is treated as having lost its message.
func (j *Job) Due(now time.Time) bool {
	if !CanTransition(j.Status, StatusQueued) {
		return false
	}
	if j.RetryNextAt != nil && j.RetryNextAt.After(now) {
		return false
	}
	return j.LeaseExpired(now)
}

// Claimable reports whether a worker may take ownership of the row at now.
func (j *Job) Claimable(now time.Time) bool {
	if CanTransition(j.Status, StatusInProgress) {
		return true
	}
	return j.Status == StatusInProgress && j.LeaseExpired(now)
}

// CanApply reports whether u may be applied to the row at now. Moving a
// queued row to queued again additionally requires its lease to have lapsed.
func (j *Job) CanApply(u JobUpdate, now time.Time) bool {
	if !CanTransition(j.Status, u.Status) {
		return false
	}
	if u.Status == StatusQueued && j.Status == StatusQueued {
		return j.LeaseExpired(now)
	}
	return true
}

// Apply writes u onto the row. Callers check CanApply first.
func (j *Job) Apply(u JobUpdate, now time.Time) {
	j.Status = u.Status
	j.LockedUntil = u.LockedUntil
	j.RetryNextAt = u.RetryNextAt
	if u.SetError {
		j.LastError = u.LastError
	}
	if u.BumpAttempts {
		j.Attempts++
	}
	j.UpdatedAt = now
}

// JobUpdate describes a guarded status transition. Nil time fields clear
// the column; LastError is written only when SetError is true.
type JobUpdate struct {
	Status       Status
	LockedUntil  *time.Time
	RetryNextAt  *time.Time
	LastError    *string
	SetError     bool
	BumpAttempts bool
}

// QueuedUpdate hands the row to the queue with a short lease
func QueuedUpdate(lease time.Time) JobUpdate {
	return JobUpdate{Status: StatusQueued, LockedUntil: &lease}
}

// InProgressUpdate is applied by the claim phase
func InProgressUpdate(lease time.Time) JobUpdate {
	return JobUpdate{Status: StatusInProgress, LockedUntil: &lease}
}

// DoneUpdate clears lease, retry time and error
func DoneUpdate() JobUpdate {
	return JobUpdate{Status: StatusDone, SetError: true}
}

// RetryingUpdate schedules another attempt at `at`.
func RetryingUpdate(at time.Time, cause string, bumpAttempts bool) JobUpdate {
	u := JobUpdate{Status: StatusRetrying, RetryNextAt: &at, BumpAttempts: bumpAttempts}
	if cause != "" {
		msg := TruncateError(cause)
		u.LastError = &msg
		u.SetError = true
	}
	return u
}

// ErrorUpdate marks the row as failed for good
func ErrorUpdate(cause string) JobUpdate {
	msg := TruncateError(cause)
	return JobUpdate{Status: StatusError, LastError: &msg, SetError: true, BumpAttempts: true}
}

// PendingUpdate reverts a queued row whose message could not be pushed.
func PendingUpdate(now time.Time) JobUpdate {
	return JobUpdate{Status: StatusPending, RetryNextAt: &now}
}

// JobFilter narrows job listings. Stores return up to PageSize+1 rows,
// newest first, so callers can tell whether another page exists.
type JobFilter struct {
	Status   Status
	PageSize int
	Cursor   *JobCursor
}

// JobCursor points at the last row of the previous page
type JobCursor struct {
	CreatedAt time.Time
	ID        int64
}
