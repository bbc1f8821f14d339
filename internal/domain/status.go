package domain

import "fmt"

// Status is the lifecycle state shared by every job-shaped row
// (analysis jobs, email outbox items and group research runs).
type Status string

const (
	StatusPending       Status = "pending"
	StatusQueued        Status = "queued"
	StatusInProgress    Status = "in_progress"
	StatusRetrying      Status = "retrying"
	StatusError         Status = "error"
	StatusDone          Status = "done"
	StatusBlockedLegacy Status = "blocked_legacy"
)

var allStatuses = []Status{
	StatusPending,
	StatusQueued,
	StatusInProgress,
	StatusRetrying,
	StatusError,
	StatusDone,
	StatusBlockedLegacy,
}

// IsTerminal reports whether no automatic transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a raw column or query value into a Status
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown job status %q", raw)
	}
	return s, nil
}
