package domain

import "fmt"

// transitions is the single source of truth for legal status changes.
// blocked_legacy has no entry: it is only left through the legacy migration.
var transitions = map[Status][]Status{
	StatusPending:    {StatusQueued, StatusInProgress},
	StatusQueued:     {StatusQueued, StatusInProgress, StatusPending},
	StatusInProgress: {StatusDone, StatusRetrying, StatusError},
	StatusRetrying:   {StatusQueued},
}

// CanTransition reports whether a row may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrIllegalTransition when from → to is not allowed.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// Sources lists every status from which `to` can be reached. Stores use it
// to build the guarded WHERE clause of a status update.
func Sources(to Status) []Status {
	var out []Status
	for _, from := range allStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// SourceStrings is Sources rendered for SQL array parameters
func SourceStrings(to Status) []string {
	sources := Sources(to)
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}
