package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "pending to queued", from: StatusPending, to: StatusQueued, want: true},
		{name: "queued to in_progress", from: StatusQueued, to: StatusInProgress, want: true},
		{name: "queued lease renewal", from: StatusQueued, to: StatusQueued, want: true},
		{name: "queued revert to pending", from: StatusQueued, to: StatusPending, want: true},
		{name: "in_progress to done", from: StatusInProgress, to: StatusDone, want: true},
		{name: "in_progress to retrying", from: StatusInProgress, to: StatusRetrying, want: true},
		{name: "in_progress to error", from: StatusInProgress, to: StatusError, want: true},
		{name: "retrying to queued", from: StatusRetrying, to: StatusQueued, want: true},
		{name: "done to queued", from: StatusDone, to: StatusQueued, want: false},
		{name: "error to queued", from: StatusError, to: StatusQueued, want: false},
		{name: "retrying to in_progress skips backoff", from: StatusRetrying, to: StatusInProgress, want: false},
		{name: "blocked_legacy to queued", from: StatusBlockedLegacy, to: StatusQueued, want: false},
		{name: "pending to done", from: StatusPending, to: StatusDone, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))

			err := CheckTransition(tt.from, tt.to)
			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrIllegalTransition))
			}
		})
	}
}

func TestSources(t *testing.T) {
	assert.ElementsMatch(t, []Status{StatusPending, StatusQueued, StatusRetrying}, Sources(StatusQueued))
	assert.ElementsMatch(t, []Status{StatusPending, StatusQueued}, Sources(StatusInProgress))
	assert.ElementsMatch(t, []Status{StatusInProgress}, Sources(StatusDone))
	assert.ElementsMatch(t, []string{"in_progress"}, SourceStrings(StatusRetrying))
	assert.Empty(t, Sources(StatusBlockedLegacy))
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusDone.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusRetrying.IsTerminal())
	assert.False(t, StatusBlockedLegacy.IsTerminal())

	s, err := ParseStatus("in_progress")
	assert.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)

	_, err = ParseStatus("RUNNING")
	assert.Error(t, err)
}
