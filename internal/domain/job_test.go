package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_Due(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		job  Job
		want bool
	}{
		{name: "pending without retry time", job: Job{Status: StatusPending}, want: true},
		{name: "retrying after backoff", job: Job{Status: StatusRetrying, RetryNextAt: &past}, want: true},
		{name: "retrying before backoff", job: Job{Status: StatusRetrying, RetryNextAt: &future}, want: false},
		{name: "queued with live lease", job: Job{Status: StatusQueued, LockedUntil: &future}, want: false},
		{name: "queued with expired lease", job: Job{Status: StatusQueued, LockedUntil: &past}, want: true},
		{name: "in_progress", job: Job{Status: StatusInProgress, LockedUntil: &past}, want: false},
		{name: "done", job: Job{Status: StatusDone}, want: false},
		{name: "error", job: Job{Status: StatusError}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.Due(now))
		})
	}
}

func TestJob_Claimable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	assert.True(t, (&Job{Status: StatusQueued, LockedUntil: &future}).Claimable(now))
	assert.True(t, (&Job{Status: StatusPending}).Claimable(now))
	assert.True(t, (&Job{Status: StatusInProgress, LockedUntil: &past}).Claimable(now))
	assert.False(t, (&Job{Status: StatusInProgress, LockedUntil: &future}).Claimable(now))
	assert.False(t, (&Job{Status: StatusRetrying}).Claimable(now))
	assert.False(t, (&Job{Status: StatusDone}).Claimable(now))
}

func TestJobMessage(t *testing.T) {
	msg := NewJobMessage(KindEmail, 42)
	assert.Equal(t, int64(42), msg.EmailOutboxID)

	id, err := msg.JobID(KindEmail)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = msg.JobID(KindAnalysis)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestCheckMessage_Validate(t *testing.T) {
	assert.NoError(t, CheckMessage{StockID: 1, Quarter: "Q3", Year: 2026}.Validate())
	assert.ErrorIs(t, CheckMessage{Quarter: "Q3", Year: 2026}.Validate(), ErrInvalidPayload)
	assert.ErrorIs(t, CheckMessage{StockID: 1, Year: 2026}.Validate(), ErrInvalidPayload)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.True(t, IsRetryable(NewRetryableError(errors.New("timeout"))))
	assert.False(t, IsRetryable(NonRetryable("Stock not in watchlist")))
	assert.False(t, IsRetryable(ErrInvalidPayload))
}

func TestTruncateError(t *testing.T) {
	short := "boom"
	assert.Equal(t, short, TruncateError(short))

	long := strings.Repeat("é", MaxErrorLength)
	got := TruncateError(long)
	assert.LessOrEqual(t, len(got), MaxErrorLength)
	assert.True(t, strings.HasPrefix(long, got))
}

func TestUpdates(t *testing.T) {
	now := time.Now()

	u := RetryingUpdate(now, "timeout", true)
	assert.Equal(t, StatusRetrying, u.Status)
	assert.True(t, u.BumpAttempts)
	assert.True(t, u.SetError)
	assert.Nil(t, u.LockedUntil)

	u = PendingUpdate(now)
	assert.Equal(t, StatusPending, u.Status)
	assert.Equal(t, now, *u.RetryNextAt)
	assert.False(t, u.SetError)

	u = DoneUpdate()
	assert.True(t, u.SetError)
	assert.Nil(t, u.LastError)
}
