package memory

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTable_TransitionFollowsTable(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := New()
	jobs := store.Jobs(domain.KindAnalysis)

	job, err := jobs.InsertOrGet(ctx, domain.NewJob{Kind: domain.KindAnalysis, SubjectID: 1, Key: "1:url"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)

	ok, err := jobs.Transition(ctx, job.ID, now, domain.DoneUpdate())
	require.NoError(t, err)
	assert.False(t, ok, "pending cannot jump to done")

	ok, err = jobs.Transition(ctx, job.ID, now, domain.QueuedUpdate(now.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = jobs.Transition(ctx, job.ID, now, domain.QueuedUpdate(now.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, ok, "live lease blocks re-queue")

	ok, err = jobs.Transition(ctx, job.ID, now.Add(2*time.Minute), domain.QueuedUpdate(now.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, ok, "expired lease allows re-queue")
}

func TestJobTable_InsertOrGetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	jobs := New().Jobs(domain.KindEmail)

	a, err := jobs.InsertOrGet(ctx, domain.NewJob{Kind: domain.KindEmail, SubjectID: 7, Key: "a@example.com"})
	require.NoError(t, err)
	b, err := jobs.InsertOrGet(ctx, domain.NewJob{Kind: domain.KindEmail, SubjectID: 7, Key: "a@example.com"})
	require.NoError(t, err)
	c, err := jobs.InsertOrGet(ctx, domain.NewJob{Kind: domain.KindEmail, SubjectID: 8, Key: "a@example.com"})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Len(t, jobs.All(), 2)
}

func TestJobTable_Claim(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	jobs := New().Jobs(domain.KindAnalysis)

	queued := jobs.Put(domain.Job{Status: domain.StatusQueued})
	done := jobs.Put(domain.Job{Status: domain.StatusDone})

	job, err := jobs.Claim(ctx, queued, now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, job.Status)

	_, err = jobs.Claim(ctx, queued, now, now.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)

	_, err = jobs.Claim(ctx, done, now, now.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrJobTerminal)

	_, err = jobs.Claim(ctx, 999, now, now.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	job, err = jobs.Claim(ctx, queued, now.Add(2*time.Hour), now.Add(3*time.Hour))
	require.NoError(t, err, "expired lease can be reclaimed")
	assert.Equal(t, queued, job.ID)
}

func TestJobTable_ClaimDue(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Minute)
	jobs := New().Jobs(domain.KindAnalysis)

	pending := jobs.Put(domain.Job{Status: domain.StatusPending})
	retryDue := jobs.Put(domain.Job{Status: domain.StatusRetrying, RetryNextAt: &past})
	jobs.Put(domain.Job{Status: domain.StatusRetrying, RetryNextAt: &future})
	jobs.Put(domain.Job{Status: domain.StatusQueued, LockedUntil: &future})
	lostQueued := jobs.Put(domain.Job{Status: domain.StatusQueued, LockedUntil: &past})
	jobs.Put(domain.Job{Status: domain.StatusError})
	jobs.Put(domain.Job{Status: domain.StatusBlockedLegacy})

	ids, err := jobs.ClaimDue(ctx, now, now.Add(15*time.Minute), 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{pending, retryDue, lostQueued}, ids)

	ids, err = jobs.ClaimDue(ctx, now, now.Add(15*time.Minute), 100)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestJobTable_RecoverExpiredAndMigrateLegacy(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Minute)
	jobs := New().Jobs(domain.KindEmail)

	expired := jobs.Put(domain.Job{Status: domain.StatusInProgress, LockedUntil: &past})
	live := jobs.Put(domain.Job{Status: domain.StatusInProgress, LockedUntil: &future})
	legacy := jobs.Put(domain.Job{Status: domain.StatusBlockedLegacy})
	msg := "SMTP relay Rejected legacy sender"
	matching := jobs.Put(domain.Job{Status: domain.StatusError, LastError: &msg})
	other := "boom"
	failed := jobs.Put(domain.Job{Status: domain.StatusError, LastError: &other})

	n, err := jobs.RecoverExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	job, _ := jobs.Get(ctx, expired)
	assert.Equal(t, domain.StatusRetrying, job.Status)
	require.NotNil(t, job.RetryNextAt)
	assert.False(t, job.RetryNextAt.After(now))
	assert.Nil(t, job.LockedUntil)

	job, _ = jobs.Get(ctx, live)
	assert.Equal(t, domain.StatusInProgress, job.Status)

	n, err = jobs.MigrateLegacy(ctx, now, []string{"rejected legacy"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []int64{legacy, matching} {
		job, _ = jobs.Get(ctx, id)
		assert.Equal(t, domain.StatusPending, job.Status)
	}
	job, _ = jobs.Get(ctx, failed)
	assert.Equal(t, domain.StatusError, job.Status)
}

func TestStore_SyncSchedule(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := New()
	period := domain.Period{Quarter: "Q2", Year: 2027}
	earlier := now.Add(-time.Hour)

	store.PutScheduleEntry(domain.ScheduleEntry{StockID: 1, Quarter: "Q1", Year: 2027, Priority: 100})
	kept := store.PutScheduleEntry(domain.ScheduleEntry{StockID: 2, Quarter: "Q2", Year: 2027, Priority: 50, NextCheckAt: &earlier})
	store.PutScheduleEntry(domain.ScheduleEntry{StockID: 3, Quarter: "Q2", Year: 2027, Priority: 50})

	res, err := store.SyncSchedule(ctx, period, []domain.ScheduleSeed{
		{StockID: 2, Priority: 100},
		{StockID: 4, Priority: 50},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)
	assert.Equal(t, int64(2), res.Upserted)

	rows, err := store.ScheduleEntries(ctx, period)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, kept, rows[0].ID)
	assert.Equal(t, 100, rows[0].Priority)
	assert.True(t, rows[0].NextCheckAt.Equal(earlier), "existing next_check_at is kept")

	res, err = store.SyncSchedule(ctx, period, nil, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)
}

func TestStore_CommitAnalysisRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := New()
	stock := store.AddStock("TCS", "Tata Consultancy")
	transcript := store.AddTranscript(domain.Transcript{StockID: stock, Quarter: "Q2", Year: 2027, Status: domain.TranscriptAvailable})

	jobs := store.Jobs(domain.KindAnalysis)
	queued := jobs.Put(domain.Job{SubjectID: transcript, Status: domain.StatusQueued})

	_, err := store.CommitAnalysis(ctx, queued, &domain.Analysis{TranscriptID: transcript, Output: "x"}, false, now)
	assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
	assert.Empty(t, store.Analyses(transcript))

	_, err = jobs.Claim(ctx, queued, now, now.Add(time.Hour))
	require.NoError(t, err)

	id, err := store.CommitAnalysis(ctx, queued, &domain.Analysis{TranscriptID: transcript, Output: "x"}, false, now)
	require.NoError(t, err)
	assert.NotZero(t, id)

	tr, _ := store.Transcript(transcript)
	require.NotNil(t, tr.AnalysisStatus)
	assert.Equal(t, domain.AnalysisDone, *tr.AnalysisStatus)
}
