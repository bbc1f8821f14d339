package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, nil)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func seedTranscript(t *testing.T, store *Store) int64 {
	t.Helper()
	ctx := context.Background()

	var stockID int64
	require.NoError(t, store.db.GetContext(ctx, &stockID,
		`INSERT INTO stocks (stock_symbol, stock_name) VALUES ('TEST', 'Test Ltd') RETURNING id`))
	t.Cleanup(func() { store.db.Exec(`DELETE FROM stocks WHERE id = $1`, stockID) })

	var transcriptID int64
	require.NoError(t, store.db.GetContext(ctx, &transcriptID, `
		INSERT INTO transcripts (stock_id, quarter, year, status, source_url)
		VALUES ($1, 'Q2', 2027, 'available', 'https://example.com/t.pdf') RETURNING id
	`, stockID))
	return transcriptID
}

func TestJobRepository_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	jobs := store.Jobs(domain.KindAnalysis)
	transcriptID := seedTranscript(t, store)
	now := time.Now()
	key := domain.NewJob{Kind: domain.KindAnalysis, SubjectID: transcriptID, Key: "it:" + now.Format(time.RFC3339Nano)}

	job, err := jobs.InsertOrGet(ctx, key)
	require.NoError(t, err)
	again, err := jobs.InsertOrGet(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, domain.StatusPending, job.Status)

	ok, err := jobs.Transition(ctx, job.ID, now, domain.DoneUpdate())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = jobs.Transition(ctx, job.ID, now, domain.QueuedUpdate(now.Add(15*time.Minute)))
	require.NoError(t, err)
	assert.True(t, ok)

	claimed, err := jobs.Claim(ctx, job.ID, now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, claimed.Status)

	_, err = jobs.Claim(ctx, job.ID, now, now.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)

	n, err := jobs.RecoverExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	recovered, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetrying, recovered.Status)
	assert.Nil(t, recovered.LockedUntil)
}

func TestStore_SchedulerStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.SaveSchedulerState(ctx, domain.SchedulerState{Running: true, LastEnqueue: &now, HeartbeatAt: now}))

	st, err := store.LoadSchedulerState(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.Running)
	require.NotNil(t, st.LastEnqueue)
	assert.True(t, st.LastEnqueue.Equal(now))
}
