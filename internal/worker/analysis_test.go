package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/internal/retry"
	"github.com/cuongbtq/earnings-watch/internal/storage/memory"
)

const transcriptURL = "https://example.com/tcs-q2.pdf"

type analysisFixture struct {
	store      *memory.Store
	source     *mockSource
	generator  *mockGenerator
	emails     *recordingEnqueuer
	events     *recordingPublisher
	processor  *AnalysisProcessor
	stockID    int64
	transcript int64
	jobID      int64
}

func newAnalysisFixture(t *testing.T, watchlisted bool) *analysisFixture {
	t.Helper()
	store := memory.New()
	stockID := store.AddStock("TCS", "Tata Consultancy Services")
	if watchlisted {
		store.AddToWatchlist(stockID)
	}
	store.SetPrompt(0, "You are an equity analyst.")
	url := transcriptURL
	transcript := store.AddTranscript(domain.Transcript{
		StockID:   stockID,
		Quarter:   "Q2",
		Year:      2027,
		Status:    domain.TranscriptAvailable,
		SourceURL: &url,
	})
	jobID := store.Jobs(domain.KindAnalysis).Put(domain.Job{
		SubjectID: transcript,
		Key:       "k",
		Status:    domain.StatusQueued,
	})

	f := &analysisFixture{
		store:      store,
		source:     &mockSource{},
		generator:  &mockGenerator{},
		emails:     &recordingEnqueuer{},
		events:     &recordingPublisher{},
		stockID:    stockID,
		transcript: transcript,
		jobID:      jobID,
	}
	f.processor = NewAnalysisProcessor(AnalysisConfig{
		Jobs:      store.Jobs(domain.KindAnalysis),
		Store:     store,
		Source:    f.source,
		Generator: f.generator,
		Emails:    f.emails,
		Events:    f.events,
		Retry:     retry.NewSeeded(time.Minute, time.Hour, 42),
		Timeout:   time.Minute,
	})
	return f
}

func TestAnalysisProcessor_Success(t *testing.T) {
	f := newAnalysisFixture(t, true)
	ctx := context.Background()

	f.source.On("FetchText", mock.Anything, transcriptURL).Return("revenue grew 12%", nil)
	f.generator.On("Generate", mock.Anything, mock.MatchedBy(func(r domain.GenerateRequest) bool {
		return r.Prompt == "revenue grew 12%" && r.SystemPrompt == "You are an equity analyst."
	})).Return(&domain.Generation{Text: "Strong quarter", Provider: "anthropic", ModelID: "test-model", TokensIn: 10, TokensOut: 5}, nil)

	require.NoError(t, f.processor.Process(ctx, jobMessage(domain.KindAnalysis, f.jobID)))

	job, err := f.store.Jobs(domain.KindAnalysis).Get(ctx, f.jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, job.Status)
	assert.Nil(t, job.LockedUntil)

	analyses := f.store.Analyses(f.transcript)
	require.Len(t, analyses, 1)
	assert.Equal(t, "Strong quarter", analyses[0].Output)
	assert.Equal(t, "You are an equity analyst.", analyses[0].PromptSnapshot)

	tr, _ := f.store.Transcript(f.transcript)
	require.NotNil(t, tr.AnalysisStatus)
	assert.Equal(t, domain.AnalysisDone, *tr.AnalysisStatus)

	assert.Equal(t, []int64{analyses[0].ID}, f.emails.analyses)
	assert.Equal(t, []string{domain.EventAnalysisCompleted}, f.events.types())
}

func TestAnalysisProcessor_TransientFailureRetries(t *testing.T) {
	f := newAnalysisFixture(t, true)
	ctx := context.Background()
	jobs := f.store.Jobs(domain.KindAnalysis)

	f.source.On("FetchText", mock.Anything, transcriptURL).Return("", errors.New("connection reset")).Once()

	start := time.Now()
	err := f.processor.Process(ctx, jobMessage(domain.KindAnalysis, f.jobID))
	require.Error(t, err)

	job, err := jobs.Get(ctx, f.jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetrying, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.LockedUntil)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "connection reset")
	require.NotNil(t, job.RetryNextAt)
	assert.True(t, !job.RetryNextAt.Before(start.Add(60*time.Second)))
	assert.True(t, !job.RetryNextAt.After(time.Now().Add(90*time.Second)))

	tr, _ := f.store.Transcript(f.transcript)
	require.NotNil(t, tr.AnalysisStatus)
	assert.Equal(t, domain.AnalysisError, *tr.AnalysisStatus)

	ids, err := jobs.ClaimDue(ctx, time.Now(), time.Now().Add(15*time.Minute), 100)
	require.NoError(t, err)
	assert.Empty(t, ids, "sweep before retry_next_at does nothing")

	later := job.RetryNextAt.Add(time.Second)
	ids, err = jobs.ClaimDue(ctx, later, later.Add(15*time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.jobID}, ids)
}

func TestAnalysisProcessor_PanicMarksRetrying(t *testing.T) {
	f := newAnalysisFixture(t, true)
	ctx := context.Background()

	f.source.On("FetchText", mock.Anything, transcriptURL).Return("revenue grew 12%", nil)
	f.generator.On("Generate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("nil deref in provider")
	})

	w := NewWorker(Config{Topic: "analysis", Processor: f.processor})
	err := w.processSafely(ctx, jobMessage(domain.KindAnalysis, f.jobID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil deref in provider")

	job, err := f.store.Jobs(domain.KindAnalysis).Get(ctx, f.jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetrying, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.LockedUntil)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "nil deref in provider")
	require.NotNil(t, job.RetryNextAt)
}

func TestAnalysisProcessor_NonRetryableValidation(t *testing.T) {
	f := newAnalysisFixture(t, false)
	ctx := context.Background()

	err := f.processor.Process(ctx, jobMessage(domain.KindAnalysis, f.jobID))
	require.Error(t, err)
	assert.Equal(t, MsgStockNotInWatchlist, err.Error())

	job, err := f.store.Jobs(domain.KindAnalysis).Get(ctx, f.jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.RetryNextAt)
	require.NotNil(t, job.LastError)
	assert.Equal(t, MsgStockNotInWatchlist, *job.LastError)

	f.source.AssertNotCalled(t, "FetchText", mock.Anything, mock.Anything)
}

func TestAnalysisProcessor_GroupStockIsSkipped(t *testing.T) {
	f := newAnalysisFixture(t, true)
	f.store.AddGroup("IT services", "compare", true, f.stockID)

	err := f.processor.Process(context.Background(), jobMessage(domain.KindAnalysis, f.jobID))
	require.Error(t, err)
	assert.Equal(t, MsgStockInActiveGroup, err.Error())
}

func TestAnalysisProcessor_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newAnalysisFixture(t, true)
	ctx := context.Background()
	jobs := f.store.Jobs(domain.KindAnalysis)

	doneID := jobs.Put(domain.Job{SubjectID: f.transcript, Key: "done", Status: domain.StatusDone})
	require.NoError(t, f.processor.Process(ctx, jobMessage(domain.KindAnalysis, doneID)))

	lease := time.Now().Add(time.Hour)
	runningID := jobs.Put(domain.Job{SubjectID: f.transcript, Key: "running", Status: domain.StatusInProgress, LockedUntil: &lease})
	require.NoError(t, f.processor.Process(ctx, jobMessage(domain.KindAnalysis, runningID)))

	require.NoError(t, f.processor.Process(ctx, jobMessage(domain.KindAnalysis, 9999)))

	f.source.AssertNotCalled(t, "FetchText", mock.Anything, mock.Anything)
	job, _ := jobs.Get(ctx, runningID)
	assert.Equal(t, domain.StatusInProgress, job.Status)
}

func TestAnalysisProcessor_ForcedRunReplacesAnalysis(t *testing.T) {
	f := newAnalysisFixture(t, true)
	ctx := context.Background()
	f.store.AddAnalysis(domain.Analysis{TranscriptID: f.transcript, Output: "stale"})
	forced := f.store.Jobs(domain.KindAnalysis).Put(domain.Job{
		SubjectID: f.transcript,
		Key:       "forced",
		Force:     true,
		Status:    domain.StatusQueued,
	})

	f.source.On("FetchText", mock.Anything, transcriptURL).Return("text", nil)
	f.generator.On("Generate", mock.Anything, mock.Anything).Return(&domain.Generation{Text: "fresh"}, nil)

	require.NoError(t, f.processor.Process(ctx, jobMessage(domain.KindAnalysis, forced)))

	analyses := f.store.Analyses(f.transcript)
	require.Len(t, analyses, 1)
	assert.Equal(t, "fresh", analyses[0].Output)
}
