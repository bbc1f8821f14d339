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

type checkFixture struct {
	store     *memory.Store
	source    *mockSource
	analyses  *recordingEnqueuer
	events    *recordingPublisher
	processor *CheckProcessor
	stockID   int64
	period    domain.Period
}

func newCheckFixture(t *testing.T) *checkFixture {
	t.Helper()
	store := memory.New()
	stockID := store.AddStock("HDFCBANK", "HDFC Bank")
	store.AddToWatchlist(stockID)
	period := domain.Period{Quarter: "Q2", Year: 2027}
	lease := time.Now().Add(2 * time.Minute)
	store.PutScheduleEntry(domain.ScheduleEntry{
		StockID: stockID, Quarter: period.Quarter, Year: period.Year,
		Priority: domain.PriorityWatchlist, Attempts: 2, LockedUntil: &lease,
	})

	f := &checkFixture{
		store:    store,
		source:   &mockSource{},
		analyses: &recordingEnqueuer{},
		events:   &recordingPublisher{},
		stockID:  stockID,
		period:   period,
	}
	f.processor = NewCheckProcessor(CheckConfig{
		Store:    store,
		Source:   f.source,
		Analyses: f.analyses,
		Events:   f.events,
		Retry:    retry.NewSeeded(time.Minute, time.Hour, 9),
		Timeout:  time.Minute,
	})
	return f
}

func (f *checkFixture) message() domain.CheckMessage {
	return domain.CheckMessage{
		StockID:  f.stockID,
		Priority: domain.PriorityWatchlist,
		Quarter:  f.period.Quarter,
		Year:     f.period.Year,
		Reason:   domain.ReasonScheduled,
	}
}

func TestCheckProcessor_Available(t *testing.T) {
	f := newCheckFixture(t)
	ctx := context.Background()

	f.source.On("FetchItems", mock.Anything, "HDFCBANK").Return([]domain.TranscriptItem{
		{Status: domain.CheckUpcoming, Period: domain.Period{Quarter: "Q3", Year: 2027}},
		{Status: domain.CheckAvailable, Period: f.period, SourceURL: "https://example.com/hdfc.pdf"},
	}, nil)

	start := time.Now()
	require.NoError(t, f.processor.Process(ctx, checkMessage(f.message())))

	entry, err := f.store.GetScheduleEntry(ctx, f.stockID, f.period)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckAvailable, entry.LastStatus)
	assert.Zero(t, entry.Attempts)
	assert.Nil(t, entry.LockedUntil)
	require.NotNil(t, entry.LastAvailableAt)
	require.NotNil(t, entry.NextCheckAt)
	assert.WithinDuration(t, start.Add(AvailableInterval), *entry.NextCheckAt, 5*time.Second)

	require.Len(t, f.analyses.transcripts, 1)
	tr, ok := f.store.Transcript(f.analyses.transcripts[0])
	require.True(t, ok)
	assert.Equal(t, domain.TranscriptAvailable, tr.Status)
	assert.Equal(t, "https://example.com/hdfc.pdf", tr.Source())

	assert.Equal(t, []string{domain.EventTranscriptAvailable}, f.events.types())
	assert.Equal(t, domain.CheckIndicatorIdle, f.store.CheckIndicator(f.stockID))
	assert.Len(t, f.store.TranscriptEvents(), 1)
}

func TestCheckProcessor_UpcomingDoesNotEnqueue(t *testing.T) {
	f := newCheckFixture(t)
	eventTime := time.Now().Add(6 * time.Hour)
	f.source.On("FetchItems", mock.Anything, "HDFCBANK").Return([]domain.TranscriptItem{
		{Status: domain.CheckUpcoming, Period: f.period, EventTime: &eventTime},
	}, nil)

	require.NoError(t, f.processor.Process(context.Background(), checkMessage(f.message())))

	entry, _ := f.store.GetScheduleEntry(context.Background(), f.stockID, f.period)
	assert.Equal(t, domain.CheckUpcoming, entry.LastStatus)
	assert.WithinDuration(t, time.Now().Add(ImminentInterval), *entry.NextCheckAt, 5*time.Second)
	assert.Empty(t, f.analyses.transcripts)
	assert.Empty(t, f.events.types())
}

func TestCheckProcessor_GroupStockNotAnalysed(t *testing.T) {
	f := newCheckFixture(t)
	f.store.AddGroup("Banks", "compare banks", true, f.stockID)
	f.source.On("FetchItems", mock.Anything, "HDFCBANK").Return([]domain.TranscriptItem{
		{Status: domain.CheckAvailable, Period: f.period, SourceURL: "https://example.com/hdfc.pdf"},
	}, nil)

	require.NoError(t, f.processor.Process(context.Background(), checkMessage(f.message())))
	assert.Empty(t, f.analyses.transcripts)
}

func TestCheckProcessor_ProviderError(t *testing.T) {
	f := newCheckFixture(t)
	f.source.On("FetchItems", mock.Anything, "HDFCBANK").Return(nil, errors.New("503 from provider"))

	start := time.Now()
	require.Error(t, f.processor.Process(context.Background(), checkMessage(f.message())))

	entry, err := f.store.GetScheduleEntry(context.Background(), f.stockID, f.period)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckError, entry.LastStatus)
	assert.Equal(t, 3, entry.Attempts)
	assert.Nil(t, entry.LockedUntil)
	require.NotNil(t, entry.NextCheckAt)
	assert.True(t, entry.NextCheckAt.After(start))
	assert.True(t, entry.NextCheckAt.Before(time.Now().Add(WatchlistErrorCap+time.Minute)))
	assert.Equal(t, domain.CheckIndicatorIdle, f.store.CheckIndicator(f.stockID))
}

func TestCheckProcessor_InvalidPayloadDropped(t *testing.T) {
	f := newCheckFixture(t)
	require.NoError(t, f.processor.Process(context.Background(), checkMessage(domain.CheckMessage{StockID: f.stockID})))
	f.source.AssertNotCalled(t, "FetchItems", mock.Anything, mock.Anything)
}
