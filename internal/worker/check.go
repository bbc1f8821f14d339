package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/internal/queue"
	"github.com/cuongbtq/earnings-watch/internal/retry"
)

// CheckStore is what the transcript check processor reads and writes
type CheckStore interface {
	GetStock(ctx context.Context, id int64) (*domain.Stock, error)
	GetMembership(ctx context.Context, stockID int64) (domain.Membership, error)
	GetScheduleEntry(ctx context.Context, stockID int64, period domain.Period) (*domain.ScheduleEntry, error)
	SetCheckIndicator(ctx context.Context, stockID int64, status string, now time.Time) error
	RecordCheck(ctx context.Context, r domain.CheckResult) (domain.CheckRecord, error)
	RecordCheckError(ctx context.Context, stockID int64, period domain.Period, outcome domain.CheckOutcome) error
}

// CheckConfig wires a CheckProcessor
type CheckConfig struct {
	Store    CheckStore
	Source   TranscriptSource
	Analyses AnalysisEnqueuer
	Events   EventPublisher
	Retry    *retry.Policy
	Timeout  time.Duration
	Logger   *slog.Logger
}

// CheckProcessor polls the transcript provider for one stock and period.
// It works on schedule rows, not job rows: failures are recorded on the
// row and retried through its next_check_at.
type CheckProcessor struct {
	store    CheckStore
	source   TranscriptSource
	analyses AnalysisEnqueuer
	events   EventPublisher
	cadence  Cadence
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewCheckProcessor creates a new CheckProcessor instance
func NewCheckProcessor(cfg CheckConfig) *CheckProcessor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckProcessor{
		store:    cfg.Store,
		source:   cfg.Source,
		analyses: cfg.Analyses,
		events:   cfg.Events,
		cadence:  Cadence{Retry: cfg.Retry},
		timeout:  cfg.Timeout,
		logger:   logger.With(slog.String("kind", domain.TopicTranscriptCheck)),
		now:      time.Now,
	}
}

// Process handles one transcript_check message
func (p *CheckProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var check domain.CheckMessage
	if err := msg.Decode(&check); err != nil {
		p.logger.Warn("Dropping undecodable check message", slog.Int64("message_id", msg.ID), slog.Any("error", err))
		return nil
	}
	if err := check.Validate(); err != nil {
		p.logger.Warn("Dropping invalid check message", slog.Int64("message_id", msg.ID), slog.Any("error", err))
		return nil
	}
	period := check.Period()
	logger := p.logger.With(slog.Int64("stock_id", check.StockID), slog.String("period", period.String()))

	// Phase 1: load stock and flag it as being checked
	stock, err := p.store.GetStock(ctx, check.StockID)
	if errors.Is(err, domain.ErrStockNotFound) {
		logger.Warn("Dropping check for unknown stock")
		return nil
	}
	if err != nil {
		return err
	}
	if err := p.store.SetCheckIndicator(ctx, stock.ID, domain.CheckIndicatorChecking, p.now()); err != nil {
		return err
	}

	// Phase 2: ask the provider
	item, err := p.fetch(ctx, stock, period)
	if err != nil {
		p.recordError(ctx, logger, check, err)
		return err
	}

	// Phase 3: persist the outcome
	now := p.now()
	outcome := domain.CheckOutcome{Status: domain.CheckNone, CheckedAt: now}
	var eventTime *time.Time
	if item != nil {
		outcome.Status = item.Status
		eventTime = item.EventTime
	}
	outcome.NextCheckAt = p.cadence.NextCheck(now, outcome.Status, eventTime, 0, check.Priority)

	record, err := p.store.RecordCheck(ctx, domain.CheckResult{
		StockID: stock.ID,
		Period:  period,
		Item:    item,
		Outcome: outcome,
	})
	if err != nil {
		p.recordError(ctx, logger, check, err)
		return err
	}
	logger.Info("Transcript check recorded",
		slog.String("status", string(outcome.Status)),
		slog.Time("next_check_at", outcome.NextCheckAt),
	)

	// Phase 4: hand available transcripts to analysis
	if outcome.Status != domain.CheckAvailable || record.TranscriptID == 0 {
		return nil
	}
	if record.BecameAvailable {
		publish(ctx, p.events, logger, domain.Event{
			Type:         domain.EventTranscriptAvailable,
			StockID:      stock.ID,
			TranscriptID: record.TranscriptID,
			Quarter:      period.Quarter,
			Year:         period.Year,
		})
	}

	membership, err := p.store.GetMembership(ctx, stock.ID)
	if err != nil {
		return err
	}
	if !membership.AutoAnalyze() || p.analyses == nil {
		return nil
	}
	if _, err := p.analyses.EnqueueForTranscript(ctx, record.TranscriptID, false); err != nil {
		return fmt.Errorf("failed to enqueue analysis: %w", err)
	}
	return nil
}

// fetch returns the provider entry for period, preferring available over
// upcoming. nil means the provider knows nothing about the period yet.
func (p *CheckProcessor) fetch(ctx context.Context, stock *domain.Stock, period domain.Period) (*domain.TranscriptItem, error) {
	ticker := stock.Ticker()
	if ticker == "" {
		return nil, fmt.Errorf("stock %d has no symbol", stock.ID)
	}

	fetchCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	items, err := p.source.FetchItems(fetchCtx, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transcripts for %s: %w", ticker, err)
	}
	return pickItem(items, period), nil
}

func pickItem(items []domain.TranscriptItem, period domain.Period) *domain.TranscriptItem {
	var found *domain.TranscriptItem
	for i := range items {
		item := &items[i]
		if item.Period != period {
			continue
		}
		if item.Status == domain.CheckAvailable {
			return item
		}
		if found == nil {
			found = item
		}
	}
	return found
}

func (p *CheckProcessor) recordError(ctx context.Context, logger *slog.Logger, check domain.CheckMessage, cause error) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	attempts := 1
	if entry, err := p.store.GetScheduleEntry(storeCtx, check.StockID, check.Period()); err == nil {
		attempts = entry.Attempts + 1
	}

	now := p.now()
	outcome := domain.CheckOutcome{
		Status:      domain.CheckError,
		CheckedAt:   now,
		Attempts:    attempts,
		NextCheckAt: p.cadence.NextCheck(now, domain.CheckError, nil, attempts, check.Priority),
	}
	logger.Warn("Transcript check failed",
		slog.Int("attempts", attempts),
		slog.Time("next_check_at", outcome.NextCheckAt),
		slog.Any("error", cause),
	)
	if err := p.store.RecordCheckError(storeCtx, check.StockID, check.Period(), outcome); err != nil {
		logger.Error("Failed to record check error", slog.Any("error", err))
	}
}
