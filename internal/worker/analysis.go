package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/internal/queue"
	"github.com/cuongbtq/earnings-watch/internal/retry"
)

// Non-retryable analysis failures
const (
	MsgTranscriptNotFound     = "Transcript not found"
	MsgTranscriptNotAvailable = "Transcript not available for analysis"
	MsgStockNotFound          = "Stock not found"
	MsgStockNotInWatchlist    = "Stock not in watchlist"
	MsgStockInActiveGroup     = "Stock belongs to active group"
)

// AnalysisLease protects an analysis job while the generator runs
const AnalysisLease = 2 * time.Hour

// AnalysisStore is what the analysis processor reads and writes
type AnalysisStore interface {
	GetTranscript(ctx context.Context, id int64) (*domain.Transcript, error)
	GetStock(ctx context.Context, id int64) (*domain.Stock, error)
	GetMembership(ctx context.Context, stockID int64) (domain.Membership, error)
	SystemPrompt(ctx context.Context, stockID int64) (string, error)
	MarkAnalysisStarted(ctx context.Context, transcriptID int64, now time.Time) error
	MarkAnalysisFailed(ctx context.Context, transcriptID int64, cause string, now time.Time) error
	CommitAnalysis(ctx context.Context, jobID int64, a *domain.Analysis, replace bool, now time.Time) (int64, error)
}

// AnalysisConfig wires an AnalysisProcessor
type AnalysisConfig struct {
	Jobs      JobStore
	Store     AnalysisStore
	Source    TranscriptSource
	Generator TextGenerator
	Emails    EmailEnqueuer
	Events    EventPublisher
	Retry     *retry.Policy
	Timeout   time.Duration
	MaxTokens int
	Logger    *slog.Logger
}

// AnalysisProcessor turns a transcript into a stored analysis and fans
// out notification emails.
type AnalysisProcessor struct {
	runner    *jobRunner
	store     AnalysisStore
	source    TranscriptSource
	generator TextGenerator
	emails    EmailEnqueuer
	events    EventPublisher
	maxTokens int
	logger    *slog.Logger
}

// NewAnalysisProcessor creates a new AnalysisProcessor instance
func NewAnalysisProcessor(cfg AnalysisConfig) *AnalysisProcessor {
	runner := newJobRunner(domain.KindAnalysis, cfg.Jobs, cfg.Retry, AnalysisLease, cfg.Timeout, cfg.Logger)
	return &AnalysisProcessor{
		runner:    runner,
		store:     cfg.Store,
		source:    cfg.Source,
		generator: cfg.Generator,
		emails:    cfg.Emails,
		events:    cfg.Events,
		maxTokens: cfg.MaxTokens,
		logger:    runner.logger,
	}
}

// Process handles one analysis message
func (p *AnalysisProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var (
		transcript *domain.Transcript
		prompt     string
		generation *domain.Generation
		analysisID int64
	)

	err := p.runner.run(ctx, msg, phases{
		validate: func(ctx context.Context, job *domain.Job) error {
			var err error
			transcript, err = p.validate(ctx, job.SubjectID)
			if err != nil {
				return err
			}
			return p.store.MarkAnalysisStarted(ctx, transcript.ID, p.runner.now())
		},
		execute: func(ctx context.Context, job *domain.Job) error {
			text, err := p.source.FetchText(ctx, transcript.Source())
			if err != nil {
				return fmt.Errorf("failed to fetch transcript text: %w", err)
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("transcript text is empty")
			}

			prompt, err = p.store.SystemPrompt(ctx, transcript.StockID)
			if err != nil {
				return err
			}

			generation, err = p.generator.Generate(ctx, domain.GenerateRequest{
				Prompt:       text,
				SystemPrompt: prompt,
				MaxTokens:    p.maxTokens,
				Task:         "transcript_analysis",
			})
			if err != nil {
				return fmt.Errorf("failed to generate analysis: %w", err)
			}
			return nil
		},
		commit: func(ctx context.Context, job *domain.Job) error {
			var err error
			analysisID, err = p.store.CommitAnalysis(ctx, job.ID, &domain.Analysis{
				TranscriptID:   transcript.ID,
				PromptSnapshot: prompt,
				Output:         generation.Text,
				Provider:       generation.Provider,
				ModelID:        generation.ModelID,
				TokensIn:       generation.TokensIn,
				TokensOut:      generation.TokensOut,
				CostUSD:        generation.CostUSD,
			}, job.Force, p.runner.now())
			return err
		},
		onFailure: func(ctx context.Context, job *domain.Job, err error) {
			if transcript == nil {
				return
			}
			storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if markErr := p.store.MarkAnalysisFailed(storeCtx, transcript.ID, err.Error(), p.runner.now()); markErr != nil {
				p.logger.Error("Failed to record analysis error on transcript",
					slog.Int64("transcript_id", transcript.ID),
					slog.Any("error", markErr),
				)
			}
		},
	})
	if err != nil || analysisID == 0 {
		return err
	}

	if p.emails != nil {
		if _, err := p.emails.EnqueueForAnalysis(ctx, analysisID); err != nil {
			p.logger.Error("Failed to enqueue analysis emails",
				slog.Int64("analysis_id", analysisID),
				slog.Any("error", err),
			)
		}
	}
	publish(ctx, p.events, p.logger, domain.Event{
		Type:         domain.EventAnalysisCompleted,
		StockID:      transcript.StockID,
		TranscriptID: transcript.ID,
		AnalysisID:   analysisID,
		Quarter:      transcript.Quarter,
		Year:         transcript.Year,
	})
	return nil
}

func (p *AnalysisProcessor) validate(ctx context.Context, transcriptID int64) (*domain.Transcript, error) {
	transcript, err := p.store.GetTranscript(ctx, transcriptID)
	if errors.Is(err, domain.ErrTranscriptNotFound) {
		return nil, domain.NonRetryable(MsgTranscriptNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !transcript.Analysable() {
		return transcript, domain.NonRetryable(MsgTranscriptNotAvailable)
	}

	if _, err := p.store.GetStock(ctx, transcript.StockID); err != nil {
		if errors.Is(err, domain.ErrStockNotFound) {
			return transcript, domain.NonRetryable(MsgStockNotFound)
		}
		return transcript, err
	}

	membership, err := p.store.GetMembership(ctx, transcript.StockID)
	if err != nil {
		return transcript, err
	}
	if !membership.InWatchlist {
		return transcript, domain.NonRetryable(MsgStockNotInWatchlist)
	}
	if membership.InActiveGroup {
		return transcript, domain.NonRetryable(MsgStockInActiveGroup)
	}
	return transcript, nil
}
