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

// MsgAnalysisNotFound is the non-retryable email failure
const MsgAnalysisNotFound = "Analysis not found for email"

// EmailLease protects an outbox item while it is being sent
const EmailLease = time.Hour

// DigestReader loads what an email needs
type DigestReader interface {
	GetAnalysisDigest(ctx context.Context, analysisID int64) (*domain.AnalysisDigest, error)
}

// EmailConfig wires an EmailProcessor
type EmailConfig struct {
	Jobs    JobStore
	Store   DigestReader
	Mailer  Mailer
	Events  EventPublisher
	Retry   *retry.Policy
	Timeout time.Duration
	Logger  *slog.Logger
}

// EmailProcessor delivers one outbox item
type EmailProcessor struct {
	runner *jobRunner
	store  DigestReader
	mailer Mailer
	events EventPublisher
}

// NewEmailProcessor creates a new EmailProcessor instance
func NewEmailProcessor(cfg EmailConfig) *EmailProcessor {
	return &EmailProcessor{
		runner: newJobRunner(domain.KindEmail, cfg.Jobs, cfg.Retry, EmailLease, cfg.Timeout, cfg.Logger),
		store:  cfg.Store,
		mailer: cfg.Mailer,
		events: cfg.Events,
	}
}

// Process handles one email message
func (p *EmailProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var (
		digest *domain.AnalysisDigest
		sentTo string
	)

	err := p.runner.run(ctx, msg, phases{
		validate: func(ctx context.Context, job *domain.Job) error {
			var err error
			digest, err = p.store.GetAnalysisDigest(ctx, job.SubjectID)
			if errors.Is(err, domain.ErrAnalysisNotFound) {
				return domain.NonRetryable(MsgAnalysisNotFound)
			}
			return err
		},
		execute: func(ctx context.Context, job *domain.Job) error {
			if err := p.mailer.Send(ctx, job.Key, EmailSubject(digest), EmailBody(digest)); err != nil {
				return fmt.Errorf("failed to send email: %w", err)
			}
			return nil
		},
		commit: func(ctx context.Context, job *domain.Job) error {
			if err := p.runner.complete(ctx, job); err != nil {
				return err
			}
			sentTo = job.Key
			return nil
		},
	})
	if err != nil || sentTo == "" {
		return err
	}

	publish(ctx, p.events, p.runner.logger, domain.Event{
		Type:       domain.EventEmailSent,
		StockID:    digest.StockID,
		AnalysisID: digest.AnalysisID,
		Quarter:    digest.Quarter,
		Year:       digest.Year,
		Recipient:  sentTo,
	})
	return nil
}

// EmailSubject is "Analysis Report: {symbol} - {quarter} {year}"
func EmailSubject(d *domain.AnalysisDigest) string {
	return fmt.Sprintf("Analysis Report: %s - %s %d", d.Stock().Ticker(), d.Quarter, d.Year)
}

// EmailBody renders the plain-text report
func EmailBody(d *domain.AnalysisDigest) string {
	stock := d.Stock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) earnings call analysis, %s %d\n\n", stock.DisplayName(), stock.Ticker(), d.Quarter, d.Year)
	b.WriteString(strings.TrimSpace(d.Output))
	b.WriteString("\n")
	if d.SourceURL != nil && *d.SourceURL != "" {
		fmt.Fprintf(&b, "\nTranscript: %s\n", *d.SourceURL)
	}
	if d.ModelID != nil && *d.ModelID != "" {
		fmt.Fprintf(&b, "Generated by %s (%s)\n", d.Provider, *d.ModelID)
	}
	return b.String()
}
