package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// RecipientLister returns the addresses that receive analysis reports
type RecipientLister interface {
	ActiveRecipients(ctx context.Context) ([]string, error)
}

// EmailProducer fans an analysis out into one outbox item per recipient
type EmailProducer struct {
	producer   *Producer
	recipients RecipientLister
	logger     *slog.Logger
}

// NewEmailProducer creates a new EmailProducer instance
func NewEmailProducer(jobs JobStore, queue Pusher, recipients RecipientLister, logger *slog.Logger) *EmailProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailProducer{
		producer:   New(jobs, queue, DefaultLease, logger),
		recipients: recipients,
		logger:     logger,
	}
}

// EnqueueForAnalysis returns how many messages were pushed. A failing
// recipient does not stop the others.
func (p *EmailProducer) EnqueueForAnalysis(ctx context.Context, analysisID int64) (int, error) {
	recipients, err := p.recipients.ActiveRecipients(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load recipients: %w", err)
	}
	if len(recipients) == 0 {
		p.logger.Info("No active recipients, skipping email", slog.Int64("analysis_id", analysisID))
		return 0, nil
	}

	pushed := 0
	var errs []error
	for _, recipient := range recipients {
		_, ok, err := p.producer.Produce(ctx, domain.NewJob{SubjectID: analysisID, Key: recipient})
		if err != nil {
			p.logger.Error("Failed to enqueue email",
				slog.Int64("analysis_id", analysisID),
				slog.String("recipient", recipient),
				slog.Any("error", err),
			)
			errs = append(errs, err)
			continue
		}
		if ok {
			pushed++
		}
	}
	return pushed, errors.Join(errs...)
}
