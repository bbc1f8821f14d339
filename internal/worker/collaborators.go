package worker

import (
	"context"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// TranscriptSource is the external transcript provider
type TranscriptSource interface {
	FetchItems(ctx context.Context, symbol string) ([]domain.TranscriptItem, error)
	FetchText(ctx context.Context, url string) (string, error)
}

// TextGenerator produces analysis text from a prompt
type TextGenerator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (*domain.Generation, error)
}

// Mailer delivers one plain-text email
type Mailer interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// EventPublisher notifies downstream systems. Failures never fail a job.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// AnalysisEnqueuer is satisfied by producer.AnalysisProducer
type AnalysisEnqueuer interface {
	EnqueueForTranscript(ctx context.Context, transcriptID int64, force bool) (int64, error)
}

// EmailEnqueuer is satisfied by producer.EmailProducer
type EmailEnqueuer interface {
	EnqueueForAnalysis(ctx context.Context, analysisID int64) (int, error)
}
