package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// TranscriptReader loads the data an analysis producer checks before inserting
type TranscriptReader interface {
	GetTranscript(ctx context.Context, id int64) (*domain.Transcript, error)
	HasAnalysis(ctx context.Context, transcriptID int64) (bool, error)
}

// AnalysisProducer enqueues analysis jobs for transcripts
type AnalysisProducer struct {
	producer    *Producer
	transcripts TranscriptReader
	logger      *slog.Logger
	now         func() time.Time
}

// NewAnalysisProducer creates a new AnalysisProducer instance
func NewAnalysisProducer(jobs JobStore, queue Pusher, transcripts TranscriptReader, logger *slog.Logger) *AnalysisProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisProducer{
		producer:    New(jobs, queue, DefaultLease, logger),
		transcripts: transcripts,
		logger:      logger,
		now:         time.Now,
	}
}

// AnalysisKey builds the idempotency key of an analysis job. Forced runs
// get a unique suffix so they never collide with the regular job.
func AnalysisKey(transcriptID int64, sourceURL string, force bool, now time.Time) string {
	key := fmt.Sprintf("%d:%s", transcriptID, sourceURL)
	if force {
		key += fmt.Sprintf(":force:%d", now.Unix())
	}
	return key
}

// EnqueueForTranscript returns the analysis job id for the transcript, or
// 0 when there is nothing to do.
func (p *AnalysisProducer) EnqueueForTranscript(ctx context.Context, transcriptID int64, force bool) (int64, error) {
	t, err := p.transcripts.GetTranscript(ctx, transcriptID)
	if err != nil {
		if errors.Is(err, domain.ErrTranscriptNotFound) {
			p.logger.Warn("Transcript not found, nothing to analyse", slog.Int64("transcript_id", transcriptID))
			return 0, nil
		}
		return 0, err
	}

	if !force {
		exists, err := p.transcripts.HasAnalysis(ctx, transcriptID)
		if err != nil {
			return 0, err
		}
		if exists {
			return 0, nil
		}
	}

	job, _, err := p.producer.Produce(ctx, domain.NewJob{
		SubjectID: transcriptID,
		Key:       AnalysisKey(transcriptID, t.Source(), force, p.now()),
		Force:     force,
	})
	if err != nil {
		return 0, err
	}
	return job.ID, nil
}
