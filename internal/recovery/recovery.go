// Package recovery repairs state left behind by a crashed or stopped
// process before the scheduler and workers start.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// DefaultStaleAfter is how long a transcript may sit in analysis in_progress
const DefaultStaleAfter = 5 * time.Minute

// DefaultLegacyPhrases match error text of rows failed by retired code paths
var DefaultLegacyPhrases = []string{"legacy", "blocked by migration"}

// JobRecoverer is one job table
type JobRecoverer interface {
	Kind() domain.Kind
	RecoverExpired(ctx context.Context, now time.Time) (int64, error)
	MigrateLegacy(ctx context.Context, now time.Time, phrases []string) (int64, error)
}

// Store holds the non-job recovery queries
type Store interface {
	ResetStaleTranscripts(ctx context.Context, olderThan, now time.Time) ([]int64, error)
	ReseedSchedules(ctx context.Context, period domain.Period, now time.Time) (int64, error)
	UnanalysedTranscripts(ctx context.Context) ([]int64, error)
}

// Requeuer is satisfied by producer.AnalysisProducer
type Requeuer interface {
	EnqueueForTranscript(ctx context.Context, transcriptID int64, force bool) (int64, error)
}

// Config wires a Service
type Config struct {
	Store         Store
	Jobs          []JobRecoverer
	Analyses      Requeuer
	StaleAfter    time.Duration
	LegacyPhrases []string
	Logger        *slog.Logger
}

// Summary counts what one recovery run changed
type Summary struct {
	LegacyMigrated        int64 `json:"legacy_migrated"`
	StaleTranscriptsReset int   `json:"stale_transcripts_reset"`
	AnalysisJobsRecovered int64 `json:"analysis_jobs_recovered"`
	EmailJobsRecovered    int64 `json:"email_jobs_recovered"`
	GroupRunsRecovered    int64 `json:"group_runs_recovered"`
	SchedulesReseeded     int64 `json:"schedules_reseeded"`
	AnalysisJobsRequeued  int   `json:"analysis_jobs_requeued"`
}

// Service runs the startup recovery steps
type Service struct {
	store         Store
	jobs          []JobRecoverer
	analyses      Requeuer
	staleAfter    time.Duration
	legacyPhrases []string
	logger        *slog.Logger
	now           func() time.Time
}

// NewService creates a new Service instance
func NewService(cfg Config) *Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.LegacyPhrases == nil {
		cfg.LegacyPhrases = DefaultLegacyPhrases
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:         cfg.Store,
		jobs:          cfg.Jobs,
		analyses:      cfg.Analyses,
		staleAfter:    cfg.StaleAfter,
		legacyPhrases: cfg.LegacyPhrases,
		logger:        cfg.Logger.With(slog.String("component", "recovery")),
		now:           time.Now,
	}
}

// Run executes every step. A failing step is logged and the next one still runs.
func (s *Service) Run(ctx context.Context) Summary {
	var summary Summary
	now := s.now()

	summary.LegacyMigrated = s.MigrateLegacy(ctx)

	stale, err := s.store.ResetStaleTranscripts(ctx, now.Add(-s.staleAfter), now)
	if err != nil {
		s.logger.Error("Failed to reset stale transcripts", slog.Any("error", err))
	}
	summary.StaleTranscriptsReset = len(stale)

	recovered := s.RecoverExpired(ctx)
	summary.AnalysisJobsRecovered = recovered[domain.KindAnalysis]
	summary.EmailJobsRecovered = recovered[domain.KindEmail]
	summary.GroupRunsRecovered = recovered[domain.KindGroupResearch]

	reseeded, err := s.store.ReseedSchedules(ctx, domain.LatestPeriod(now), now)
	if err != nil {
		s.logger.Error("Failed to reseed schedules", slog.Any("error", err))
	}
	summary.SchedulesReseeded = reseeded

	summary.AnalysisJobsRequeued = s.requeueGaps(ctx, stale)

	s.logger.Info("Recovery finished",
		slog.Int64("legacy_migrated", summary.LegacyMigrated),
		slog.Int("stale_transcripts_reset", summary.StaleTranscriptsReset),
		slog.Int64("analysis_jobs_recovered", summary.AnalysisJobsRecovered),
		slog.Int64("email_jobs_recovered", summary.EmailJobsRecovered),
		slog.Int64("group_runs_recovered", summary.GroupRunsRecovered),
		slog.Int64("schedules_reseeded", summary.SchedulesReseeded),
		slog.Int("analysis_jobs_requeued", summary.AnalysisJobsRequeued),
	)
	return summary
}

// MigrateLegacy moves blocked_legacy rows, and error rows failed with a
// legacy phrase, back to pending in every job table.
func (s *Service) MigrateLegacy(ctx context.Context) int64 {
	var total int64
	now := s.now()
	for _, jobs := range s.jobs {
		n, err := jobs.MigrateLegacy(ctx, now, s.legacyPhrases)
		if err != nil {
			s.logger.Error("Failed to migrate legacy jobs", slog.String("kind", string(jobs.Kind())), slog.Any("error", err))
			continue
		}
		total += n
	}
	return total
}

// RecoverExpired returns in_progress rows with a lapsed lease to retrying
func (s *Service) RecoverExpired(ctx context.Context) map[domain.Kind]int64 {
	counts := make(map[domain.Kind]int64, len(s.jobs))
	now := s.now()
	for _, jobs := range s.jobs {
		n, err := jobs.RecoverExpired(ctx, now)
		if err != nil {
			s.logger.Error("Failed to recover expired jobs", slog.String("kind", string(jobs.Kind())), slog.Any("error", err))
			continue
		}
		counts[jobs.Kind()] = n
		if n > 0 {
			s.logger.Warn("Recovered jobs with expired leases", slog.String("kind", string(jobs.Kind())), slog.Int64("count", n))
		}
	}
	return counts
}

func (s *Service) requeueGaps(ctx context.Context, stale []int64) int {
	if s.analyses == nil {
		return 0
	}

	gaps, err := s.store.UnanalysedTranscripts(ctx)
	if err != nil {
		s.logger.Error("Failed to load unanalysed transcripts", slog.Any("error", err))
	}

	seen := make(map[int64]bool, len(stale)+len(gaps))
	requeued := 0
	for _, id := range append(append([]int64(nil), stale...), gaps...) {
		if seen[id] {
			continue
		}
		seen[id] = true

		jobID, err := s.analyses.EnqueueForTranscript(ctx, id, false)
		if err != nil {
			s.logger.Error("Failed to requeue analysis", slog.Int64("transcript_id", id), slog.Any("error", err))
			continue
		}
		if jobID != 0 {
			requeued++
		}
	}
	return requeued
}
