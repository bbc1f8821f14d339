package handler

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/earnings-watch/internal/api/dto"
	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/internal/scheduler"
)

// AnalysisEnqueuer queues analysis for a transcript
type AnalysisEnqueuer interface {
	EnqueueForTranscript(ctx context.Context, transcriptID int64, force bool) (int64, error)
}

// CheckTrigger serves manual scheduler requests
type CheckTrigger interface {
	ForStock(ctx context.Context, stockID int64, period *domain.Period) error
	Now(ctx context.Context) (scheduler.EnqueueResult, error)
}

// StatusReporter builds the scheduler status report
type StatusReporter interface {
	Report(ctx context.Context) (*scheduler.Report, error)
}

// JobReader reads analysis jobs
type JobReader interface {
	Get(ctx context.Context, id int64) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
}

// Pinger is a health check dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Analyses AnalysisEnqueuer
	Trigger  CheckTrigger
	Status   StatusReporter
	Jobs     JobReader
	// Health maps a component name to its check
	Health map[string]Pinger
}

// Handler serves the enqueue, status and job inspection endpoints
type Handler struct {
	logger   *slog.Logger
	analyses AnalysisEnqueuer
	trigger  CheckTrigger
	status   StatusReporter
	jobs     JobReader
	health   map[string]Pinger
}

// NewHandler creates a new Handler instance
func NewHandler(deps *Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		analyses: deps.Analyses,
		trigger:  deps.Trigger,
		status:   deps.Status,
		jobs:     deps.Jobs,
		health:   deps.Health,
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: code, Message: message})
}
