package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/earnings-watch/internal/api/dto"
	"github.com/cuongbtq/earnings-watch/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// EnqueueAnalysis handles POST /api/v1/transcripts/:id/analysis
func (h *Handler) EnqueueAnalysis(c *gin.Context) {
	transcriptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.EnqueueAnalysisRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	jobID, err := h.analyses.EnqueueForTranscript(c.Request.Context(), transcriptID, req.Force)
	if err != nil {
		h.logger.Error("Failed to enqueue analysis",
			slog.Int64("transcript_id", transcriptID),
			slog.Any("error", err),
		)
		abort(c, http.StatusInternalServerError, "internal_error", "Failed to enqueue analysis")
		return
	}

	if jobID == 0 {
		c.JSON(http.StatusOK, dto.EnqueueAnalysisResponse{})
		return
	}

	h.logger.Info("Analysis enqueued",
		slog.Int64("transcript_id", transcriptID),
		slog.Int64("job_id", jobID),
		slog.Bool("force", req.Force),
	)
	c.JSON(http.StatusAccepted, dto.EnqueueAnalysisResponse{JobID: &jobID})
}

// GetAnalysisJob handles GET /api/v1/analysis-jobs/:id
func (h *Handler) GetAnalysisJob(c *gin.Context) {
	jobID, ok := pathID(c, "id")
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			abort(c, http.StatusNotFound, "not_found", "Analysis job not found")
			return
		}
		h.logger.Error("Failed to get analysis job", slog.Int64("job_id", jobID), slog.Any("error", err))
		abort(c, http.StatusInternalServerError, "internal_error", "Failed to get analysis job")
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListAnalysisJobs handles GET /api/v1/analysis-jobs
func (h *Handler) ListAnalysisJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "Invalid query parameters")
		return
	}

	if req.Limit <= 0 {
		req.Limit = defaultPageSize
	}
	if req.Limit > maxPageSize {
		req.Limit = maxPageSize
	}

	var status domain.Status
	if req.Status != "" {
		parsed, err := domain.ParseStatus(req.Status)
		if err != nil {
			abort(c, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		status = parsed
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "Invalid cursor")
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), domain.JobFilter{
		Status:   status,
		PageSize: req.Limit,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list analysis jobs", slog.Any("error", err))
		abort(c, http.StatusInternalServerError, "internal_error", "Failed to list analysis jobs")
		return
	}

	hasMore := len(jobs) > req.Limit
	if hasMore {
		jobs = jobs[:req.Limit]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = toJobDTO(&jobs[i])
	}
	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&domain.JobCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	c.JSON(http.StatusOK, resp)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		abort(c, http.StatusBadRequest, "invalid_request", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	return dto.JobDTO{
		ID:           job.ID,
		TranscriptID: job.SubjectID,
		Status:       string(job.Status),
		Attempts:     job.Attempts,
		Force:        job.Force,
		LastError:    job.LastError,
		RetryNextAt:  formatTime(job.RetryNextAt),
		LockedUntil:  formatTime(job.LockedUntil),
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
