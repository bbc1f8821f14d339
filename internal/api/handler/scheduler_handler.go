package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/earnings-watch/internal/api/dto"
	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// triggerTimeout bounds a detached ForStock call
const triggerTimeout = 30 * time.Second

// TriggerCheck handles POST /api/v1/stocks/:id/check. The schedule update
// runs after the response is written.
func (h *Handler) TriggerCheck(c *gin.Context) {
	stockID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.TriggerCheckRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}
	var period *domain.Period
	if req.Quarter != "" && req.Year != 0 {
		period = &domain.Period{Quarter: req.Quarter, Year: req.Year}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), triggerTimeout)
	go func() {
		defer cancel()
		if err := h.trigger.ForStock(ctx, stockID, period); err != nil {
			level := slog.LevelError
			if errors.Is(err, domain.ErrStockNotFound) {
				level = slog.LevelWarn
			}
			h.logger.Log(ctx, level, "Failed to trigger transcript check",
				slog.Int64("stock_id", stockID),
				slog.Any("error", err),
			)
		}
	}()

	c.JSON(http.StatusAccepted, dto.TriggerCheckResponse{StockID: stockID, Status: "accepted"})
}

// RunScheduler handles POST /api/v1/scheduler/run
func (h *Handler) RunScheduler(c *gin.Context) {
	result, err := h.trigger.Now(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to run scheduler pass", slog.Any("error", err))
		abort(c, http.StatusInternalServerError, "internal_error", "Failed to run scheduler")
		return
	}

	jobs := make(map[string]int, len(result.Jobs))
	for kind, n := range result.Jobs {
		jobs[string(kind)] = n
	}
	c.JSON(http.StatusOK, dto.RunSchedulerResponse{Checks: result.Checks, Jobs: jobs})
}

// SchedulerStatus handles GET /api/v1/scheduler/status
func (h *Handler) SchedulerStatus(c *gin.Context) {
	report, err := h.status.Report(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to build scheduler status", slog.Any("error", err))
		abort(c, http.StatusInternalServerError, "internal_error", "Failed to read scheduler status")
		return
	}
	c.JSON(http.StatusOK, report)
}
