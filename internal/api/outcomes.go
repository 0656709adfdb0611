package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"fx-signal-auditor/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OutcomeHandler struct {
	Outcomes repository.OutcomeStore
	Logger   *zap.Logger
	now      func() time.Time
}

func (h *OutcomeHandler) Register(r gin.IRouter) {
	r.GET("/outcomes", h.list)
	r.GET("/outcomes/stats", h.stats)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalOutcomes   int64   `json:"total_outcomes"`
	WinningOutcomes int64   `json:"winning_outcomes"`
	WinRate         float64 `json:"win_rate"`
	TotalPips       int64   `json:"total_pips"`
}

// StatisticsResponse is the body of /api/outcomes/stats.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

func detail(s repository.OutcomeStats) StatsDetail {
	return StatsDetail{
		TotalOutcomes:   s.Total,
		WinningOutcomes: s.Wins,
		WinRate:         s.WinRate(),
		TotalPips:       s.TotalPips,
	}
}

// list returns the most recent outcomes, newest first.
func (h *OutcomeHandler) list(c *gin.Context) {
	if h.Outcomes == nil {
		errorJSON(c, http.StatusServiceUnavailable, errors.New("outcome store unavailable"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	items, err := h.Outcomes.RecentOutcomes(c.Request.Context(), limit)
	if err != nil {
		h.Logger.Error("Failed to get outcomes from database", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, errors.New("failed to get outcomes"))
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *OutcomeHandler) stats(c *gin.Context) {
	if h.Outcomes == nil {
		errorJSON(c, http.StatusServiceUnavailable, errors.New("outcome store unavailable"))
		return
	}
	now := time.Now
	if h.now != nil {
		now = h.now
	}
	ctx := c.Request.Context()

	allTime, err := h.Outcomes.OutcomeStats(ctx, time.Time{})
	if err != nil {
		h.Logger.Error("Failed to get outcomes for statistics", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, errors.New("failed to calculate statistics"))
		return
	}
	recent, err := h.Outcomes.OutcomeStats(ctx, now().UTC().Add(-24*time.Hour))
	if err != nil {
		h.Logger.Error("Failed to get outcomes for statistics", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, errors.New("failed to calculate statistics"))
		return
	}

	c.JSON(http.StatusOK, StatisticsResponse{
		Since24h: detail(recent),
		AllTime:  detail(allTime),
	})
}
