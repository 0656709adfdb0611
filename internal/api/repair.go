package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RepairHandler struct {
	Repairer Repairer
	Logger   *zap.Logger
}

func (h *RepairHandler) Register(r gin.IRouter) {
	r.POST("/reconciler/repair", h.repair)
}

// repair runs one investigation synchronously and reports its counts.
func (h *RepairHandler) repair(c *gin.Context) {
	if h.Repairer == nil {
		errorJSON(c, http.StatusServiceUnavailable, errors.New("reconciler unavailable"))
		return
	}

	res, err := h.Repairer.InvestigateAndRepair(c.Request.Context())
	if err != nil {
		h.Logger.Error("Manual outcome repair failed", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"repairedCount":        res.Repaired,
		"totalWithoutOutcomes": res.TotalWithoutOutcomes,
		"examined":             res.Examined,
		"skipped":              res.Skipped,
		"alreadyCovered":       res.AlreadyCovered,
		"deferred":             res.Deferred,
		"runId":                res.RunID,
		"message":              res.Message(),
	})
}
