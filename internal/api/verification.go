package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type VerificationHandler struct {
	Verifier Verifier
	Logger   *zap.Logger
}

func (h *VerificationHandler) Register(r gin.IRouter) {
	r.GET("/verification", h.verify)
}

func (h *VerificationHandler) verify(c *gin.Context) {
	if h.Verifier == nil {
		errorJSON(c, http.StatusServiceUnavailable, errors.New("verifier unavailable"))
		return
	}

	rep, err := h.Verifier.Verify(c.Request.Context())
	if err != nil {
		h.Logger.Error("Verification report failed", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
