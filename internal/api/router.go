package api

import (
	"context"
	"net/http"
	"time"

	"fx-signal-auditor/internal/auth"
	"fx-signal-auditor/internal/metrics"
	"fx-signal-auditor/internal/notify"
	"fx-signal-auditor/internal/reconciler"
	"fx-signal-auditor/internal/report"
	"fx-signal-auditor/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Repairer interface {
	InvestigateAndRepair(ctx context.Context) (reconciler.Result, error)
}

type Verifier interface {
	Verify(ctx context.Context) (*report.Report, error)
}

// Deps are the collaborators the routes need. Nil Auth disables authentication.
type Deps struct {
	Logger   *zap.Logger
	DB       Pinger
	Repairer Repairer
	Verifier Verifier
	Outcomes repository.OutcomeStore
	Notices  *notify.Hub
	Metrics  *metrics.Metrics
	Auth     *auth.JWT
}

func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger.Named("api")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	(&HealthHandler{DB: d.DB}).Register(r)
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	group := r.Group("/api")
	if d.Auth != nil {
		group.Use(auth.RequireAdmin(*d.Auth))
	}
	(&RepairHandler{Repairer: d.Repairer, Logger: logger}).Register(group)
	(&VerificationHandler{Verifier: d.Verifier, Logger: logger}).Register(group)
	(&OutcomeHandler{Outcomes: d.Outcomes, Logger: logger}).Register(group)
	if d.Notices != nil {
		(&NoticeHandler{Hub: d.Notices, Logger: logger}).Register(group)
	}

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("Request failed", fields...)
			return
		}
		logger.Debug("Request served", fields...)
	}
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}
