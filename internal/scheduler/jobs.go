package scheduler

import (
	"context"

	"fx-signal-auditor/internal/reconciler"
	"fx-signal-auditor/internal/report"

	"go.uber.org/zap"
)

type Repairer interface {
	InvestigateAndRepair(ctx context.Context) (reconciler.Result, error)
}

type Verifier interface {
	Verify(ctx context.Context) (*report.Report, error)
}

// RepairJob runs one reconciliation. Errors are already logged and published by the reconciler.
func RepairJob(r Repairer) func(context.Context) {
	return func(ctx context.Context) {
		_, _ = r.InvestigateAndRepair(ctx)
	}
}

// ReportJob logs a verification summary, loudly when the system needs attention.
func ReportJob(logger *zap.Logger, v Verifier) func(context.Context) {
	logger = logger.Named("report_job")
	return func(ctx context.Context) {
		rep, err := v.Verify(ctx)
		if err != nil {
			logger.Error("Verification failed", zap.Error(err))
			return
		}
		fields := []zap.Field{
			zap.String("status", string(rep.SystemStatus)),
			zap.Int("active", rep.SystemHealth.ActiveSignals),
			zap.Int("stale_active", rep.SystemHealth.StaleActiveSignals),
			zap.Int("expired", rep.SystemHealth.ExpiredSignals),
			zap.Int("missing_outcomes", rep.SystemHealth.ExpiredWithoutOutcome),
			zap.Float64("quality_score", rep.SystemHealth.OutcomeQualityScore),
		}
		if rep.SystemStatus == report.StatusHealthy {
			logger.Info("Signal system healthy", fields...)
			return
		}
		logger.Warn("Signal system needs attention", append(fields, zap.Strings("recommendations", rep.Recommendations))...)
	}
}
