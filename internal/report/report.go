package report

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"fx-signal-auditor/internal/config"
	"fx-signal-auditor/internal/metrics"
	"fx-signal-auditor/internal/models"
	"fx-signal-auditor/internal/repository"

	"go.uber.org/zap"
)

type Status string

const (
	StatusHealthy        Status = "HEALTHY"
	StatusNeedsAttention Status = "NEEDS_ATTENTION"
)

type Quality string

const (
	QualityExcellent Quality = "Excellent"
	QualityGood      Quality = "Good"
	QualityFair      Quality = "Fair"
	QualityPoor      Quality = "Poor"
)

const (
	defaultActiveLimit      = 500
	defaultExpiredWindow    = 100
	defaultOutcomeSample    = 100
	defaultMissingThreshold = 5
)

type SystemHealth struct {
	ActiveSignals         int      `json:"activeSignals"`
	StaleActiveSignals    int      `json:"staleActiveSignals"`
	StaleActiveIDs        []string `json:"staleActiveIds"`
	ExpiredSignals        int      `json:"expiredSignals"`
	ExpiredWithoutOutcome int      `json:"expiredWithoutOutcome"`
	MissingOutcomeIDs     []string `json:"missingOutcomeIds"`
	OutcomeSample         int      `json:"outcomeSample"`
	OutcomeQualityScore   float64  `json:"outcomeQualityScore"`
	OutcomeQuality        Quality  `json:"outcomeQuality"`
}

type Report struct {
	Success         bool         `json:"success"`
	GeneratedAt     time.Time    `json:"generatedAt"`
	SystemHealth    SystemHealth `json:"systemHealth"`
	SystemStatus    Status       `json:"systemStatus"`
	Recommendations []string     `json:"recommendations"`
}

// ClassifyQuality buckets a 0-100 score.
func ClassifyQuality(score float64) Quality {
	switch {
	case score >= 90:
		return QualityExcellent
	case score >= 70:
		return QualityGood
	case score >= 50:
		return QualityFair
	default:
		return QualityPoor
	}
}

// QualityScore is the percentage of outcomes carrying both pips and notes.
// An empty sample scores 100.
func QualityScore(outcomes []models.Outcome) float64 {
	if len(outcomes) == 0 {
		return 100
	}
	complete := 0
	for _, o := range outcomes {
		if o.PnLPips != nil && strings.TrimSpace(o.Notes) != "" {
			complete++
		}
	}
	score := float64(complete) / float64(len(outcomes)) * 100
	return math.Round(score*10) / 10
}

// Evaluate derives the overall status and recommendations from the collected health figures.
func Evaluate(h SystemHealth, missingThreshold int) (Status, []string) {
	recommendations := []string{}

	if h.StaleActiveSignals > 0 {
		recommendations = append(recommendations, fmt.Sprintf(
			"Close %d active signals that already hit every take-profit level; the status transition job may be lagging",
			h.StaleActiveSignals))
	}
	if h.ExpiredWithoutOutcome > missingThreshold {
		recommendations = append(recommendations, fmt.Sprintf(
			"Run the outcome repair to backfill %d expired signals without outcome records",
			h.ExpiredWithoutOutcome))
	}
	if h.OutcomeQuality == QualityPoor {
		recommendations = append(recommendations, fmt.Sprintf(
			"Only %.1f%% of recent outcomes carry pips and notes; check the outcome writer",
			h.OutcomeQualityScore))
	}

	if len(recommendations) > 0 {
		return StatusNeedsAttention, recommendations
	}
	return StatusHealthy, recommendations
}

// Verifier builds point-in-time health reports. It never writes.
type Verifier struct {
	logger   *zap.Logger
	cfg      config.Report
	signals  repository.SignalStore
	outcomes repository.OutcomeStore

	Metrics *metrics.Metrics

	now func() time.Time
}

func NewVerifier(logger *zap.Logger, cfg config.Report, signals repository.SignalStore, outcomes repository.OutcomeStore) *Verifier {
	if cfg.ActiveLimit <= 0 {
		cfg.ActiveLimit = defaultActiveLimit
	}
	if cfg.ExpiredWindow <= 0 {
		cfg.ExpiredWindow = defaultExpiredWindow
	}
	if cfg.OutcomeSample <= 0 {
		cfg.OutcomeSample = defaultOutcomeSample
	}
	if cfg.MissingThreshold <= 0 {
		cfg.MissingThreshold = defaultMissingThreshold
	}
	return &Verifier{
		logger:   logger.Named("report"),
		cfg:      cfg,
		signals:  signals,
		outcomes: outcomes,
		now:      time.Now,
	}
}

func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	var h SystemHealth

	active, err := v.signals.ListByStatus(ctx, models.StatusActive, v.cfg.ActiveLimit)
	if err != nil {
		return nil, fmt.Errorf("verify: active signals: %w", err)
	}
	h.ActiveSignals = len(active)
	h.StaleActiveIDs = []string{}
	for _, s := range active {
		if s.AllTargetsHit() {
			h.StaleActiveIDs = append(h.StaleActiveIDs, s.ID)
		}
	}
	h.StaleActiveSignals = len(h.StaleActiveIDs)

	scan, err := repository.ListExpiredWithoutOutcome(ctx, v.signals, v.outcomes, v.cfg.ExpiredWindow)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	h.ExpiredSignals = len(scan.Expired)
	h.ExpiredWithoutOutcome = len(scan.Uncovered)
	h.MissingOutcomeIDs = make([]string, 0, len(scan.Uncovered))
	for _, s := range scan.Uncovered {
		h.MissingOutcomeIDs = append(h.MissingOutcomeIDs, s.ID)
	}

	sample, err := v.outcomes.RecentOutcomes(ctx, v.cfg.OutcomeSample)
	if err != nil {
		return nil, fmt.Errorf("verify: outcome sample: %w", err)
	}
	h.OutcomeSample = len(sample)
	h.OutcomeQualityScore = QualityScore(sample)
	h.OutcomeQuality = ClassifyQuality(h.OutcomeQualityScore)

	status, recommendations := Evaluate(h, v.cfg.MissingThreshold)

	v.Metrics.SetReport(status == StatusHealthy, h.ExpiredWithoutOutcome, h.StaleActiveSignals)
	v.logger.Debug("Verification report generated",
		zap.String("status", string(status)),
		zap.Int("stale_active", h.StaleActiveSignals),
		zap.Int("missing_outcomes", h.ExpiredWithoutOutcome),
		zap.String("quality", string(h.OutcomeQuality)),
	)

	return &Report{
		Success:         true,
		GeneratedAt:     v.now().UTC(),
		SystemHealth:    h,
		SystemStatus:    status,
		Recommendations: recommendations,
	}, nil
}
