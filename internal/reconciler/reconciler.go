package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fx-signal-auditor/internal/config"
	"fx-signal-auditor/internal/metrics"
	"fx-signal-auditor/internal/models"
	"fx-signal-auditor/internal/notify"
	"fx-signal-auditor/internal/pricefeed"
	"fx-signal-auditor/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultScanLimit = 100
	defaultBatchSize = 10
)

// Result summarises one investigation run.
type Result struct {
	RunID                string        `json:"runId"`
	Examined             int           `json:"examined"`
	TotalWithoutOutcomes int           `json:"totalWithoutOutcomes"`
	Attempted            int           `json:"attempted"`
	Repaired             int           `json:"repairedCount"`
	Skipped              int           `json:"skipped"`
	AlreadyCovered       int           `json:"alreadyCovered"`
	Deferred             int           `json:"deferred"`
	Duration             time.Duration `json:"duration"`
}

// Message is the operator summary of the run.
func (r Result) Message() string {
	return fmt.Sprintf("Repaired %d of %d signals without outcome records", r.Repaired, r.TotalWithoutOutcomes)
}

// Reconciler backfills outcome records for expired signals that never got one.
type Reconciler struct {
	logger   *zap.Logger
	cfg      config.Reconciler
	signals  repository.SignalStore
	outcomes repository.OutcomeStore
	prices   pricefeed.Source

	// Notices and Metrics are optional.
	Notices notify.Publisher
	Metrics *metrics.Metrics

	now func() time.Time
	mu  sync.Mutex
}

// NewReconciler creates a reconciler. A MaxRepairsPerRun of 0 disables the per-run cap.
func NewReconciler(logger *zap.Logger, cfg config.Reconciler, signals repository.SignalStore, outcomes repository.OutcomeStore, prices pricefeed.Source) *Reconciler {
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = defaultScanLimit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Reconciler{
		logger:   logger.Named("reconciler"),
		cfg:      cfg,
		signals:  signals,
		outcomes: outcomes,
		prices:   prices,
		now:      time.Now,
	}
}

// InvestigateAndRepair finds recently expired signals without an outcome and synthesizes one for each.
// Query failures abort the run before anything is written. Per-signal failures are counted and skipped.
// Overlapping calls on the same Reconciler run one after the other.
func (r *Reconciler) InvestigateAndRepair(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := r.now()
	res := Result{RunID: uuid.NewString()}
	log := r.logger.With(zap.String("run_id", res.RunID))

	scan, err := repository.ListExpiredWithoutOutcome(ctx, r.signals, r.outcomes, r.cfg.ScanLimit)
	if err != nil {
		res.Duration = r.now().Sub(started)
		log.Error("Outcome investigation failed", zap.Error(err))
		r.report(res, err)
		return res, fmt.Errorf("investigate expired signals: %w", err)
	}

	res.Examined = len(scan.Expired)
	res.TotalWithoutOutcomes = len(scan.Uncovered)

	if len(scan.Uncovered) == 0 {
		res.Duration = r.now().Sub(started)
		log.Debug("All expired signals have outcomes", zap.Int("examined", res.Examined))
		r.report(res, nil)
		return res, nil
	}

	// malformed signals are dropped before the per-run cap applies
	pending := make([]models.Signal, 0, len(scan.Uncovered))
	for _, sig := range scan.Uncovered {
		if err := Validate(sig); err != nil {
			log.Warn("Skipping malformed signal",
				zap.String("signal_id", sig.ID), zap.String("symbol", sig.Symbol), zap.Error(err))
			res.Skipped++
			continue
		}
		pending = append(pending, sig)
	}

	if limit := r.cfg.MaxRepairsPerRun; limit > 0 && len(pending) > limit {
		res.Deferred = len(pending) - limit
		pending = pending[:limit]
	}

	log.Info("Found expired signals without outcome records",
		zap.Int("examined", res.Examined),
		zap.Int("missing", res.TotalWithoutOutcomes),
		zap.Int("malformed", res.Skipped),
		zap.Int("deferred", res.Deferred),
	)

	for start := 0; start < len(pending); start += r.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			res.Duration = r.now().Sub(started)
			r.report(res, err)
			return res, err
		}

		end := start + r.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		for _, sig := range pending[start:end] {
			r.repair(ctx, log, sig, &res)
		}
		log.Debug("Repair batch processed", zap.Int("from", start), zap.Int("to", end))
	}

	res.Duration = r.now().Sub(started)
	log.Info("Outcome repair finished",
		zap.Int("repaired", res.Repaired),
		zap.Int("skipped", res.Skipped),
		zap.Int("already_covered", res.AlreadyCovered),
		zap.Duration("duration", res.Duration),
	)
	r.report(res, nil)
	return res, nil
}

func (r *Reconciler) repair(ctx context.Context, log *zap.Logger, sig models.Signal, res *Result) {
	res.Attempted++
	log = log.With(zap.String("signal_id", sig.ID), zap.String("symbol", sig.Symbol))

	price := r.currentPrice(ctx, log, sig)
	outcome, err := Synthesize(sig, price, r.now())
	if err != nil {
		log.Warn("Skipping signal, could not synthesize outcome", zap.Error(err))
		res.Skipped++
		return
	}

	if err := r.outcomes.InsertOutcome(ctx, &outcome); err != nil {
		if errors.Is(err, repository.ErrDuplicateOutcome) {
			log.Info("Outcome written concurrently, nothing to repair")
			res.AlreadyCovered++
			return
		}
		log.Error("Failed to insert outcome", zap.Error(err))
		res.Skipped++
		return
	}

	log.Info("Outcome repaired",
		zap.String("notes", outcome.Notes),
		zap.String("exit_price", outcome.ExitPrice.String()),
		zap.Intp("pnl_pips", outcome.PnLPips),
	)
	res.Repaired++
}

// currentPrice falls back to the entry price when no source has a quote.
func (r *Reconciler) currentPrice(ctx context.Context, log *zap.Logger, sig models.Signal) decimal.Decimal {
	if r.prices == nil {
		return sig.EntryPrice.Decimal
	}
	price, err := r.prices.LatestPrice(ctx, sig.Symbol)
	if err != nil {
		log.Debug("No current price, using entry price", zap.Error(err))
		return sig.EntryPrice.Decimal
	}
	return price
}

func (r *Reconciler) report(res Result, err error) {
	switch {
	case err != nil:
		r.Metrics.ObserveRepairRun("error", res.Repaired, res.Skipped, res.AlreadyCovered, res.Duration)
		r.publish(notify.Notice{
			Level:   notify.LevelError,
			Title:   "Outcome investigation failed",
			Message: err.Error(),
			Data:    map[string]any{"runId": res.RunID},
		})
	case res.TotalWithoutOutcomes == 0:
		r.Metrics.ObserveRepairRun("noop", 0, 0, 0, res.Duration)
	default:
		r.Metrics.ObserveRepairRun("success", res.Repaired, res.Skipped, res.AlreadyCovered, res.Duration)
		level := notify.LevelInfo
		if res.Skipped > 0 {
			level = notify.LevelWarning
		}
		r.publish(notify.Notice{
			Level:   level,
			Title:   "Outcome repair complete",
			Message: res.Message(),
			Data: map[string]any{
				"runId":          res.RunID,
				"repaired":       res.Repaired,
				"skipped":        res.Skipped,
				"alreadyCovered": res.AlreadyCovered,
				"deferred":       res.Deferred,
			},
		})
	}
}

func (r *Reconciler) publish(n notify.Notice) {
	if r.Notices == nil {
		return
	}
	n.At = r.now().UTC()
	r.Notices.Publish(n)
}
