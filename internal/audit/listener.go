package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fx-signal-auditor/internal/config"
	"fx-signal-auditor/internal/metrics"
	"fx-signal-auditor/internal/models"
	"fx-signal-auditor/internal/notify"
	"fx-signal-auditor/internal/reconciler"

	"go.uber.org/zap"
)

const defaultCheckDelay = 30 * time.Second

// StatusChange is an update of a signal's status as delivered by a Feed.
type StatusChange struct {
	SignalID  string    `json:"signal_id"`
	OldStatus string    `json:"old_status,omitempty"`
	NewStatus string    `json:"new_status"`
	At        time.Time `json:"at"`
}

// Feed delivers status changes until ctx is done, then closes the channel.
type Feed interface {
	Subscribe(ctx context.Context) (<-chan StatusChange, error)
}

type OutcomeChecker interface {
	HasOutcome(ctx context.Context, signalID string) (bool, error)
}

type Repairer interface {
	InvestigateAndRepair(ctx context.Context) (reconciler.Result, error)
}

// Listener waits for signals to expire and, after a grace period for the regular
// outcome writer, reports the ones that still have no outcome.
type Listener struct {
	feed     Feed
	outcomes OutcomeChecker
	delay    time.Duration
	logger   *zap.Logger

	// Optional collaborators. Repairer is only called when repair_on_missing is set.
	Notices  notify.Publisher
	Metrics  *metrics.Metrics
	Repairer Repairer

	repairOnMissing bool

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

func NewListener(logger *zap.Logger, cfg config.Audit, feed Feed, outcomes OutcomeChecker) *Listener {
	delay := cfg.CheckDelay
	if delay <= 0 {
		delay = defaultCheckDelay
	}
	return &Listener{
		feed:            feed,
		outcomes:        outcomes,
		delay:           delay,
		logger:          logger.Named("audit"),
		repairOnMissing: cfg.RepairOnMissing,
		pending:         make(map[string]struct{}),
	}
}

// Run consumes the feed until ctx is done or the feed closes. A subscription failure
// is logged and Run returns nil; the rest of the process keeps working without live auditing.
// Pending checks are cancelled with ctx; checks already running finish before Run returns.
func (l *Listener) Run(ctx context.Context) error {
	changes, err := l.feed.Subscribe(ctx)
	if err != nil {
		l.logger.Error("Failed to subscribe to signal status changes, live audit disabled", zap.Error(err))
		return nil
	}
	defer l.wg.Wait()

	l.logger.Info("Listening for signal expirations", zap.Duration("check_delay", l.delay))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Stopping audit listener...")
			return nil
		case change, ok := <-changes:
			if !ok {
				l.logger.Warn("Status change feed closed")
				return nil
			}
			l.handle(ctx, change)
		}
	}
}

func (l *Listener) handle(ctx context.Context, change StatusChange) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered from panic in status change handler",
				zap.String("signal_id", change.SignalID), zap.Any("panic", r))
		}
	}()

	if change.NewStatus != string(models.StatusExpired) {
		return
	}
	if change.SignalID == "" {
		l.logger.Warn("Ignoring expiration without signal id")
		return
	}

	l.mu.Lock()
	if _, ok := l.pending[change.SignalID]; ok {
		l.mu.Unlock()
		return
	}
	l.pending[change.SignalID] = struct{}{}
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.pending, change.SignalID)
			l.mu.Unlock()
		}()

		timer := time.NewTimer(l.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		l.check(ctx, change.SignalID)
	}()
}

func (l *Listener) check(ctx context.Context, signalID string) {
	log := l.logger.With(zap.String("signal_id", signalID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic in outcome check", zap.Any("panic", r))
		}
	}()

	has, err := l.outcomes.HasOutcome(ctx, signalID)
	if err != nil {
		log.Error("Outcome check failed", zap.Error(err))
		return
	}
	if has {
		log.Debug("Expired signal has an outcome")
		return
	}

	log.Warn("Signal expired without outcome record", zap.Duration("after", l.delay))
	l.Metrics.IncMissingOutcome()
	if l.Notices != nil {
		l.Notices.Publish(notify.Notice{
			Level:   notify.LevelWarning,
			Title:   "Expired signal without outcome",
			Message: fmt.Sprintf("Signal %s expired %s ago and still has no outcome record", signalID, l.delay),
			At:      time.Now().UTC(),
			Data:    map[string]any{"signalId": signalID},
		})
	}

	if !l.repairOnMissing || l.Repairer == nil {
		return
	}
	res, err := l.Repairer.InvestigateAndRepair(ctx)
	if err != nil {
		log.Error("Repair after missing outcome failed", zap.Error(err))
		return
	}
	log.Info("Repair after missing outcome finished", zap.String("run_id", res.RunID), zap.Int("repaired", res.Repaired))
}
