package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fx-signal-auditor/internal/config"
	"fx-signal-auditor/internal/database"
	"fx-signal-auditor/internal/models"
	"fx-signal-auditor/internal/notify"
	"fx-signal-auditor/internal/pricefeed"
	"fx-signal-auditor/internal/repository"
	gormrepository "fx-signal-auditor/internal/repository/gorm"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (p *recordingPublisher) Publish(n notify.Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
}

func (p *recordingPublisher) last() notify.Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.notices) == 0 {
		return notify.Notice{}
	}
	return p.notices[len(p.notices)-1]
}

type failingSignals struct{}

func (failingSignals) ListByStatus(ctx context.Context, status models.SignalStatus, limit int) ([]models.Signal, error) {
	return nil, errors.New("connection refused")
}

func (failingSignals) ListExpiredSince(ctx context.Context, since time.Time, limit int) ([]models.Signal, error) {
	return nil, errors.New("connection refused")
}

func (failingSignals) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	return nil, errors.New("connection refused")
}

// racingOutcomes writes a competing outcome right before each insert.
type racingOutcomes struct {
	repository.OutcomeStore
}

func (r racingOutcomes) InsertOutcome(ctx context.Context, outcome *models.Outcome) error {
	competing := *outcome
	competing.Notes = "written by the live outcome writer"
	if err := r.OutcomeStore.InsertOutcome(ctx, &competing); err != nil {
		return err
	}
	return r.OutcomeStore.InsertOutcome(ctx, outcome)
}

type testStore struct {
	*gormrepository.Store
	db *gorm.DB
}

func newTestStore(t *testing.T) testStore {
	t.Helper()
	db, err := database.NewDatabase(config.Database{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	return testStore{Store: gormrepository.New(db), db: db}
}

var seedBase = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func seedExpired(t *testing.T, store testStore, n int, mutate func(i int, s *models.Signal)) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sig := models.Signal{
			ID:               fmt.Sprintf("sig-%02d", i),
			Symbol:           "EURUSD",
			Type:             models.SignalBuy,
			EntryPrice:       nd("1.1000"),
			StopLoss:         nd("1.0950"),
			TakeProfitLevels: []decimal.Decimal{d("1.1050"), d("1.1100")},
			Status:           models.StatusExpired,
			CreatedAt:        seedBase,
			UpdatedAt:        seedBase.Add(time.Duration(i) * time.Minute),
		}
		if mutate != nil {
			mutate(i, &sig)
		}
		require.NoError(t, store.db.WithContext(ctx).Create(&sig).Error)
		ids = append(ids, sig.ID)
	}
	return ids
}

func newTestReconciler(store testStore, cfg config.Reconciler, logger *zap.Logger) *Reconciler {
	src := pricefeed.NewStoreSource(store, 0)
	r := NewReconciler(logger, cfg, store, store, src)
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestInvestigateAndRepair_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedExpired(t, store, 4, nil)
	require.NoError(t, store.InsertOutcome(ctx, &models.Outcome{
		SignalID: "sig-00", HitTarget: true, ExitPrice: d("1.1050"), ExitTimestamp: seedBase,
	}))
	require.NoError(t, store.UpsertPrice(ctx, "EURUSD", d("1.0940"), fixedNow))

	pub := &recordingPublisher{}
	r := newTestReconciler(store, config.Reconciler{MaxRepairsPerRun: 10}, zap.NewNop())
	r.Notices = pub

	first, err := r.InvestigateAndRepair(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, 4, first.Examined)
	assert.Equal(t, 3, first.TotalWithoutOutcomes)
	assert.Equal(t, 3, first.Repaired)
	assert.Equal(t, 0, first.Skipped)
	assert.Equal(t, "Repaired 3 of 3 signals without outcome records", pub.last().Message)

	outcomes, err := store.RecentOutcomes(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, outcomes, 4)
	for _, o := range outcomes {
		if o.SignalID == "sig-00" {
			continue
		}
		assert.Equal(t, NoteStopLoss, o.Notes)
		assert.Equal(t, -50, *o.PnLPips)
	}

	second, err := r.InvestigateAndRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, second.Examined)
	assert.Equal(t, 0, second.TotalWithoutOutcomes)
	assert.Equal(t, 0, second.Repaired)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestInvestigateAndRepair_BatchIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ids := seedExpired(t, store, 12, func(i int, s *models.Signal) {
		if i == 6 {
			s.StopLoss = models.Price{}
		}
	})

	core, logs := observer.New(zapcore.WarnLevel)
	r := newTestReconciler(store, config.Reconciler{BatchSize: 5}, zap.New(core))

	res, err := r.InvestigateAndRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, res.TotalWithoutOutcomes)
	assert.Equal(t, 11, res.Attempted)
	assert.Equal(t, 11, res.Repaired)
	assert.Equal(t, 1, res.Skipped)

	has, err := store.HasOutcome(ctx, ids[6])
	require.NoError(t, err)
	assert.False(t, has)

	skipped := logs.FilterMessage("Skipping malformed signal").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, ids[6], skipped[0].ContextMap()["signal_id"])
}

func TestInvestigateAndRepair_NonNumericStopLoss(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ids := seedExpired(t, store, 12, nil)
	require.NoError(t, store.db.Exec("UPDATE trading_signals SET stop_loss = 'abc' WHERE id = ?", ids[6]).Error)

	core, logs := observer.New(zapcore.WarnLevel)
	r := newTestReconciler(store, config.Reconciler{BatchSize: 5}, zap.New(core))

	res, err := r.InvestigateAndRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Examined)
	assert.Equal(t, 11, res.Repaired)
	assert.Equal(t, 1, res.Skipped)

	has, err := store.HasOutcome(ctx, ids[6])
	require.NoError(t, err)
	assert.False(t, has)

	skipped := logs.FilterMessage("Skipping malformed signal").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, ids[6], skipped[0].ContextMap()["signal_id"])
	assert.Contains(t, skipped[0].ContextMap()["error"], "non-numeric stop_loss")
}

func TestInvestigateAndRepair_MalformedSignalsDoNotUseCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	// the ten most recently updated signals are malformed and listed first
	seedExpired(t, store, 15, func(i int, s *models.Signal) {
		if i >= 5 {
			s.StopLoss = models.Price{}
		}
	})

	r := newTestReconciler(store, config.Reconciler{MaxRepairsPerRun: 10, BatchSize: 10}, zap.NewNop())

	first, err := r.InvestigateAndRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, first.TotalWithoutOutcomes)
	assert.Equal(t, 5, first.Repaired)
	assert.Equal(t, 10, first.Skipped)
	assert.Equal(t, 0, first.Deferred)

	second, err := r.InvestigateAndRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, second.TotalWithoutOutcomes)
	assert.Equal(t, 0, second.Repaired)
	assert.Equal(t, 0, second.Deferred)
}

func TestInvestigateAndRepair_PerRunCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedExpired(t, store, 12, nil)

	r := newTestReconciler(store, config.Reconciler{MaxRepairsPerRun: 10, BatchSize: 10}, zap.NewNop())

	first, err := r.InvestigateAndRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Repaired)
	assert.Equal(t, 2, first.Deferred)

	second, err := r.InvestigateAndRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.TotalWithoutOutcomes)
	assert.Equal(t, 2, second.Repaired)
	assert.Equal(t, 0, second.Deferred)
}

func TestInvestigateAndRepair_TargetsWin(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedExpired(t, store, 1, func(i int, s *models.Signal) {
		s.TargetsHit = []int{1, 2}
	})
	require.NoError(t, store.UpsertPrice(ctx, "EURUSD", d("1.0900"), fixedNow))

	r := newTestReconciler(store, config.Reconciler{}, zap.NewNop())
	res, err := r.InvestigateAndRepair(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Repaired)

	outcomes, err := store.RecentOutcomes(ctx, 1)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].HitTarget)
	assert.Equal(t, 2, *outcomes[0].TargetHitLevel)
	assert.Equal(t, 100, *outcomes[0].PnLPips)
}

func TestInvestigateAndRepair_EntryPriceFallback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedExpired(t, store, 1, nil)

	r := newTestReconciler(store, config.Reconciler{}, zap.NewNop())
	res, err := r.InvestigateAndRepair(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Repaired)

	outcomes, err := store.RecentOutcomes(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, NoteUnknownExit, outcomes[0].Notes)
	assert.True(t, outcomes[0].ExitPrice.Equal(d("1.1000")))
	assert.Equal(t, 0, *outcomes[0].PnLPips)
}

func TestInvestigateAndRepair_DuplicateInsertCountsAsCovered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedExpired(t, store, 2, nil)

	r := NewReconciler(zap.NewNop(), config.Reconciler{}, store, racingOutcomes{store.Store}, nil)
	res, err := r.InvestigateAndRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Repaired)
	assert.Equal(t, 2, res.AlreadyCovered)
	assert.Equal(t, 0, res.Skipped)

	outcomes, err := store.RecentOutcomes(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)
}

func TestInvestigateAndRepair_QueryFailureAborts(t *testing.T) {
	store := newTestStore(t)
	pub := &recordingPublisher{}
	r := NewReconciler(zap.NewNop(), config.Reconciler{}, failingSignals{}, store, nil)
	r.Notices = pub

	_, err := r.InvestigateAndRepair(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, notify.LevelError, pub.last().Level)

	outcomes, err := store.RecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestInvestigateAndRepair_Cancelled(t *testing.T) {
	store := newTestStore(t)
	seedExpired(t, store, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestReconciler(store, config.Reconciler{}, zap.NewNop())
	_, err := r.InvestigateAndRepair(ctx)
	assert.Error(t, err)
}
