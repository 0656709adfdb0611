package gormrepository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fx-signal-auditor/internal/models"
	"fx-signal-auditor/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pgErrUniqueViolation = "23505"

type Store struct {
	db *gorm.DB
}

var _ repository.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) ListByStatus(ctx context.Context, status models.SignalStatus, limit int) ([]models.Signal, error) {
	var items []models.Signal
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at DESC").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("ListByStatus: %w", err)
	}
	return items, nil
}

func (s *Store) ListExpiredSince(ctx context.Context, since time.Time, limit int) ([]models.Signal, error) {
	var items []models.Signal
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusExpired).
		Where("updated_at >= ?", since).
		Order("updated_at ASC").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("ListExpiredSince: %w", err)
	}
	return items, nil
}

func (s *Store) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	var item models.Signal
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetSignal: %w", err)
	}
	return &item, nil
}

// CountByStatus is used by the ops CLI.
func (s *Store) CountByStatus(ctx context.Context, status models.SignalStatus) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Signal{}).Where("status = ?", status).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("CountByStatus: %w", err)
	}
	return count, nil
}

func (s *Store) InsertOutcome(ctx context.Context, outcome *models.Outcome) error {
	if outcome == nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(outcome).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("InsertOutcome %s: %w", outcome.SignalID, repository.ErrDuplicateOutcome)
		}
		return fmt.Errorf("InsertOutcome %s: %w", outcome.SignalID, err)
	}
	return nil
}

func (s *Store) OutcomeSignalIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	covered := make(map[string]struct{})
	if len(ids) == 0 {
		return covered, nil
	}

	var found []string
	err := s.db.WithContext(ctx).
		Model(&models.Outcome{}).
		Where("signal_id IN ?", ids).
		Pluck("signal_id", &found).Error
	if err != nil {
		return nil, fmt.Errorf("OutcomeSignalIDs: %w", err)
	}
	for _, id := range found {
		covered[id] = struct{}{}
	}
	return covered, nil
}

func (s *Store) HasOutcome(ctx context.Context, signalID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Outcome{}).Where("signal_id = ?", signalID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("HasOutcome: %w", err)
	}
	return count > 0, nil
}

func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]models.Outcome, error) {
	var items []models.Outcome
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("RecentOutcomes: %w", err)
	}
	return items, nil
}

func (s *Store) OutcomeStats(ctx context.Context, since time.Time) (repository.OutcomeStats, error) {
	var row struct {
		Total     int64
		Wins      int64
		TotalPips int64
	}

	query := s.db.WithContext(ctx).Model(&models.Outcome{})
	if !since.IsZero() {
		query = query.Where("exit_timestamp >= ?", since)
	}
	err := query.Select(
		"COUNT(*) AS total, " +
			"COALESCE(SUM(CASE WHEN hit_target THEN 1 ELSE 0 END), 0) AS wins, " +
			"COALESCE(SUM(pnl_pips), 0) AS total_pips",
	).Scan(&row).Error
	if err != nil {
		return repository.OutcomeStats{}, fmt.Errorf("OutcomeStats: %w", err)
	}

	return repository.OutcomeStats{Total: row.Total, Wins: row.Wins, TotalPips: row.TotalPips}, nil
}

func (s *Store) LatestPrice(ctx context.Context, symbol string) (*models.MarketState, error) {
	var item models.MarketState
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("LatestPrice %s: %w", symbol, err)
	}
	return &item, nil
}

// UpsertPrice writes a market state row. Production rows come from the streaming job;
// this exists for local seeding.
func (s *Store) UpsertPrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error {
	item := models.MarketState{Symbol: symbol, CurrentPrice: price, LastUpdate: at}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_price", "last_update"}),
	}).Create(&item).Error
	if err != nil {
		return fmt.Errorf("UpsertPrice %s: %w", symbol, err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
