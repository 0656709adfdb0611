package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fx-signal-auditor/internal/models"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateOutcome = errors.New("outcome already recorded for signal")
)

// SignalStore reads signals. Signals are owned by the generation job; nothing here writes them.
type SignalStore interface {
	// ListByStatus returns up to limit signals with the given status, most recently updated first.
	ListByStatus(ctx context.Context, status models.SignalStatus, limit int) ([]models.Signal, error)
	// ListExpiredSince returns signals that expired at or after since, oldest first.
	ListExpiredSince(ctx context.Context, since time.Time, limit int) ([]models.Signal, error)
	GetSignal(ctx context.Context, id string) (*models.Signal, error)
}

type OutcomeStore interface {
	// InsertOutcome fails with ErrDuplicateOutcome when the signal already has an outcome.
	InsertOutcome(ctx context.Context, outcome *models.Outcome) error
	// OutcomeSignalIDs returns the subset of ids that already have an outcome.
	OutcomeSignalIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	HasOutcome(ctx context.Context, signalID string) (bool, error)
	RecentOutcomes(ctx context.Context, limit int) ([]models.Outcome, error)
	// OutcomeStats aggregates outcomes exited at or after since. A zero since covers everything.
	OutcomeStats(ctx context.Context, since time.Time) (OutcomeStats, error)
}

type PriceStore interface {
	LatestPrice(ctx context.Context, symbol string) (*models.MarketState, error)
}

type Store interface {
	SignalStore
	OutcomeStore
	PriceStore
}

type OutcomeStats struct {
	Total     int64 `json:"total_outcomes"`
	Wins      int64 `json:"winning_outcomes"`
	TotalPips int64 `json:"total_pips"`
}

// WinRate is the share of winning outcomes, 0 to 1.
func (s OutcomeStats) WinRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Total)
}

// ExpiredScan is a window of recently expired signals split by outcome coverage.
type ExpiredScan struct {
	Expired   []models.Signal
	Uncovered []models.Signal
}

// ListExpiredWithoutOutcome loads the most recent expired signals and keeps the ones with
// no outcome record, in the order the signals were listed.
func ListExpiredWithoutOutcome(ctx context.Context, signals SignalStore, outcomes OutcomeStore, limit int) (ExpiredScan, error) {
	expired, err := signals.ListByStatus(ctx, models.StatusExpired, limit)
	if err != nil {
		return ExpiredScan{}, fmt.Errorf("ListExpiredWithoutOutcome: list expired: %w", err)
	}

	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		ids = append(ids, s.ID)
	}

	covered, err := outcomes.OutcomeSignalIDs(ctx, ids)
	if err != nil {
		return ExpiredScan{}, fmt.Errorf("ListExpiredWithoutOutcome: outcome lookup: %w", err)
	}

	scan := ExpiredScan{Expired: expired}
	for _, s := range expired {
		if _, ok := covered[s.ID]; !ok {
			scan.Uncovered = append(scan.Uncovered, s)
		}
	}
	return scan, nil
}
