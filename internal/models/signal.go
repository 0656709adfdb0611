package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SignalType is the trade direction of a signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// SignalStatus is the lifecycle state of a signal.
type SignalStatus string

const (
	StatusActive  SignalStatus = "active"
	StatusExpired SignalStatus = "expired"
)

// Signal is a recommended trade written by the external generation job.
// Take-profit level N lives at TakeProfitLevels[N-1]; TargetsHit holds 1-based levels.
type Signal struct {
	ID               string                               `gorm:"primaryKey;size:64" json:"id"`
	Symbol           string                               `gorm:"size:20;index;not null" json:"symbol"`
	Type             SignalType                           `gorm:"size:4;not null" json:"type"`
	EntryPrice       Price                                `gorm:"type:decimal(20,8)" json:"entry_price"`
	StopLoss         Price                                `gorm:"type:decimal(20,8)" json:"stop_loss"`
	TakeProfitLevels datatypes.JSONSlice[decimal.Decimal] `json:"take_profit_levels"`
	TargetsHit       datatypes.JSONSlice[int]             `json:"targets_hit"`
	Status           SignalStatus                         `gorm:"size:16;index;not null" json:"status"`
	CreatedAt        time.Time                            `json:"created_at"`
	UpdatedAt        time.Time                            `gorm:"index" json:"updated_at"`
}

func (Signal) TableName() string {
	return "trading_signals"
}

// HighestTargetHit returns the highest recorded take-profit level, or false if none was hit.
func (s *Signal) HighestTargetHit() (int, bool) {
	highest := 0
	for _, level := range s.TargetsHit {
		if level > highest {
			highest = level
		}
	}
	return highest, highest > 0
}

// TargetPrice returns the ladder price of a 1-based take-profit level.
func (s *Signal) TargetPrice(level int) (decimal.Decimal, bool) {
	if level < 1 || level > len(s.TakeProfitLevels) {
		return decimal.Zero, false
	}
	return s.TakeProfitLevels[level-1], true
}

// AllTargetsHit reports whether every rung of a non-empty ladder is recorded as hit.
// An active signal in this state should already have been closed.
func (s *Signal) AllTargetsHit() bool {
	if len(s.TakeProfitLevels) == 0 {
		return false
	}
	seen := make(map[int]struct{}, len(s.TargetsHit))
	for _, level := range s.TargetsHit {
		if level >= 1 && level <= len(s.TakeProfitLevels) {
			seen[level] = struct{}{}
		}
	}
	return len(seen) == len(s.TakeProfitLevels)
}
