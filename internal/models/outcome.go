package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the recorded final result of a signal. Rows are append-only.
type Outcome struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	SignalID       string          `gorm:"size:64;uniqueIndex;not null" json:"signal_id"`
	HitTarget      bool            `gorm:"not null" json:"hit_target"`
	ExitPrice      decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"exit_price"`
	ExitTimestamp  time.Time       `gorm:"index;not null" json:"exit_timestamp"`
	TargetHitLevel *int            `json:"target_hit_level"`
	PnLPips        *int            `gorm:"column:pnl_pips" json:"pnl_pips"`
	Notes          string          `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
}

func (Outcome) TableName() string {
	return "signal_outcomes"
}
