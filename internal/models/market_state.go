package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketState is the latest quote per symbol, populated by the market-data streaming job.
type MarketState struct {
	Symbol       string              `gorm:"primaryKey;size:20" json:"symbol"`
	CurrentPrice decimal.Decimal     `gorm:"type:decimal(20,8);not null" json:"current_price"`
	Bid          decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"bid"`
	Ask          decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"ask"`
	LastUpdate   time.Time           `gorm:"index" json:"last_update"`
}

func (MarketState) TableName() string {
	return "centralized_market_state"
}
