package database

import (
	"errors"
	"testing"
	"time"

	"fx-signal-auditor/internal/config"
	"fx-signal-auditor/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNewDatabase(t *testing.T) {
	db, err := NewDatabase(config.Database{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)

	migrator := db.Migrator()
	assert.True(t, migrator.HasTable("trading_signals"))
	assert.True(t, migrator.HasTable("signal_outcomes"))
	assert.True(t, migrator.HasTable("centralized_market_state"))

	t.Run("Migration is repeatable and keeps rows", func(t *testing.T) {
		require.NoError(t, db.Create(&models.Signal{ID: "sig-1", Symbol: "EURUSD", Type: models.SignalBuy, Status: models.StatusActive}).Error)
		require.NoError(t, AutoMigrate(db))

		var count int64
		require.NoError(t, db.Model(&models.Signal{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("One outcome per signal", func(t *testing.T) {
		first := models.Outcome{SignalID: "sig-1", ExitPrice: decimal.RequireFromString("1.1"), ExitTimestamp: time.Now()}
		require.NoError(t, db.Create(&first).Error)

		second := models.Outcome{SignalID: "sig-1", ExitPrice: decimal.RequireFromString("1.2"), ExitTimestamp: time.Now()}
		err := db.Create(&second).Error
		require.Error(t, err)
		assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))
	})
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.Database{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}
