package audit

import (
	"context"
	"testing"
	"time"

	"fx-signal-auditor/internal/config"
	"fx-signal-auditor/internal/database"
	"fx-signal-auditor/internal/models"
	gormrepository "fx-signal-auditor/internal/repository/gorm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecodeChange(t *testing.T) {
	change, err := decodeChange(`{"signal_id":"sig-1","old_status":"active","new_status":"expired","at":"2024-03-01T12:00:00.123456+00:00"}`)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", change.SignalID)
	assert.Equal(t, "active", change.OldStatus)
	assert.Equal(t, "expired", change.NewStatus)
	assert.Equal(t, 2024, change.At.Year())

	_, err = decodeChange(`not json`)
	assert.Error(t, err)
}

func TestPollFeed(t *testing.T) {
	db, err := database.NewDatabase(config.Database{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	store := gormrepository.New(db)

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, s := range []models.Signal{
		{ID: "before", Symbol: "EURUSD", Type: models.SignalBuy, Status: models.StatusExpired, UpdatedAt: start.Add(-time.Minute)},
		{ID: "after-1", Symbol: "EURUSD", Type: models.SignalBuy, Status: models.StatusExpired, UpdatedAt: start.Add(time.Second)},
		{ID: "after-2", Symbol: "EURUSD", Type: models.SignalBuy, Status: models.StatusExpired, UpdatedAt: start.Add(time.Second)},
		{ID: "still-active", Symbol: "EURUSD", Type: models.SignalBuy, Status: models.StatusActive, UpdatedAt: start.Add(2 * time.Second)},
	} {
		require.NoError(t, db.Create(&s).Error)
	}

	feed := NewPollFeed(store, 10*time.Millisecond, zap.NewNop())
	feed.now = func() time.Time { return start }

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := feed.Subscribe(ctx)
	require.NoError(t, err)

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case c := <-changes:
			assert.Equal(t, "expired", c.NewStatus)
			got = append(got, c.SignalID)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.ElementsMatch(t, []string{"after-1", "after-2"}, got)

	// later polls re-read the watermark rows but must not emit them again
	select {
	case c := <-changes:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	for range changes {
	}
}
