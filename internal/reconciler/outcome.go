package reconciler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fx-signal-auditor/internal/models"

	"github.com/shopspring/decimal"
)

var ErrInvalidSignal = errors.New("invalid signal")

const (
	NoteStopLoss    = "Stop Loss Hit (Retroactive Analysis)"
	NoteUnknownExit = "Unknown Exit Reason (Retroactive Analysis — possible non-market-based expiration)"
)

var (
	jpyPipMultiplier      = decimal.NewFromInt(100)
	standardPipMultiplier = decimal.NewFromInt(10000)
)

// TakeProfitNote is the outcome note for a retroactive take-profit exit.
func TakeProfitNote(level int) string {
	return fmt.Sprintf("Take Profit %d Hit (Retroactive Analysis)", level)
}

// PipMultiplier returns 100 for JPY-quoted pairs and 10000 otherwise.
func PipMultiplier(symbol string) decimal.Decimal {
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return jpyPipMultiplier
	}
	return standardPipMultiplier
}

// Pips is the signed move from entry to exit in the signal's favour, rounded half away from zero.
func Pips(signalType models.SignalType, symbol string, entry, exit decimal.Decimal) int {
	move := exit.Sub(entry)
	if signalType == models.SignalSell {
		move = move.Neg()
	}
	return int(move.Mul(PipMultiplier(symbol)).Round(0).IntPart())
}

// Validate checks the fields Synthesize depends on.
func Validate(sig models.Signal) error {
	if sig.Type != models.SignalBuy && sig.Type != models.SignalSell {
		return fmt.Errorf("%w: %s has unknown type %q", ErrInvalidSignal, sig.ID, sig.Type)
	}
	if sig.EntryPrice.Malformed != "" {
		return fmt.Errorf("%w: %s has non-numeric entry_price %q", ErrInvalidSignal, sig.ID, sig.EntryPrice.Malformed)
	}
	if sig.StopLoss.Malformed != "" {
		return fmt.Errorf("%w: %s has non-numeric stop_loss %q", ErrInvalidSignal, sig.ID, sig.StopLoss.Malformed)
	}
	if !sig.EntryPrice.Usable() {
		return fmt.Errorf("%w: %s has no usable entry_price", ErrInvalidSignal, sig.ID)
	}
	if !sig.StopLoss.Usable() {
		return fmt.Errorf("%w: %s has no usable stop_loss", ErrInvalidSignal, sig.ID)
	}
	if level, ok := sig.HighestTargetHit(); ok {
		if _, ok := sig.TargetPrice(level); !ok {
			return fmt.Errorf("%w: %s records target %d but the ladder has %d levels",
				ErrInvalidSignal, sig.ID, level, len(sig.TakeProfitLevels))
		}
	}
	return nil
}

// Synthesize builds the retroactive outcome of an expired signal given the current price.
//
// Recorded take-profit hits take priority over the current-price stop-loss check: a
// signal that reached a target and later traded through its stop is still a win.
func Synthesize(sig models.Signal, price decimal.Decimal, now time.Time) (models.Outcome, error) {
	if err := Validate(sig); err != nil {
		return models.Outcome{}, err
	}

	entry := sig.EntryPrice.Decimal
	stop := sig.StopLoss.Decimal

	outcome := models.Outcome{
		SignalID:      sig.ID,
		ExitTimestamp: now.UTC(),
	}

	if level, ok := sig.HighestTargetHit(); ok {
		target, _ := sig.TargetPrice(level)
		outcome.HitTarget = true
		outcome.ExitPrice = target
		outcome.TargetHitLevel = &level
		outcome.Notes = TakeProfitNote(level)
	} else if hitStopLoss(sig.Type, price, stop) {
		outcome.ExitPrice = stop
		outcome.Notes = NoteStopLoss
	} else {
		outcome.ExitPrice = price
		outcome.Notes = NoteUnknownExit
	}

	pips := Pips(sig.Type, sig.Symbol, entry, outcome.ExitPrice)
	outcome.PnLPips = &pips
	return outcome, nil
}

func hitStopLoss(signalType models.SignalType, price, stop decimal.Decimal) bool {
	if signalType == models.SignalBuy {
		return price.LessThanOrEqual(stop)
	}
	return price.GreaterThanOrEqual(stop)
}
