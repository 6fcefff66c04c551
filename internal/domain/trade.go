package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade represents a completed round trip. Trades are appended to the ledger
// when a position closes and are never modified afterwards.
type Trade struct {
	ID             int64 // Ledger sequence number (1-based)
	Ticker         string
	Sector         string
	EntryTime      time.Time
	ExitTime       time.Time
	EntryPrice     decimal.Decimal // Entry fill
	ExitPrice      decimal.Decimal // Exit fill
	EntryReference decimal.Decimal // Entry bar close
	ExitReference  decimal.Decimal // Exit bar close
	Shares         int64
	GrossPNL       decimal.Decimal // (ExitReference - EntryReference) * Shares
	NetPNL         decimal.Decimal // After slippage and commissions
	PNLPercent     decimal.Decimal // (ExitPrice - EntryPrice) / EntryPrice
	Commission     decimal.Decimal // Entry + exit commission
	Slippage       decimal.Decimal // Cost of slippage on both legs
	ExitReason     ExitReason
}

// HoldingDuration returns how long the position was held.
func (t *Trade) HoldingDuration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// IsWin reports whether the trade made money after costs.
func (t *Trade) IsWin() bool {
	return t.NetPNL.IsPositive()
}
