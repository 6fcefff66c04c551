package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents an open long position in one ticker.
// Shares and Notional are fixed at entry; only the trailing stop moves.
type Position struct {
	Ticker         string
	Sector         string
	EntryTime      time.Time
	EntryPrice     decimal.Decimal // Fill price including slippage
	EntryReference decimal.Decimal // Bar close the entry was signalled at
	Shares         int64
	Notional       decimal.Decimal // Shares * EntryPrice
	EntryCost      decimal.Decimal // Commission paid at entry

	HighWaterMark     decimal.Decimal // Highest close seen since entry
	StopPrice         decimal.Decimal // EntryPrice * (1 - stopLossPct)
	TargetPrice       decimal.Decimal // EntryPrice * (1 + takeProfitPct)
	TrailingActive    bool
	TrailingStopPrice decimal.Decimal // Zero until trailing activates

	LastPrice decimal.Decimal // Most recent close, used for marking
	LastTime  time.Time
}

// MarketValue returns the position value at its last known price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.LastPrice.Mul(decimal.NewFromInt(p.Shares))
}

// UnrealizedPct returns the fractional gain of price over the entry price.
func (p *Position) UnrealizedPct(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice)
}
