package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents a single OHLCV observation for one ticker.
// Bars are produced by a data source and never modified afterwards.
type Bar struct {
	Ticker    string          // Stock ticker (e.g., "AAPL")
	Timestamp time.Time       // Bar timestamp, exchange-local
	Open      decimal.Decimal // Opening price
	High      decimal.Decimal // Highest price
	Low       decimal.Decimal // Lowest price
	Close     decimal.Decimal // Closing price
	Volume    decimal.Decimal // Traded volume (shares)
}

// EquityPoint is one mark-to-market sample of the simulated portfolio.
// The engine appends exactly one point per tick.
type EquityPoint struct {
	Timestamp     time.Time
	Equity        decimal.Decimal // Cash + market value of open positions
	Cash          decimal.Decimal // Realized cash balance
	PositionValue decimal.Decimal // Market value of open positions at the tick's prices
	Drawdown      decimal.Decimal // Fractional decline from the running equity peak
	OpenPositions int
}
