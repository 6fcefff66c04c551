package risk

import (
	"github.com/shopspring/decimal"
)

// State is the mutable risk state of one simulation or trading session.
// It is owned by a single engine and passed explicitly into the manager,
// so independent runs never share it.
type State struct {
	DailyPNL        decimal.Decimal
	WeeklyPNL       decimal.Decimal
	PeakEquity      decimal.Decimal
	CurrentDrawdown decimal.Decimal // Fraction below PeakEquity
	OpenPositions   int
	SectorPositions map[string]int
	DailyStopped    bool // Same-day soft stop, cleared by NewTradingDay
	Halted          bool // Sticky, cleared only by ResetHalt
	HaltReason      string
	TradesToday     int
}

// NewState creates a risk state whose peak starts at the starting equity.
func NewState(startingEquity decimal.Decimal) *State {
	return &State{
		PeakEquity:      startingEquity,
		SectorPositions: map[string]int{},
	}
}

// Status is a read-only view of risk figures against their limits.
type Status struct {
	Halted             bool
	HaltReason         string
	DailyStopped       bool
	DailyPNL           decimal.Decimal
	DailyLossLimit     decimal.Decimal
	DailyLimitUsedPct  decimal.Decimal // Fraction of the daily limit consumed by losses
	WeeklyPNL          decimal.Decimal
	WeeklyLossLimit    decimal.Decimal
	WeeklyLimitUsedPct decimal.Decimal
	CurrentDrawdown    decimal.Decimal
	MaxDrawdown        decimal.Decimal
	PeakEquity         decimal.Decimal
	OpenPositions      int
	SectorPositions    map[string]int
	TradesToday        int
}
