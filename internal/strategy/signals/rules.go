package signals

import (
	"github.com/shopspring/decimal"

	"intradayBot/internal/domain"
	"intradayBot/internal/strategy/indicators"
)

// EntryInput is everything an entry predicate may look at.
type EntryInput struct {
	Snapshot  indicators.Snapshot
	TimeOfDay domain.TimeOfDay
}

// EntryRule is one named condition; all entry rules must hold to enter.
type EntryRule struct {
	Name  string
	Holds func(in EntryInput) bool
}

// ExitInput is everything an exit predicate may look at.
type ExitInput struct {
	Price     decimal.Decimal
	TimeOfDay domain.TimeOfDay
	Position  *domain.Position
}

// ExitRule is one exit condition; the first rule that fires names the exit reason.
type ExitRule struct {
	Reason domain.ExitReason
	Fires  func(in ExitInput) bool
}

// EntryRules builds the long entry rule set from p.
func EntryRules(p Params) []EntryRule {
	return []EntryRule{
		{
			Name: "close-above-sma",
			Holds: func(in EntryInput) bool {
				return in.Snapshot.SMA.Valid && in.Snapshot.Close.GreaterThan(in.Snapshot.SMA.Value)
			},
		},
		{
			Name: "rsi-in-band",
			Holds: func(in EntryInput) bool {
				rsi := in.Snapshot.RSI
				return rsi.Valid && rsi.Value.GreaterThanOrEqual(p.RSILower) && rsi.Value.LessThanOrEqual(p.RSIUpper)
			},
		},
		{
			Name: "volume-surge",
			Holds: func(in EntryInput) bool {
				avg := in.Snapshot.AvgVolume
				return avg.Valid && in.Snapshot.Volume.GreaterThan(avg.Value.Mul(p.MinVolumeRatio))
			},
		},
		{
			Name: "min-atr",
			Holds: func(in EntryInput) bool {
				return in.Snapshot.ATR.Valid && in.Snapshot.ATR.Value.GreaterThanOrEqual(p.MinATR)
			},
		},
		{
			Name: "trading-window",
			Holds: func(in EntryInput) bool {
				return in.TimeOfDay.Within(p.TradingStart, p.TradingEnd)
			},
		},
		{
			Name: "price-range",
			Holds: func(in EntryInput) bool {
				c := in.Snapshot.Close
				return c.GreaterThanOrEqual(p.MinPrice) && c.LessThanOrEqual(p.MaxPrice)
			},
		},
	}
}

// ExitRules builds the exit rule set from p in priority order.
func ExitRules(p Params) []ExitRule {
	return []ExitRule{
		{
			Reason: domain.ExitReasonStopLoss,
			Fires: func(in ExitInput) bool {
				return in.Price.LessThanOrEqual(StopPrice(in.Position.EntryPrice, p.StopLossPct))
			},
		},
		{
			Reason: domain.ExitReasonTrailingStop,
			Fires: func(in ExitInput) bool {
				active, stop := Trailing(in.Position, p)
				return active && in.Price.LessThanOrEqual(stop)
			},
		},
		{
			Reason: domain.ExitReasonTakeProfit,
			Fires: func(in ExitInput) bool {
				return in.Price.GreaterThanOrEqual(TargetPrice(in.Position.EntryPrice, p.TakeProfitPct))
			},
		},
		{
			Reason: domain.ExitReasonTimeStop,
			Fires: func(in ExitInput) bool {
				return in.TimeOfDay.AtOrAfter(p.HardClose)
			},
		},
	}
}

var one = decimal.NewFromInt(1)

// StopPrice is entry * (1 - stopLossPct).
func StopPrice(entry, stopLossPct decimal.Decimal) decimal.Decimal {
	return entry.Mul(one.Sub(stopLossPct))
}

// TargetPrice is entry * (1 + takeProfitPct).
func TargetPrice(entry, takeProfitPct decimal.Decimal) decimal.Decimal {
	return entry.Mul(one.Add(takeProfitPct))
}

// Trailing returns whether the trailing stop is armed for pos and its level.
// It arms once the high-water mark reaches entry * (1 + activation) and stays
// armed; the level is hwm * (1 - distance) and never drops below a level the
// position already holds.
func Trailing(pos *domain.Position, p Params) (bool, decimal.Decimal) {
	active := pos.TrailingActive ||
		pos.HighWaterMark.GreaterThanOrEqual(pos.EntryPrice.Mul(one.Add(p.TrailingActivationPct)))
	if !active {
		return false, decimal.Zero
	}
	level := pos.HighWaterMark.Mul(one.Sub(p.TrailingDistancePct))
	return true, decimal.Max(level, pos.TrailingStopPrice)
}
