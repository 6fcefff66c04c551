package signals

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"intradayBot/internal/domain"
	"intradayBot/internal/ports"
)

// Params are the thresholds of the entry and exit rule set.
// Percentages are fractions: 0.01 is one percent.
type Params struct {
	MinPrice       decimal.Decimal
	MaxPrice       decimal.Decimal
	RSILower       decimal.Decimal
	RSIUpper       decimal.Decimal
	MinVolumeRatio decimal.Decimal
	MinATR         decimal.Decimal

	TradingStart domain.TimeOfDay // First minute entries are allowed
	TradingEnd   domain.TimeOfDay // Entries stop at this minute (exclusive)
	HardClose    domain.TimeOfDay // Open positions are time-stopped from here on

	StopLossPct           decimal.Decimal
	TakeProfitPct         decimal.Decimal
	TrailingActivationPct decimal.Decimal
	TrailingDistancePct   decimal.Decimal

	Location *time.Location // Exchange timezone
}

// DefaultParams returns the standard intraday rule set.
func DefaultParams() Params {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Params{
		MinPrice:              decimal.NewFromInt(20),
		MaxPrice:              decimal.NewFromInt(500),
		RSILower:              decimal.NewFromInt(40),
		RSIUpper:              decimal.NewFromInt(70),
		MinVolumeRatio:        decimal.RequireFromString("1.2"),
		MinATR:                decimal.RequireFromString("0.5"),
		TradingStart:          domain.MustTimeOfDay("10:00"),
		TradingEnd:            domain.MustTimeOfDay("15:00"),
		HardClose:             domain.MustTimeOfDay("15:55"),
		StopLossPct:           decimal.RequireFromString("0.01"),
		TakeProfitPct:         decimal.RequireFromString("0.015"),
		TrailingActivationPct: decimal.RequireFromString("0.01"),
		TrailingDistancePct:   decimal.RequireFromString("0.005"),
		Location:              loc,
	}
}

// Validate checks value ranges and returns every problem found.
func (p Params) Validate() error {
	var errs []string
	fraction := func(name string, v decimal.Decimal) {
		if !v.IsPositive() || v.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 1 (exclusive), got %s", name, v))
		}
	}
	fraction("stop-loss pct", p.StopLossPct)
	fraction("take-profit pct", p.TakeProfitPct)
	fraction("trailing activation pct", p.TrailingActivationPct)
	fraction("trailing distance pct", p.TrailingDistancePct)

	if p.StopLossPct.GreaterThanOrEqual(p.TakeProfitPct) {
		errs = append(errs, fmt.Sprintf("stop-loss pct (%s) must be less than take-profit pct (%s)", p.StopLossPct, p.TakeProfitPct))
	}
	if !p.MinPrice.IsPositive() || p.MinPrice.GreaterThan(p.MaxPrice) {
		errs = append(errs, fmt.Sprintf("price range [%s, %s] is invalid", p.MinPrice, p.MaxPrice))
	}
	if p.RSILower.IsNegative() || p.RSIUpper.GreaterThan(decimal.NewFromInt(100)) || p.RSILower.GreaterThan(p.RSIUpper) {
		errs = append(errs, fmt.Sprintf("RSI band [%s, %s] is invalid", p.RSILower, p.RSIUpper))
	}
	if p.MinVolumeRatio.IsNegative() {
		errs = append(errs, fmt.Sprintf("min volume ratio must not be negative, got %s", p.MinVolumeRatio))
	}
	if p.MinATR.IsNegative() {
		errs = append(errs, fmt.Sprintf("min ATR must not be negative, got %s", p.MinATR))
	}
	if !p.TradingStart.Before(p.TradingEnd) {
		errs = append(errs, fmt.Sprintf("trading window %s-%s is empty", p.TradingStart, p.TradingEnd))
	}
	if p.HardClose.Before(p.TradingEnd) {
		errs = append(errs, fmt.Sprintf("hard close %s is before the end of the trading window %s", p.HardClose, p.TradingEnd))
	}
	if p.Location == nil {
		errs = append(errs, "exchange location is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ports.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
