package backtesting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"intradayBot/internal/ports"
	"intradayBot/internal/risk"
	"intradayBot/internal/strategy/indicators"
	"intradayBot/internal/strategy/signals"
)

// BacktestConfig holds configuration for a simulation run.
type BacktestConfig struct {
	StartingCapital decimal.Decimal
	Indicators      indicators.Config
	Signals         signals.Params
	Risk            risk.RiskConfig

	// AutoSessionBoundaries resets daily and weekly risk figures on the first
	// tick of each exchange-local day and ISO week. Disable it when an
	// external scheduler sends the boundary signals.
	AutoSessionBoundaries bool

	// Workers bounds the parallel indicator pre-compute; 0 means one per ticker.
	Workers int
}

// DefaultBacktestConfig returns the standard configuration with $10,000 capital.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		StartingCapital:       decimal.NewFromInt(10000),
		Indicators:            indicators.DefaultConfig(),
		Signals:               signals.DefaultParams(),
		Risk:                  risk.DefaultRiskConfig(),
		AutoSessionBoundaries: true,
	}
}

// Validate checks the run configuration and each component's configuration.
func (c BacktestConfig) Validate() error {
	if !c.StartingCapital.IsPositive() {
		return fmt.Errorf("%w: starting capital must be positive, got %s", ports.ErrInvalidConfig, c.StartingCapital)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ports.ErrInvalidConfig, c.Workers)
	}
	if err := c.Indicators.Validate(); err != nil {
		return err
	}
	if err := c.Signals.Validate(); err != nil {
		return err
	}
	return c.Risk.Validate()
}
