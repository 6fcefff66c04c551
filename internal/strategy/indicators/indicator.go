package indicators

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"intradayBot/internal/ports"
)

// Value is a single indicator reading. Valid is false until the indicator's
// lookback window has been filled; Value is meaningless in that case.
type Value struct {
	Value decimal.Decimal
	Valid bool
}

// Available returns a valid reading.
func Available(v decimal.Decimal) Value {
	return Value{Value: v, Valid: true}
}

// String renders the value or "n/a" when unavailable.
func (v Value) String() string {
	if !v.Valid {
		return "n/a"
	}
	return v.Value.StringFixed(4)
}

// Config holds the lookback periods of the indicator set.
type Config struct {
	SMAPeriod    int
	RSIPeriod    int
	ATRPeriod    int
	VolumePeriod int
}

// DefaultConfig returns SMA(50), RSI(14), ATR(14) and a 20 bar volume average.
func DefaultConfig() Config {
	return Config{
		SMAPeriod:    50,
		RSIPeriod:    14,
		ATRPeriod:    14,
		VolumePeriod: 20,
	}
}

// Validate checks that every period is positive.
func (c Config) Validate() error {
	if c.SMAPeriod < 1 || c.RSIPeriod < 1 || c.ATRPeriod < 1 || c.VolumePeriod < 1 {
		return fmt.Errorf("%w: indicator periods must be positive (sma=%d rsi=%d atr=%d volume=%d)",
			ports.ErrInvalidConfig, c.SMAPeriod, c.RSIPeriod, c.ATRPeriod, c.VolumePeriod)
	}
	return nil
}

// Snapshot is the indicator state of one ticker right after a bar was applied.
type Snapshot struct {
	Ticker    string
	Timestamp time.Time
	Close     decimal.Decimal
	Volume    decimal.Decimal
	SMA       Value
	RSI       Value
	ATR       Value
	AvgVolume Value
}

// Ready reports whether every indicator in the snapshot is available.
func (s Snapshot) Ready() bool {
	return s.SMA.Valid && s.RSI.Valid && s.ATR.Valid && s.AvgVolume.Valid
}
