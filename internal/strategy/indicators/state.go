package indicators

import (
	"context"
	"fmt"
	"time"

	"intradayBot/internal/domain"
	"intradayBot/internal/ports"
)

// State is the rolling indicator state of a single ticker.
// Bars must be applied in strictly increasing timestamp order.
type State struct {
	ticker   string
	lastTime time.Time
	started  bool

	sma    *MovingAverage
	volume *MovingAverage
	rsi    *RSI
	atr    *ATR
}

// NewState creates an empty indicator state for ticker.
func NewState(ticker string, cfg Config) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &State{
		ticker: ticker,
		sma:    NewMovingAverage(cfg.SMAPeriod),
		volume: NewMovingAverage(cfg.VolumePeriod),
		rsi:    NewRSI(cfg.RSIPeriod),
		atr:    NewATR(cfg.ATRPeriod),
	}, nil
}

// Ticker returns the ticker this state tracks.
func (s *State) Ticker() string {
	return s.ticker
}

// Update applies one bar and returns the resulting snapshot.
// A bar for another ticker, or one not newer than the last applied bar,
// is rejected and leaves the state untouched.
func (s *State) Update(bar *domain.Bar) (Snapshot, error) {
	if bar == nil {
		return Snapshot{}, fmt.Errorf("%w: nil bar for %s", ports.ErrMalformedBar, s.ticker)
	}
	if bar.Ticker != s.ticker {
		return Snapshot{}, fmt.Errorf("%w: bar for %s applied to %s state",
			ports.ErrInvariantViolation, bar.Ticker, s.ticker)
	}
	if s.started && !bar.Timestamp.After(s.lastTime) {
		return Snapshot{}, fmt.Errorf("%w: %s at %s (last %s)", ports.ErrOutOfOrderBar,
			s.ticker, bar.Timestamp.Format(time.RFC3339), s.lastTime.Format(time.RFC3339))
	}
	s.started = true
	s.lastTime = bar.Timestamp

	return Snapshot{
		Ticker:    s.ticker,
		Timestamp: bar.Timestamp,
		Close:     bar.Close,
		Volume:    bar.Volume,
		SMA:       s.sma.Update(bar.Close),
		RSI:       s.rsi.Update(bar.Close),
		ATR:       s.atr.Update(bar.High, bar.Low, bar.Close),
		AvgVolume: s.volume.Update(bar.Volume),
	}, nil
}

// Series runs a fresh state over a ticker's bars and returns one snapshot per bar.
// The context is checked between bars so long histories can be abandoned.
func Series(ctx context.Context, ticker string, bars []*domain.Bar, cfg Config) ([]Snapshot, error) {
	state, err := NewState(ticker, cfg)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(bars))
	for i, bar := range bars {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
			}
		}
		snap, err := state.Update(bar)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}
