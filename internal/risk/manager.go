package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"intradayBot/internal/domain"
	"intradayBot/internal/ports"
)

// RiskConfig holds configuration for risk management.
// Percentages are fractions: 0.15 is fifteen percent.
type RiskConfig struct {
	PositionSize           decimal.Decimal   // Dollar notional per position
	MaxConcurrentPositions int               // Max open positions across all tickers
	MaxPerSector           int               // Max open positions per sector
	DailyLossLimit         decimal.Decimal   // Realized loss that pauses entries for the day
	WeeklyLossLimit        decimal.Decimal   // Realized loss that halts trading
	MaxDrawdownPct         decimal.Decimal   // Drawdown from peak equity that halts trading
	SlippagePct            decimal.Decimal   // Expected adverse fill slippage, used for sizing
	CommissionPerTrade     decimal.Decimal   // Flat commission per fill
	Sectors                map[string]string // Ticker -> sector; unmapped tickers skip the sector check
}

// DefaultRiskConfig returns the standard limits.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		PositionSize:           decimal.NewFromInt(1000),
		MaxConcurrentPositions: 5,
		MaxPerSector:           2,
		DailyLossLimit:         decimal.NewFromInt(100),
		WeeklyLossLimit:        decimal.NewFromInt(300),
		MaxDrawdownPct:         decimal.RequireFromString("0.15"),
		SlippagePct:            decimal.RequireFromString("0.0005"),
		CommissionPerTrade:     decimal.Zero,
		Sectors:                map[string]string{},
	}
}

// Validate checks value ranges and returns every problem found.
func (c RiskConfig) Validate() error {
	var errs []string
	if !c.PositionSize.IsPositive() {
		errs = append(errs, fmt.Sprintf("position size must be positive, got %s", c.PositionSize))
	}
	if c.MaxConcurrentPositions < 1 {
		errs = append(errs, fmt.Sprintf("max concurrent positions must be at least 1, got %d", c.MaxConcurrentPositions))
	}
	if c.MaxPerSector < 1 {
		errs = append(errs, fmt.Sprintf("max positions per sector must be at least 1, got %d", c.MaxPerSector))
	}
	if !c.DailyLossLimit.IsPositive() {
		errs = append(errs, fmt.Sprintf("daily loss limit must be positive, got %s", c.DailyLossLimit))
	}
	if !c.WeeklyLossLimit.IsPositive() {
		errs = append(errs, fmt.Sprintf("weekly loss limit must be positive, got %s", c.WeeklyLossLimit))
	}
	if !c.MaxDrawdownPct.IsPositive() || c.MaxDrawdownPct.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("max drawdown pct must be in (0, 1], got %s", c.MaxDrawdownPct))
	}
	if c.SlippagePct.IsNegative() || c.SlippagePct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("slippage pct must be in [0, 1), got %s", c.SlippagePct))
	}
	if c.CommissionPerTrade.IsNegative() {
		errs = append(errs, fmt.Sprintf("commission must not be negative, got %s", c.CommissionPerTrade))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ports.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// Portfolio is the engine's view of the account when a signal is authorized.
type Portfolio struct {
	Cash   decimal.Decimal // Uncommitted cash
	Equity decimal.Decimal // Cash plus market value of open positions
}

// Decision is the outcome of authorizing a signal.
type Decision struct {
	Approved bool
	Shares   int64
	Notional decimal.Decimal // Expected fill cost before commission
	Sector   string
	Reason   domain.RejectReason
}

func reject(reason domain.RejectReason, sector string) Decision {
	return Decision{Reason: reason, Sector: sector}
}

// RiskManager gates and sizes signals. It holds configuration only;
// all mutable figures live in a State owned by the caller.
type RiskManager struct {
	config RiskConfig
	logger ports.Logger
}

// NewRiskManager creates a new risk manager instance.
func NewRiskManager(config RiskConfig, logger ports.Logger) (*RiskManager, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Sectors == nil {
		config.Sectors = map[string]string{}
	}
	return &RiskManager{config: config, logger: logger}, nil
}

// Config returns the manager's configuration.
func (r *RiskManager) Config() RiskConfig {
	return r.config
}

// SectorOf returns the configured sector of ticker, or "" when unmapped.
func (r *RiskManager) SectorOf(ticker string) string {
	return r.config.Sectors[ticker]
}

// Authorize approves or rejects a signal against the current risk state.
// Exits are always approved; entries pass the halt, daily stop, concurrency,
// sector, size and capital checks in that order.
func (r *RiskManager) Authorize(ctx context.Context, sig domain.Signal, state *State, pf Portfolio) Decision {
	sector := r.SectorOf(sig.Ticker)
	if sig.Kind == domain.SignalExit {
		return Decision{Approved: true, Sector: sector}
	}
	if sig.Kind != domain.SignalEnterLong {
		return reject(domain.RejectReason("unsupported-signal"), sector)
	}

	if state.Halted {
		return reject(domain.RejectHalted, sector)
	}
	if state.DailyStopped {
		return reject(domain.RejectDailyLossLimit, sector)
	}
	if state.OpenPositions >= r.config.MaxConcurrentPositions {
		return reject(domain.RejectMaxConcurrent, sector)
	}
	if sector != "" && state.SectorPositions[sector] >= r.config.MaxPerSector {
		return reject(domain.RejectMaxSector, sector)
	}

	shares, notional := r.PositionSize(sig.Price)
	if shares <= 0 {
		return reject(domain.RejectInsufficientSize, sector)
	}
	if notional.Add(r.config.CommissionPerTrade).GreaterThan(pf.Cash) {
		r.logger.Debug(ctx, "Entry exceeds available cash", map[string]interface{}{
			"ticker":   sig.Ticker,
			"notional": notional.StringFixed(2),
			"cash":     pf.Cash.StringFixed(2),
		})
		return reject(domain.RejectInsufficientCapital, sector)
	}

	return Decision{Approved: true, Shares: shares, Notional: notional, Sector: sector}
}

// PositionSize converts the fixed position notional into whole shares at the
// slippage-adjusted reference price, truncating toward zero.
func (r *RiskManager) PositionSize(reference decimal.Decimal) (int64, decimal.Decimal) {
	if !reference.IsPositive() {
		return 0, decimal.Zero
	}
	fill := reference.Mul(decimal.NewFromInt(1).Add(r.config.SlippagePct))
	shares := r.config.PositionSize.Div(fill).Floor().IntPart()
	if shares <= 0 {
		return 0, decimal.Zero
	}
	return shares, fill.Mul(decimal.NewFromInt(shares))
}

// OnEntryFilled counts a newly opened position.
func (r *RiskManager) OnEntryFilled(state *State, sector string) {
	state.OpenPositions++
	if sector != "" {
		state.SectorPositions[sector]++
	}
}

// RecordTrade books a closed trade's realized P&L, then re-checks the loss
// and drawdown limits using equity marked at the close.
func (r *RiskManager) RecordTrade(ctx context.Context, state *State, trade *domain.Trade, equity decimal.Decimal) {
	if state.OpenPositions > 0 {
		state.OpenPositions--
	}
	if trade.Sector != "" && state.SectorPositions[trade.Sector] > 0 {
		state.SectorPositions[trade.Sector]--
		if state.SectorPositions[trade.Sector] == 0 {
			delete(state.SectorPositions, trade.Sector)
		}
	}

	state.DailyPNL = state.DailyPNL.Add(trade.NetPNL)
	state.WeeklyPNL = state.WeeklyPNL.Add(trade.NetPNL)
	state.TradesToday++
	r.MarkEquity(state, equity)

	r.logger.Debug(ctx, "Updated risk P&L", map[string]interface{}{
		"ticker":    trade.Ticker,
		"net_pnl":   trade.NetPNL.StringFixed(2),
		"daily":     state.DailyPNL.StringFixed(2),
		"weekly":    state.WeeklyPNL.StringFixed(2),
		"drawdown":  state.CurrentDrawdown.StringFixed(4),
		"positions": state.OpenPositions,
	})

	if !state.DailyStopped && state.DailyPNL.Neg().GreaterThanOrEqual(r.config.DailyLossLimit) {
		state.DailyStopped = true
		r.logger.Warn(ctx, "Daily loss limit reached, entries paused until next trading day", map[string]interface{}{
			"daily_pnl": state.DailyPNL.StringFixed(2),
			"limit":     r.config.DailyLossLimit.StringFixed(2),
		})
	}
	if state.WeeklyPNL.Neg().GreaterThanOrEqual(r.config.WeeklyLossLimit) {
		r.Halt(ctx, state, fmt.Sprintf("weekly loss limit reached (%s)", state.WeeklyPNL.StringFixed(2)))
	}
	if state.CurrentDrawdown.GreaterThanOrEqual(r.config.MaxDrawdownPct) {
		r.Halt(ctx, state, fmt.Sprintf("max drawdown reached (%s)", state.CurrentDrawdown.StringFixed(4)))
	}
}

// MarkEquity updates the running peak and the drawdown from it.
func (r *RiskManager) MarkEquity(state *State, equity decimal.Decimal) {
	if equity.GreaterThan(state.PeakEquity) {
		state.PeakEquity = equity
	}
	if state.PeakEquity.IsPositive() {
		state.CurrentDrawdown = state.PeakEquity.Sub(equity).Div(state.PeakEquity)
	} else {
		state.CurrentDrawdown = decimal.Zero
	}
}

// NewTradingDay clears the daily figures and the daily soft stop.
// The sticky halt is left alone.
func (r *RiskManager) NewTradingDay(ctx context.Context, state *State) {
	if state.DailyStopped || !state.DailyPNL.IsZero() {
		r.logger.Info(ctx, "Resetting daily P&L", map[string]interface{}{
			"previous": state.DailyPNL.StringFixed(2),
			"stopped":  state.DailyStopped,
		})
	}
	state.DailyPNL = decimal.Zero
	state.DailyStopped = false
	state.TradesToday = 0
}

// NewTradingWeek clears the weekly figures. The sticky halt is left alone.
func (r *RiskManager) NewTradingWeek(ctx context.Context, state *State) {
	if !state.WeeklyPNL.IsZero() {
		r.logger.Info(ctx, "Resetting weekly P&L", map[string]interface{}{
			"previous": state.WeeklyPNL.StringFixed(2),
		})
	}
	state.WeeklyPNL = decimal.Zero
}

// Halt sets the sticky halted flag. Only ResetHalt clears it.
func (r *RiskManager) Halt(ctx context.Context, state *State, reason string) {
	if state.Halted {
		return
	}
	state.Halted = true
	state.HaltReason = reason
	r.logger.Error(ctx, nil, "TRADING HALTED", map[string]interface{}{"reason": reason})
}

// ResetHalt clears the halt after operator review.
func (r *RiskManager) ResetHalt(ctx context.Context, state *State) {
	if !state.Halted {
		return
	}
	r.logger.Info(ctx, "Trading resumed", map[string]interface{}{"previous_reason": state.HaltReason})
	state.Halted = false
	state.HaltReason = ""
}

// Status returns a snapshot of risk figures against their limits.
func (r *RiskManager) Status(state *State) Status {
	sectors := make(map[string]int, len(state.SectorPositions))
	for k, v := range state.SectorPositions {
		sectors[k] = v
	}
	return Status{
		Halted:             state.Halted,
		HaltReason:         state.HaltReason,
		DailyStopped:       state.DailyStopped,
		DailyPNL:           state.DailyPNL,
		DailyLossLimit:     r.config.DailyLossLimit,
		DailyLimitUsedPct:  usedPct(state.DailyPNL, r.config.DailyLossLimit),
		WeeklyPNL:          state.WeeklyPNL,
		WeeklyLossLimit:    r.config.WeeklyLossLimit,
		WeeklyLimitUsedPct: usedPct(state.WeeklyPNL, r.config.WeeklyLossLimit),
		CurrentDrawdown:    state.CurrentDrawdown,
		MaxDrawdown:        r.config.MaxDrawdownPct,
		PeakEquity:         state.PeakEquity,
		OpenPositions:      state.OpenPositions,
		SectorPositions:    sectors,
		TradesToday:        state.TradesToday,
	}
}

func usedPct(pnl, limit decimal.Decimal) decimal.Decimal {
	if !pnl.IsNegative() || !limit.IsPositive() {
		return decimal.Zero
	}
	return pnl.Neg().Div(limit)
}
