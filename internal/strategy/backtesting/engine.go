package backtesting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"intradayBot/internal/domain"
	"intradayBot/internal/lifecycle"
	"intradayBot/internal/ports"
	"intradayBot/internal/risk"
	"intradayBot/internal/strategy/indicators"
	"intradayBot/internal/strategy/signals"
)

// BacktestResult holds the output of a simulation run.
type BacktestResult struct {
	StartingCapital decimal.Decimal
	FinalEquity     decimal.Decimal
	FinalCash       decimal.Decimal
	Trades          []*domain.Trade // In close order; exit times never decrease
	Equity          []domain.EquityPoint
	Rejected        []domain.RejectedSignal
	OpenPositions   []domain.Position // Positions still held when the run ended
	RiskStatus      risk.Status
	Ticks           int
	SkippedBars     int // Malformed bars dropped before the run
	Stopped         bool
	StopReason      string
}

type controlKind int

const (
	controlHalt controlKind = iota
	controlResetHalt
	controlNewDay
	controlNewWeek
)

type controlRequest struct {
	kind   controlKind
	reason string
}

// Engine replays bars through indicators, signals, risk and the position
// lifecycle in strict timestamp order. Control methods are safe to call from
// other goroutines; they take effect between ticks.
type Engine struct {
	config    BacktestConfig
	evaluator *signals.Evaluator
	risk      *risk.RiskManager
	logger    ports.Logger

	mu         sync.Mutex
	pending    []controlRequest
	status     risk.Status
	stopReason string
	stop       atomic.Bool
}

// NewEngine validates config and builds an engine.
func NewEngine(config BacktestConfig, logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	evaluator, err := signals.NewEvaluator(config.Signals)
	if err != nil {
		return nil, err
	}
	rm, err := risk.NewRiskManager(config.Risk, logger)
	if err != nil {
		return nil, err
	}
	return &Engine{
		config:    config,
		evaluator: evaluator,
		risk:      rm,
		logger:    logger,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() BacktestConfig {
	return e.config
}

// Halt requests the sticky halt. Open positions keep processing exits.
func (e *Engine) Halt(reason string) {
	e.enqueue(controlRequest{kind: controlHalt, reason: reason})
}

// ResetHalt requests that a halt be cleared.
func (e *Engine) ResetHalt() {
	e.enqueue(controlRequest{kind: controlResetHalt})
}

// NewTradingDay requests the daily risk reset.
func (e *Engine) NewTradingDay() {
	e.enqueue(controlRequest{kind: controlNewDay})
}

// NewTradingWeek requests the weekly risk reset.
func (e *Engine) NewTradingWeek() {
	e.enqueue(controlRequest{kind: controlNewWeek})
}

// Stop ends the run after the tick in progress.
func (e *Engine) Stop(reason string) {
	e.mu.Lock()
	if e.stopReason == "" {
		e.stopReason = reason
	}
	e.mu.Unlock()
	e.stop.Store(true)
}

// Kill is the kill switch: it halts trading and stops the run after the
// tick in progress.
func (e *Engine) Kill(reason string) {
	e.Halt(reason)
	e.Stop(reason)
}

// Status returns the risk status published at the end of the last tick.
func (e *Engine) Status() risk.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) clearStop() {
	e.mu.Lock()
	e.stopReason = ""
	e.mu.Unlock()
	e.stop.Store(false)
}

func (e *Engine) enqueue(req controlRequest) {
	e.mu.Lock()
	e.pending = append(e.pending, req)
	e.mu.Unlock()
}

func (e *Engine) drain() []controlRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	reqs := e.pending
	e.pending = nil
	return reqs
}

func (e *Engine) publish(st risk.Status) {
	e.mu.Lock()
	e.status = st
	e.mu.Unlock()
}

// run is the mutable state of one Run call.
type run struct {
	e      *Engine
	book   *lifecycle.Book
	state  *risk.State
	cash   decimal.Decimal
	series map[string][]*domain.Bar
	snaps  map[string][]indicators.Snapshot
	result *BacktestResult

	started  bool
	lastTick time.Time
	lastDay  time.Time
	lastYear int
	lastWeek int
}

// Run simulates bars, grouped by ticker, and returns the trade ledger and
// equity curve. Invariant violations abort the run with an error; a stop
// request or context cancellation ends it cleanly after the current tick.
func (e *Engine) Run(ctx context.Context, bars map[string][]*domain.Bar) (*BacktestResult, error) {
	defer e.clearStop()

	series, skipped := e.cleanBars(ctx, bars)
	if len(series) == 0 {
		return nil, ports.ErrNoBars
	}

	snaps, err := e.precompute(ctx, series)
	if err != nil {
		return nil, err
	}

	r := &run{
		e:      e,
		book:   lifecycle.NewBook(),
		state:  risk.NewState(e.config.StartingCapital),
		cash:   e.config.StartingCapital,
		series: series,
		snaps:  snaps,
		result: &BacktestResult{
			StartingCapital: e.config.StartingCapital,
			SkippedBars:     skipped,
		},
	}

	e.logger.Info(ctx, "Starting backtest", map[string]interface{}{
		"tickers": len(series),
		"capital": e.config.StartingCapital.StringFixed(2),
	})

	m := newMerger(series)
	for {
		t, ok := m.next()
		if !ok {
			break
		}
		if err := r.processTick(ctx, t); err != nil {
			return nil, fmt.Errorf("tick %s: %w", t.ts.Format(time.RFC3339), err)
		}
		if e.stop.Load() {
			r.result.Stopped = true
			e.mu.Lock()
			r.result.StopReason = e.stopReason
			e.mu.Unlock()
			break
		}
		if err := ctx.Err(); err != nil {
			r.result.Stopped = true
			r.result.StopReason = fmt.Sprintf("context canceled: %v", err)
			break
		}
	}

	// A kill request that arrived during the final tick still halts.
	r.applyControls(ctx)
	return r.finish(ctx), nil
}

// cleanBars drops malformed bars. Each dropped bar is a missing observation
// for its ticker; ordering problems are left for the indicator pass.
func (e *Engine) cleanBars(ctx context.Context, bars map[string][]*domain.Bar) (map[string][]*domain.Bar, int) {
	series := make(map[string][]*domain.Bar, len(bars))
	skipped := 0
	for ticker, list := range bars {
		kept := make([]*domain.Bar, 0, len(list))
		for _, bar := range list {
			if err := validateBar(ticker, bar); err != nil {
				skipped++
				e.logger.Warn(ctx, "Skipping malformed bar", map[string]interface{}{
					"ticker": ticker,
					"error":  err.Error(),
				})
				continue
			}
			kept = append(kept, bar)
		}
		if len(kept) > 0 {
			series[ticker] = kept
		}
	}
	return series, skipped
}

func validateBar(ticker string, bar *domain.Bar) error {
	switch {
	case bar == nil:
		return fmt.Errorf("%w: nil bar", ports.ErrMalformedBar)
	case bar.Ticker != ticker:
		return fmt.Errorf("%w: bar for %s listed under %s", ports.ErrMalformedBar, bar.Ticker, ticker)
	case bar.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ports.ErrMalformedBar)
	case !bar.Close.IsPositive() || !bar.Low.IsPositive():
		return fmt.Errorf("%w: non-positive price", ports.ErrMalformedBar)
	case bar.High.LessThan(bar.Low) || bar.Close.GreaterThan(bar.High) || bar.Close.LessThan(bar.Low):
		return fmt.Errorf("%w: close outside high/low range", ports.ErrMalformedBar)
	case bar.Volume.IsNegative():
		return fmt.Errorf("%w: negative volume", ports.ErrMalformedBar)
	}
	return nil
}

// precompute builds every ticker's indicator snapshots in parallel. Each
// ticker's state is independent, and the ordered loop starts only after all
// workers finish.
func (e *Engine) precompute(ctx context.Context, series map[string][]*domain.Bar) (map[string][]indicators.Snapshot, error) {
	tickers := make([]string, 0, len(series))
	for ticker := range series {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	out := make([][]indicators.Snapshot, len(tickers))
	g, gctx := errgroup.WithContext(ctx)
	if e.config.Workers > 0 {
		g.SetLimit(e.config.Workers)
	}
	for i, ticker := range tickers {
		i, ticker := i, ticker
		g.Go(func() error {
			snaps, err := indicators.Series(gctx, ticker, series[ticker], e.config.Indicators)
			if err != nil {
				return fmt.Errorf("indicators for %s: %w", ticker, err)
			}
			out[i] = snaps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snaps := make(map[string][]indicators.Snapshot, len(tickers))
	for i, ticker := range tickers {
		snaps[ticker] = out[i]
	}
	return snaps, nil
}

func (r *run) processTick(ctx context.Context, t tick) error {
	r.applyControls(ctx)
	if err := r.sessionBoundaries(ctx, t.ts); err != nil {
		return err
	}

	// Exits first so capacity freed on this tick is available to entries.
	for _, ev := range t.events {
		if err := r.processExit(ctx, ev); err != nil {
			return err
		}
	}
	// Positions whose ticker has no bar on this tick miss the time-stop rule.
	if domain.TimeOfDayOf(t.ts, r.e.config.Signals.Location).AtOrAfter(r.e.config.Signals.HardClose) {
		if err := r.forceClose(ctx, t.ts, "Position open at hard close without a bar, forcing time-stop"); err != nil {
			return err
		}
	}
	for _, ev := range t.events {
		if err := r.processEntry(ctx, ev); err != nil {
			return err
		}
	}

	r.appendEquity(t.ts)
	r.lastTick = t.ts
	r.result.Ticks++
	r.e.publish(r.e.risk.Status(r.state))
	return nil
}

func (r *run) applyControls(ctx context.Context) {
	for _, req := range r.e.drain() {
		switch req.kind {
		case controlHalt:
			r.e.risk.Halt(ctx, r.state, req.reason)
		case controlResetHalt:
			r.e.risk.ResetHalt(ctx, r.state)
		case controlNewDay:
			r.e.risk.NewTradingDay(ctx, r.state)
		case controlNewWeek:
			r.e.risk.NewTradingWeek(ctx, r.state)
		}
	}
}

// sessionBoundaries force-closes positions left over from the previous
// trading day and, when enabled, resets daily and weekly risk figures.
func (r *run) sessionBoundaries(ctx context.Context, ts time.Time) error {
	loc := r.e.config.Signals.Location
	day := domain.SessionDate(ts, loc)
	year, week := domain.SessionWeek(ts, loc)

	if !r.started {
		r.started = true
		r.lastDay, r.lastYear, r.lastWeek = day, year, week
		return nil
	}
	if day.Equal(r.lastDay) {
		return nil
	}

	if err := r.forceClose(ctx, r.lastTick, "Position carried past session end, forcing time-stop"); err != nil {
		return err
	}
	if r.e.config.AutoSessionBoundaries {
		r.e.risk.NewTradingDay(ctx, r.state)
		if year != r.lastYear || week != r.lastWeek {
			r.e.risk.NewTradingWeek(ctx, r.state)
		}
	}
	r.lastDay, r.lastYear, r.lastWeek = day, year, week
	return nil
}

// forceClose time-stops every open position at its last known price, stamped
// with the tick at. Called at or after the hard close and when a new session
// starts with positions left over from the previous one.
func (r *run) forceClose(ctx context.Context, at time.Time, msg string) error {
	for _, pos := range r.book.Positions() {
		r.e.logger.Warn(ctx, msg, map[string]interface{}{
			"ticker":     pos.Ticker,
			"last_price": pos.LastPrice.StringFixed(2),
			"last_time":  pos.LastTime.Format(time.RFC3339),
		})
		if err := r.exit(ctx, pos.Ticker, domain.ExitReasonTimeStop, pos.LastPrice, at); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) processExit(ctx context.Context, ev event) error {
	pos := r.book.Position(ev.ticker)
	if pos == nil {
		return nil
	}
	bar := r.series[ev.ticker][ev.idx]
	snap := r.snaps[ev.ticker][ev.idx]

	if err := r.book.Mark(ev.ticker, bar.Close, bar.Timestamp); err != nil {
		return err
	}
	if active, level := signals.Trailing(pos, r.e.config.Signals); active {
		if err := r.book.Trail(ev.ticker, level); err != nil {
			return err
		}
	}

	sig := r.e.evaluator.Evaluate(snap, pos, bar.Timestamp)
	if sig.Kind != domain.SignalExit {
		return nil
	}
	// Risk never blocks an exit; the call keeps every signal on one path.
	if dec := r.e.risk.Authorize(ctx, sig, r.state, r.portfolio()); !dec.Approved {
		return fmt.Errorf("%w: exit for %s rejected with %s", ports.ErrInvariantViolation, ev.ticker, dec.Reason)
	}
	return r.exit(ctx, ev.ticker, sig.Reason, bar.Close, bar.Timestamp)
}

// exit runs OPEN -> PENDING_EXIT -> CLOSED at reference less slippage.
func (r *run) exit(ctx context.Context, ticker string, reason domain.ExitReason, reference decimal.Decimal, at time.Time) error {
	if err := r.book.BeginExit(ticker, reason); err != nil {
		return err
	}
	fill := reference.Mul(decimal.NewFromInt(1).Sub(r.e.config.Risk.SlippagePct))
	commission := r.e.config.Risk.CommissionPerTrade

	trade, err := r.book.ConfirmExit(ticker, lifecycle.ExitFill{
		Time:       at,
		Price:      fill,
		Reference:  reference,
		Commission: commission,
	})
	if err != nil {
		return err
	}
	r.cash = r.cash.Add(fill.Mul(decimal.NewFromInt(trade.Shares))).Sub(commission)
	r.result.Trades = append(r.result.Trades, trade)
	r.e.risk.RecordTrade(ctx, r.state, trade, r.equity())

	r.e.logger.Info(ctx, "Position closed", map[string]interface{}{
		"ticker":  ticker,
		"reason":  string(reason),
		"entry":   trade.EntryPrice.StringFixed(4),
		"exit":    trade.ExitPrice.StringFixed(4),
		"shares":  trade.Shares,
		"net_pnl": trade.NetPNL.StringFixed(2),
	})
	return nil
}

func (r *run) processEntry(ctx context.Context, ev event) error {
	if r.book.State(ev.ticker) != domain.StateFlat {
		return nil
	}
	bar := r.series[ev.ticker][ev.idx]
	snap := r.snaps[ev.ticker][ev.idx]

	sig := r.e.evaluator.Evaluate(snap, nil, bar.Timestamp)
	if sig.Kind != domain.SignalEnterLong {
		return nil
	}

	dec := r.e.risk.Authorize(ctx, sig, r.state, r.portfolio())
	if !dec.Approved {
		r.rejectSignal(ctx, sig, dec.Reason)
		return nil
	}
	if err := r.book.BeginEntry(ev.ticker, dec.Sector, dec.Shares); err != nil {
		return err
	}

	fill := bar.Close.Mul(decimal.NewFromInt(1).Add(r.e.config.Risk.SlippagePct))
	commission := r.e.config.Risk.CommissionPerTrade
	cost := fill.Mul(decimal.NewFromInt(dec.Shares)).Add(commission)

	var failed domain.RejectReason
	switch {
	case !bar.Volume.IsPositive():
		failed = domain.RejectFillNoLiquidity
	case cost.GreaterThan(r.cash):
		failed = domain.RejectFillCapital
	}
	if failed != "" {
		if err := r.book.RejectEntry(ev.ticker); err != nil {
			return err
		}
		r.rejectSignal(ctx, sig, failed)
		return nil
	}

	params := r.e.config.Signals
	pos, err := r.book.ConfirmEntry(ev.ticker, lifecycle.EntryFill{
		Time:        bar.Timestamp,
		Price:       fill,
		Reference:   bar.Close,
		Commission:  commission,
		StopPrice:   signals.StopPrice(fill, params.StopLossPct),
		TargetPrice: signals.TargetPrice(fill, params.TakeProfitPct),
	})
	if err != nil {
		return err
	}
	r.cash = r.cash.Sub(cost)
	r.e.risk.OnEntryFilled(r.state, dec.Sector)

	r.e.logger.Info(ctx, "Position opened", map[string]interface{}{
		"ticker": ev.ticker,
		"sector": dec.Sector,
		"shares": pos.Shares,
		"fill":   fill.StringFixed(4),
		"stop":   pos.StopPrice.StringFixed(4),
		"target": pos.TargetPrice.StringFixed(4),
	})
	return nil
}

func (r *run) rejectSignal(ctx context.Context, sig domain.Signal, reason domain.RejectReason) {
	r.result.Rejected = append(r.result.Rejected, domain.RejectedSignal{
		Ticker:    sig.Ticker,
		Timestamp: sig.Timestamp,
		Kind:      sig.Kind,
		Price:     sig.Price,
		Reason:    reason,
	})
	r.e.logger.Debug(ctx, "Signal rejected", map[string]interface{}{
		"ticker": sig.Ticker,
		"reason": string(reason),
	})
}

func (r *run) portfolio() risk.Portfolio {
	return risk.Portfolio{Cash: r.cash, Equity: r.equity()}
}

func (r *run) positionValue() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range r.book.Positions() {
		total = total.Add(pos.MarketValue())
	}
	return total
}

func (r *run) equity() decimal.Decimal {
	return r.cash.Add(r.positionValue())
}

func (r *run) appendEquity(ts time.Time) {
	value := r.positionValue()
	equity := r.cash.Add(value)
	r.e.risk.MarkEquity(r.state, equity)
	r.result.Equity = append(r.result.Equity, domain.EquityPoint{
		Timestamp:     ts,
		Equity:        equity,
		Cash:          r.cash,
		PositionValue: value,
		Drawdown:      r.state.CurrentDrawdown,
		OpenPositions: r.book.OpenCount(),
	})
}

func (r *run) finish(ctx context.Context) *BacktestResult {
	res := r.result
	res.FinalCash = r.cash
	res.FinalEquity = r.equity()
	for _, pos := range r.book.Positions() {
		res.OpenPositions = append(res.OpenPositions, *pos)
	}
	res.RiskStatus = r.e.risk.Status(r.state)
	r.e.publish(res.RiskStatus)

	r.e.logger.Info(ctx, "Backtest finished", map[string]interface{}{
		"ticks":        res.Ticks,
		"trades":       len(res.Trades),
		"rejected":     len(res.Rejected),
		"final_equity": res.FinalEquity.StringFixed(2),
		"halted":       res.RiskStatus.Halted,
		"stopped":      res.Stopped,
	})
	return res
}
