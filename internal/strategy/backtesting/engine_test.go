package backtesting

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intradayBot/internal/domain"
	"intradayBot/internal/ports"
	"intradayBot/internal/strategy/indicators"
	"intradayBot/internal/strategy/signals"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Monday 2024-03-04.
func at(day int, hhmm string) time.Time {
	tod := domain.MustTimeOfDay(hhmm)
	return time.Date(2024, 3, day, tod.Hour, tod.Minute, 0, 0, time.UTC)
}

func bar(ticker string, ts time.Time, closePrice string) *domain.Bar {
	c := d(closePrice)
	return &domain.Bar{
		Ticker:    ticker,
		Timestamp: ts,
		Open:      c,
		High:      c.Add(d("0.1")),
		Low:       c.Sub(d("0.1")),
		Close:     c,
		Volume:    d("1000"),
	}
}

// warmup returns three bars ending with an uptick to 100 at 10:00 on day,
// which makes a fresh ticker signal ENTER_LONG under testConfig.
func warmup(ticker string, day int) []*domain.Bar {
	return []*domain.Bar{
		bar(ticker, at(day, "09:50"), "98"),
		bar(ticker, at(day, "09:55"), "99"),
		bar(ticker, at(day, "10:00"), "100"),
	}
}

// testConfig uses short lookbacks and an open RSI/volume/ATR filter so an
// entry fires whenever the close ticks above the previous close in the window.
func testConfig() BacktestConfig {
	cfg := DefaultBacktestConfig()
	cfg.Indicators = indicators.Config{SMAPeriod: 2, RSIPeriod: 2, ATRPeriod: 2, VolumePeriod: 2}
	p := signals.DefaultParams()
	p.Location = time.UTC
	p.RSILower = decimal.Zero
	p.RSIUpper = decimal.NewFromInt(100)
	p.MinVolumeRatio = decimal.Zero
	p.MinATR = decimal.Zero
	p.MinPrice = decimal.NewFromInt(1)
	cfg.Signals = p
	return cfg
}

func newEngine(t *testing.T, cfg BacktestConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, ports.NopLogger{})
	require.NoError(t, err)
	return e
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Signals.StopLossPct = d("0.02")
	cfg.Signals.TakeProfitPct = d("0.01")
	_, err = NewEngine(cfg, ports.NopLogger{})
	assert.True(t, errors.Is(err, ports.ErrInvalidConfig))

	cfg = testConfig()
	cfg.StartingCapital = decimal.Zero
	_, err = NewEngine(cfg, ports.NopLogger{})
	assert.True(t, errors.Is(err, ports.ErrInvalidConfig))
}

func TestRun_StopLossScenario(t *testing.T) {
	e := newEngine(t, testConfig())
	bars := map[string][]*domain.Bar{
		"X": append(warmup("X", 4),
			bar("X", at(4, "10:05"), "99.5"),
			bar("X", at(4, "10:10"), "98.90"),
		),
	}

	res, err := e.Run(context.Background(), bars)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, domain.ExitReasonStopLoss, tr.ExitReason)
	assert.Equal(t, at(4, "10:00"), tr.EntryTime)
	assert.Equal(t, at(4, "10:10"), tr.ExitTime)
	assert.True(t, tr.EntryPrice.Equal(d("100.05")), "entry pays slippage, got %s", tr.EntryPrice)
	assert.True(t, tr.ExitPrice.Equal(d("98.85055")), "exit receives less, got %s", tr.ExitPrice)
	assert.Equal(t, int64(9), tr.Shares)
	pct := tr.PNLPercent.InexactFloat64()
	assert.Less(t, pct, -0.01)
	assert.Greater(t, pct, -0.0125)

	assert.Len(t, res.Equity, 5, "one equity point per tick")
	assert.True(t, res.FinalEquity.Equal(d("10000").Add(tr.NetPNL)))
	assert.True(t, res.FinalCash.Equal(res.FinalEquity))
	assert.Empty(t, res.OpenPositions)
}

func TestRun_MaxConcurrentPositions(t *testing.T) {
	e := newEngine(t, testConfig())
	bars := map[string][]*domain.Bar{}
	for _, tk := range []string{"A", "B", "C", "D", "E", "F"} {
		bars[tk] = warmup(tk, 4)
	}
	bars["A"] = append(bars["A"], bar("A", at(4, "10:05"), "98"))
	for _, tk := range []string{"B", "C", "D", "E"} {
		bars[tk] = append(bars[tk], bar(tk, at(4, "10:05"), "100"))
	}
	bars["F"] = append(bars["F"], bar("F", at(4, "10:05"), "101"))

	res, err := e.Run(context.Background(), bars)
	require.NoError(t, err)

	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "F", res.Rejected[0].Ticker)
	assert.Equal(t, domain.RejectMaxConcurrent, res.Rejected[0].Reason)
	assert.Equal(t, at(4, "10:00"), res.Rejected[0].Timestamp)

	require.Len(t, res.Trades, 1, "the exit on A is approved while at capacity")
	assert.Equal(t, "A", res.Trades[0].Ticker)

	var held []string
	for _, p := range res.OpenPositions {
		held = append(held, p.Ticker)
		assert.True(t, p.Notional.LessThanOrEqual(d("1000")))
	}
	assert.Equal(t, []string{"B", "C", "D", "E", "F"}, held, "F enters once A frees a slot")
	assert.Equal(t, 5, res.Equity[2].OpenPositions)
}

func TestRun_DailyLossLimitResetsNextDay(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.SlippagePct = decimal.Zero
	cfg.Risk.DailyLossLimit = d("10")
	e := newEngine(t, cfg)

	bars := map[string][]*domain.Bar{
		"X": append(warmup("X", 4),
			bar("X", at(4, "10:05"), "99"),  // stop-loss: exactly -10
			bar("X", at(4, "10:10"), "100"), // entry signal, same day
			bar("X", at(5, "10:00"), "101"), // entry signal, next day
		),
	}

	res, err := e.Run(context.Background(), bars)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].NetPNL.Equal(d("-10")))

	require.Len(t, res.Rejected, 1)
	assert.Equal(t, domain.RejectDailyLossLimit, res.Rejected[0].Reason)
	assert.Equal(t, at(4, "10:10"), res.Rejected[0].Timestamp)

	require.Len(t, res.OpenPositions, 1, "entries resume on the next trading day")
	assert.Equal(t, at(5, "10:00"), res.OpenPositions[0].EntryTime)
	assert.False(t, res.RiskStatus.DailyStopped)
	assert.True(t, res.RiskStatus.WeeklyPNL.Equal(d("-10")))
}

func TestRun_HaltIsStickyAndExitsStillProcess(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.SlippagePct = decimal.Zero
	cfg.Risk.DailyLossLimit = d("1000")
	cfg.Risk.WeeklyLossLimit = d("10")
	e := newEngine(t, cfg)

	bars := map[string][]*domain.Bar{
		"A": append(warmup("A", 4),
			bar("A", at(4, "10:05"), "99"),
			bar("A", at(4, "10:10"), "100"),
			bar("A", at(5, "10:00"), "101"),
			bar("A", at(11, "10:00"), "102"),
		),
		"B": append(warmup("B", 4),
			bar("B", at(4, "10:05"), "100.5"),
			bar("B", at(4, "10:10"), "101.5"),
			bar("B", at(5, "10:00"), "102"),
		),
	}

	res, err := e.Run(context.Background(), bars)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, domain.ExitReasonStopLoss, res.Trades[0].ExitReason)
	assert.Equal(t, "B", res.Trades[1].Ticker)
	assert.Equal(t, domain.ExitReasonTakeProfit, res.Trades[1].ExitReason, "exits process while halted")

	require.Len(t, res.Rejected, 5)
	for _, rej := range res.Rejected {
		assert.Equal(t, domain.RejectHalted, rej.Reason)
	}
	assert.Equal(t, at(11, "10:00"), res.Rejected[4].Timestamp, "a new week does not clear the halt")
	assert.True(t, res.RiskStatus.Halted)
	assert.Contains(t, res.RiskStatus.HaltReason, "weekly loss limit")
	assert.True(t, e.Status().Halted)
}

func TestRun_ResetHaltBeforeRun(t *testing.T) {
	e := newEngine(t, testConfig())
	e.Halt("operator")
	e.ResetHalt()

	res, err := e.Run(context.Background(), map[string][]*domain.Bar{"X": warmup("X", 4)})
	require.NoError(t, err)
	assert.Empty(t, res.Rejected)
	assert.Len(t, res.OpenPositions, 1)
}

func TestRun_TimeStopAtHardClose(t *testing.T) {
	e := newEngine(t, testConfig())
	bars := map[string][]*domain.Bar{
		"X": append(warmup("X", 4),
			bar("X", at(4, "15:50"), "100.1"),
			bar("X", at(4, "15:55"), "100.2"),
		),
	}

	res, err := e.Run(context.Background(), bars)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.ExitReasonTimeStop, res.Trades[0].ExitReason)
	assert.Equal(t, at(4, "15:55"), res.Trades[0].ExitTime)
	assert.Empty(t, res.OpenPositions)
}

func TestRun_OvernightGuard(t *testing.T) {
	e := newEngine(t, testConfig())
	bars := map[string][]*domain.Bar{
		"X": append(warmup("X", 4),
			bar("X", at(4, "10:30"), "100.3"),
			bar("X", at(5, "09:30"), "100"),
		),
	}

	res, err := e.Run(context.Background(), bars)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, domain.ExitReasonTimeStop, tr.ExitReason)
	assert.Equal(t, at(4, "10:30"), tr.ExitTime, "closed at the last known bar of the day")
	assert.True(t, tr.ExitReference.Equal(d("100.3")))
	assert.Equal(t, 0, res.Equity[len(res.Equity)-1].OpenPositions)
}

func TestRun_HardCloseCoversTickersWithoutBar(t *testing.T) {
	e := newEngine(t, testConfig())
	bars := map[string][]*domain.Bar{
		"X": append(warmup("X", 4),
			bar("X", at(4, "15:50"), "100.1"),
		),
		"Y": {
			bar("Y", at(4, "15:55"), "50"),
			bar("Y", at(4, "15:58"), "50.1"),
		},
	}

	res, err := e.Run(context.Background(), bars)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, "X", tr.Ticker)
	assert.Equal(t, domain.ExitReasonTimeStop, tr.ExitReason)
	assert.Equal(t, at(4, "15:55"), tr.ExitTime, "closed on the hard-close tick")
	assert.True(t, tr.ExitReference.Equal(d("100.1")), "at the last known price")
	assert.Empty(t, res.OpenPositions)

	require.Len(t, res.Equity, 6)
	assert.Equal(t, 1, res.Equity[3].OpenPositions, "15:50")
	assert.Equal(t, 0, res.Equity[4].OpenPositions, "15:55")
	assert.True(t, res.Equity[4].Equity.Equal(res.Equity[4].Cash))
}

func TestRun_OvernightGuardKeepsLedgerOrdered(t *testing.T) {
	e := newEngine(t, testConfig())
	bars := map[string][]*domain.Bar{
		"X": append(warmup("X", 4),
			bar("X", at(4, "10:30"), "100.3"),
			bar("X", at(5, "09:30"), "100"),
		),
		"Y": {
			bar("Y", at(4, "10:25"), "98"),
			bar("Y", at(4, "10:30"), "99"),
			bar("Y", at(4, "10:35"), "100"),
			bar("Y", at(4, "10:40"), "98.9"),
		},
	}

	res, err := e.Run(context.Background(), bars)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	assert.Equal(t, "Y", res.Trades[0].Ticker)
	assert.Equal(t, domain.ExitReasonStopLoss, res.Trades[0].ExitReason)
	assert.Equal(t, at(4, "10:40"), res.Trades[0].ExitTime)

	x := res.Trades[1]
	assert.Equal(t, "X", x.Ticker)
	assert.Equal(t, domain.ExitReasonTimeStop, x.ExitReason)
	assert.Equal(t, at(4, "10:40"), x.ExitTime, "stamped with the last tick of its session")
	assert.True(t, x.ExitReference.Equal(d("100.3")))
	assert.False(t, x.ExitTime.Before(res.Trades[0].ExitTime))
}

func TestRun_TrailingStopArmsAndExits(t *testing.T) {
	e := newEngine(t, testConfig())
	bars := map[string][]*domain.Bar{
		"X": append(warmup("X", 4),
			bar("X", at(4, "10:05"), "101.3"), // +1.25% on a 100.05 fill arms the trail at 100.7935
			bar("X", at(4, "10:10"), "100.7"),
		),
	}

	res, err := e.Run(context.Background(), bars)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, domain.ExitReasonTrailingStop, tr.ExitReason)
	assert.Equal(t, at(4, "10:10"), tr.ExitTime)
	assert.True(t, tr.ExitReference.Equal(d("100.7")))
	assert.True(t, tr.NetPNL.IsPositive(), "trail locks in a gain, got %s", tr.NetPNL)
	assert.Equal(t, 1, res.Equity[3].OpenPositions, "still held after arming at 10:05")
}

func TestRun_KillSwitchStopsAfterCurrentTick(t *testing.T) {
	e := newEngine(t, testConfig())
	e.Kill("operator kill switch")

	res, err := e.Run(context.Background(), map[string][]*domain.Bar{"X": warmup("X", 4)})
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, "operator kill switch", res.StopReason)
	assert.Equal(t, 1, res.Ticks)
	assert.Len(t, res.Equity, 1)
	assert.True(t, res.RiskStatus.Halted)
	assert.Equal(t, "operator kill switch", res.RiskStatus.HaltReason)

	// The stop request is consumed by the run; the halt lives in that run's state.
	res, err = e.Run(context.Background(), map[string][]*domain.Bar{"X": warmup("X", 4)})
	require.NoError(t, err)
	assert.False(t, res.Stopped)
	assert.Equal(t, 3, res.Ticks)
}

func TestRun_DataErrors(t *testing.T) {
	e := newEngine(t, testConfig())

	_, err := e.Run(context.Background(), map[string][]*domain.Bar{})
	assert.True(t, errors.Is(err, ports.ErrNoBars))

	outOfOrder := []*domain.Bar{bar("X", at(4, "10:00"), "100"), bar("X", at(4, "09:55"), "99")}
	_, err = e.Run(context.Background(), map[string][]*domain.Bar{"X": outOfOrder})
	assert.True(t, errors.Is(err, ports.ErrOutOfOrderBar))

	bad := bar("X", at(4, "10:05"), "100")
	bad.High = d("90")
	withBad := append(warmup("X", 4), bad, nil)
	res, err := e.Run(context.Background(), map[string][]*domain.Bar{"X": withBad})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SkippedBars)
	assert.Equal(t, 3, res.Ticks)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, map[string][]*domain.Bar{"X": warmup("X", 4)})
	assert.True(t, errors.Is(err, ports.ErrContextCanceled))
}

func TestRun_TickOrderingAcrossTickers(t *testing.T) {
	e := newEngine(t, testConfig())
	bars := map[string][]*domain.Bar{
		"B": {bar("B", at(4, "09:50"), "50"), bar("B", at(4, "10:00"), "51")},
		"A": {bar("A", at(4, "09:55"), "60"), bar("A", at(4, "10:00"), "61")},
	}
	res, err := e.Run(context.Background(), bars)
	require.NoError(t, err)

	require.Len(t, res.Equity, 3, "bars sharing a timestamp form one tick")
	assert.Equal(t, at(4, "09:50"), res.Equity[0].Timestamp)
	assert.Equal(t, at(4, "09:55"), res.Equity[1].Timestamp)
	assert.Equal(t, at(4, "10:00"), res.Equity[2].Timestamp)
}

func randomSession(tickers []string, days int, seed int64) map[string][]*domain.Bar {
	rng := rand.New(rand.NewSource(seed))
	out := make(map[string][]*domain.Bar)
	for _, tk := range tickers {
		price := 50 + rng.Float64()*100
		for day := 0; day < days; day++ {
			open := time.Date(2024, 3, 4+day, 9, 30, 0, 0, time.UTC)
			for i := 0; i < 78; i++ {
				prev := price
				price += (rng.Float64() - 0.48) * 1.5
				hi := price
				lo := prev
				if prev > hi {
					hi, lo = prev, price
				}
				out[tk] = append(out[tk], &domain.Bar{
					Ticker:    tk,
					Timestamp: open.Add(time.Duration(i) * 5 * time.Minute),
					Open:      decimal.NewFromFloat(prev).Round(2),
					High:      decimal.NewFromFloat(hi + 0.3).Round(2),
					Low:       decimal.NewFromFloat(lo - 0.3).Round(2),
					Close:     decimal.NewFromFloat(price).Round(2),
					Volume:    decimal.NewFromInt(int64(1000 + rng.Intn(4000))),
				})
			}
		}
	}
	return out
}

func TestRun_Deterministic(t *testing.T) {
	cfg := DefaultBacktestConfig()
	cfg.Signals.Location = time.UTC
	cfg.Signals.MinVolumeRatio = d("1.0")
	cfg.Workers = 2
	bars := randomSession([]string{"AAA", "BBB", "CCC", "DDD"}, 4, 99)

	r1, err := newEngine(t, cfg).Run(context.Background(), bars)
	require.NoError(t, err)
	r2, err := newEngine(t, cfg).Run(context.Background(), bars)
	require.NoError(t, err)

	assert.Equal(t, r1.Trades, r2.Trades)
	assert.Equal(t, r1.Equity, r2.Equity)
	assert.Equal(t, r1.Rejected, r2.Rejected)
	assert.True(t, r1.FinalEquity.Equal(r2.FinalEquity))
	assert.Len(t, r1.Equity, 4*78)

	for _, tr := range r1.Trades {
		assert.True(t, tr.EntryPrice.Mul(decimal.NewFromInt(tr.Shares)).LessThanOrEqual(cfg.Risk.PositionSize))
		assert.Equal(t, domain.SessionDate(tr.EntryTime, time.UTC), domain.SessionDate(tr.ExitTime, time.UTC),
			"positions never carry overnight")
		assert.NotEqual(t, domain.ExitReasonNone, tr.ExitReason)
	}
	for i := 1; i < len(r1.Trades); i++ {
		assert.Equal(t, r1.Trades[i-1].ID+1, r1.Trades[i].ID)
		assert.False(t, r1.Trades[i].ExitTime.Before(r1.Trades[i-1].ExitTime), "ledger is ordered by exit time")
	}
}
