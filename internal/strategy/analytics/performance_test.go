package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intradayBot/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ts(month time.Month, day, hour int) time.Time {
	return time.Date(2024, month, day, hour, 0, 0, 0, time.UTC)
}

func trade(id int64, net string, entry, exit time.Time, reason domain.ExitReason) *domain.Trade {
	return &domain.Trade{
		ID:         id,
		Ticker:     "AAPL",
		EntryTime:  entry,
		ExitTime:   exit,
		NetPNL:     d(net),
		Commission: d("1"),
		Slippage:   d("0.5"),
		ExitReason: reason,
	}
}

func point(at time.Time, equity string) domain.EquityPoint {
	return domain.EquityPoint{Timestamp: at, Equity: d(equity)}
}

func TestAnalyzePerformance(t *testing.T) {
	trades := []*domain.Trade{
		trade(3, "20", ts(time.April, 2, 9).Add(30*time.Minute), ts(time.April, 2, 11), domain.ExitReasonTakeProfit),
		trade(1, "30", ts(time.March, 4, 10), ts(time.March, 4, 11), domain.ExitReasonTakeProfit),
		trade(2, "-10", ts(time.March, 4, 11).Add(30*time.Minute), ts(time.March, 4, 12), domain.ExitReasonStopLoss),
	}
	equity := []domain.EquityPoint{
		point(ts(time.March, 4, 10), "1000"),
		point(ts(time.March, 4, 11), "1030"),
		point(ts(time.March, 4, 12), "1020"),
		point(ts(time.April, 2, 11), "1040"),
	}

	m := AnalyzePerformance(trades, equity, d("1000"), DefaultOptions())

	assert.Equal(t, int64(3), trades[0].ID, "input order is left alone")

	assert.True(t, m.FinalEquity.Equal(d("1040")))
	assert.True(t, m.NetProfit.Equal(d("40")))
	assert.True(t, m.TotalReturn.Equal(d("0.04")))

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	require.True(t, m.WinRate.Valid)
	assert.InDelta(t, 2.0/3.0, m.WinRate.Value, 1e-9)
	require.True(t, m.ProfitFactor.Valid)
	assert.InDelta(t, 5.0, m.ProfitFactor.Value, 1e-9)
	assert.True(t, m.GrossProfit.Equal(d("50")))
	assert.True(t, m.GrossLoss.Equal(d("10")))
	assert.True(t, m.AverageWin.Equal(d("25")))
	assert.True(t, m.AverageLoss.Equal(d("-10")))
	assert.True(t, m.LargestWin.Equal(d("30")))
	assert.True(t, m.LargestLoss.Equal(d("-10")))
	assert.InDelta(t, 13.3333, m.Expectancy.InexactFloat64(), 1e-3)
	assert.Equal(t, 1, m.MaxConsecutiveWins)
	assert.Equal(t, 1, m.MaxConsecutiveLosses)
	assert.Equal(t, 60*time.Minute, m.AverageHoldingTime)
	assert.True(t, m.TotalCommission.Equal(d("3")))
	assert.True(t, m.TotalSlippage.Equal(d("1.5")))
	assert.Equal(t, map[domain.ExitReason]int{domain.ExitReasonTakeProfit: 2, domain.ExitReasonStopLoss: 1}, m.ExitReasons)

	assert.InDelta(t, 10.0/1030.0, m.MaxDrawdown.InexactFloat64(), 1e-9)
	require.Len(t, m.Drawdowns, 1)
	dd := m.Drawdowns[0]
	assert.True(t, dd.Recovered)
	assert.Equal(t, ts(time.March, 4, 11), dd.StartTime)
	assert.Equal(t, ts(time.March, 4, 12), dd.TroughTime)
	assert.Equal(t, ts(time.April, 2, 11), dd.EndTime)
	assert.True(t, dd.Trough.Equal(d("1020")))
	require.True(t, m.RecoveryFactor.Valid)
	assert.InDelta(t, 4.0, m.RecoveryFactor.Value, 1e-9)

	require.True(t, m.SharpeRatio.Valid)
	assert.Greater(t, m.SharpeRatio.Value, 0.0)
	require.True(t, m.SortinoRatio.Valid)
	assert.Greater(t, m.SortinoRatio.Value, 0.0)
	assert.True(t, m.AnnualizedReturn.Valid)

	require.Len(t, m.MonthlyReturns, 2)
	march, april := m.MonthlyReturns[0], m.MonthlyReturns[1]
	assert.Equal(t, time.March, march.Month.Month())
	assert.True(t, march.Return.Equal(d("0.02")))
	assert.True(t, march.PNL.Equal(d("20")))
	assert.Equal(t, 2, march.Trades)
	assert.InDelta(t, 1040.0/1020.0-1, april.Return.InexactFloat64(), 1e-9)
	assert.Equal(t, 1, april.Trades)
	assert.Equal(t, 2, m.PositiveMonths)
	assert.InDelta(t, 1.0, m.MonthlyConsistency.Value, 1e-9)
}

func TestAnalyzePerformance_NoTrades(t *testing.T) {
	m := AnalyzePerformance(nil, nil, d("10000"), DefaultOptions())

	assert.True(t, m.TotalReturn.IsZero())
	assert.True(t, m.FinalEquity.Equal(d("10000")))
	assert.Equal(t, 0, m.TotalTrades)
	assert.False(t, m.WinRate.Valid)
	assert.False(t, m.ProfitFactor.Valid)
	assert.False(t, m.SharpeRatio.Valid)
	assert.False(t, m.SortinoRatio.Valid)
	assert.False(t, m.AnnualizedReturn.Valid)
	assert.True(t, m.MaxDrawdown.IsZero())
	assert.Equal(t, time.Duration(0), m.AverageHoldingTime)
	assert.Empty(t, m.MonthlyReturns)

	s := m.Summary()
	assert.Equal(t, "n/a", s["sharpe"])
	assert.Equal(t, "n/a", s["win_rate"])
	assert.Equal(t, "0.0000", s["total_return"])
}

func TestAnalyzePerformance_FlatEquity(t *testing.T) {
	equity := []domain.EquityPoint{
		point(ts(time.March, 4, 10), "10000"),
		point(ts(time.March, 4, 11), "10000"),
		point(ts(time.March, 4, 12), "10000"),
	}
	m := AnalyzePerformance(nil, equity, d("10000"), DefaultOptions())

	assert.False(t, m.SharpeRatio.Valid, "zero volatility has no Sharpe ratio")
	assert.False(t, m.SortinoRatio.Valid)
	require.True(t, m.AnnualizedReturn.Valid)
	assert.InDelta(t, 0.0, m.AnnualizedReturn.Value, 1e-12)
	assert.Empty(t, m.Drawdowns)
	require.Len(t, m.MonthlyReturns, 1)
	assert.Equal(t, 0, m.PositiveMonths)
}

func TestAnalyzePerformance_AllLosses(t *testing.T) {
	trades := []*domain.Trade{
		trade(1, "-5", ts(time.March, 4, 10), ts(time.March, 4, 11), domain.ExitReasonStopLoss),
		trade(2, "-7", ts(time.March, 4, 11), ts(time.March, 4, 12), domain.ExitReasonTimeStop),
	}
	equity := []domain.EquityPoint{
		point(ts(time.March, 4, 11), "995"),
		point(ts(time.March, 4, 12), "988"),
	}
	m := AnalyzePerformance(trades, equity, d("1000"), DefaultOptions())

	assert.InDelta(t, 0.0, m.WinRate.Value, 1e-12)
	assert.True(t, m.ProfitFactor.Valid)
	assert.InDelta(t, 0.0, m.ProfitFactor.Value, 1e-12)
	assert.Equal(t, 2, m.MaxConsecutiveLosses)
	require.Len(t, m.Drawdowns, 1)
	assert.False(t, m.Drawdowns[0].Recovered)
	assert.True(t, m.MaxDrawdown.Equal(d("0.012")))
	assert.InDelta(t, -1.0, m.RecoveryFactor.Value, 1e-9)
}

func TestInferPeriodsPerYear(t *testing.T) {
	session := func(day, bars int, step time.Duration) []domain.EquityPoint {
		out := make([]domain.EquityPoint, bars)
		open := time.Date(2024, 3, day, 14, 30, 0, 0, time.UTC)
		for i := range out {
			out[i] = point(open.Add(time.Duration(i)*step), "1000")
		}
		return out
	}
	var fiveMinute, halfDay, hourly []domain.EquityPoint
	for day := 4; day <= 6; day++ {
		fiveMinute = append(fiveMinute, session(day, 78, 5*time.Minute)...)
		hourly = append(hourly, session(day, 7, time.Hour)...)
	}
	halfDay = append(append([]domain.EquityPoint{}, fiveMinute...), session(7, 42, 5*time.Minute)...)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name   string
		equity []domain.EquityPoint
		loc    *time.Location
		want   float64
	}{
		{"empty", nil, nil, 0},
		{"5-minute bars", fiveMinute, nil, 252 * 78},
		{"hourly bars", hourly, nil, 252 * 7},
		{"half day ignored by median", halfDay, nil, 252 * 78},
		{"exchange zone", fiveMinute, ny, 252 * 78},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferPeriodsPerYear(tt.equity, tt.loc))
		})
	}
}

func TestAnalyzePerformance_PeriodsPerYear(t *testing.T) {
	equity := []domain.EquityPoint{
		point(ts(time.March, 4, 10), "1000"),
		point(ts(time.March, 4, 11), "1010"),
		point(ts(time.March, 4, 12), "1005"),
		point(ts(time.March, 5, 10), "1020"),
		point(ts(time.March, 5, 11), "1015"),
		point(ts(time.March, 5, 12), "1030"),
	}

	inferred := AnalyzePerformance(nil, equity, d("1000"), DefaultOptions())
	assert.Equal(t, 252.0*3, inferred.PeriodsPerYear)
	assert.Equal(t, 252.0*3, inferred.Summary()["periods_per_year"])

	fixed := AnalyzePerformance(nil, equity, d("1000"), Options{PeriodsPerYear: 252 * 78})
	assert.Equal(t, 252.0*78, fixed.PeriodsPerYear)

	require.True(t, inferred.SharpeRatio.Valid)
	require.True(t, fixed.SharpeRatio.Valid)
	assert.InDelta(t, math.Sqrt(78.0/3.0), fixed.SharpeRatio.Value/inferred.SharpeRatio.Value, 1e-9,
		"Sharpe scales with the square root of the annualization factor")
}
