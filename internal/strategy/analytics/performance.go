package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"intradayBot/internal/domain"
)

// Ratio is a dimensionless statistic that may be undefined, e.g. a Sharpe
// ratio over a flat equity curve or a win rate with no trades.
type Ratio struct {
	Value float64
	Valid bool
}

func ratio(v float64) Ratio {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Ratio{}
	}
	return Ratio{Value: v, Valid: true}
}

// String renders the ratio or "n/a".
func (r Ratio) String() string {
	if !r.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", r.Value)
}

// SessionsPerYear is the number of trading sessions in a year.
const SessionsPerYear = 252

// Options tune the return-based statistics.
type Options struct {
	// PeriodsPerYear is the number of equity points in a year, used to
	// annualize returns and ratios. Zero infers it from the equity series.
	PeriodsPerYear float64
	// RiskFreeRate is the annual risk-free rate as a fraction.
	RiskFreeRate float64
	// Location assigns equity points to sessions when inferring the
	// period. Nil means UTC.
	Location *time.Location
}

// DefaultOptions infers the bar frequency from the data and assumes a zero
// risk-free rate.
func DefaultOptions() Options {
	return Options{}
}

// InferPeriodsPerYear returns SessionsPerYear times the median number of
// equity points per session, or 0 for an empty series.
func InferPeriodsPerYear(equity []domain.EquityPoint, loc *time.Location) float64 {
	if len(equity) == 0 {
		return 0
	}
	if loc == nil {
		loc = time.UTC
	}
	perSession := make(map[time.Time]int)
	for _, p := range equity {
		perSession[domain.SessionDate(p.Timestamp, loc)]++
	}
	counts := make([]int, 0, len(perSession))
	for _, n := range perSession {
		counts = append(counts, n)
	}
	sort.Ints(counts)
	return float64(SessionsPerYear * counts[len(counts)/2])
}

// PerformanceMetrics holds comprehensive performance metrics for a run.
// Money and return fields are exact decimals; risk-adjusted ratios are floats.
type PerformanceMetrics struct {
	// Returns
	StartingCapital  decimal.Decimal
	FinalEquity      decimal.Decimal
	NetProfit        decimal.Decimal
	TotalReturn      decimal.Decimal // Fraction of starting capital
	AnnualizedReturn Ratio
	SharpeRatio      Ratio
	SortinoRatio     Ratio
	MaxDrawdown      decimal.Decimal // Fraction, peak to trough on the equity series
	PeriodsPerYear   float64         // Annualization factor actually used
	RecoveryFactor   Ratio           // NetProfit / largest drawdown amount

	// Trades
	TotalTrades          int
	WinningTrades        int
	LosingTrades         int
	WinRate              Ratio
	ProfitFactor         Ratio // Gross profit / gross loss
	GrossProfit          decimal.Decimal
	GrossLoss            decimal.Decimal // Positive amount
	AverageWin           decimal.Decimal
	AverageLoss          decimal.Decimal // Negative or zero
	LargestWin           decimal.Decimal
	LargestLoss          decimal.Decimal
	Expectancy           decimal.Decimal // Net profit per trade
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageHoldingTime   time.Duration
	TotalCommission      decimal.Decimal
	TotalSlippage        decimal.Decimal
	ExitReasons          map[domain.ExitReason]int

	// Consistency
	MonthlyReturns     []MonthlyReturn
	PositiveMonths     int
	MonthlyConsistency Ratio // Share of months with a positive return
	Drawdowns          []Drawdown
}

// Drawdown represents a drawdown period on the equity series.
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time // Recovery time, or the last point if never recovered
	StartValue decimal.Decimal
	TroughTime time.Time
	Trough     decimal.Decimal
	Depth      decimal.Decimal // Fraction below StartValue at the trough
	Duration   time.Duration
	Recovered  bool
}

// MonthlyReturn represents one calendar month of the run.
type MonthlyReturn struct {
	Month  time.Time
	Return decimal.Decimal // Month-end equity over prior month-end equity, minus one
	PNL    decimal.Decimal // Net P&L of trades closed in the month
	Trades int
}

// AnalyzePerformance derives metrics from the trade ledger and equity series.
// It never mutates its inputs. With no trades and no equity points every
// amount is zero and every ratio is "n/a".
func AnalyzePerformance(trades []*domain.Trade, equity []domain.EquityPoint, startingCapital decimal.Decimal, opts Options) *PerformanceMetrics {
	m := &PerformanceMetrics{
		StartingCapital: startingCapital,
		FinalEquity:     startingCapital,
		ExitReasons:     make(map[domain.ExitReason]int),
	}
	if len(equity) > 0 {
		m.FinalEquity = equity[len(equity)-1].Equity
	}
	m.NetProfit = m.FinalEquity.Sub(startingCapital)
	if startingCapital.IsPositive() {
		m.TotalReturn = m.NetProfit.Div(startingCapital)
	}

	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = InferPeriodsPerYear(equity, opts.Location)
	}
	m.PeriodsPerYear = opts.PeriodsPerYear

	analyzeTrades(m, trades)
	analyzeEquity(m, equity, opts)
	analyzeMonths(m, trades, equity)
	return m
}

func analyzeTrades(m *PerformanceMetrics, trades []*domain.Trade) {
	sorted := make([]*domain.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExitTime.Before(sorted[j].ExitTime)
	})

	var wins, losses int
	var totalHolding time.Duration
	netTotal := decimal.Zero
	for _, t := range sorted {
		m.TotalTrades++
		netTotal = netTotal.Add(t.NetPNL)
		m.TotalCommission = m.TotalCommission.Add(t.Commission)
		m.TotalSlippage = m.TotalSlippage.Add(t.Slippage)
		m.ExitReasons[t.ExitReason]++
		totalHolding += t.HoldingDuration()

		if t.IsWin() {
			m.WinningTrades++
			m.GrossProfit = m.GrossProfit.Add(t.NetPNL)
			m.LargestWin = decimal.Max(m.LargestWin, t.NetPNL)
			wins++
			losses = 0
		} else {
			m.LosingTrades++
			m.GrossLoss = m.GrossLoss.Add(t.NetPNL.Neg())
			m.LargestLoss = decimal.Min(m.LargestLoss, t.NetPNL)
			losses++
			wins = 0
		}
		if wins > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = wins
		}
		if losses > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = losses
		}
	}

	if m.TotalTrades == 0 {
		return
	}
	n := decimal.NewFromInt(int64(m.TotalTrades))
	m.WinRate = ratio(float64(m.WinningTrades) / float64(m.TotalTrades))
	m.Expectancy = netTotal.Div(n)
	m.AverageHoldingTime = totalHolding / time.Duration(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AverageWin = m.GrossProfit.Div(decimal.NewFromInt(int64(m.WinningTrades)))
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = m.GrossLoss.Neg().Div(decimal.NewFromInt(int64(m.LosingTrades)))
	}
	if m.GrossLoss.IsPositive() {
		m.ProfitFactor = ratio(m.GrossProfit.Div(m.GrossLoss).InexactFloat64())
	}
}

func analyzeEquity(m *PerformanceMetrics, equity []domain.EquityPoint, opts Options) {
	if len(equity) == 0 {
		return
	}

	// Period returns start from the starting capital.
	returns := make([]float64, 0, len(equity))
	prev := m.StartingCapital
	for _, p := range equity {
		if prev.IsPositive() {
			returns = append(returns, p.Equity.Div(prev).Sub(decimal.NewFromInt(1)).InexactFloat64())
		}
		prev = p.Equity
	}

	if opts.PeriodsPerYear > 0 && len(returns) > 0 {
		growth := 1 + m.TotalReturn.InexactFloat64()
		if growth > 0 {
			m.AnnualizedReturn = ratio(math.Pow(growth, opts.PeriodsPerYear/float64(len(returns))) - 1)
		}
	}
	m.SharpeRatio = sharpe(returns, opts)
	m.SortinoRatio = sortino(returns, opts)

	peak := m.StartingCapital
	peakTime := equity[0].Timestamp
	var current *Drawdown
	var worstAmount decimal.Decimal
	for _, p := range equity {
		if p.Equity.GreaterThanOrEqual(peak) {
			if current != nil {
				current.EndTime = p.Timestamp
				current.Duration = current.EndTime.Sub(current.StartTime)
				current.Recovered = true
				m.Drawdowns = append(m.Drawdowns, *current)
				current = nil
			}
			peak = p.Equity
			peakTime = p.Timestamp
			continue
		}
		if !peak.IsPositive() {
			continue
		}
		depth := peak.Sub(p.Equity).Div(peak)
		if current == nil {
			current = &Drawdown{StartTime: peakTime, StartValue: peak}
		}
		if depth.GreaterThan(current.Depth) {
			current.Depth = depth
			current.Trough = p.Equity
			current.TroughTime = p.Timestamp
		}
		if depth.GreaterThan(m.MaxDrawdown) {
			m.MaxDrawdown = depth
		}
		if amount := peak.Sub(p.Equity); amount.GreaterThan(worstAmount) {
			worstAmount = amount
		}
	}
	if current != nil {
		current.EndTime = equity[len(equity)-1].Timestamp
		current.Duration = current.EndTime.Sub(current.StartTime)
		m.Drawdowns = append(m.Drawdowns, *current)
	}
	if worstAmount.IsPositive() {
		m.RecoveryFactor = ratio(m.NetProfit.Div(worstAmount).InexactFloat64())
	}
}

func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs) - 1)
	return mean, math.Sqrt(variance)
}

func periodRiskFree(opts Options) float64 {
	if opts.PeriodsPerYear <= 0 {
		return 0
	}
	return opts.RiskFreeRate / opts.PeriodsPerYear
}

// sharpe is the annualized mean excess return over its sample standard deviation.
func sharpe(returns []float64, opts Options) Ratio {
	if len(returns) < 2 || opts.PeriodsPerYear <= 0 {
		return Ratio{}
	}
	mean, std := meanStd(returns)
	if std == 0 {
		return Ratio{}
	}
	return ratio((mean - periodRiskFree(opts)) / std * math.Sqrt(opts.PeriodsPerYear))
}

// sortino is like sharpe but divides by the downside deviation only.
func sortino(returns []float64, opts Options) Ratio {
	if len(returns) < 2 || opts.PeriodsPerYear <= 0 {
		return Ratio{}
	}
	rf := periodRiskFree(opts)
	var sum, downside float64
	for _, r := range returns {
		sum += r
		if r < rf {
			downside += (r - rf) * (r - rf)
		}
	}
	if downside == 0 {
		return Ratio{}
	}
	mean := sum / float64(len(returns))
	dd := math.Sqrt(downside / float64(len(returns)))
	return ratio((mean - rf) / dd * math.Sqrt(opts.PeriodsPerYear))
}

func monthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func analyzeMonths(m *PerformanceMetrics, trades []*domain.Trade, equity []domain.EquityPoint) {
	byMonth := make(map[time.Time]*MonthlyReturn)
	var order []time.Time
	get := func(month time.Time) *MonthlyReturn {
		key := month.UTC()
		if mr, ok := byMonth[key]; ok {
			return mr
		}
		mr := &MonthlyReturn{Month: month}
		byMonth[key] = mr
		order = append(order, key)
		return mr
	}

	// Month-end equity, walking the series in order.
	monthEnd := make(map[time.Time]decimal.Decimal)
	for _, p := range equity {
		month := monthOf(p.Timestamp)
		get(month)
		monthEnd[month.UTC()] = p.Equity
	}
	for _, t := range trades {
		mr := get(monthOf(t.ExitTime))
		mr.PNL = mr.PNL.Add(t.NetPNL)
		mr.Trades++
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	prev := m.StartingCapital
	for _, key := range order {
		mr := byMonth[key]
		if end, ok := monthEnd[key]; ok {
			if prev.IsPositive() {
				mr.Return = end.Div(prev).Sub(decimal.NewFromInt(1))
			}
			prev = end
		}
		if mr.Return.IsPositive() {
			m.PositiveMonths++
		}
		m.MonthlyReturns = append(m.MonthlyReturns, *mr)
	}
	if len(m.MonthlyReturns) > 0 {
		m.MonthlyConsistency = ratio(float64(m.PositiveMonths) / float64(len(m.MonthlyReturns)))
	}
}

// Summary flattens the headline metrics into log fields.
func (m *PerformanceMetrics) Summary() map[string]interface{} {
	return map[string]interface{}{
		"final_equity":        m.FinalEquity.StringFixed(2),
		"net_profit":          m.NetProfit.StringFixed(2),
		"total_return":        m.TotalReturn.StringFixed(4),
		"annualized_return":   m.AnnualizedReturn.String(),
		"sharpe":              m.SharpeRatio.String(),
		"sortino":             m.SortinoRatio.String(),
		"max_drawdown":        m.MaxDrawdown.StringFixed(4),
		"periods_per_year":    m.PeriodsPerYear,
		"trades":              m.TotalTrades,
		"win_rate":            m.WinRate.String(),
		"profit_factor":       m.ProfitFactor.String(),
		"avg_holding":         m.AverageHoldingTime.String(),
		"monthly_consistency": m.MonthlyConsistency.String(),
	}
}
