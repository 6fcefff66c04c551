package optimization

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"intradayBot/internal/domain"
	"intradayBot/internal/ports"
	"intradayBot/internal/strategy/analytics"
	"intradayBot/internal/strategy/backtesting"
)

// Parameter names a tunable field of the backtest configuration.
type Parameter string

const (
	StopLossPct           Parameter = "stop_loss_pct"
	TakeProfitPct         Parameter = "take_profit_pct"
	TrailingActivationPct Parameter = "trailing_activation_pct"
	TrailingDistancePct   Parameter = "trailing_distance_pct"
	MinATR                Parameter = "min_atr"
	MinVolumeRatio        Parameter = "min_volume_ratio"
	PositionSize          Parameter = "position_size"
)

// ParameterRange defines an inclusive decimal range for a parameter to optimize.
type ParameterRange struct {
	Name Parameter
	Min  decimal.Decimal
	Max  decimal.Decimal
	Step decimal.Decimal
}

// Values expands the range into its grid points.
func (p ParameterRange) Values() ([]decimal.Decimal, error) {
	if !p.Step.IsPositive() {
		return nil, fmt.Errorf("%w: %s step must be positive", ports.ErrInvalidConfig, p.Name)
	}
	if p.Max.LessThan(p.Min) {
		return nil, fmt.Errorf("%w: %s max %s below min %s", ports.ErrInvalidConfig, p.Name, p.Max, p.Min)
	}
	var out []decimal.Decimal
	for v := p.Min; v.LessThanOrEqual(p.Max); v = v.Add(p.Step) {
		out = append(out, v)
	}
	return out, nil
}

// OptimizationResult holds the outcome of one parameter combination.
type OptimizationResult struct {
	Parameters map[Parameter]decimal.Decimal
	Key        string // Canonical "name=value" list, used as a tie-break
	Metrics    *analytics.PerformanceMetrics
	Score      float64
	Halted     bool
}

// OptimizerConfig holds configuration for the optimizer.
type OptimizerConfig struct {
	Base            backtesting.BacktestConfig
	ParameterRanges []ParameterRange
	ScoreFunction   func(*analytics.PerformanceMetrics) float64
	Options         analytics.Options
	Workers         int // Concurrent backtests; 0 means unbounded
}

// Optimizer runs a grid search. Every combination is an independent engine
// with its own risk state, so runs share nothing but the read-only bars.
type Optimizer struct {
	config OptimizerConfig
	logger ports.Logger
}

// NewOptimizer creates a new optimizer instance.
func NewOptimizer(config OptimizerConfig, logger ports.Logger) (*Optimizer, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(config.ParameterRanges) == 0 {
		return nil, fmt.Errorf("%w: at least one parameter range is required", ports.ErrInvalidConfig)
	}
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if config.Options.Location == nil {
		config.Options.Location = config.Base.Signals.Location
	}
	return &Optimizer{config: config, logger: logger}, nil
}

// Optimize backtests every valid combination and returns results ranked by
// score (descending), then by parameter key.
func (o *Optimizer) Optimize(ctx context.Context, bars map[string][]*domain.Bar) ([]OptimizationResult, error) {
	combinations, err := o.generateParameterCombinations()
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make([]OptimizationResult, 0, len(combinations))
		skipped int
	)

	g, gctx := errgroup.WithContext(ctx)
	if o.config.Workers > 0 {
		g.SetLimit(o.config.Workers)
	}
	for _, params := range combinations {
		params := params
		g.Go(func() error {
			cfg, err := apply(o.config.Base, params)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}

			key := paramKey(params)
			engine, err := backtesting.NewEngine(cfg, ports.NopLogger{})
			if err != nil {
				return err
			}
			res, err := engine.Run(gctx, bars)
			if err != nil {
				return fmt.Errorf("backtest %s: %w", key, err)
			}
			result, err := o.score(params, key, res)
			if err != nil {
				return err
			}
			o.logger.Debug(ports.WithLogFields(gctx, map[string]interface{}{"combination": key}), "Combination evaluated", map[string]interface{}{
				"score":  result.Score,
				"trades": result.Metrics.TotalTrades,
				"halted": result.Halted,
			})
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
	}

	sortResultsByScore(results)
	o.logger.Info(ctx, "Optimization finished", map[string]interface{}{
		"combinations": len(combinations),
		"evaluated":    len(results),
		"skipped":      skipped,
	})
	return results, nil
}

// score rates one finished run. A run cut short by cancellation covers only
// part of the data, so it is an error rather than a result.
func (o *Optimizer) score(params map[Parameter]decimal.Decimal, key string, res *backtesting.BacktestResult) (OptimizationResult, error) {
	if res.Stopped {
		return OptimizationResult{}, fmt.Errorf("backtest %s: %w: stopped after %d ticks: %s",
			key, ports.ErrContextCanceled, res.Ticks, res.StopReason)
	}
	metrics := analytics.AnalyzePerformance(res.Trades, res.Equity, res.StartingCapital, o.config.Options)
	return OptimizationResult{
		Parameters: params,
		Key:        key,
		Metrics:    metrics,
		Score:      o.config.ScoreFunction(metrics),
		Halted:     res.RiskStatus.Halted,
	}, nil
}

// generateParameterCombinations generates all possible parameter combinations.
func (o *Optimizer) generateParameterCombinations() ([]map[Parameter]decimal.Decimal, error) {
	grids := make([][]decimal.Decimal, len(o.config.ParameterRanges))
	for i, r := range o.config.ParameterRanges {
		values, err := r.Values()
		if err != nil {
			return nil, err
		}
		grids[i] = values
	}

	var combinations []map[Parameter]decimal.Decimal
	current := make(map[Parameter]decimal.Decimal)
	var generate func(int)
	generate = func(i int) {
		if i == len(grids) {
			combination := make(map[Parameter]decimal.Decimal, len(current))
			for k, v := range current {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}
		for _, v := range grids[i] {
			current[o.config.ParameterRanges[i].Name] = v
			generate(i + 1)
		}
	}
	generate(0)
	return combinations, nil
}

// apply returns base with params written into it.
func apply(base backtesting.BacktestConfig, params map[Parameter]decimal.Decimal) (backtesting.BacktestConfig, error) {
	cfg := base
	for name, v := range params {
		switch name {
		case StopLossPct:
			cfg.Signals.StopLossPct = v
		case TakeProfitPct:
			cfg.Signals.TakeProfitPct = v
		case TrailingActivationPct:
			cfg.Signals.TrailingActivationPct = v
		case TrailingDistancePct:
			cfg.Signals.TrailingDistancePct = v
		case MinATR:
			cfg.Signals.MinATR = v
		case MinVolumeRatio:
			cfg.Signals.MinVolumeRatio = v
		case PositionSize:
			cfg.Risk.PositionSize = v
		default:
			return cfg, fmt.Errorf("%w: unknown parameter %q", ports.ErrInvalidConfig, name)
		}
	}
	return cfg, nil
}

func paramKey(params map[Parameter]decimal.Decimal) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, string(k))
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + "=" + params[Parameter(n)].String()
	}
	return strings.Join(parts, ",")
}

// sortResultsByScore sorts results by score descending, then by key.
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Key < results[j].Key
	})
}

// DefaultScoreFunction combines several metrics into a single score.
// Undefined ratios contribute nothing.
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	score := 0.0
	if metrics.WinRate.Valid {
		score += metrics.WinRate.Value * 0.3
	}
	if metrics.ProfitFactor.Valid {
		score += metrics.ProfitFactor.Value * 0.2
	}
	score += (1 - metrics.MaxDrawdown.InexactFloat64()) * 0.2
	score += metrics.TotalReturn.InexactFloat64() * 0.2
	if metrics.SharpeRatio.Valid {
		score += metrics.SharpeRatio.Value * 0.1
	}
	return score
}
