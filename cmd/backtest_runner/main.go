package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"intradayBot/config"
	"intradayBot/internal/adapters/logger"
	"intradayBot/internal/strategy/optimization"
	"intradayBot/internal/utils"
)

func main() {
	stopLoss := flag.String("stop-loss", "0.005:0.015:0.005", "stop-loss pct range min:max:step")
	takeProfit := flag.String("take-profit", "0.01:0.03:0.005", "take-profit pct range min:max:step")
	trailDistance := flag.String("trail-distance", "", "trailing distance pct range min:max:step")
	trailActivation := flag.String("trail-activation", "", "trailing activation pct range min:max:step")
	minATR := flag.String("min-atr", "", "minimum ATR range min:max:step")
	workers := flag.Int("workers", 0, "concurrent backtests (0 = unbounded)")
	top := flag.Int("top", 10, "number of results to log")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	// 2. Build parameter grid
	var ranges []optimization.ParameterRange
	for _, spec := range []struct {
		name optimization.Parameter
		raw  string
	}{
		{optimization.StopLossPct, *stopLoss},
		{optimization.TakeProfitPct, *takeProfit},
		{optimization.TrailingDistancePct, *trailDistance},
		{optimization.TrailingActivationPct, *trailActivation},
		{optimization.MinATR, *minATR},
	} {
		if spec.raw == "" {
			continue
		}
		r, err := parseRange(spec.name, spec.raw)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		ranges = append(ranges, r)
	}

	// 3. Load bars once; every run shares them read-only
	bars, err := utils.CSVBarSource{Paths: cfg.BarPaths, Location: cfg.Backtest.Signals.Location}.LoadBars(ctx)
	if err != nil {
		appLogger.Error(ctx, err, "Error loading bars")
		log.Fatalf("FATAL: Error loading bars: %v", err)
	}
	appLogger.Info(ctx, "Loaded bars", map[string]interface{}{"tickers": len(bars)})

	// 4. Run the grid
	opt, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		Base:            cfg.Backtest,
		ParameterRanges: ranges,
		Options:         cfg.Analytics,
		Workers:         *workers,
	}, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to create optimizer: %v", err)
	}
	results, err := opt.Optimize(ctx, bars)
	if err != nil {
		appLogger.Error(ctx, err, "Optimization failed")
		log.Fatalf("FATAL: Optimization failed: %v", err)
	}

	for i, r := range results {
		if i >= *top {
			break
		}
		fields := r.Metrics.Summary()
		fields["rank"] = i + 1
		fields["params"] = r.Key
		fields["score"] = strconv.FormatFloat(r.Score, 'f', 4, 64)
		appLogger.Info(ctx, "Optimization result", fields)
	}

	// 5. Write the full table
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		log.Fatalf("FATAL: Failed to create output directory: %v", err)
	}
	outFile := filepath.Join(cfg.OutputDir, "optimization.csv")
	if err := writeResults(results, outFile); err != nil {
		appLogger.Error(ctx, err, "Error writing optimization CSV")
		return
	}
	appLogger.Info(ctx, "Results saved to", map[string]interface{}{"filename": outFile})
}

func parseRange(name optimization.Parameter, raw string) (optimization.ParameterRange, error) {
	parts := strings.Split(raw, ":")
	if len(parts) == 1 {
		parts = []string{parts[0], parts[0], "1"}
	}
	if len(parts) != 3 {
		return optimization.ParameterRange{}, fmt.Errorf("%s: expected min:max:step, got %q", name, raw)
	}
	vals := make([]decimal.Decimal, 3)
	for i, p := range parts {
		v, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil {
			return optimization.ParameterRange{}, fmt.Errorf("%s: %w", name, err)
		}
		vals[i] = v
	}
	return optimization.ParameterRange{Name: name, Min: vals[0], Max: vals[1], Step: vals[2]}, nil
}

func writeResults(results []optimization.OptimizationResult, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"rank", "params", "score", "trades", "win_rate", "profit_factor", "net_profit", "max_drawdown", "sharpe", "halted"}); err != nil {
		return err
	}
	for i, r := range results {
		m := r.Metrics
		err := w.Write([]string{
			strconv.Itoa(i + 1),
			r.Key,
			strconv.FormatFloat(r.Score, 'f', 6, 64),
			strconv.Itoa(m.TotalTrades),
			m.WinRate.String(),
			m.ProfitFactor.String(),
			m.NetProfit.StringFixed(2),
			m.MaxDrawdown.StringFixed(4),
			m.SharpeRatio.String(),
			strconv.FormatBool(r.Halted),
		})
		if err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
