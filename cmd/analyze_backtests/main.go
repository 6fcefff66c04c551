package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"intradayBot/internal/domain"
	"intradayBot/internal/strategy/analytics"
	"intradayBot/internal/utils"
)

func main() {
	dir := flag.String("dir", "results", "directory holding trades_*.csv files")
	capital := flag.String("capital", "10000", "starting capital of the analyzed runs")
	flag.Parse()

	startingCapital, err := decimal.NewFromString(*capital)
	if err != nil {
		log.Fatalf("Invalid capital %q: %v", *capital, err)
	}

	files, err := filepath.Glob(filepath.Join(*dir, "trades_*.csv"))
	if err != nil {
		log.Fatalf("Error finding trade files: %v", err)
	}
	if len(files) == 0 {
		log.Println("No trade files found. Run a backtest first.")
		return
	}
	sort.Strings(files)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "File\tTrades\tWinRate\tAvgWin\tAvgLoss\tNetPnL\tMaxDD\tPF\tExpectancy\t")

	reasons := make(map[string]map[domain.ExitReason]int)
	for _, file := range files {
		trades, err := utils.ReadTradesFromCSV(file)
		if err != nil {
			log.Printf("Error reading trades from %s: %v", file, err)
			continue
		}

		m := analytics.AnalyzePerformance(trades, equityFromTrades(trades, startingCapital), startingCapital, analytics.DefaultOptions())
		reasons[filepath.Base(file)] = m.ExitReasons

		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			filepath.Base(file),
			m.TotalTrades,
			m.WinRate,
			m.AverageWin.StringFixed(2),
			m.AverageLoss.StringFixed(2),
			m.NetProfit.StringFixed(2),
			m.MaxDrawdown.StringFixed(4),
			m.ProfitFactor,
			m.Expectancy.StringFixed(2),
		)
	}
	w.Flush()

	fmt.Println("\n## Exit Reasons")
	for _, file := range files {
		counts, ok := reasons[filepath.Base(file)]
		if !ok {
			continue
		}
		fmt.Printf("%s: %s\n", filepath.Base(file), formatReasons(counts))
	}
}

// equityFromTrades rebuilds a realized equity curve with one point per exit.
func equityFromTrades(trades []*domain.Trade, startingCapital decimal.Decimal) []domain.EquityPoint {
	sorted := make([]*domain.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ExitTime.Before(sorted[j].ExitTime) })

	points := make([]domain.EquityPoint, 0, len(sorted))
	equity, peak := startingCapital, startingCapital
	for _, t := range sorted {
		equity = equity.Add(t.NetPNL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		points = append(points, domain.EquityPoint{
			Timestamp: t.ExitTime,
			Equity:    equity,
			Cash:      equity,
			Drawdown:  peak.Sub(equity).Div(peak),
		})
	}
	return points
}

func formatReasons(counts map[domain.ExitReason]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[domain.ExitReason(k)])
	}
	return strings.Join(parts, " ")
}
