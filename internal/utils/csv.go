package utils

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"intradayBot/internal/domain"
	"intradayBot/internal/ports"
)

// BarHeader is the column layout of bar files.
var BarHeader = []string{"ticker", "timestamp", "open", "high", "low", "close", "volume"}

// TradeHeader is the column layout of trade ledger files.
var TradeHeader = []string{
	"id", "ticker", "sector", "entry_time", "exit_time", "entry_price", "exit_price",
	"entry_reference", "exit_reference", "shares", "gross_pnl", "net_pnl", "pnl_percent",
	"commission", "slippage", "exit_reason",
}

// EquityHeader is the column layout of equity curve files.
var EquityHeader = []string{"timestamp", "equity", "cash", "position_value", "drawdown", "open_positions"}

// localLayout is accepted for timestamps without a UTC offset.
const localLayout = "2006-01-02 15:04:05"

// ReadBarsFromCSV parses bars in file order. Columns are matched by header
// name. Timestamps are RFC3339, or "YYYY-MM-DD HH:MM:SS" in loc.
func ReadBarsFromCSV(r io.Reader, loc *time.Location) ([]*domain.Bar, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := columnIndex(header, BarHeader)
	if err != nil {
		return nil, err
	}

	var bars []*domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p := fieldParser{rec: rec, cols: cols}
		bar := &domain.Bar{
			Ticker:    strings.ToUpper(p.str("ticker")),
			Timestamp: p.time("timestamp", loc),
			Open:      p.decimal("open"),
			High:      p.decimal("high"),
			Low:       p.decimal("low"),
			Close:     p.decimal("close"),
			Volume:    p.decimal("volume"),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ports.ErrMalformedBar, line, p.err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// LoadBarsFromFile reads one bar file.
func LoadBarsFromFile(path string, loc *time.Location) ([]*domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := ReadBarsFromCSV(f, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// GroupBarsByTicker splits bars by ticker, keeping their relative order.
func GroupBarsByTicker(bars []*domain.Bar) map[string][]*domain.Bar {
	out := make(map[string][]*domain.Bar)
	for _, b := range bars {
		out[b.Ticker] = append(out[b.Ticker], b)
	}
	return out
}

// CSVBarSource loads bars from CSV files. A directory path contributes every
// *.csv file inside it, in name order.
type CSVBarSource struct {
	Paths    []string
	Location *time.Location
}

// LoadBars implements ports.BarSource.
func (s CSVBarSource) LoadBars(ctx context.Context) (map[string][]*domain.Bar, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	var all []*domain.Bar
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
		}
		bars, err := LoadBarsFromFile(path, s.Location)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}
	if len(all) == 0 {
		return nil, ports.ErrNoBars
	}
	return GroupBarsByTicker(all), nil
}

func (s CSVBarSource) files() ([]string, error) {
	var files []string
	for _, p := range s.Paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.csv"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}

// WriteTradesToCSV writes the trade ledger.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(TradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		err := writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Ticker,
			t.Sector,
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.EntryReference.String(),
			t.ExitReference.String(),
			strconv.FormatInt(t.Shares, 10),
			t.GrossPNL.String(),
			t.NetPNL.String(),
			t.PNLPercent.String(),
			t.Commission.String(),
			t.Slippage.String(),
			string(t.ExitReason),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadTradesFromCSV reads a ledger written by WriteTradesToCSV.
func ReadTradesFromCSV(filename string) ([]*domain.Trade, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cr := csv.NewReader(file)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", filename, err)
	}
	cols, err := columnIndex(header, TradeHeader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	var trades []*domain.Trade
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", filename, line, err)
		}
		p := fieldParser{rec: rec, cols: cols}
		t := &domain.Trade{
			ID:             p.int("id"),
			Ticker:         p.str("ticker"),
			Sector:         p.str("sector"),
			EntryTime:      p.time("entry_time", time.UTC),
			ExitTime:       p.time("exit_time", time.UTC),
			EntryPrice:     p.decimal("entry_price"),
			ExitPrice:      p.decimal("exit_price"),
			EntryReference: p.decimal("entry_reference"),
			ExitReference:  p.decimal("exit_reference"),
			Shares:         p.int("shares"),
			GrossPNL:       p.decimal("gross_pnl"),
			NetPNL:         p.decimal("net_pnl"),
			PNLPercent:     p.decimal("pnl_percent"),
			Commission:     p.decimal("commission"),
			Slippage:       p.decimal("slippage"),
			ExitReason:     domain.ExitReason(p.str("exit_reason")),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", filename, line, p.err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// WriteEquityToCSV writes the equity curve.
func WriteEquityToCSV(points []domain.EquityPoint, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(EquityHeader); err != nil {
		return err
	}
	for _, p := range points {
		err := writer.Write([]string{
			p.Timestamp.Format(time.RFC3339),
			p.Equity.String(),
			p.Cash.String(),
			p.PositionValue.String(),
			p.Drawdown.String(),
			strconv.Itoa(p.OpenPositions),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func columnIndex(header, required []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ports.ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return cols, nil
}

// fieldParser reads named columns from one record and keeps the first error.
type fieldParser struct {
	rec  []string
	cols map[string]int
	err  error
}

func (p *fieldParser) str(name string) string {
	i := p.cols[name]
	if i >= len(p.rec) {
		p.fail(fmt.Errorf("missing %s", name))
		return ""
	}
	return strings.TrimSpace(p.rec[i])
}

func (p *fieldParser) decimal(name string) decimal.Decimal {
	s := p.str(name)
	v, err := decimal.NewFromString(s)
	if err != nil {
		p.fail(fmt.Errorf("%s %q: %v", name, s, err))
	}
	return v
}

func (p *fieldParser) int(name string) int64 {
	s := p.str(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.fail(fmt.Errorf("%s %q: %v", name, s, err))
	}
	return v
}

func (p *fieldParser) time(name string, loc *time.Location) time.Time {
	s := p.str(name)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, err := time.ParseInLocation(localLayout, s, loc)
	if err != nil {
		p.fail(fmt.Errorf("%s %q: not RFC3339 or %q", name, s, localLayout))
	}
	return t
}

func (p *fieldParser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
