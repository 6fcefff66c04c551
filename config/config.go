package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"intradayBot/internal/adapters/logger"
	"intradayBot/internal/domain"
	"intradayBot/internal/ports"
	"intradayBot/internal/strategy/analytics"
	"intradayBot/internal/strategy/backtesting"
)

// Config holds all application configuration.
type Config struct {
	// Simulation
	Backtest backtesting.BacktestConfig

	// Input and output
	BarPaths  []string // Bar CSV files or directories
	OutputDir string   // Where trade and equity CSV files are written
	RunLabel  string

	// Database
	DBPath string

	// Reporting
	Analytics analytics.Options

	// Logging
	LogLevel logger.LogLevel

	// SchedulerEnabled drives day/week boundaries from wall-clock cron jobs
	// instead of from bar timestamps.
	SchedulerEnabled bool
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{Backtest: backtesting.DefaultBacktestConfig()}
	bt := &cfg.Backtest
	var errs []string

	decimalVar := func(key string, target *decimal.Decimal) {
		v, err := getEnvAsDecimalRequired(key, *target)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
			return
		}
		*target = v
	}
	intVar := func(key string, target *int) {
		v, err := getEnvAsIntRequired(key, *target)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
			return
		}
		*target = v
	}
	clockVar := func(key string, target *domain.TimeOfDay) {
		v, err := getEnvAsTimeOfDayRequired(key, *target)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
			return
		}
		*target = v
	}

	// Capital and costs
	decimalVar("STARTING_CAPITAL", &bt.StartingCapital)
	decimalVar("SLIPPAGE_PCT", &bt.Risk.SlippagePct)
	decimalVar("COMMISSION_PER_TRADE", &bt.Risk.CommissionPerTrade)

	// Risk limits
	decimalVar("POSITION_SIZE", &bt.Risk.PositionSize)
	intVar("MAX_CONCURRENT_POSITIONS", &bt.Risk.MaxConcurrentPositions)
	intVar("MAX_PER_SECTOR", &bt.Risk.MaxPerSector)
	decimalVar("DAILY_LOSS_LIMIT", &bt.Risk.DailyLossLimit)
	decimalVar("WEEKLY_LOSS_LIMIT", &bt.Risk.WeeklyLossLimit)
	decimalVar("MAX_DRAWDOWN_PCT", &bt.Risk.MaxDrawdownPct)

	// Entry filters
	decimalVar("MIN_PRICE", &bt.Signals.MinPrice)
	decimalVar("MAX_PRICE", &bt.Signals.MaxPrice)
	decimalVar("RSI_LOWER", &bt.Signals.RSILower)
	decimalVar("RSI_UPPER", &bt.Signals.RSIUpper)
	decimalVar("MIN_VOLUME_RATIO", &bt.Signals.MinVolumeRatio)
	decimalVar("MIN_ATR", &bt.Signals.MinATR)

	// Exits
	decimalVar("STOP_LOSS_PCT", &bt.Signals.StopLossPct)
	decimalVar("TAKE_PROFIT_PCT", &bt.Signals.TakeProfitPct)
	decimalVar("TRAILING_ACTIVATION_PCT", &bt.Signals.TrailingActivationPct)
	decimalVar("TRAILING_DISTANCE_PCT", &bt.Signals.TrailingDistancePct)

	// Session clock
	clockVar("TRADING_START", &bt.Signals.TradingStart)
	clockVar("TRADING_END", &bt.Signals.TradingEnd)
	clockVar("HARD_CLOSE", &bt.Signals.HardClose)
	if tz := getEnv("EXCHANGE_TIMEZONE", "America/New_York"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid EXCHANGE_TIMEZONE: %v", err))
		} else {
			bt.Signals.Location = loc
		}
	}

	// Indicator lookbacks
	intVar("SMA_PERIOD", &bt.Indicators.SMAPeriod)
	intVar("RSI_PERIOD", &bt.Indicators.RSIPeriod)
	intVar("ATR_PERIOD", &bt.Indicators.ATRPeriod)
	intVar("VOLUME_PERIOD", &bt.Indicators.VolumePeriod)

	// Sectors
	if path := getEnv("SECTOR_MAP_PATH", ""); path != "" {
		sectors, err := LoadSectorMap(path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid SECTOR_MAP_PATH: %v", err))
		} else {
			bt.Risk.Sectors = sectors
		}
	}

	// Engine
	intVar("WORKERS", &bt.Workers)
	cfg.SchedulerEnabled = getEnvAsBool("SCHEDULER_ENABLED", false)
	bt.AutoSessionBoundaries = !cfg.SchedulerEnabled

	// Input and output
	cfg.BarPaths = splitList(getEnv("BARS_PATH", "./data/bars"))
	if len(cfg.BarPaths) == 0 {
		errs = append(errs, "BARS_PATH must be set")
	}
	cfg.OutputDir = getEnv("OUTPUT_DIR", "./results")
	cfg.RunLabel = getEnv("RUN_LABEL", "backtest")

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/backtests.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Reporting; zero periods per year infers the bar frequency.
	periods, riskFree := decimal.Zero, decimal.Zero
	decimalVar("PERIODS_PER_YEAR", &periods)
	decimalVar("RISK_FREE_RATE", &riskFree)
	if periods.IsNegative() {
		errs = append(errs, fmt.Sprintf("PERIODS_PER_YEAR must not be negative, got %s", periods))
	}
	cfg.Analytics = analytics.Options{
		PeriodsPerYear: periods.InexactFloat64(),
		RiskFreeRate:   riskFree.InexactFloat64(),
		Location:       bt.Signals.Location,
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// Component rules only make sense once every value parsed.
	if len(errs) == 0 {
		if err := bt.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: configuration validation failed: %s", ports.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return cfg, nil
}

// LoadSectorMap reads a YAML file of the form `sector: [TICKER, ...]` and
// returns a ticker to sector map. A ticker listed under two sectors is an error.
func LoadSectorMap(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bySector map[string][]string
	if err := yaml.Unmarshal(raw, &bySector); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	sectors := make([]string, 0, len(bySector))
	for s := range bySector {
		sectors = append(sectors, s)
	}
	sort.Strings(sectors)

	out := make(map[string]string)
	for _, sector := range sectors {
		for _, ticker := range bySector[sector] {
			ticker = strings.ToUpper(strings.TrimSpace(ticker))
			if prev, ok := out[ticker]; ok && prev != sector {
				return nil, fmt.Errorf("ticker %s listed under both %s and %s", ticker, prev, sector)
			}
			out[ticker] = sector
		}
	}
	return out, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimalRequired(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsTimeOfDayRequired(key string, defaultValue domain.TimeOfDay) (domain.TimeOfDay, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return domain.ParseTimeOfDay(valueStr)
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
