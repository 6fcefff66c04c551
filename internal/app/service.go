package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"intradayBot/config"
	"intradayBot/internal/ports"
	"intradayBot/internal/scheduler"
	"intradayBot/internal/strategy/analytics"
	"intradayBot/internal/strategy/backtesting"
	"intradayBot/internal/utils"
)

// Report is the outcome of one service run.
type Report struct {
	RunID   string
	Result  *backtesting.BacktestResult
	Metrics *analytics.PerformanceMetrics
}

// BacktestService loads bars, runs the simulation engine, persists the
// results and reports performance.
type BacktestService struct {
	cfg    *config.Config
	logger ports.Logger
	source ports.BarSource
	repo   ports.ResultRepository
	engine *backtesting.Engine
}

// NewBacktestService creates a new application service instance.
func NewBacktestService(
	cfg *config.Config,
	logger ports.Logger,
	source ports.BarSource,
	repo ports.ResultRepository,
) (*BacktestService, error) {
	if cfg == nil || logger == nil || source == nil || repo == nil {
		return nil, fmt.Errorf("missing required dependencies for BacktestService")
	}

	engine, err := backtesting.NewEngine(cfg.Backtest, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &BacktestService{
		cfg:    cfg,
		logger: logger,
		source: source,
		repo:   repo,
		engine: engine,
	}, nil
}

// Engine exposes the engine's operator controls.
func (s *BacktestService) Engine() *backtesting.Engine {
	return s.engine
}

// Run executes one simulation. SIGINT and SIGTERM trip the kill switch: the
// engine halts, finishes the current tick and the partial results are still
// persisted.
func (s *BacktestService) Run(ctx context.Context) (*Report, error) {
	ctx = ports.WithLogFields(ctx, map[string]interface{}{"run": s.cfg.RunLabel})
	s.logger.Info(ctx, "Starting Backtest Service...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	defer func() {
		signal.Stop(sigCh)
		close(done)
	}()
	go func() {
		select {
		case sig := <-sigCh:
			s.handleSignal(ctx, sig)
		case <-done:
		}
	}()

	if s.cfg.SchedulerEnabled {
		sched, err := scheduler.NewScheduler(scheduler.DefaultConfig(s.cfg.Backtest.Signals.Location), s.engine, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create scheduler: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	bars, err := s.source.LoadBars(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load bars")
		return nil, fmt.Errorf("failed to load bars: %w", err)
	}

	result, err := s.engine.Run(ctx, bars)
	if err != nil {
		s.logger.Error(ctx, err, "Backtest aborted")
		return nil, fmt.Errorf("backtest failed: %w", err)
	}
	if result.Stopped {
		s.logger.Warn(ctx, "Backtest stopped early", map[string]interface{}{"reason": result.StopReason, "ticks": result.Ticks})
	}

	metrics := analytics.AnalyzePerformance(result.Trades, result.Equity, result.StartingCapital, s.cfg.Analytics)

	runID, err := s.persist(ctx, result, metrics)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to persist results")
		return nil, err
	}
	if err := s.export(runID, result); err != nil {
		s.logger.Error(ctx, err, "Failed to export results")
		return nil, err
	}

	fields := metrics.Summary()
	fields["run_id"] = runID
	fields["halted"] = result.RiskStatus.Halted
	s.logger.Info(ctx, "Backtest complete", fields)

	return &Report{RunID: runID, Result: result, Metrics: metrics}, nil
}

func (s *BacktestService) handleSignal(ctx context.Context, sig os.Signal) {
	s.logger.Warn(ctx, "Received shutdown signal, killing run", map[string]interface{}{"signal": sig.String()})
	s.engine.Kill("operator signal " + sig.String())
}

func (s *BacktestService) persist(ctx context.Context, result *backtesting.BacktestResult, metrics *analytics.PerformanceMetrics) (string, error) {
	summary, err := json.Marshal(metrics.Summary())
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	digest, err := configDigest(s.cfg.Backtest)
	if err != nil {
		return "", err
	}

	run := &ports.RunRecord{
		Label:        s.cfg.RunLabel,
		ConfigDigest: digest,
		TotalTrades:  len(result.Trades),
		FinalEquity:  result.FinalEquity.String(),
		Halted:       result.RiskStatus.Halted,
		HaltReason:   result.RiskStatus.HaltReason,
		Summary:      string(summary),
	}
	if n := len(result.Equity); n > 0 {
		run.StartedAt = result.Equity[0].Timestamp.Unix()
		run.FinishedAt = result.Equity[n-1].Timestamp.Unix()
	}

	runID, err := s.repo.CreateRun(ctx, run)
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}
	if err := s.repo.SaveTrades(ctx, runID, result.Trades); err != nil {
		return "", fmt.Errorf("failed to save trades: %w", err)
	}
	if err := s.repo.SaveEquity(ctx, runID, result.Equity); err != nil {
		return "", fmt.Errorf("failed to save equity: %w", err)
	}
	if err := s.repo.SaveRejections(ctx, runID, result.Rejected); err != nil {
		return "", fmt.Errorf("failed to save rejections: %w", err)
	}
	return runID, nil
}

func (s *BacktestService) export(runID string, result *backtesting.BacktestResult) error {
	if s.cfg.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory '%s': %w", s.cfg.OutputDir, err)
	}
	if err := utils.WriteTradesToCSV(result.Trades, filepath.Join(s.cfg.OutputDir, "trades_"+runID+".csv")); err != nil {
		return fmt.Errorf("failed to write trades: %w", err)
	}
	if err := utils.WriteEquityToCSV(result.Equity, filepath.Join(s.cfg.OutputDir, "equity_"+runID+".csv")); err != nil {
		return fmt.Errorf("failed to write equity: %w", err)
	}
	return nil
}

// configDigest hashes every setting that influences the simulation.
func configDigest(cfg backtesting.BacktestConfig) (string, error) {
	if cfg.Signals.Location == nil {
		return "", errors.New("exchange location is required")
	}
	raw, err := json.Marshal(struct {
		Config   backtesting.BacktestConfig
		Location string
	}{cfg, cfg.Signals.Location.String()})
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
