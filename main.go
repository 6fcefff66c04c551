package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"intradayBot/config"
	"intradayBot/internal/adapters/logger"
	"intradayBot/internal/adapters/sqlite"
	"intradayBot/internal/app"
	"intradayBot/internal/utils"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Bar Source (CSV Adapter)
	source := utils.CSVBarSource{
		Paths:    cfg.BarPaths,
		Location: cfg.Backtest.Signals.Location,
	}

	// 5. Initialize Application Service
	svc, err := app.NewBacktestService(cfg, appLogger, source, repo)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize backtest service")
		log.Fatalf("FATAL: Failed to initialize backtest service: %v", err)
	}

	// 6. Run
	report, err := svc.Run(context.Background())
	if err != nil {
		appLogger.Error(context.Background(), err, "Backtest service exited with error")
		log.Fatalf("FATAL: Backtest service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.", map[string]interface{}{"run_id": report.RunID})
}
