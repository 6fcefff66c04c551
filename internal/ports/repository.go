package ports

import (
	"context"

	"intradayBot/internal/domain"
)

// RunRecord summarizes one persisted simulation run.
type RunRecord struct {
	ID           string
	Label        string
	ConfigDigest string // Hash of the run configuration
	StartedAt    int64  // Unix seconds of the first tick
	FinishedAt   int64  // Unix seconds of the last tick
	TotalTrades  int
	FinalEquity  string // Decimal string
	Halted       bool
	HaltReason   string
	Summary      string // JSON-encoded performance summary
}

// ResultRepository persists simulation output handed over by the core.
type ResultRepository interface {
	// CreateRun saves a run header and returns its assigned ID.
	CreateRun(ctx context.Context, run *RunRecord) (string, error)
	// SaveTrades appends the trade ledger of a run.
	SaveTrades(ctx context.Context, runID string, trades []*domain.Trade) error
	// SaveEquity appends the equity series of a run.
	SaveEquity(ctx context.Context, runID string, points []domain.EquityPoint) error
	// SaveRejections appends the rejected-signal events of a run.
	SaveRejections(ctx context.Context, runID string, rejected []domain.RejectedSignal) error
	// FindRun retrieves a run header by ID. Returns nil, nil if not found.
	FindRun(ctx context.Context, runID string) (*RunRecord, error)
	// FindTrades retrieves the ledger of a run in ledger order.
	FindTrades(ctx context.Context, runID string) ([]*domain.Trade, error)
	// FindEquity retrieves the equity series of a run in tick order.
	FindEquity(ctx context.Context, runID string) ([]domain.EquityPoint, error)
	// FindRejections retrieves the rejected signals of a run in event order.
	FindRejections(ctx context.Context, runID string) ([]domain.RejectedSignal, error)
}
