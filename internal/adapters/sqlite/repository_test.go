package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intradayBot/internal/domain"
	"intradayBot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "nested", "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createRun(t *testing.T, repo *Repository) string {
	t.Helper()
	id, err := repo.CreateRun(context.Background(), &ports.RunRecord{Label: "test", FinalEquity: "10000"})
	require.NoError(t, err)
	return id
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestRepository_CreateAndFindRun(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	run := &ports.RunRecord{
		Label:        "march",
		ConfigDigest: "abc123",
		StartedAt:    1709562600,
		FinishedAt:   1709821800,
		TotalTrades:  7,
		FinalEquity:  "10123.4567",
		Halted:       true,
		HaltReason:   "max drawdown reached (0.15)",
		Summary:      `{"total_trades":7}`,
	}
	id, err := repo.CreateRun(ctx, run)
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.Equal(t, id, run.ID)

	got, err := repo.FindRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, run, got)

	missing, err := repo.FindRun(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	_, err = repo.CreateRun(ctx, &ports.RunRecord{ID: id, FinalEquity: "1"})
	assert.True(t, errors.Is(err, ports.ErrUpdateFailed))

	_, err = repo.CreateRun(ctx, nil)
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))
}

func TestRepository_TradesRoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	runID := createRun(t, repo)

	loc := time.FixedZone("EST", -5*3600)
	trades := []*domain.Trade{
		{
			ID: 1, Ticker: "AAPL", Sector: "tech",
			EntryTime: time.Date(2024, 3, 4, 10, 0, 0, 0, loc), ExitTime: time.Date(2024, 3, 4, 10, 25, 0, 0, loc),
			EntryPrice: d("100.05"), ExitPrice: d("98.85055"),
			EntryReference: d("100"), ExitReference: d("98.9"), Shares: 9,
			GrossPNL: d("-9.9"), NetPNL: d("-10.79505"), PNLPercent: d("-0.0119885057471264"),
			Commission: d("1"), Slippage: d("0.89505"), ExitReason: domain.ExitReasonStopLoss,
		},
		{
			ID: 2, Ticker: "MSFT", Sector: "",
			EntryTime: time.Date(2024, 3, 4, 11, 0, 0, 0, loc), ExitTime: time.Date(2024, 3, 4, 15, 55, 0, 0, loc),
			EntryPrice: d("400.2"), ExitPrice: d("405.1"),
			EntryReference: d("400"), ExitReference: d("405.3"), Shares: 2,
			GrossPNL: d("10.6"), NetPNL: d("9.8"), PNLPercent: d("0.0122"),
			Commission: decimal.Zero, Slippage: d("0.8"), ExitReason: domain.ExitReasonTimeStop,
		},
	}
	require.NoError(t, repo.SaveTrades(ctx, runID, trades))

	got, err := repo.FindTrades(ctx, runID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range trades {
		want, have := trades[i], got[i]
		assert.Equal(t, want.ID, have.ID)
		assert.Equal(t, want.Ticker, have.Ticker)
		assert.Equal(t, want.Sector, have.Sector)
		assert.True(t, want.EntryTime.Equal(have.EntryTime))
		assert.True(t, want.ExitTime.Equal(have.ExitTime))
		assert.True(t, want.NetPNL.Equal(have.NetPNL), "net pnl %s", have.NetPNL)
		assert.True(t, want.PNLPercent.Equal(have.PNLPercent))
		assert.True(t, want.Slippage.Equal(have.Slippage))
		assert.Equal(t, want.Shares, have.Shares)
		assert.Equal(t, want.ExitReason, have.ExitReason)
	}
	assert.Equal(t, "-0500", got[0].EntryTime.Format("-0700"))

	none, err := repo.FindTrades(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)

	// duplicate sequence numbers roll the whole batch back
	err = repo.SaveTrades(ctx, runID, trades[1:])
	assert.True(t, errors.Is(err, ports.ErrUpdateFailed))
	got, err = repo.FindTrades(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRepository_EquityRoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	runID := createRun(t, repo)

	start := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	points := []domain.EquityPoint{
		{Timestamp: start, Equity: d("10000"), Cash: d("10000"), PositionValue: decimal.Zero, Drawdown: decimal.Zero},
		{Timestamp: start.Add(5 * time.Minute), Equity: d("9990.5"), Cash: d("9099.55"), PositionValue: d("890.95"), Drawdown: d("0.00095"), OpenPositions: 1},
	}
	require.NoError(t, repo.SaveEquity(ctx, runID, points))
	require.NoError(t, repo.SaveEquity(ctx, runID, nil))

	got, err := repo.FindEquity(ctx, runID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Timestamp.Equal(points[1].Timestamp))
	assert.True(t, got[1].Equity.Equal(points[1].Equity))
	assert.True(t, got[1].Cash.Equal(points[1].Cash))
	assert.True(t, got[1].PositionValue.Equal(points[1].PositionValue))
	assert.True(t, got[1].Drawdown.Equal(points[1].Drawdown))
	assert.Equal(t, 1, got[1].OpenPositions)
}

func TestRepository_RejectionsRoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	runID := createRun(t, repo)

	ts := time.Date(2024, 3, 4, 10, 5, 0, 0, time.UTC)
	rejected := []domain.RejectedSignal{
		{Ticker: "F", Timestamp: ts, Kind: domain.SignalEnterLong, Price: d("12.34"), Reason: domain.RejectMaxConcurrent},
		{Ticker: "GM", Timestamp: ts, Kind: domain.SignalEnterLong, Price: d("40"), Reason: domain.RejectHalted},
	}
	require.NoError(t, repo.SaveRejections(ctx, runID, rejected))

	got, err := repo.FindRejections(ctx, runID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "F", got[0].Ticker)
	assert.Equal(t, domain.RejectMaxConcurrent, got[0].Reason)
	assert.Equal(t, domain.SignalEnterLong, got[1].Kind)
	assert.True(t, got[0].Price.Equal(d("12.34")))
	assert.True(t, got[1].Timestamp.Equal(ts))
}

func TestRepository_UnknownRunViolatesForeignKey(t *testing.T) {
	repo := setupTestDB(t)
	err := repo.SaveRejections(context.Background(), "missing", []domain.RejectedSignal{
		{Ticker: "F", Timestamp: time.Now(), Kind: domain.SignalEnterLong, Price: d("1"), Reason: domain.RejectHalted},
	})
	assert.True(t, errors.Is(err, ports.ErrUpdateFailed))
}
