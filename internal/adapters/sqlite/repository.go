package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"intradayBot/internal/domain"
	"intradayBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.ResultRepository using SQLite.
// Decimal values and timestamps are stored as TEXT so they round-trip exactly.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/backtests.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("%w: open '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: ping '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		config_digest TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		total_trades INTEGER NOT NULL,
		final_equity TEXT NOT NULL,
		halted INTEGER NOT NULL,
		halt_reason TEXT NOT NULL,
		summary TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS trades (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		ticker TEXT NOT NULL,
		sector TEXT NOT NULL,
		entry_time TEXT NOT NULL,
		exit_time TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price TEXT NOT NULL,
		entry_reference TEXT NOT NULL,
		exit_reference TEXT NOT NULL,
		shares INTEGER NOT NULL,
		gross_pnl TEXT NOT NULL,
		net_pnl TEXT NOT NULL,
		pnl_percent TEXT NOT NULL,
		commission TEXT NOT NULL,
		slippage TEXT NOT NULL,
		exit_reason TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS equity (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		ts TEXT NOT NULL,
		equity TEXT NOT NULL,
		cash TEXT NOT NULL,
		position_value TEXT NOT NULL,
		drawdown TEXT NOT NULL,
		open_positions INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS rejections (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		ticker TEXT NOT NULL,
		ts TEXT NOT NULL,
		kind TEXT NOT NULL,
		price TEXT NOT NULL,
		reason TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_trades_run_ticker ON trades (run_id, ticker);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// CreateRun saves a run header. A new UUID is assigned when run.ID is empty.
func (r *Repository) CreateRun(ctx context.Context, run *ports.RunRecord) (string, error) {
	if run == nil {
		return "", fmt.Errorf("%w: nil run", ports.ErrInvalidRequest)
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	const query = `
	INSERT INTO runs (id, label, config_digest, started_at, finished_at, total_trades,
	                  final_equity, halted, halt_reason, summary)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.Label, run.ConfigDigest, run.StartedAt, run.FinishedAt, run.TotalTrades,
		run.FinalEquity, run.Halted, run.HaltReason, run.Summary)
	if err != nil {
		return "", fmt.Errorf("%w: insert run %s: %v", ports.ErrUpdateFailed, run.ID, err)
	}
	r.logger.Debug(ctx, "Run created", map[string]interface{}{"runID": run.ID, "label": run.Label})
	return run.ID, nil
}

// SaveTrades appends the trade ledger of a run in one transaction.
func (r *Repository) SaveTrades(ctx context.Context, runID string, trades []*domain.Trade) error {
	const query = `
	INSERT INTO trades (run_id, seq, ticker, sector, entry_time, exit_time, entry_price, exit_price,
	                    entry_reference, exit_reference, shares, gross_pnl, net_pnl, pnl_percent,
	                    commission, slippage, exit_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return r.batch(ctx, "trades", query, len(trades), func(stmt *sql.Stmt, i int) error {
		t := trades[i]
		_, err := stmt.ExecContext(ctx, runID, t.ID, t.Ticker, t.Sector,
			formatTime(t.EntryTime), formatTime(t.ExitTime),
			t.EntryPrice.String(), t.ExitPrice.String(),
			t.EntryReference.String(), t.ExitReference.String(), t.Shares,
			t.GrossPNL.String(), t.NetPNL.String(), t.PNLPercent.String(),
			t.Commission.String(), t.Slippage.String(), string(t.ExitReason))
		return err
	})
}

// SaveEquity appends the equity series of a run in one transaction.
func (r *Repository) SaveEquity(ctx context.Context, runID string, points []domain.EquityPoint) error {
	const query = `
	INSERT INTO equity (run_id, seq, ts, equity, cash, position_value, drawdown, open_positions)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	return r.batch(ctx, "equity", query, len(points), func(stmt *sql.Stmt, i int) error {
		p := points[i]
		_, err := stmt.ExecContext(ctx, runID, i, formatTime(p.Timestamp),
			p.Equity.String(), p.Cash.String(), p.PositionValue.String(), p.Drawdown.String(),
			p.OpenPositions)
		return err
	})
}

// SaveRejections appends the rejected-signal events of a run in one transaction.
func (r *Repository) SaveRejections(ctx context.Context, runID string, rejected []domain.RejectedSignal) error {
	const query = `
	INSERT INTO rejections (run_id, seq, ticker, ts, kind, price, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	return r.batch(ctx, "rejections", query, len(rejected), func(stmt *sql.Stmt, i int) error {
		rs := rejected[i]
		_, err := stmt.ExecContext(ctx, runID, i, rs.Ticker, formatTime(rs.Timestamp),
			string(rs.Kind), rs.Price.String(), string(rs.Reason))
		return err
	})
}

func (r *Repository) batch(ctx context.Context, table, query string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin %s batch: %v", ports.ErrUpdateFailed, table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: prepare %s insert: %v", ports.ErrUpdateFailed, table, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return fmt.Errorf("%w: insert into %s (row %d): %v", ports.ErrUpdateFailed, table, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit %s batch: %v", ports.ErrUpdateFailed, table, err)
	}
	r.logger.Debug(ctx, "Rows saved", map[string]interface{}{"table": table, "rows": n})
	return nil
}

// FindRun retrieves a run header by ID. Returns nil, nil if not found.
func (r *Repository) FindRun(ctx context.Context, runID string) (*ports.RunRecord, error) {
	const query = `
	SELECT id, label, config_digest, started_at, finished_at, total_trades,
	       final_equity, halted, halt_reason, summary
	FROM runs WHERE id = ?`

	run := &ports.RunRecord{}
	err := r.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.Label, &run.ConfigDigest, &run.StartedAt, &run.FinishedAt, &run.TotalTrades,
		&run.FinalEquity, &run.Halted, &run.HaltReason, &run.Summary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Run not found", map[string]interface{}{"runID": runID})
			return nil, nil
		}
		return nil, fmt.Errorf("%w: run %s: %v", ports.ErrQueryFailed, runID, err)
	}
	return run, nil
}

// FindTrades retrieves the ledger of a run in ledger order.
func (r *Repository) FindTrades(ctx context.Context, runID string) ([]*domain.Trade, error) {
	const query = `
	SELECT seq, ticker, sector, entry_time, exit_time, entry_price, exit_price,
	       entry_reference, exit_reference, shares, gross_pnl, net_pnl, pnl_percent,
	       commission, slippage, exit_reason
	FROM trades WHERE run_id = ? ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: trades for run %s: %v", ports.ErrQueryFailed, runID, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan trade: %v", ports.ErrQueryFailed, err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate trades: %v", ports.ErrQueryFailed, err)
	}
	return trades, nil
}

// FindEquity retrieves the equity series of a run in tick order.
func (r *Repository) FindEquity(ctx context.Context, runID string) ([]domain.EquityPoint, error) {
	const query = `
	SELECT ts, equity, cash, position_value, drawdown, open_positions
	FROM equity WHERE run_id = ? ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: equity for run %s: %v", ports.ErrQueryFailed, runID, err)
	}
	defer rows.Close()

	points := make([]domain.EquityPoint, 0)
	for rows.Next() {
		var ts, equity, cash, value, drawdown string
		var p domain.EquityPoint
		if err := rows.Scan(&ts, &equity, &cash, &value, &drawdown, &p.OpenPositions); err != nil {
			return nil, fmt.Errorf("%w: scan equity point: %v", ports.ErrQueryFailed, err)
		}
		d := decoder{}
		p.Timestamp = d.time(ts)
		p.Equity = d.decimal(equity)
		p.Cash = d.decimal(cash)
		p.PositionValue = d.decimal(value)
		p.Drawdown = d.decimal(drawdown)
		if d.err != nil {
			return nil, fmt.Errorf("%w: decode equity point: %v", ports.ErrQueryFailed, d.err)
		}
		points = append(points, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate equity: %v", ports.ErrQueryFailed, err)
	}
	return points, nil
}

// FindRejections retrieves the rejected signals of a run in event order.
func (r *Repository) FindRejections(ctx context.Context, runID string) ([]domain.RejectedSignal, error) {
	const query = `
	SELECT ticker, ts, kind, price, reason
	FROM rejections WHERE run_id = ? ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: rejections for run %s: %v", ports.ErrQueryFailed, runID, err)
	}
	defer rows.Close()

	out := make([]domain.RejectedSignal, 0)
	for rows.Next() {
		var ts, kind, price, reason string
		var rs domain.RejectedSignal
		if err := rows.Scan(&rs.Ticker, &ts, &kind, &price, &reason); err != nil {
			return nil, fmt.Errorf("%w: scan rejection: %v", ports.ErrQueryFailed, err)
		}
		d := decoder{}
		rs.Timestamp = d.time(ts)
		rs.Price = d.decimal(price)
		if d.err != nil {
			return nil, fmt.Errorf("%w: decode rejection: %v", ports.ErrQueryFailed, d.err)
		}
		rs.Kind = domain.SignalKind(kind)
		rs.Reason = domain.RejectReason(reason)
		out = append(out, rs)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rejections: %v", ports.ErrQueryFailed, err)
	}
	return out, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var entryTime, exitTime, entryPrice, exitPrice, entryRef, exitRef string
	var gross, net, pct, commission, slippage, reason string
	err := s.Scan(&t.ID, &t.Ticker, &t.Sector, &entryTime, &exitTime, &entryPrice, &exitPrice,
		&entryRef, &exitRef, &t.Shares, &gross, &net, &pct, &commission, &slippage, &reason)
	if err != nil {
		return nil, err
	}
	d := decoder{}
	t.EntryTime = d.time(entryTime)
	t.ExitTime = d.time(exitTime)
	t.EntryPrice = d.decimal(entryPrice)
	t.ExitPrice = d.decimal(exitPrice)
	t.EntryReference = d.decimal(entryRef)
	t.ExitReference = d.decimal(exitRef)
	t.GrossPNL = d.decimal(gross)
	t.NetPNL = d.decimal(net)
	t.PNLPercent = d.decimal(pct)
	t.Commission = d.decimal(commission)
	t.Slippage = d.decimal(slippage)
	t.ExitReason = domain.ExitReason(reason)
	return t, d.err
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// decoder parses TEXT columns and keeps the first error.
type decoder struct {
	err error
}

func (d *decoder) decimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

func (d *decoder) time(s string) time.Time {
	v, err := time.Parse(time.RFC3339Nano, s)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}
