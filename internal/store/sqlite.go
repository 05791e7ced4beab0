package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens or creates the journal database.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer per cycle; readers are CLI commands.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	j := &SQLiteJournal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return j, nil
}

// initSchema creates all required tables and indexes.
func (j *SQLiteJournal) initSchema() error {
	schema := `
	-- One row per sync cycle
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		dry_run INTEGER DEFAULT 0,
		base_id TEXT,
		base_margin TEXT,
		status TEXT NOT NULL,
		targets INTEGER DEFAULT 0,
		orders INTEGER DEFAULT 0,
		failures INTEGER DEFAULT 0,
		fatal TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- One row per target account per cycle
	CREATE TABLE IF NOT EXISTS sync_targets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		status TEXT NOT NULL,
		skip_reason TEXT,
		margin TEXT,
		ratio TEXT,
		errors TEXT,
		FOREIGN KEY (run_id) REFERENCES sync_runs(id)
	);

	-- One row per logical trade; order_ids holds the placed chunks
	CREATE TABLE IF NOT EXISTS sync_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		exchange TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT,
		intended INTEGER,
		current_qty INTEGER,
		quantity INTEGER,
		order_ids TEXT,
		status TEXT NOT NULL,
		reason TEXT,
		error_kind TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES sync_runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_sync_targets_run ON sync_targets(run_id);
	CREATE INDEX IF NOT EXISTS idx_sync_trades_run ON sync_trades(run_id);
	CREATE INDEX IF NOT EXISTS idx_sync_trades_symbol ON sync_trades(exchange, symbol);
	`

	_, err := j.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// SaveReport journals a cycle with its targets and trades in one transaction.
func (j *SQLiteJournal) SaveReport(ctx context.Context, report *models.SyncReport) error {
	if report == nil || report.RunID == "" {
		return errors.NewValidationError("run_id", "", "report has no run id")
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	failures := 0
	for _, t := range report.Targets {
		failures += t.Failures()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_runs
		(id, started_at, finished_at, dry_run, base_id, base_margin, status, targets, orders, failures, fatal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.RunID, report.StartedAt, report.FinishedAt, boolToInt(report.DryRun), report.BaseID,
		report.BaseMargin.String(), report.Status(), len(report.Targets), report.OrdersPlaced(), failures, report.Fatal)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	targetStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_targets (run_id, account_id, status, skip_reason, margin, ratio, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare target statement: %w", err)
	}
	defer targetStmt.Close()

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_trades
		(run_id, account_id, kind, exchange, symbol, side, intended, current_qty, quantity, order_ids, status, reason, error_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare trade statement: %w", err)
	}
	defer tradeStmt.Close()

	for _, t := range report.Targets {
		errs, _ := json.Marshal(t.Errors)
		if _, err := targetStmt.ExecContext(ctx, report.RunID, t.AccountID, string(t.Status), t.SkipReason,
			t.Margin.String(), t.Ratio.String(), string(errs)); err != nil {
			return fmt.Errorf("failed to insert target %s: %w", t.AccountID, err)
		}

		for _, tr := range t.Trades {
			ids, _ := json.Marshal(tr.OrderIDs)
			if _, err := tradeStmt.ExecContext(ctx, report.RunID, t.AccountID, string(tr.Kind), string(tr.Exchange),
				tr.Symbol, string(tr.Side), tr.Intended, tr.Current, tr.Quantity, string(ids),
				string(tr.Status), tr.Reason, tr.ErrorKind, report.FinishedAt); err != nil {
				return fmt.Errorf("failed to insert trade %s: %w", tr.Symbol, err)
			}
		}
	}

	return tx.Commit()
}

// RecentRuns lists runs newest first.
func (j *SQLiteJournal) RecentRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error) {
	query := `SELECT id, started_at, finished_at, dry_run, base_id, status, targets, orders, failures, fatal
		FROM sync_runs WHERE 1=1`
	var args []interface{}

	if !filter.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, filter.Since)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id.
func (j *SQLiteJournal) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	row := j.db.QueryRowContext(ctx, `SELECT id, started_at, finished_at, dry_run, base_id, status, targets, orders, failures, fatal
		FROM sync_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (RunSummary, error) {
	var run RunSummary
	var dryRun int
	var baseID, fatal sql.NullString
	if err := s.Scan(&run.RunID, &run.StartedAt, &run.FinishedAt, &dryRun, &baseID,
		&run.Status, &run.Targets, &run.Orders, &run.Failures, &fatal); err != nil {
		return run, err
	}
	run.DryRun = dryRun == 1
	run.BaseID = baseID.String
	run.Fatal = fatal.String
	return run, nil
}

const tradeColumns = `run_id, account_id, kind, exchange, symbol, side, intended, current_qty, quantity,
	order_ids, status, reason, error_kind, created_at`

// Trades returns the trades of a run in journal order.
func (j *SQLiteJournal) Trades(ctx context.Context, runID string) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT `+tradeColumns+` FROM sync_trades WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		tr, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// FindOrder returns the trade that placed orderID, newest first.
func (j *SQLiteJournal) FindOrder(ctx context.Context, orderID string) (*TradeRecord, error) {
	needle := `%"` + strings.ReplaceAll(orderID, `"`, "") + `"%`
	row := j.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM sync_trades
		WHERE order_ids LIKE ? ORDER BY id DESC LIMIT 1`, needle)
	tr, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrOrderNotFound, "order %s not in journal", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func scanTrade(s scanner) (TradeRecord, error) {
	var tr TradeRecord
	var kind, exchange, side, status string
	var ids, reason, errKind sql.NullString
	if err := s.Scan(&tr.RunID, &tr.AccountID, &kind, &exchange, &tr.Symbol, &side, &tr.Intended,
		&tr.Current, &tr.Quantity, &ids, &status, &reason, &errKind, &tr.CreatedAt); err != nil {
		return tr, err
	}
	tr.Kind = models.TradeKind(kind)
	tr.Exchange = models.Exchange(exchange)
	tr.Side = models.OrderSide(side)
	tr.Status = models.TradeStatus(status)
	tr.Reason = reason.String
	tr.ErrorKind = errKind.String
	if ids.Valid && ids.String != "" {
		_ = json.Unmarshal([]byte(ids.String), &tr.OrderIDs)
	}
	return tr, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Journal = (*SQLiteJournal)(nil)
