package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLite creates a SQLite-backed journal at path.
func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &SQLiteJournal{db: db}

	// Run migrations
	if err := j.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return j, nil
}

// Migrate runs database migrations.
func (j *SQLiteJournal) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			venue TEXT NOT NULL,
			filled_qty TEXT NOT NULL,
			avg_price TEXT NOT NULL,
			fees TEXT NOT NULL DEFAULT '0',
			realized_pnl TEXT NOT NULL DEFAULT '0',
			status INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 1,
			trust_score REAL NOT NULL DEFAULT 0,
			risk_gate_ns INTEGER NOT NULL DEFAULT 0,
			scheduling_ns INTEGER NOT NULL DEFAULT 0,
			routing_ns INTEGER NOT NULL DEFAULT 0,
			total_ns INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_order_id ON executions(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_symbol ON executions(symbol, created_at)`,

		`CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fill_id TEXT,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			size TEXT NOT NULL,
			price TEXT NOT NULL,
			venue TEXT,
			strategy_id TEXT,
			is_fill INTEGER NOT NULL DEFAULT 1,
			filled_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_order_id ON fills(order_id)`,

		`CREATE TABLE IF NOT EXISTS trust_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			venue TEXT NOT NULL,
			score REAL NOT NULL,
			delta REAL NOT NULL,
			reason TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trust_events_venue ON trust_events(venue, created_at)`,
	}

	for _, migration := range migrations {
		if _, err := j.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// RecordExecution persists one routed order's outcome.
func (j *SQLiteJournal) RecordExecution(ctx context.Context, rec ExecutionRecord) error {
	query := `INSERT INTO executions
		(id, order_id, agent_id, symbol, side, venue, filled_qty, avg_price, fees, realized_pnl,
		 status, attempts, trust_score, risk_gate_ns, scheduling_ns, routing_ns, total_ns, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		rec.ID,
		rec.OrderID,
		rec.AgentID,
		rec.Symbol,
		rec.Side,
		rec.Venue,
		rec.FilledQty.String(),
		rec.AvgPrice.String(),
		rec.Fees.String(),
		rec.RealizedPnL.String(),
		rec.Status,
		rec.Attempts,
		rec.TrustScore,
		int64(rec.Latency.RiskGate),
		int64(rec.Latency.Scheduling),
		int64(rec.Latency.Routing),
		int64(rec.Latency.Total),
		rec.ErrorMessage,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	return nil
}

// RecordFill persists one fill event.
func (j *SQLiteJournal) RecordFill(ctx context.Context, fill types.Fill) error {
	query := `INSERT INTO fills (fill_id, order_id, symbol, side, size, price, venue, strategy_id, is_fill, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		fill.FillID,
		fill.OrderID,
		fill.Symbol,
		fill.Side,
		fill.Size.String(),
		fill.Price.String(),
		fill.Venue,
		fill.StrategyID,
		boolToInt(fill.IsFill),
		fill.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}

	return nil
}

// RecordTrustEvent persists one venue trust movement.
func (j *SQLiteJournal) RecordTrustEvent(ctx context.Context, event TrustEvent) error {
	query := `INSERT INTO trust_events (venue, score, delta, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx, query, event.Venue, event.Score, event.Delta, event.Reason, createdAt)
	if err != nil {
		return fmt.Errorf("insert trust event: %w", err)
	}

	return nil
}

const executionColumns = `id, order_id, agent_id, symbol, side, venue, filled_qty, avg_price, fees, realized_pnl,
	status, attempts, trust_score, risk_gate_ns, scheduling_ns, routing_ns, total_ns, error_message, created_at`

// Executions returns executions in a time range, oldest first.
func (j *SQLiteJournal) Executions(ctx context.Context, from, to time.Time) ([]ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions WHERE created_at BETWEEN ? AND ? ORDER BY created_at`

	rows, err := j.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return j.scanExecutions(rows)
}

// ExecutionsBySymbol returns the most recent executions for a symbol.
func (j *SQLiteJournal) ExecutionsBySymbol(ctx context.Context, symbol string, limit int) ([]ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions WHERE symbol = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions by symbol: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return j.scanExecutions(rows)
}

func (j *SQLiteJournal) scanExecutions(rows *sql.Rows) ([]ExecutionRecord, error) {
	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var filledQty, avgPrice, fees, realizedPnL string
		var riskGateNS, schedulingNS, routingNS, totalNS int64
		var errorMessage sql.NullString

		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.AgentID, &rec.Symbol, &rec.Side, &rec.Venue,
			&filledQty, &avgPrice, &fees, &realizedPnL,
			&rec.Status, &rec.Attempts, &rec.TrustScore,
			&riskGateNS, &schedulingNS, &routingNS, &totalNS,
			&errorMessage, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rec.FilledQty, _ = decimal.NewFromString(filledQty)
		rec.AvgPrice, _ = decimal.NewFromString(avgPrice)
		rec.Fees, _ = decimal.NewFromString(fees)
		rec.RealizedPnL, _ = decimal.NewFromString(realizedPnL)
		rec.Latency = types.LatencyBreakdown{
			RiskGate:   time.Duration(riskGateNS),
			Scheduling: time.Duration(schedulingNS),
			Routing:    time.Duration(routingNS),
			Total:      time.Duration(totalNS),
		}
		rec.ErrorMessage = errorMessage.String

		records = append(records, rec)
	}

	return records, rows.Err()
}

// FillsForOrder returns an order's fills, oldest first.
func (j *SQLiteJournal) FillsForOrder(ctx context.Context, orderID string) ([]types.Fill, error) {
	query := `SELECT fill_id, order_id, symbol, side, size, price, venue, strategy_id, is_fill, filled_at
		FROM fills WHERE order_id = ? ORDER BY filled_at, id`

	rows, err := j.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var fills []types.Fill
	for rows.Next() {
		var f types.Fill
		var size, price string
		var fillID, venueName, strategyID sql.NullString
		var isFill int

		if err := rows.Scan(&fillID, &f.OrderID, &f.Symbol, &f.Side, &size, &price, &venueName, &strategyID, &isFill, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		f.Size, _ = decimal.NewFromString(size)
		f.Price, _ = decimal.NewFromString(price)
		f.FillID = fillID.String
		f.Venue = venueName.String
		f.StrategyID = strategyID.String
		f.IsFill = isFill == 1

		fills = append(fills, f)
	}

	return fills, rows.Err()
}

// ExecutionStats aggregates execution outcomes in a time range.
func (j *SQLiteJournal) ExecutionStats(ctx context.Context, from, to time.Time) (Stats, error) {
	query := `SELECT status, filled_qty, fees, realized_pnl
		FROM executions WHERE created_at BETWEEN ? AND ?`

	rows, err := j.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("query execution stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := Stats{
		TotalFilledQty:   decimal.Zero,
		TotalFees:        decimal.Zero,
		TotalRealizedPnL: decimal.Zero,
	}
	for rows.Next() {
		var status types.ExecStatus
		var filledQty, fees, realizedPnL string

		if err := rows.Scan(&status, &filledQty, &fees, &realizedPnL); err != nil {
			return Stats{}, fmt.Errorf("scan row: %w", err)
		}

		stats.Executions++
		switch status {
		case types.ExecStatusCompleted:
			stats.Completed++
		case types.ExecStatusPartial:
			stats.Partial++
		case types.ExecStatusRejected:
			stats.Rejected++
		case types.ExecStatusFailed:
			stats.Failed++
		}

		qty, _ := decimal.NewFromString(filledQty)
		fee, _ := decimal.NewFromString(fees)
		pnl, _ := decimal.NewFromString(realizedPnL)
		stats.TotalFilledQty = stats.TotalFilledQty.Add(qty)
		stats.TotalFees = stats.TotalFees.Add(fee)
		stats.TotalRealizedPnL = stats.TotalRealizedPnL.Add(pnl)
	}

	return stats, rows.Err()
}

// LatestTrust returns the last recorded trust score per venue.
func (j *SQLiteJournal) LatestTrust(ctx context.Context) (map[string]float64, error) {
	query := `SELECT venue, score FROM trust_events
		WHERE id IN (SELECT MAX(id) FROM trust_events GROUP BY venue)`

	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query latest trust: %w", err)
	}
	defer func() { _ = rows.Close() }()

	trust := make(map[string]float64)
	for rows.Next() {
		var venueName string
		var score float64
		if err := rows.Scan(&venueName, &score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		trust[venueName] = score
	}

	return trust, rows.Err()
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Journal = (*SQLiteJournal)(nil)
