// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, dbErr("failed to open database", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, dbErr("failed to initialize schema", err)
	}
	return store, nil
}

// dbErr wraps a driver error so callers can match ErrDatabaseError.
func dbErr(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, errors.ErrDatabaseError, err)
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Option positions, one row per position, updated on transition
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		kind TEXT NOT NULL,
		strike REAL NOT NULL,
		expiry DATETIME NOT NULL,
		quantity INTEGER NOT NULL,
		multiplier INTEGER NOT NULL,
		entry_premium REAL NOT NULL,
		entry_volatility REAL NOT NULL,
		entry_spot REAL NOT NULL,
		entry_time DATETIME NOT NULL,
		status TEXT NOT NULL,
		closed_at DATETIME,
		close_price REAL,
		close_spot REAL,
		greeks TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Hedge executions, append-only
	CREATE TABLE IF NOT EXISTS hedges (
		id TEXT PRIMARY KEY,
		position_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		shares REAL NOT NULL,
		price REAL NOT NULL,
		cost REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		position_delta REAL NOT NULL,
		delta_before REAL NOT NULL,
		delta_after REAL NOT NULL,
		kind TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (position_id) REFERENCES positions(id)
	);

	-- P&L time series, append-only; empty position_id is portfolio-level
	CREATE TABLE IF NOT EXISTS pnl_snapshots (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		position_id TEXT NOT NULL DEFAULT '',
		option_value REAL NOT NULL,
		hedge_value REAL NOT NULL,
		transaction_cost REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		unrealized_pnl REAL NOT NULL,
		total_pnl REAL NOT NULL,
		delta REAL NOT NULL,
		gamma REAL NOT NULL,
		vega REAL NOT NULL,
		theta REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Risk limit breaches
	CREATE TABLE IF NOT EXISTS breaches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		limit_name TEXT NOT NULL,
		metric TEXT NOT NULL,
		current_value REAL NOT NULL,
		threshold REAL NOT NULL,
		severity TEXT NOT NULL
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
	CREATE INDEX IF NOT EXISTS idx_hedges_position ON hedges(position_id);
	CREATE INDEX IF NOT EXISTS idx_hedges_timestamp ON hedges(timestamp);
	CREATE INDEX IF NOT EXISTS idx_snapshots_position ON pnl_snapshots(position_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON pnl_snapshots(timestamp);
	CREATE INDEX IF NOT EXISTS idx_breaches_timestamp ON breaches(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Position Methods
// ============================================================================

// SavePosition inserts or replaces a position.
func (s *SQLiteStore) SavePosition(ctx context.Context, pos models.Position) error {
	var greeksJSON sql.NullString
	if pos.Greeks != nil {
		b, err := json.Marshal(pos.Greeks)
		if err != nil {
			return fmt.Errorf("failed to encode greeks: %w", err)
		}
		greeksJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions (id, symbol, kind, strike, expiry, quantity, multiplier, entry_premium, entry_volatility, entry_spot, entry_time, status, closed_at, close_price, close_spot, greeks, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pos.ID, pos.Symbol, string(pos.Kind), pos.Strike, pos.Expiry.UTC(), pos.Quantity, pos.Multiplier,
		pos.EntryPremium, pos.EntryVolatility, pos.EntrySpot, pos.EntryTime.UTC(), string(pos.Status),
		nullTime(pos.ClosedAt), nullFloat(pos.ClosePrice), nullFloat(pos.CloseSpot), greeksJSON, time.Now().UTC())
	if err != nil {
		return dbErr("failed to save position", err)
	}
	return nil
}

const positionColumns = "id, symbol, kind, strike, expiry, quantity, multiplier, entry_premium, entry_volatility, entry_spot, entry_time, status, closed_at, close_price, close_spot, greeks"

// GetPosition retrieves a position by ID.
func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (models.Position, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+positionColumns+" FROM positions WHERE id = ?", id)
	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return models.Position{}, errors.NewPositionError(id, "load", errors.ErrNotFound)
	}
	if err != nil {
		return models.Position{}, dbErr("failed to get position", err)
	}
	return pos, nil
}

// GetPositions retrieves positions in entry order.
func (s *SQLiteStore) GetPositions(ctx context.Context, filter PositionFilter) ([]models.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY entry_time ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("failed to query positions", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, dbErr("failed to scan position", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row scanner) (models.Position, error) {
	var (
		p          models.Position
		kind       string
		status     string
		closedAt   sql.NullTime
		closePrice sql.NullFloat64
		closeSpot  sql.NullFloat64
		greeksJSON sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Symbol, &kind, &p.Strike, &p.Expiry, &p.Quantity, &p.Multiplier,
		&p.EntryPremium, &p.EntryVolatility, &p.EntrySpot, &p.EntryTime, &status,
		&closedAt, &closePrice, &closeSpot, &greeksJSON); err != nil {
		return models.Position{}, err
	}
	p.Kind = models.OptionKind(kind)
	p.Status = models.PositionStatus(status)
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	if closePrice.Valid {
		v := closePrice.Float64
		p.ClosePrice = &v
	}
	if closeSpot.Valid {
		v := closeSpot.Float64
		p.CloseSpot = &v
	}
	if greeksJSON.Valid {
		var g models.Greeks
		if err := json.Unmarshal([]byte(greeksJSON.String), &g); err == nil {
			p.Greeks = &g
		}
	}
	return p, nil
}

// ============================================================================
// Hedge Methods
// ============================================================================

// SaveHedge appends a hedge record. Re-saving an existing ID fails.
func (s *SQLiteStore) SaveHedge(ctx context.Context, h models.HedgeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hedges (id, position_id, symbol, shares, price, cost, timestamp, position_delta, delta_before, delta_after, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.PositionID, h.Symbol, h.Shares, h.Price, h.Cost, h.Timestamp.UTC(), h.PositionDelta, h.DeltaBefore, h.DeltaAfter, string(h.Kind))
	if err != nil {
		return dbErr("failed to save hedge", err)
	}
	return nil
}

// GetHedges retrieves hedge records oldest first.
func (s *SQLiteStore) GetHedges(ctx context.Context, filter HedgeFilter) ([]models.HedgeRecord, error) {
	query := "SELECT id, position_id, symbol, shares, price, cost, timestamp, position_delta, delta_before, delta_after, kind FROM hedges WHERE 1=1"
	args := []interface{}{}

	if filter.PositionID != "" {
		query += " AND position_id = ?"
		args = append(args, filter.PositionID)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY timestamp ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("failed to query hedges", err)
	}
	defer rows.Close()

	var hedges []models.HedgeRecord
	for rows.Next() {
		var h models.HedgeRecord
		var kind string
		if err := rows.Scan(&h.ID, &h.PositionID, &h.Symbol, &h.Shares, &h.Price, &h.Cost, &h.Timestamp,
			&h.PositionDelta, &h.DeltaBefore, &h.DeltaAfter, &kind); err != nil {
			return nil, dbErr("failed to scan hedge", err)
		}
		h.Kind = models.HedgeKind(kind)
		hedges = append(hedges, h)
	}
	return hedges, rows.Err()
}

// ============================================================================
// P&L Snapshot Methods
// ============================================================================

// SaveSnapshot appends a P&L snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap models.PnLSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pnl_snapshots (id, timestamp, position_id, option_value, hedge_value, transaction_cost, realized_pnl, unrealized_pnl, total_pnl, delta, gamma, vega, theta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.ID, snap.Timestamp.UTC(), snap.PositionID, snap.OptionValue, snap.HedgeValue, snap.TransactionCost,
		snap.RealizedPnL, snap.UnrealizedPnL, snap.TotalPnL, snap.Delta, snap.Gamma, snap.Vega, snap.Theta)
	if err != nil {
		return dbErr("failed to save snapshot", err)
	}
	return nil
}

// GetSnapshots retrieves snapshots oldest first.
func (s *SQLiteStore) GetSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.PnLSnapshot, error) {
	query := "SELECT id, timestamp, position_id, option_value, hedge_value, transaction_cost, realized_pnl, unrealized_pnl, total_pnl, delta, gamma, vega, theta FROM pnl_snapshots WHERE 1=1"
	args := []interface{}{}

	if filter.PositionID != nil {
		query += " AND position_id = ?"
		args = append(args, *filter.PositionID)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until.UTC())
	}

	query += " ORDER BY timestamp ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("failed to query snapshots", err)
	}
	defer rows.Close()

	var snaps []models.PnLSnapshot
	for rows.Next() {
		var p models.PnLSnapshot
		if err := rows.Scan(&p.ID, &p.Timestamp, &p.PositionID, &p.OptionValue, &p.HedgeValue, &p.TransactionCost,
			&p.RealizedPnL, &p.UnrealizedPnL, &p.TotalPnL, &p.Delta, &p.Gamma, &p.Vega, &p.Theta); err != nil {
			return nil, dbErr("failed to scan snapshot", err)
		}
		snaps = append(snaps, p)
	}
	return snaps, rows.Err()
}

// ============================================================================
// Breach Methods
// ============================================================================

// SaveBreaches records every breach found by one limit check.
func (s *SQLiteStore) SaveBreaches(ctx context.Context, at time.Time, breaches []models.Breach) error {
	if len(breaches) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO breaches (timestamp, limit_name, metric, current_value, threshold, severity)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return dbErr("failed to prepare statement", err)
	}
	defer stmt.Close()

	for _, b := range breaches {
		if _, err := stmt.ExecContext(ctx, at.UTC(), b.LimitName, string(b.Metric), b.Current, b.Threshold, string(b.Severity)); err != nil {
			return dbErr("failed to insert breach", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbErr("failed to commit transaction", err)
	}
	return nil
}

// GetBreaches retrieves breaches newest first.
func (s *SQLiteStore) GetBreaches(ctx context.Context, filter BreachFilter) ([]BreachRecord, error) {
	query := "SELECT id, timestamp, limit_name, metric, current_value, threshold, severity FROM breaches WHERE 1=1"
	args := []interface{}{}

	if filter.LimitName != "" {
		query += " AND limit_name = ?"
		args = append(args, filter.LimitName)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("failed to query breaches", err)
	}
	defer rows.Close()

	var out []BreachRecord
	for rows.Next() {
		var r BreachRecord
		var metric, severity string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.LimitName, &metric, &r.Current, &r.Threshold, &severity); err != nil {
			return nil, dbErr("failed to scan breach", err)
		}
		r.Metric = models.LimitMetric(metric)
		r.Severity = models.Severity(severity)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
