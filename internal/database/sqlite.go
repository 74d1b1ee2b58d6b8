// Package database owns the persisted schema (technical_signals,
// signal_outcomes, signal_patterns, slow_query_logs per spec §6) and the
// typed repository methods the core's components issue queries
// through. Grounded on the teacher's internal/database/sqlite.go: same
// connection-pool setup (SetMaxOpenConns/SetMaxIdleConns/
// SetConnMaxLifetime), same migrate-on-open pattern, same
// transactional-batch-insert idiom (InsertVolumeDataBatch) reused here
// for slow-query flushing and signal+outcome pairing.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"market-signal-core/internal/config"
)

// DB wraps the sqlite connection plus the Query Monitor's hook chain
// (component H), which every statement issued through the exported
// exec/query helpers passes through.
type DB struct {
	conn  *sql.DB
	cfg   *config.DatabaseConfig
	hooks QueryHooks
}

// QueryHooks mirrors the driver's documented cursor-lifecycle callbacks
// (spec §9: "use the driver's documented cursor-lifecycle callbacks;
// wrap at a single site"). BeforeExecute returns a context carrying
// whatever the hook needs to correlate with AfterExecute's call for the
// same statement.
type QueryHooks interface {
	BeforeExecute(ctx context.Context, query string) context.Context
	AfterExecute(ctx context.Context, query string, duration time.Duration, rowsAffected int64, err error)
}

type noopHooks struct{}

func (noopHooks) BeforeExecute(ctx context.Context, _ string) context.Context { return ctx }
func (noopHooks) AfterExecute(context.Context, string, time.Duration, int64, error) {}

// New opens the sqlite database, applies pool bounds from cfg, and runs
// the schema migration.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	conn, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg, hooks: noopHooks{}}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// SetHooks installs the Query Monitor's before/after-execute hooks.
// Called once during Core wiring (spec §9: "wrap at a single site").
func (db *DB) SetHooks(h QueryHooks) {
	if h == nil {
		h = noopHooks{}
	}
	db.hooks = h
}

func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS technical_signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL UNIQUE,
			symbol TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			triggered_at DATETIME NOT NULL,
			current_price REAL NOT NULL,
			indicator_value REAL,
			signal_strength REAL,
			volume REAL,
			market_condition TEXT NOT NULL,
			alert_sent BOOLEAN NOT NULL DEFAULT 0,
			additional_context TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS signal_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			signal_id INTEGER NOT NULL UNIQUE REFERENCES technical_signals(id),
			price_1h REAL, price_4h REAL, price_1d REAL, price_1w REAL, price_1m REAL,
			return_1h REAL, return_4h REAL, return_1d REAL, return_1w REAL, return_1m REAL,
			is_complete BOOLEAN NOT NULL DEFAULT 0,
			consecutive_1m_failures INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signal_patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			pattern_signature TEXT NOT NULL,
			component_signal_ids TEXT NOT NULL,
			discovered_at DATETIME NOT NULL,
			sample_count INTEGER NOT NULL,
			avg_return_1d REAL NOT NULL,
			success_rate_1d REAL NOT NULL,
			UNIQUE(symbol, pattern_signature)
		)`,
		`CREATE TABLE IF NOT EXISTS slow_query_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			query_hash TEXT NOT NULL,
			query_template TEXT NOT NULL,
			original_query TEXT NOT NULL,
			duration REAL NOT NULL,
			affected_rows INTEGER NOT NULL,
			table_names TEXT,
			operation_type TEXT NOT NULL,
			execution_timestamp DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol_type_time ON technical_signals(symbol, signal_type, triggered_at)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_alert_sent ON technical_signals(alert_sent)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_complete ON signal_outcomes(is_complete)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_symbol ON signal_patterns(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_slow_query_hash_time ON slow_query_logs(query_hash, execution_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_slow_query_duration_time ON slow_query_logs(duration, execution_timestamp)`,
	}

	for _, q := range append(queries, indexes...) {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// HealthCheck pings the database with a bounded timeout, matching the
// teacher's HealthCheck idiom.
func (db *DB) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM technical_signals LIMIT 1").Scan(&count); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

// Stats exposes database/sql's pool counters, feeding the Pool Manager
// (component I).
func (db *DB) Stats() sql.DBStats {
	return db.conn.Stats()
}

// SetMaxOpenConns lets the Pool Manager resize the pool at runtime;
// satisfies pool.Resizer.
func (db *DB) SetMaxOpenConns(n int) {
	db.conn.SetMaxOpenConns(n)
}

func (db *DB) execWithHooks(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx = db.hooks.BeforeExecute(ctx, query)
	start := time.Now()
	res, err := db.conn.ExecContext(ctx, query, args...)
	var rows int64
	if res != nil {
		rows, _ = res.RowsAffected()
	}
	db.hooks.AfterExecute(ctx, query, time.Since(start), rows, err)
	return res, err
}

func (db *DB) queryWithHooks(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	ctx = db.hooks.BeforeExecute(ctx, query)
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	db.hooks.AfterExecute(ctx, query, time.Since(start), 0, err)
	return rows, err
}

func (db *DB) queryRowWithHooks(ctx context.Context, query string, args ...interface{}) *sql.Row {
	ctx = db.hooks.BeforeExecute(ctx, query)
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, query, args...)
	db.hooks.AfterExecute(ctx, query, time.Since(start), 0, nil)
	return row
}

// BeginTx starts a transaction. Statements issued on the returned
// transaction bypass the Query Monitor hooks, so they are neither timed
// nor recorded by it.
func (db *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return db.conn.BeginTx(ctx, nil)
}
