package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"market-signal-core/internal/signal"
)

// SignalFilter narrows RecentSignals' result set; it is an alias of
// signal.Filter so *DB satisfies signal.Repository without an adapter.
type SignalFilter = signal.Filter

// InsertSignalWithOutcome atomically inserts a Signal row and its
// paired zero-valued Outcome row: both succeed or neither persists,
// per spec §4.D. Grounded on the teacher's InsertVolumeDataBatch
// transaction idiom (tx.Begin + defer Rollback + Prepare + Exec +
// Commit) and setup.go's setup-then-checklist pairing.
func (db *DB) InsertSignalWithOutcome(ctx context.Context, s *signal.Signal) (int64, error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ctxJSON, err := json.Marshal(s.AdditionalContext)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal additional context: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO technical_signals
		(external_id, symbol, signal_type, timeframe, triggered_at, current_price, indicator_value,
		 signal_strength, volume, market_condition, alert_sent, additional_context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, s.ExternalID, s.Symbol, s.SignalType, s.Timeframe, s.TriggeredAt, s.CurrentPrice,
		nullableFloat(s.IndicatorValue), nullableFloat(s.SignalStrength), nullableFloat(s.Volume),
		string(s.MarketCondition), string(ctxJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal: %w", err)
	}

	signalID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted signal id: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO signal_outcomes (signal_id, is_complete, created_at, updated_at)
		VALUES (?, 0, ?, ?)
	`, signalID, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert paired outcome row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit signal+outcome insert: %w", err)
	}
	return signalID, nil
}

// LatestSignalSince returns the most recent signal for (symbol,
// signalType) triggered at or after since, or nil if none exists. Used
// by the Signal Store's dedup check.
func (db *DB) LatestSignalSince(ctx context.Context, symbol, signalType string, since time.Time) (*signal.Signal, error) {
	row := db.queryRowWithHooks(ctx, `
		SELECT id, external_id, symbol, signal_type, timeframe, triggered_at, current_price, indicator_value,
		       signal_strength, volume, market_condition, alert_sent, additional_context
		FROM technical_signals
		WHERE symbol = ? AND signal_type = ? AND triggered_at >= ?
		ORDER BY triggered_at DESC
		LIMIT 1
	`, symbol, signalType, since)

	s, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest signal: %w", err)
	}
	return s, nil
}

// MarkAlertSent flips alert_sent once a signal's alert has been
// dispatched (spec §4.D).
func (db *DB) MarkAlertSent(ctx context.Context, signalID int64) error {
	_, err := db.execWithHooks(ctx, `UPDATE technical_signals SET alert_sent = 1 WHERE id = ?`, signalID)
	if err != nil {
		return fmt.Errorf("failed to mark alert sent: %w", err)
	}
	return nil
}

// FindSignalByID retrieves a single signal, or nil if it doesn't exist.
func (db *DB) FindSignalByID(ctx context.Context, id int64) (*signal.Signal, error) {
	row := db.queryRowWithHooks(ctx, `
		SELECT id, external_id, symbol, signal_type, timeframe, triggered_at, current_price, indicator_value,
		       signal_strength, volume, market_condition, alert_sent, additional_context
		FROM technical_signals WHERE id = ?
	`, id)

	s, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find signal: %w", err)
	}
	return s, nil
}

// RecentSignals lists signals matching filter, most recent first,
// bounded by limit.
func (db *DB) RecentSignals(ctx context.Context, filter SignalFilter, limit int) ([]*signal.Signal, error) {
	query := `
		SELECT id, external_id, symbol, signal_type, timeframe, triggered_at, current_price, indicator_value,
		       signal_strength, volume, market_condition, alert_sent, additional_context
		FROM technical_signals WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.SignalType != "" {
		query += " AND signal_type = ?"
		args = append(args, filter.SignalType)
	}
	if filter.Timeframe != "" {
		query += " AND timeframe = ?"
		args = append(args, filter.Timeframe)
	}
	if !filter.Since.IsZero() {
		query += " AND triggered_at >= ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY triggered_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.queryWithHooks(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent signals: %w", err)
	}
	defer rows.Close()

	var out []*signal.Signal
	for rows.Next() {
		s, err := scanSignalRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row scanner) (*signal.Signal, error) {
	return scanSignalRows(row)
}

func scanSignalRows(row scanner) (*signal.Signal, error) {
	var s signal.Signal
	var indicatorValue, strength, volume sql.NullFloat64
	var alertSent sql.NullBool
	var ctxJSON sql.NullString
	var marketCondition string

	if err := row.Scan(&s.ID, &s.ExternalID, &s.Symbol, &s.SignalType, &s.Timeframe, &s.TriggeredAt, &s.CurrentPrice,
		&indicatorValue, &strength, &volume, &marketCondition, &alertSent, &ctxJSON); err != nil {
		return nil, err
	}

	s.MarketCondition = signal.MarketCondition(marketCondition)
	s.AlertSent = alertSent.Valid && alertSent.Bool
	if indicatorValue.Valid {
		v := indicatorValue.Float64
		s.IndicatorValue = &v
	}
	if strength.Valid {
		v := strength.Float64
		s.SignalStrength = &v
	}
	if volume.Valid {
		v := volume.Float64
		s.Volume = &v
	}
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &s.AdditionalContext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal additional context: %w", err)
		}
	}
	return &s, nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
