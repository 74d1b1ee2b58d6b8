package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PatternRecord mirrors SignalPattern (spec §3): an aggregate over all
// signal tuples sharing a (symbol, patternSignature).
type PatternRecord struct {
	ID                 int64
	Symbol             string
	PatternSignature   string
	ComponentSignalIDs []int64
	DiscoveredAt       time.Time
	SampleCount        int
	AvgReturn1d        float64
	SuccessRate1d      float64
}

// UpsertPattern replaces the aggregate for (symbol, patternSignature) if
// it already exists, otherwise inserts it, per spec §4.F: "re-running
// the analyser over overlapping history replaces the prior aggregate
// rather than duplicating it."
func (db *DB) UpsertPattern(ctx context.Context, p *PatternRecord) error {
	idsJSON, err := json.Marshal(p.ComponentSignalIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal component signal ids: %w", err)
	}

	_, err = db.execWithHooks(ctx, `
		INSERT INTO signal_patterns
		(symbol, pattern_signature, component_signal_ids, discovered_at, sample_count, avg_return_1d, success_rate_1d)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, pattern_signature) DO UPDATE SET
			component_signal_ids = excluded.component_signal_ids,
			discovered_at = excluded.discovered_at,
			sample_count = excluded.sample_count,
			avg_return_1d = excluded.avg_return_1d,
			success_rate_1d = excluded.success_rate_1d
	`, p.Symbol, p.PatternSignature, string(idsJSON), p.DiscoveredAt, p.SampleCount, p.AvgReturn1d, p.SuccessRate1d)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern: %w", err)
	}
	return nil
}

// PatternsForSymbol lists every discovered pattern for symbol, highest
// sample count first.
func (db *DB) PatternsForSymbol(ctx context.Context, symbol string) ([]*PatternRecord, error) {
	rows, err := db.queryWithHooks(ctx, `
		SELECT id, symbol, pattern_signature, component_signal_ids, discovered_at,
		       sample_count, avg_return_1d, success_rate_1d
		FROM signal_patterns WHERE symbol = ? ORDER BY sample_count DESC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var out []*PatternRecord
	for rows.Next() {
		var p PatternRecord
		var idsJSON string
		if err := rows.Scan(&p.ID, &p.Symbol, &p.PatternSignature, &idsJSON, &p.DiscoveredAt,
			&p.SampleCount, &p.AvgReturn1d, &p.SuccessRate1d); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		if err := json.Unmarshal([]byte(idsJSON), &p.ComponentSignalIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal component signal ids: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// CompletedSignalForPattern is the minimal joined projection the
// Pattern Analyser needs per signal: its id, type, trigger time and
// (once tracked) 1-day return and success flag.
type CompletedSignalForPattern struct {
	SignalID    int64
	Symbol      string
	SignalType  string
	TriggeredAt time.Time
	Return1d    *float64
}

// SignalsWithTrackedReturn1d returns, for symbol, every signal whose
// outcome has a non-null 1-day return, ordered by triggered_at — the
// candidate pool the Pattern Analyser groups into sequential/concurrent
// clusters (spec §4.F).
func (db *DB) SignalsWithTrackedReturn1d(ctx context.Context, symbol string, since time.Time) ([]*CompletedSignalForPattern, error) {
	rows, err := db.queryWithHooks(ctx, `
		SELECT s.id, s.symbol, s.signal_type, s.triggered_at, o.return_1d
		FROM technical_signals s
		JOIN signal_outcomes o ON o.signal_id = s.id
		WHERE s.symbol = ? AND s.triggered_at >= ? AND o.return_1d IS NOT NULL
		ORDER BY s.triggered_at ASC
	`, symbol, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals with tracked return: %w", err)
	}
	defer rows.Close()

	var out []*CompletedSignalForPattern
	for rows.Next() {
		var c CompletedSignalForPattern
		var ret sql.NullFloat64
		if err := rows.Scan(&c.SignalID, &c.Symbol, &c.SignalType, &c.TriggeredAt, &ret); err != nil {
			return nil, fmt.Errorf("failed to scan signal for pattern analysis: %w", err)
		}
		c.Return1d = nullFloatPtr(ret)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DistinctSymbols lists every symbol that has at least one persisted
// signal, used by the Pattern Analyser's per-symbol sweep.
func (db *DB) DistinctSymbols(ctx context.Context) ([]string, error) {
	rows, err := db.queryWithHooks(ctx, `SELECT DISTINCT symbol FROM technical_signals ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
