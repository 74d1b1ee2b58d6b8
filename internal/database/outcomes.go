package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"market-signal-core/internal/signal"
)

// PendingOutcome pairs an incomplete Outcome with the fields of its
// parent Signal the tracker needs (symbol, trigger time, consecutive
// 1m-lookup failure count) without a second round trip per row.
type PendingOutcome struct {
	signal.Outcome
	Symbol                string
	TriggeredAt           time.Time
	BasePrice             float64
	Consecutive1mFailures int
}

// PendingOutcomes returns incomplete outcome rows joined with their
// signal's symbol and triggered_at, ordered by ascending signal_id
// (spec §4.E: "signals are processed in ascending signal_id order
// within a tick").
func (db *DB) PendingOutcomes(ctx context.Context) ([]*PendingOutcome, error) {
	rows, err := db.queryWithHooks(ctx, `
		SELECT o.id, o.signal_id, o.price_1h, o.price_4h, o.price_1d, o.price_1w, o.price_1m,
		       o.return_1h, o.return_4h, o.return_1d, o.return_1w, o.return_1m,
		       o.is_complete, o.created_at, o.updated_at, o.consecutive_1m_failures,
		       s.symbol, s.triggered_at, s.current_price
		FROM signal_outcomes o
		JOIN technical_signals s ON s.id = o.signal_id
		WHERE o.is_complete = 0
		ORDER BY o.signal_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending outcomes: %w", err)
	}
	defer rows.Close()

	var out []*PendingOutcome
	for rows.Next() {
		p, err := scanPendingOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending outcome: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateOutcomeSlot writes a single horizon's price/return pair and
// touches updated_at. Each horizon slot is written at most once (spec
// §3: "each slot, once written, is never overwritten") — callers must
// only call this for a slot that is still null.
func (db *DB) UpdateOutcomeSlot(ctx context.Context, outcomeID int64, horizon string, price, ret float64, isComplete bool) error {
	priceCol, returnCol, err := horizonColumns(horizon)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE signal_outcomes
		SET %s = ?, %s = ?, is_complete = ?, updated_at = ?
		WHERE id = ? AND %s IS NULL
	`, priceCol, returnCol, priceCol)

	res, err := db.execWithHooks(ctx, query, price, ret, isComplete, time.Now().UTC(), outcomeID)
	if err != nil {
		return fmt.Errorf("failed to update outcome slot %s: %w", horizon, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("outcome slot %s for outcome %d was already written or missing", horizon, outcomeID)
	}
	return nil
}

// IncrementConsecutiveFailures bumps the 1m-lookup failure counter used
// by the abandonment guard (SPEC_FULL.md §D.3a).
func (db *DB) IncrementConsecutiveFailures(ctx context.Context, outcomeID int64) error {
	_, err := db.execWithHooks(ctx, `
		UPDATE signal_outcomes SET consecutive_1m_failures = consecutive_1m_failures + 1, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), outcomeID)
	if err != nil {
		return fmt.Errorf("failed to increment consecutive failures: %w", err)
	}
	return nil
}

// AbandonOutcome force-completes a stuck outcome row (SPEC_FULL.md
// §D.3a: abandoned after 1 month + 7 day grace + 3 consecutive failed
// 1m lookups).
func (db *DB) AbandonOutcome(ctx context.Context, outcomeID int64) error {
	_, err := db.execWithHooks(ctx, `
		UPDATE signal_outcomes SET is_complete = 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), outcomeID)
	if err != nil {
		return fmt.Errorf("failed to abandon outcome: %w", err)
	}
	return nil
}

func horizonColumns(horizon string) (priceCol, returnCol string, err error) {
	switch horizon {
	case "1h":
		return "price_1h", "return_1h", nil
	case "4h":
		return "price_4h", "return_4h", nil
	case "1d":
		return "price_1d", "return_1d", nil
	case "1w":
		return "price_1w", "return_1w", nil
	case "1m":
		return "price_1m", "return_1m", nil
	default:
		return "", "", fmt.Errorf("unknown outcome horizon %q", horizon)
	}
}

func scanPendingOutcome(row scanner) (*PendingOutcome, error) {
	var p PendingOutcome
	var p1h, p4h, p1d, p1w, p1m sql.NullFloat64
	var r1h, r4h, r1d, r1w, r1m sql.NullFloat64
	var complete sql.NullBool

	if err := row.Scan(&p.ID, &p.SignalID, &p1h, &p4h, &p1d, &p1w, &p1m,
		&r1h, &r4h, &r1d, &r1w, &r1m, &complete, &p.CreatedAt, &p.UpdatedAt,
		&p.Consecutive1mFailures, &p.Symbol, &p.TriggeredAt, &p.BasePrice); err != nil {
		return nil, err
	}
	p.IsComplete = complete.Valid && complete.Bool
	p.Price1h = nullFloatPtr(p1h)
	p.Price4h = nullFloatPtr(p4h)
	p.Price1d = nullFloatPtr(p1d)
	p.Price1w = nullFloatPtr(p1w)
	p.Price1m = nullFloatPtr(p1m)
	p.Return1h = nullFloatPtr(r1h)
	p.Return4h = nullFloatPtr(r4h)
	p.Return1d = nullFloatPtr(r1d)
	p.Return1w = nullFloatPtr(r1w)
	p.Return1m = nullFloatPtr(r1m)
	return &p, nil
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
