package database

import (
	"context"
	"fmt"
	"time"
)

// SlowQueryLogEntry mirrors SlowQueryLog (spec §3).
type SlowQueryLogEntry struct {
	QueryHash          string
	QueryTemplate      string
	OriginalQuery      string
	Duration           time.Duration
	AffectedRows       int64
	TableNames         string
	OperationType      string
	ExecutionTimestamp time.Time
}

// InsertSlowQueryBatch persists a batch of slow-query log entries in a
// single transaction, grounded directly on the teacher's
// InsertVolumeDataBatch idiom (tx.Begin + defer Rollback + Prepare +
// loop Exec + Commit). Per the Open Question resolution (drop-on-flush
// failure, SPEC_FULL.md §D.3), a failure here is surfaced to the caller
// so it can log and drop the batch rather than retry or re-enqueue.
func (db *DB) InsertSlowQueryBatch(ctx context.Context, entries []SlowQueryLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO slow_query_logs
		(query_hash, query_template, original_query, duration, affected_rows, table_names,
		 operation_type, execution_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.QueryHash, e.QueryTemplate, e.OriginalQuery,
			e.Duration.Seconds(), e.AffectedRows, e.TableNames, e.OperationType, e.ExecutionTimestamp, now); err != nil {
			return fmt.Errorf("failed to execute batch insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit slow query batch: %w", err)
	}
	return nil
}

// SlowQueryStatsRow is one (operation_type or table) bucket of
// aggregated slow-query counts, grounded on
// slow_query_service.py's get_slow_query_statistics.
type SlowQueryStatsRow struct {
	Key         string
	Count       int64
	AvgDuration float64
	MaxDuration float64
}

// SlowQueryStatsByOperation aggregates slow_query_logs by operation
// type over the trailing window.
func (db *DB) SlowQueryStatsByOperation(ctx context.Context, since time.Time) ([]SlowQueryStatsRow, error) {
	return db.slowQueryStatsBy(ctx, "operation_type", since)
}

// SlowQueryStatsByTable aggregates slow_query_logs by table name over
// the trailing window, limited to the top 10 busiest tables (matching
// slow_query_service.py's by_table[:10]).
func (db *DB) SlowQueryStatsByTable(ctx context.Context, since time.Time) ([]SlowQueryStatsRow, error) {
	rows, err := db.slowQueryStatsBy(ctx, "table_names", since)
	if err != nil {
		return nil, err
	}
	if len(rows) > 10 {
		rows = rows[:10]
	}
	return rows, nil
}

func (db *DB) slowQueryStatsBy(ctx context.Context, column string, since time.Time) ([]SlowQueryStatsRow, error) {
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*), AVG(duration), MAX(duration)
		FROM slow_query_logs
		WHERE execution_timestamp >= ?
		GROUP BY %s
		ORDER BY COUNT(*) DESC
	`, column, column)

	rows, err := db.queryWithHooks(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate slow query stats: %w", err)
	}
	defer rows.Close()

	var out []SlowQueryStatsRow
	for rows.Next() {
		var r SlowQueryStatsRow
		if err := rows.Scan(&r.Key, &r.Count, &r.AvgDuration, &r.MaxDuration); err != nil {
			return nil, fmt.Errorf("failed to scan slow query stats: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HourlyBucket is one hour's slow-query count, for the supplemented
// hourly_distribution feature (SPEC_FULL.md §C.2).
type HourlyBucket struct {
	HourStart time.Time
	Count     int64
}

// HourlyDistribution buckets slow queries into 24 one-hour windows
// ending at now, oldest first, matching slow_query_service.py's
// hourly_distribution (reversed to chronological order).
func (db *DB) HourlyDistribution(ctx context.Context, now time.Time) ([]HourlyBucket, error) {
	buckets := make([]HourlyBucket, 24)
	start := now.Truncate(time.Hour).Add(-23 * time.Hour)
	for i := range buckets {
		buckets[i].HourStart = start.Add(time.Duration(i) * time.Hour)
	}

	rows, err := db.queryWithHooks(ctx, `
		SELECT execution_timestamp FROM slow_query_logs WHERE execution_timestamp >= ?
	`, start)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan execution timestamp: %w", err)
		}
		idx := int(ts.Sub(start) / time.Hour)
		if idx >= 0 && idx < len(buckets) {
			buckets[idx].Count++
		}
	}
	return buckets, rows.Err()
}

// QueryPattern is one row of the supplemented query-pattern-analysis
// feature (SPEC_FULL.md §C.1), grounded on
// slow_query_service.py's get_query_pattern_analysis.
type QueryPattern struct {
	QueryHash     string
	QueryTemplate string
	Occurrences   int64
	AvgDuration   float64
}

// MostFrequentPatterns returns up to 20 query templates ranked by
// occurrence count over the trailing window, template truncated to 200
// characters to match the original's truncation.
func (db *DB) MostFrequentPatterns(ctx context.Context, since time.Time) ([]QueryPattern, error) {
	return db.queryPatterns(ctx, since, "COUNT(*) DESC")
}

// SlowestPatterns returns up to 20 query templates ranked by average
// duration over the trailing window.
func (db *DB) SlowestPatterns(ctx context.Context, since time.Time) ([]QueryPattern, error) {
	return db.queryPatterns(ctx, since, "AVG(duration) DESC")
}

func (db *DB) queryPatterns(ctx context.Context, since time.Time, orderBy string) ([]QueryPattern, error) {
	query := fmt.Sprintf(`
		SELECT query_hash, query_template, COUNT(*), AVG(duration)
		FROM slow_query_logs
		WHERE execution_timestamp >= ?
		GROUP BY query_hash, query_template
		ORDER BY %s
		LIMIT 20
	`, orderBy)

	rows, err := db.queryWithHooks(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var out []QueryPattern
	for rows.Next() {
		var p QueryPattern
		if err := rows.Scan(&p.QueryHash, &p.QueryTemplate, &p.Occurrences, &p.AvgDuration); err != nil {
			return nil, fmt.Errorf("failed to scan query pattern: %w", err)
		}
		if r := []rune(p.QueryTemplate); len(r) > 200 {
			p.QueryTemplate = string(r[:200])
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CleanupOldSlowQueryLogs hard-deletes slow_query_logs rows older than
// the given age, matching slow_query_service.py's cleanup_old_logs.
func (db *DB) CleanupOldSlowQueryLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := db.execWithHooks(ctx, `DELETE FROM slow_query_logs WHERE execution_timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old slow query logs: %w", err)
	}
	return res.RowsAffected()
}
