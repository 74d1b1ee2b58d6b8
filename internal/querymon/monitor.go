// Package querymon implements the Query Monitor (component H):
// before/after-cursor-execute hook pairing, query normalization and
// hashing, in-memory per-hash metrics, and a bounded batch flush to
// slow_query_logs. Grounded on
// original_source/app/common/infra/database/monitoring/query_monitor.py
// for the exact normalization/hashing/severity rules, and on the
// teacher's transactional-batch-insert idiom (reused via
// database.InsertSlowQueryBatch) for the flush itself.
package querymon

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"market-signal-core/internal/alert"
	"market-signal-core/internal/database"
	"market-signal-core/internal/logging"
)

// normalizers strips literal values from a query so structurally
// identical statements hash identically, in the same order
// query_monitor.py applies them: string literals, then numeric
// literals, then collapsed whitespace.
var normalizers = []*regexp.Regexp{
	regexp.MustCompile(`'[^']*'`),
	regexp.MustCompile(`\b\d+\b`),
	regexp.MustCompile(`\s+`),
}

// Normalize reduces query to its structural template.
func Normalize(query string) string {
	q := query
	q = normalizers[0].ReplaceAllString(q, "?")
	q = normalizers[1].ReplaceAllString(q, "?")
	q = normalizers[2].ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

// Hash returns the 12-hex-character MD5 digest of a normalized query,
// used as the in-memory and persisted grouping key.
func Hash(normalized string) string {
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])[:12]
}

// Severity thresholds (spec §4.H): duration > 5s is critical, > 2s is
// warning, otherwise the query is tracked but no alert fires.
const (
	defaultThreshold = 1 * time.Second
	criticalDuration = 5 * time.Second
	warningDuration  = 2 * time.Second
)

// QueryMetric is the in-memory per-hash aggregate (spec §3), never
// persisted directly — only individual slow executions are, via
// slow_query_logs.
type QueryMetric struct {
	QueryHash     string
	QueryTemplate string
	Count         int64
	TotalDuration time.Duration
	MaxDuration   time.Duration
	LastSeen      time.Time
}

func operationType(normalized string) string {
	upper := strings.ToUpper(strings.TrimSpace(normalized))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER"} {
		if strings.HasPrefix(upper, op) {
			return op
		}
	}
	return "OTHER"
}

// Monitor implements database.QueryHooks: BeforeExecute stamps a start
// time into the context, AfterExecute measures duration, updates the
// in-memory metric for the query's hash, enqueues a slow_query_logs
// entry when duration exceeds the configured threshold, and raises an
// alert at critical/warning severity.
type Monitor struct {
	threshold time.Duration
	batchSize int

	mu      sync.Mutex
	metrics map[string]*QueryMetric
	pending []database.SlowQueryLogEntry

	repo   Repository
	alerts *alert.Manager
	log    *logging.Logger
}

// Repository is the persistence surface the Monitor flushes through.
type Repository interface {
	InsertSlowQueryBatch(ctx context.Context, entries []database.SlowQueryLogEntry) error
}

type startTimeKey struct{}

func NewMonitor(threshold time.Duration, batchSize int, repo Repository, alerts *alert.Manager, log *logging.Logger) *Monitor {
	return &Monitor{
		threshold: threshold,
		batchSize: batchSize,
		metrics:   make(map[string]*QueryMetric),
		repo:      repo,
		alerts:    alerts,
		log:       log.WithComponent("query_monitor"),
	}
}

func (m *Monitor) BeforeExecute(ctx context.Context, _ string) context.Context {
	return context.WithValue(ctx, startTimeKey{}, time.Now())
}

func (m *Monitor) AfterExecute(ctx context.Context, query string, duration time.Duration, rowsAffected int64, execErr error) {
	normalized := Normalize(query)
	hash := Hash(normalized)

	m.mu.Lock()
	metric, ok := m.metrics[hash]
	if !ok {
		metric = &QueryMetric{QueryHash: hash, QueryTemplate: normalized}
		m.metrics[hash] = metric
	}
	metric.Count++
	metric.TotalDuration += duration
	metric.LastSeen = time.Now().UTC()
	if duration > metric.MaxDuration {
		metric.MaxDuration = duration
	}
	m.mu.Unlock()

	if duration <= m.threshold || execErr != nil {
		return
	}

	entry := database.SlowQueryLogEntry{
		QueryHash:          hash,
		QueryTemplate:      normalized,
		OriginalQuery:      query,
		Duration:           duration,
		AffectedRows:       rowsAffected,
		OperationType:      operationType(normalized),
		ExecutionTimestamp: time.Now().UTC(),
	}
	m.enqueue(entry)
	m.maybeAlert(ctx, duration, normalized)
}

func (m *Monitor) enqueue(entry database.SlowQueryLogEntry) {
	m.mu.Lock()
	m.pending = append(m.pending, entry)
	shouldFlush := len(m.pending) >= m.batchSize
	var batch []database.SlowQueryLogEntry
	if shouldFlush {
		batch = m.pending
		m.pending = nil
	}
	m.mu.Unlock()

	if shouldFlush {
		m.flush(context.Background(), batch)
	}
}

// Flush writes whatever is pending regardless of batch size, called on
// the scheduler's flush-interval tick and once more during shutdown.
func (m *Monitor) Flush(ctx context.Context) {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	if len(batch) > 0 {
		m.flush(ctx, batch)
	}
}

// flush persists a batch, dropping it on failure per the Open Question
// resolution (SPEC_FULL.md §D.3: rollback+log, no re-enqueue) confirmed
// verbatim from slow_query_service.py's _save_batch_to_db.
func (m *Monitor) flush(ctx context.Context, batch []database.SlowQueryLogEntry) {
	if err := m.repo.InsertSlowQueryBatch(ctx, batch); err != nil {
		m.log.WithError(err).WithField("batch_size", len(batch)).Error("failed to flush slow query batch, dropping")
	}
}

func (m *Monitor) maybeAlert(ctx context.Context, duration time.Duration, template string) {
	if m.alerts == nil {
		return
	}
	var sev alert.Severity
	switch {
	case duration > criticalDuration:
		sev = alert.Critical
	case duration > warningDuration:
		sev = alert.Warning
	default:
		return
	}

	_ = m.alerts.Send(ctx, alert.Alert{
		Severity:  sev,
		Component: "query_monitor",
		Title:     "slow query detected",
		Message:   template,
		Fields:    map[string]interface{}{"duration_seconds": duration.Seconds()},
	})
}

// PerformanceSummary is the component's read API over its in-memory
// per-hash metrics. The persisted query-pattern and hourly-distribution
// views (SPEC_FULL.md §C.1/§C.2) are database.DB methods, not part of
// this summary.
type PerformanceSummary struct {
	TotalTrackedQueries int
	SlowestByAvg        []QueryMetric
	MostFrequent        []QueryMetric
}

func (m *Monitor) Summary(topN int) PerformanceSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]QueryMetric, 0, len(m.metrics))
	for _, v := range m.metrics {
		all = append(all, *v)
	}

	byAvg := append([]QueryMetric{}, all...)
	sortByAvgDurationDesc(byAvg)
	if len(byAvg) > topN {
		byAvg = byAvg[:topN]
	}

	byFreq := append([]QueryMetric{}, all...)
	sortByCountDesc(byFreq)
	if len(byFreq) > topN {
		byFreq = byFreq[:topN]
	}

	return PerformanceSummary{
		TotalTrackedQueries: len(all),
		SlowestByAvg:        byAvg,
		MostFrequent:        byFreq,
	}
}

func sortByAvgDurationDesc(metrics []QueryMetric) {
	avg := func(m QueryMetric) float64 {
		if m.Count == 0 {
			return 0
		}
		return float64(m.TotalDuration) / float64(m.Count)
	}
	sort.Slice(metrics, func(i, j int) bool { return avg(metrics[i]) > avg(metrics[j]) })
}

func sortByCountDesc(metrics []QueryMetric) {
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Count > metrics[j].Count })
}
