// Package pool implements the Pool Manager (component I): adaptive
// connection-pool sizing and health assessment. Grounded verbatim on
// original_source/app/common/infra/database/optimization/
// connection_pool_manager.py's check_and_adjust_pool and
// _assess_pool_health, reading database/sql's pool counters (spec
// §4.I) in place of SQLAlchemy's.
package pool

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"market-signal-core/internal/alert"
	"market-signal-core/internal/logging"
)

// Health is the pool's current condition, mirroring
// connection_pool_manager.py's three-tier assessment.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "warning"
	Critical Health = "critical"
)

// Config carries the adaptive-resize thresholds, all confirmed
// verbatim against connection_pool_manager.py's ConnectionPoolConfig
// defaults.
type Config struct {
	Min                int
	Max                int
	MaxOverflow        int
	Timeout            time.Duration
	Recycle            time.Duration
	AdjustmentInterval time.Duration
	UtilHigh           float64
	UtilLow            float64
	Step               int
}

// Resizer is the narrow surface the Manager needs to actually change
// pool size; *sql.DB satisfies it via SetMaxOpenConns.
type Resizer interface {
	SetMaxOpenConns(n int)
	Stats() sql.DBStats
}

// Manager tracks utilisation and checkout-time samples and periodically
// (gated by AdjustmentInterval) resizes the pool or raises an alert.
type Manager struct {
	mu              sync.Mutex
	cfg             Config
	db              Resizer
	currentSize     int
	lastAdjustment  time.Time
	checkoutSamples []time.Duration
	failedConns     int

	alerts *alert.Manager
	log    *logging.Logger
}

func NewManager(cfg Config, db Resizer, alerts *alert.Manager, log *logging.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		db:          db,
		currentSize: cfg.Min,
		alerts:      alerts,
		log:         log.WithComponent("pool_manager"),
	}
}

// RecordCheckout records how long a connection checkout took, feeding
// the avg_checkout_time health signal.
func (m *Manager) RecordCheckout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkoutSamples = append(m.checkoutSamples, d)
	if len(m.checkoutSamples) > 200 {
		m.checkoutSamples = m.checkoutSamples[len(m.checkoutSamples)-200:]
	}
}

// RecordFailedConnection increments the failed-connection counter used
// by the WARNING health clause (>10 failures).
func (m *Manager) RecordFailedConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedConns++
}

func (m *Manager) avgCheckoutTime() time.Duration {
	if len(m.checkoutSamples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range m.checkoutSamples {
		sum += d
	}
	return sum / time.Duration(len(m.checkoutSamples))
}

func (m *Manager) utilisation() float64 {
	stats := m.db.Stats()
	if stats.MaxOpenConnections == 0 {
		return 0
	}
	return float64(stats.InUse) / float64(stats.MaxOpenConnections)
}

// CheckAndAdjust implements check_and_adjust_pool: rate-gated by
// AdjustmentInterval, grows the pool when utilisation exceeds UtilHigh,
// shrinks it toward Min when utilisation drops below UtilLow, and fires
// alerts for critical utilisation or slow checkouts regardless of the
// gate.
func (m *Manager) CheckAndAdjust(ctx context.Context) {
	m.mu.Lock()
	util := m.utilisation()
	avgCheckout := m.avgCheckoutTime()
	gated := time.Since(m.lastAdjustment) < m.cfg.AdjustmentInterval
	size := m.currentSize
	m.mu.Unlock()

	if !gated {
		switch {
		case util > m.cfg.UtilHigh && size < m.cfg.Max:
			newSize := size + m.cfg.Step
			if newSize > m.cfg.Max {
				newSize = m.cfg.Max
			}
			m.resize(newSize)
			m.raise(ctx, alert.Warning, "connection pool grown", util, newSize)
		case util < m.cfg.UtilLow && size > m.cfg.Min:
			newSize := size - m.cfg.Step
			if newSize < m.cfg.Min {
				newSize = m.cfg.Min
			}
			m.resize(newSize)
		}
	}

	if util > 0.95 {
		m.raise(ctx, alert.Critical, "connection pool utilisation critical", util, size)
	}
	if avgCheckout > 30*time.Second {
		m.raise(ctx, alert.Warning, "connection checkout time elevated", util, size)
	}
}

func (m *Manager) resize(newSize int) {
	m.mu.Lock()
	m.currentSize = newSize
	m.lastAdjustment = time.Now()
	m.mu.Unlock()
	m.db.SetMaxOpenConns(newSize)
}

func (m *Manager) raise(ctx context.Context, sev alert.Severity, title string, util float64, size int) {
	if m.alerts == nil {
		return
	}
	_ = m.alerts.Send(ctx, alert.Alert{
		Severity:  sev,
		Component: "pool_manager",
		Title:     title,
		Message:   title,
		Fields: map[string]interface{}{
			"utilisation": util,
			"pool_size":   size,
		},
	})
}

// AssessHealth implements _assess_pool_health's three-tier thresholds
// verbatim: >0.95 utilisation is CRITICAL; >0.8 utilisation, or average
// checkout time over 30s, or more than 10 failed connections is
// WARNING; otherwise HEALTHY.
func (m *Manager) AssessHealth() Health {
	m.mu.Lock()
	util := m.utilisation()
	avgCheckout := m.avgCheckoutTime()
	failed := m.failedConns
	m.mu.Unlock()

	switch {
	case util > 0.95:
		return Critical
	case util > 0.8 || avgCheckout > 30*time.Second || failed > 10:
		return Degraded
	default:
		return Healthy
	}
}

// Recommendations is the supplemented advisory-string feature
// (SPEC_FULL.md §C.3), grounded on
// connection_pool_manager.py's _generate_recommendations.
func (m *Manager) Recommendations() []string {
	m.mu.Lock()
	util := m.utilisation()
	avgCheckout := m.avgCheckoutTime()
	size := m.currentSize
	m.mu.Unlock()

	var out []string
	if util > m.cfg.UtilHigh {
		out = append(out, "utilisation is high; consider raising max_pool_size")
	}
	if avgCheckout > 10*time.Second {
		out = append(out, "average checkout time is elevated; check for long-held connections")
	}
	if util < m.cfg.UtilLow && size > m.cfg.Min {
		out = append(out, "utilisation is low; pool may be oversized")
	}
	if len(out) == 0 {
		out = append(out, "pool is operating within normal parameters")
	}
	return out
}

// Snapshot mirrors PoolSnapshot (spec §3), a point-in-time read used by
// diagnostics and tests.
type Snapshot struct {
	Size             int
	InUse            int
	Idle             int
	Utilisation      float64
	AvgCheckoutTime  time.Duration
	FailedCount      int
	Health           Health
	TakenAt          time.Time
}

func (m *Manager) Snapshot() Snapshot {
	stats := m.db.Stats()
	m.mu.Lock()
	failed := m.failedConns
	m.mu.Unlock()

	return Snapshot{
		Size:            stats.MaxOpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		Utilisation:     m.utilisation(),
		AvgCheckoutTime: m.avgCheckoutTime(),
		FailedCount:     failed,
		Health:          m.AssessHealth(),
		TakenAt:         time.Now().UTC(),
	}
}
