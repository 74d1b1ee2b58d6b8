package pool

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-signal-core/internal/logging"
)

type fakeResizer struct {
	maxOpen int
	inUse   int
	idle    int
}

func (f *fakeResizer) SetMaxOpenConns(n int) { f.maxOpen = n }

func (f *fakeResizer) Stats() sql.DBStats {
	return sql.DBStats{MaxOpenConnections: f.maxOpen, InUse: f.inUse, Idle: f.idle}
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Output: "stderr"})
}

func testConfig() Config {
	return Config{
		Min: 5, Max: 20, MaxOverflow: 5,
		Timeout: time.Second, Recycle: time.Hour,
		AdjustmentInterval: time.Minute,
		UtilHigh:           0.8, UtilLow: 0.2, Step: 5,
	}
}

func TestCheckAndAdjustGrowsPoolOnHighUtilisation(t *testing.T) {
	db := &fakeResizer{maxOpen: 5, inUse: 5}
	m := NewManager(testConfig(), db, nil, testLogger())

	m.CheckAndAdjust(context.Background())
	assert.Equal(t, 10, db.maxOpen, "utilisation of 100%% exceeds UtilHigh and should grow by Step")
}

func TestCheckAndAdjustShrinksPoolOnLowUtilisation(t *testing.T) {
	db := &fakeResizer{maxOpen: 20, inUse: 1}
	m := NewManager(testConfig(), db, nil, testLogger())
	m.currentSize = 20

	m.CheckAndAdjust(context.Background())
	assert.Equal(t, 15, db.maxOpen)
}

func TestCheckAndAdjustNeverExceedsMaxOrMin(t *testing.T) {
	db := &fakeResizer{maxOpen: 20, inUse: 20}
	m := NewManager(testConfig(), db, nil, testLogger())
	m.currentSize = 18

	m.CheckAndAdjust(context.Background())
	assert.Equal(t, 20, db.maxOpen, "growth must clamp to Max")
}

func TestCheckAndAdjustIsGatedByAdjustmentInterval(t *testing.T) {
	db := &fakeResizer{maxOpen: 5, inUse: 5}
	m := NewManager(testConfig(), db, nil, testLogger())
	m.lastAdjustment = time.Now()

	m.CheckAndAdjust(context.Background())
	assert.Equal(t, 5, db.maxOpen, "a check within the adjustment interval must not resize")
}

func TestAssessHealthThresholds(t *testing.T) {
	cases := []struct {
		name     string
		inUse    int
		maxOpen  int
		failed   int
		checkout time.Duration
		want     Health
	}{
		{"low utilisation", 2, 10, 0, 0, Healthy},
		{"above 0.8 is degraded", 9, 10, 0, 0, Degraded},
		{"above 0.95 is critical", 10, 10, 0, 0, Critical},
		{"many failed connections degrades", 2, 10, 11, 0, Degraded},
		{"slow checkout degrades", 2, 10, 0, 31 * time.Second, Degraded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := &fakeResizer{maxOpen: tc.maxOpen, inUse: tc.inUse}
			m := NewManager(testConfig(), db, nil, testLogger())
			for i := 0; i < tc.failed; i++ {
				m.RecordFailedConnection()
			}
			if tc.checkout > 0 {
				m.RecordCheckout(tc.checkout)
			}
			assert.Equal(t, tc.want, m.AssessHealth())
		})
	}
}

func TestSnapshotReflectsCurrentState(t *testing.T) {
	db := &fakeResizer{maxOpen: 10, inUse: 3, idle: 7}
	m := NewManager(testConfig(), db, nil, testLogger())
	m.RecordFailedConnection()

	snap := m.Snapshot()
	require.Equal(t, 10, snap.Size)
	assert.Equal(t, 3, snap.InUse)
	assert.Equal(t, 1, snap.FailedCount)
	assert.Equal(t, Healthy, snap.Health)
}

func TestRecommendationsFlagHighUtilisation(t *testing.T) {
	db := &fakeResizer{maxOpen: 10, inUse: 9}
	m := NewManager(testConfig(), db, nil, testLogger())

	recs := m.Recommendations()
	require.NotEmpty(t, recs)
	assert.Contains(t, recs[0], "high")
}
