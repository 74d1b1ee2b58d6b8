package querymon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-signal-core/internal/alert"
	"market-signal-core/internal/database"
	"market-signal-core/internal/logging"
)

type fakeRepo struct {
	mu      sync.Mutex
	batches [][]database.SlowQueryLogEntry
	err     error
}

func (f *fakeRepo) InsertSlowQueryBatch(ctx context.Context, entries []database.SlowQueryLogEntry) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, entries)
	return nil
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Output: "stderr"})
}

func TestNormalizeStripsLiteralsInOrder(t *testing.T) {
	got := Normalize("SELECT * FROM technical_signals WHERE symbol = 'AAPL' AND id > 42")
	assert.Equal(t, "SELECT * FROM technical_signals WHERE symbol = ? AND id > ?", got)
}

func TestHashIsTwelveHexCharsAndStableForEquivalentQueries(t *testing.T) {
	a := Hash(Normalize("SELECT * FROM t WHERE id = 1"))
	b := Hash(Normalize("SELECT * FROM t WHERE id = 2"))
	assert.Len(t, a, 12)
	assert.Equal(t, a, b, "structurally identical queries must hash identically")
}

func TestAfterExecuteEnqueuesOnlyAboveThreshold(t *testing.T) {
	repo := &fakeRepo{}
	m := NewMonitor(2*time.Second, 100, repo, nil, testLogger())

	m.AfterExecute(context.Background(), "SELECT 1", 500*time.Millisecond, 1, nil)
	m.AfterExecute(context.Background(), "SELECT 2", 3*time.Second, 1, nil)

	m.mu.Lock()
	pending := len(m.pending)
	m.mu.Unlock()
	assert.Equal(t, 1, pending, "only the query exceeding threshold should be queued as a slow entry")
}

func TestEnqueueFlushesAtBatchSize(t *testing.T) {
	repo := &fakeRepo{}
	m := NewMonitor(time.Second, 2, repo, nil, testLogger())

	m.AfterExecute(context.Background(), "SELECT 1", 2*time.Second, 1, nil)
	m.AfterExecute(context.Background(), "SELECT 2", 2*time.Second, 1, nil)

	require.Len(t, repo.batches, 1)
	assert.Len(t, repo.batches[0], 2)
}

func TestFlushDropsBatchOnRepositoryFailure(t *testing.T) {
	repo := &fakeRepo{err: assert.AnError}
	m := NewMonitor(time.Second, 100, repo, nil, testLogger())

	m.AfterExecute(context.Background(), "SELECT 1", 2*time.Second, 1, nil)
	m.Flush(context.Background())

	m.mu.Lock()
	pending := len(m.pending)
	m.mu.Unlock()
	assert.Equal(t, 0, pending, "a failed flush drops the batch rather than re-enqueuing it")
}

func TestMaybeAlertRoutesBySeverity(t *testing.T) {
	repo := &fakeRepo{}
	alerts := alert.NewManager(alert.ChannelRouting{
		Critical: []string{"fake"},
		Warning:  []string{"fake"},
	}, 100, testLogger())
	notifier := &recordingNotifier{}
	alerts.Register(notifier)

	m := NewMonitor(time.Second, 100, repo, alerts, testLogger())
	m.AfterExecute(context.Background(), "SELECT 1", 6*time.Second, 1, nil)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, alert.Critical, notifier.sent[0].Severity)
}

func TestSummaryOrdersByAverageDurationAndCount(t *testing.T) {
	repo := &fakeRepo{}
	m := NewMonitor(time.Hour, 100, repo, nil, testLogger())

	m.AfterExecute(context.Background(), "SELECT slow FROM a", 100*time.Millisecond, 1, nil)
	m.AfterExecute(context.Background(), "SELECT slow FROM a", 200*time.Millisecond, 1, nil)
	m.AfterExecute(context.Background(), "SELECT fast FROM b", 10*time.Millisecond, 1, nil)
	m.AfterExecute(context.Background(), "SELECT fast FROM b", 10*time.Millisecond, 1, nil)
	m.AfterExecute(context.Background(), "SELECT fast FROM b", 10*time.Millisecond, 1, nil)

	summary := m.Summary(10)
	assert.Equal(t, 2, summary.TotalTrackedQueries)
	require.NotEmpty(t, summary.SlowestByAvg)
	assert.Contains(t, summary.SlowestByAvg[0].QueryTemplate, "slow")
	require.NotEmpty(t, summary.MostFrequent)
	assert.Contains(t, summary.MostFrequent[0].QueryTemplate, "fast")
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []alert.Alert
}

func (r *recordingNotifier) Name() string { return "fake" }

func (r *recordingNotifier) Send(ctx context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, a)
	return nil
}
