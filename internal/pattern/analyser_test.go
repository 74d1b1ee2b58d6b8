package pattern

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-signal-core/internal/database"
	"market-signal-core/internal/logging"
)

type fakeRepo struct {
	symbols     []string
	bySymbol    map[string][]*database.CompletedSignalForPattern
	upserted    []*database.PatternRecord
}

func (f *fakeRepo) DistinctSymbols(ctx context.Context) ([]string, error) {
	return f.symbols, nil
}

func (f *fakeRepo) SignalsWithTrackedReturn1d(ctx context.Context, symbol string, since time.Time) ([]*database.CompletedSignalForPattern, error) {
	return f.bySymbol[symbol], nil
}

func (f *fakeRepo) UpsertPattern(ctx context.Context, p *database.PatternRecord) error {
	f.upserted = append(f.upserted, p)
	return nil
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Output: "stderr"})
}

func testConfig() Config {
	return Config{WindowDays: 90, SequentialGapDays: 7, ConcurrentGapMins: 30}
}

func ret(f float64) *float64 { return &f }

func TestRunForSymbolClustersSequentialSignalsWithinGap(t *testing.T) {
	base := time.Now().Add(-60 * 24 * time.Hour)
	repo := &fakeRepo{
		symbols: []string{"AAPL"},
		bySymbol: map[string][]*database.CompletedSignalForPattern{
			"AAPL": {
				{SignalID: 1, Symbol: "AAPL", SignalType: "breakout_up", TriggeredAt: base, Return1d: ret(0.02)},
				{SignalID: 2, Symbol: "AAPL", SignalType: "golden_cross", TriggeredAt: base.Add(2 * 24 * time.Hour), Return1d: ret(0.01)},
			},
		},
	}
	a := NewAnalyser(repo, testConfig(), testLogger())

	require.NoError(t, a.RunForSymbol(context.Background(), "AAPL"))
	require.Len(t, repo.upserted, 1)
	assert.Equal(t, "seq:breakout_up>golden_cross", repo.upserted[0].PatternSignature)
	assert.Equal(t, 2, repo.upserted[0].SampleCount)
}

func TestRunForSymbolDoesNotClusterSignalsBeyondGap(t *testing.T) {
	base := time.Now().Add(-60 * 24 * time.Hour)
	repo := &fakeRepo{
		symbols: []string{"AAPL"},
		bySymbol: map[string][]*database.CompletedSignalForPattern{
			"AAPL": {
				{SignalID: 1, Symbol: "AAPL", SignalType: "breakout_up", TriggeredAt: base, Return1d: ret(0.02)},
				{SignalID: 2, Symbol: "AAPL", SignalType: "golden_cross", TriggeredAt: base.Add(10 * 24 * time.Hour), Return1d: ret(0.01)},
			},
		},
	}
	a := NewAnalyser(repo, testConfig(), testLogger())

	require.NoError(t, a.RunForSymbol(context.Background(), "AAPL"))
	assert.Empty(t, repo.upserted, "signals 10 days apart exceed the 7-day sequential gap and must not cluster")
}

func TestRunForSymbolConcurrentSignatureIsSortedSet(t *testing.T) {
	base := time.Now().Add(-60 * 24 * time.Hour)
	repo := &fakeRepo{
		symbols: []string{"AAPL"},
		bySymbol: map[string][]*database.CompletedSignalForPattern{
			"AAPL": {
				{SignalID: 1, Symbol: "AAPL", SignalType: "rsi_oversold", TriggeredAt: base, Return1d: ret(0.03)},
				{SignalID: 2, Symbol: "AAPL", SignalType: "bollinger_touch_lower", TriggeredAt: base.Add(5 * time.Minute), Return1d: ret(-0.01)},
			},
		},
	}
	a := NewAnalyser(repo, testConfig(), testLogger())

	require.NoError(t, a.RunForSymbol(context.Background(), "AAPL"))

	var found bool
	for _, rec := range repo.upserted {
		if rec.PatternSignature == "conc:bollinger_touch_lower+rsi_oversold" {
			found = true
			assert.InDelta(t, 0.5, rec.SuccessRate1d, 1e-9)
		}
	}
	assert.True(t, found, "concurrent signature must be the sorted set of signal types")
}

func TestRunAllSweepsEverySymbol(t *testing.T) {
	base := time.Now().Add(-60 * 24 * time.Hour)
	repo := &fakeRepo{
		symbols: []string{"AAPL", "MSFT"},
		bySymbol: map[string][]*database.CompletedSignalForPattern{
			"AAPL": {
				{SignalID: 1, Symbol: "AAPL", SignalType: "breakout_up", TriggeredAt: base, Return1d: ret(0.02)},
				{SignalID: 2, Symbol: "AAPL", SignalType: "golden_cross", TriggeredAt: base.Add(time.Hour), Return1d: ret(0.01)},
			},
			"MSFT": {
				{SignalID: 3, Symbol: "MSFT", SignalType: "breakout_down", TriggeredAt: base, Return1d: ret(-0.02)},
				{SignalID: 4, Symbol: "MSFT", SignalType: "dead_cross", TriggeredAt: base.Add(time.Hour), Return1d: ret(-0.01)},
			},
		},
	}
	a := NewAnalyser(repo, testConfig(), testLogger())

	require.NoError(t, a.RunAll(context.Background()))
	assert.NotEmpty(t, repo.upserted)

	symbols := make(map[string]bool)
	for _, rec := range repo.upserted {
		symbols[rec.Symbol] = true
	}
	assert.True(t, symbols["AAPL"])
	assert.True(t, symbols["MSFT"])
}

func TestRunForSymbolWithNoSignalsUpsertsNothing(t *testing.T) {
	repo := &fakeRepo{symbols: []string{"AAPL"}, bySymbol: map[string][]*database.CompletedSignalForPattern{}}
	a := NewAnalyser(repo, testConfig(), testLogger())

	require.NoError(t, a.RunForSymbol(context.Background(), "AAPL"))
	assert.Empty(t, repo.upserted)
}
