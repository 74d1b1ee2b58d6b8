package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-signal-core/internal/apperr"
	"market-signal-core/internal/logging"
)

type fakeRepo struct {
	signals       map[int64]*Signal
	nextID        int64
	latestReturns *Signal
	insertErr     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{signals: make(map[int64]*Signal)}
}

func (f *fakeRepo) InsertSignalWithOutcome(ctx context.Context, s *Signal) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextID++
	cp := *s
	cp.ID = f.nextID
	f.signals[f.nextID] = &cp
	return f.nextID, nil
}

func (f *fakeRepo) LatestSignalSince(ctx context.Context, symbol, signalType string, since time.Time) (*Signal, error) {
	return f.latestReturns, nil
}

func (f *fakeRepo) MarkAlertSent(ctx context.Context, signalID int64) error {
	s, ok := f.signals[signalID]
	if !ok {
		return apperr.ErrOutcomeSignalMissing
	}
	s.AlertSent = true
	return nil
}

func (f *fakeRepo) FindSignalByID(ctx context.Context, id int64) (*Signal, error) {
	return f.signals[id], nil
}

func (f *fakeRepo) RecentSignals(ctx context.Context, filter Filter, limit int) ([]*Signal, error) {
	var out []*Signal
	for _, s := range f.signals {
		out = append(out, s)
	}
	return out, nil
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Output: "stderr"})
}

func TestStoreSaveAssignsExternalID(t *testing.T) {
	repo := newFakeRepo()
	store := NewStore(repo, testLogger())

	sig := &Signal{Symbol: "AAPL", SignalType: "breakout_up", TriggeredAt: time.Now()}
	id, err := store.Save(context.Background(), sig, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.NotEmpty(t, sig.ExternalID)
}

func TestStoreSaveRejectsDuplicateWithinDedupWindow(t *testing.T) {
	repo := newFakeRepo()
	repo.latestReturns = &Signal{ID: 99, Symbol: "AAPL", SignalType: "breakout_up"}
	store := NewStore(repo, testLogger())

	sig := &Signal{Symbol: "AAPL", SignalType: "breakout_up", TriggeredAt: time.Now()}
	_, err := store.Save(context.Background(), sig, time.Hour)
	assert.ErrorIs(t, err, apperr.ErrDuplicateSignal)
}

func TestStoreSavePreservesCallerSuppliedExternalID(t *testing.T) {
	repo := newFakeRepo()
	store := NewStore(repo, testLogger())

	sig := &Signal{Symbol: "AAPL", SignalType: "breakout_up", TriggeredAt: time.Now(), ExternalID: "fixed-id"}
	_, err := store.Save(context.Background(), sig, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", sig.ExternalID)
}

func TestStoreMarkAlertSent(t *testing.T) {
	repo := newFakeRepo()
	store := NewStore(repo, testLogger())

	sig := &Signal{Symbol: "AAPL", SignalType: "breakout_up", TriggeredAt: time.Now()}
	id, err := store.Save(context.Background(), sig, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.MarkAlertSent(context.Background(), id))
	found, err := store.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, found.AlertSent)
}
