package signal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"market-signal-core/internal/apperr"
	"market-signal-core/internal/logging"
)

// Repository is the persistence surface the Store needs, satisfied by
// *database.DB. Kept narrow so tests can fake it without a real sqlite
// file.
type Repository interface {
	InsertSignalWithOutcome(ctx context.Context, s *Signal) (int64, error)
	LatestSignalSince(ctx context.Context, symbol, signalType string, since time.Time) (*Signal, error)
	MarkAlertSent(ctx context.Context, signalID int64) error
	FindSignalByID(ctx context.Context, id int64) (*Signal, error)
	RecentSignals(ctx context.Context, filter Filter, limit int) ([]*Signal, error)
}

// Filter narrows Recent's result set (mirrors database.SignalFilter so
// callers in this package don't import database directly).
type Filter struct {
	Symbol     string
	SignalType string
	Timeframe  string
	Since      time.Time
}

// Store is the Signal Store (component D): atomic signal+outcome
// persistence with per-(symbol, signal_type) deduplication. Grounded on
// the teacher's internal/database/setup.go InsertTradingSetup pairing
// and sqlite.go's transactional-batch-insert idiom, both reused inside
// Repository.InsertSignalWithOutcome.
type Store struct {
	repo Repository
	log  *logging.Logger
}

func NewStore(repo Repository, log *logging.Logger) *Store {
	return &Store{repo: repo, log: log.WithComponent("signal_store")}
}

// Save persists s if no signal of the same (symbol, signal_type) was
// triggered at or after sig.TriggeredAt minus dedupWindow; otherwise it
// returns apperr.ErrDuplicateSignal and does not write. On success both the
// Signal and its paired zero-valued Outcome row are inserted atomically
// (spec §4.D).
func (s *Store) Save(ctx context.Context, sig *Signal, dedupWindow time.Duration) (int64, error) {
	since := sig.TriggeredAt.Add(-dedupWindow)
	existing, err := s.repo.LatestSignalSince(ctx, sig.Symbol, sig.SignalType, since)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		s.log.WithField("symbol", sig.Symbol).WithField("signal_type", sig.SignalType).
			Debug("duplicate signal suppressed by dedup window")
		return 0, apperr.ErrDuplicateSignal
	}

	if sig.ExternalID == "" {
		sig.ExternalID = uuid.NewString()
	}

	id, err := s.repo.InsertSignalWithOutcome(ctx, sig)
	if err != nil {
		return 0, err
	}
	sig.ID = id
	return id, nil
}

// MarkAlertSent flips the alert_sent flag once the Alert Dispatcher has
// successfully dispatched the signal's alert.
func (s *Store) MarkAlertSent(ctx context.Context, signalID int64) error {
	return s.repo.MarkAlertSent(ctx, signalID)
}

// FindByID retrieves a single signal, or nil if it doesn't exist.
func (s *Store) FindByID(ctx context.Context, id int64) (*Signal, error) {
	return s.repo.FindSignalByID(ctx, id)
}

// Recent lists signals matching filter, most recent first.
func (s *Store) Recent(ctx context.Context, filter Filter, limit int) ([]*Signal, error) {
	return s.repo.RecentSignals(ctx, filter, limit)
}
