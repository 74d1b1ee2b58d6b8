// Package outcome implements the Outcome Tracker (component E): a
// scheduler-tick-driven pass that fills in each signal's 1h/4h/1d/1w/1m
// price and return slots as their horizons elapse. Grounded on the
// teacher's internal/services/collector.go tick-driven polling loop,
// adapted from volume collection to outcome-slot filling.
package outcome

import (
	"context"
	"sync"
	"time"

	"market-signal-core/internal/database"
	"market-signal-core/internal/logging"
)

// PriceLookup resolves the price of symbol at or nearest before at. The
// Outcome Tracker calls this once per due horizon slot.
type PriceLookup interface {
	PriceAt(ctx context.Context, symbol string, at time.Time) (price float64, ok error)
}

// Repository is the persistence surface the Tracker needs.
type Repository interface {
	PendingOutcomes(ctx context.Context) ([]*database.PendingOutcome, error)
	UpdateOutcomeSlot(ctx context.Context, outcomeID int64, horizon string, price, ret float64, isComplete bool) error
	IncrementConsecutiveFailures(ctx context.Context, outcomeID int64) error
	AbandonOutcome(ctx context.Context, outcomeID int64) error
}

// abandonAfter and abandonGrace implement SPEC_FULL.md §D.3a's
// abandonment guard: an outcome stuck on its final (1m) slot past one
// month plus a 7-day grace period, with 3 consecutive failed lookups,
// is force-completed rather than polled forever.
const (
	abandonAfter            = 30 * 24 * time.Hour
	abandonGrace            = 7 * 24 * time.Hour
	abandonFailureThreshold = 3
)

// horizonOrder is the strict ascending order spec §4.E requires slots
// to be considered in.
var horizonOrder = []struct {
	name string
	dur  time.Duration
}{
	{"1h", time.Hour},
	{"4h", 4 * time.Hour},
	{"1d", 24 * time.Hour},
	{"1w", 7 * 24 * time.Hour},
	{"1m", 30 * 24 * time.Hour},
}

// Tracker owns one tick of outcome-slot filling.
type Tracker struct {
	mu     sync.Mutex
	repo   Repository
	prices PriceLookup
	log    *logging.Logger
}

func NewTracker(repo Repository, prices PriceLookup, log *logging.Logger) *Tracker {
	return &Tracker{repo: repo, prices: prices, log: log.WithComponent("outcome_tracker")}
}

// Tick processes every pending outcome once, in ascending signal_id
// order, filling in whichever horizon slots have come due since the
// last tick. Ticks are serialised by the Tracker's mutex, so an
// overlapping tick waits for the running one and at most one pass
// writes any outcome at a time.
func (t *Tracker) Tick(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending, err := t.repo.PendingOutcomes(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, p := range pending {
		if err := t.processOne(ctx, p, now); err != nil {
			t.log.WithError(err).WithField("signal_id", p.SignalID).Warn("failed to process outcome")
		}
	}
	return nil
}

func (t *Tracker) processOne(ctx context.Context, p *database.PendingOutcome, now time.Time) error {
	for _, h := range horizonOrder {
		if !isSlotEmpty(p, h.name) {
			continue
		}
		dueAt := p.TriggeredAt.Add(h.dur)
		if now.Before(dueAt) {
			// Slots must be considered in strict horizon order, so once
			// we hit the first slot that isn't due yet, later slots
			// (which are further out) can't be due either.
			return nil
		}

		price, lookupErr := t.prices.PriceAt(ctx, p.Symbol, dueAt)
		if lookupErr != nil {
			if h.name == "1m" {
				if err := t.repo.IncrementConsecutiveFailures(ctx, p.ID); err != nil {
					return err
				}
				if shouldAbandon(p, now) {
					t.log.WithField("symbol", p.Symbol).WithField("signal_id", p.SignalID).
						Warn("abandoning outcome after repeated failed 1m price lookups")
					return t.repo.AbandonOutcome(ctx, p.ID)
				}
			}
			return nil
		}

		ret := (price - p.BasePrice) / p.BasePrice * 100
		isComplete := h.name == "1m"
		if err := t.repo.UpdateOutcomeSlot(ctx, p.ID, h.name, price, ret, isComplete); err != nil {
			return err
		}
		if isComplete {
			return nil
		}
	}
	return nil
}

func isSlotEmpty(p *database.PendingOutcome, horizon string) bool {
	switch horizon {
	case "1h":
		return p.Price1h == nil
	case "4h":
		return p.Price4h == nil
	case "1d":
		return p.Price1d == nil
	case "1w":
		return p.Price1w == nil
	case "1m":
		return p.Price1m == nil
	default:
		return false
	}
}

func shouldAbandon(p *database.PendingOutcome, now time.Time) bool {
	return now.Sub(p.TriggeredAt) > abandonAfter+abandonGrace && p.Consecutive1mFailures+1 >= abandonFailureThreshold
}
