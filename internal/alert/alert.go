// Package alert implements the Alert Dispatcher (component G):
// per-channel fan-out with isolation, a per-key token-bucket rate
// limiter, and dispatch history/stats. Grounded on koshedutech-binance-trading-
// app's internal/notification/notification.go for the Notifier
// interface and Manager/fan-out shape, and on
// original_source/app/common/monitoring/alerts.py for the exact
// rate-limit and channel-routing semantics (spec §4.G).
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"market-signal-core/internal/logging"
)

// Severity mirrors AlertLevel in alerts.py.
type Severity string

const (
	Info     Severity = "info"
	Warning  Severity = "warning"
	Error    Severity = "error"
	Critical Severity = "critical"
)

// Alert is one dispatched event.
type Alert struct {
	Severity  Severity
	Component string
	Title     string
	Message   string
	Fields    map[string]interface{}
	Timestamp time.Time
}

// Notifier is satisfied by each channel implementation (Telegram,
// Slack, Email, Webhook).
type Notifier interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// ChannelRouting maps each severity to the list of channel names that
// should receive it (spec §4.G's routing table, configured via
// config.AlertChannelsCfg).
type ChannelRouting struct {
	Info     []string
	Warning  []string
	Error    []string
	Critical []string
}

func (r ChannelRouting) channelsFor(s Severity) []string {
	switch s {
	case Info:
		return r.Info
	case Warning:
		return r.Warning
	case Error:
		return r.Error
	case Critical:
		return r.Critical
	default:
		return nil
	}
}

type rateKey struct {
	component, title string
}

// Manager fans an alert out to every routed channel in parallel,
// isolating failures per channel, and rate-limits per (component,
// title). The limiter-per-key map mirrors cblomart-perso-cb-lite's
// middleware RateLimiter.GetLimiter, keyed here on (component, title)
// instead of client IP. Each key gets a token bucket with burst = limit
// and one token refilled every window/limit. This is not a strict
// rolling window: once the burst is spent, refilled tokens let further
// alerts through before a full window has passed, so more than limit
// alerts for one key can be dispatched within a rolling hour.
type Manager struct {
	mu        sync.Mutex
	notifiers map[string]Notifier
	routing   ChannelRouting
	limit     int
	window    time.Duration
	limiters  map[rateKey]*rate.Limiter
	history   []Alert
	log       *logging.Logger
}

func NewManager(routing ChannelRouting, limitPerHour int, log *logging.Logger) *Manager {
	return &Manager{
		notifiers: make(map[string]Notifier),
		routing:   routing,
		limit:     limitPerHour,
		window:    time.Hour,
		limiters:  make(map[rateKey]*rate.Limiter),
		log:       log.WithComponent("alert_dispatcher"),
	}
}

// limiterFor returns the token-bucket limiter for key, creating one
// sized to allow m.limit events per m.window on first use.
func (m *Manager) limiterFor(key rateKey) *rate.Limiter {
	if l, ok := m.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(m.window/time.Duration(m.limit)), m.limit)
	m.limiters[key] = l
	return l
}

// Register adds a channel notifier under its Name().
func (m *Manager) Register(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers[n.Name()] = n
}

// Send rate-limits then fans a out to every channel routed for its
// severity, collecting per-channel errors without letting one channel's
// failure block another (alerts.py's asyncio.gather(return_exceptions=true)
// equivalent, expressed here with goroutines + a result channel).
func (m *Manager) Send(ctx context.Context, a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	if m.isRateLimited(a.Component, a.Title) {
		m.log.WithField("component", a.Component).WithField("title", a.Title).
			Debug("alert suppressed by rate limit")
		return nil
	}

	m.mu.Lock()
	channels := m.routing.channelsFor(a.Severity)
	notifiers := make([]Notifier, 0, len(channels))
	for _, name := range channels {
		if n, ok := m.notifiers[name]; ok {
			notifiers = append(notifiers, n)
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(notifiers))
	for _, n := range notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			if err := n.Send(ctx, a); err != nil {
				errs <- fmt.Errorf("channel %s: %w", n.Name(), err)
			}
		}(n)
	}
	wg.Wait()
	close(errs)

	var failed []error
	for err := range errs {
		m.log.WithError(err).Warn("alert channel delivery failed")
		failed = append(failed, err)
	}

	m.recordHistory(a)

	if len(failed) > 0 && len(failed) == len(notifiers) && len(notifiers) > 0 {
		return fmt.Errorf("all %d alert channels failed for %s/%s", len(notifiers), a.Component, a.Title)
	}
	return nil
}

// isRateLimited reports whether the key's token bucket is empty. It is a
// single Allow() call that both checks and consumes the budget
// atomically, so an allowed alert also counts as the "send" for
// rate-limiting purposes. A key that has spent its burst is blocked
// only until the next token refills (window/limit), not for the rest
// of a rolling hour.
func (m *Manager) isRateLimited(component, title string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	limiter := m.limiterFor(rateKey{component, title})
	return !limiter.Allow()
}

func (m *Manager) recordHistory(a Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, a)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	i := 0
	for i < len(m.history) && m.history[i].Timestamp.Before(cutoff) {
		i++
	}
	m.history = m.history[i:]
}

// History lists every alert dispatched within the trailing window.
func (m *Manager) History(since time.Duration) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-since)
	var out []Alert
	for _, a := range m.history {
		if a.Timestamp.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// Stats is the supplemented alert-statistics feature (SPEC_FULL.md
// §C.5), grounded on alerts.py's get_alert_stats.
type Stats struct {
	TotalAlerts int
	ByLevel     map[Severity]int
	ByComponent map[string]int
	ByHour      map[string]int
}

func (m *Manager) Stats(since time.Duration) Stats {
	alerts := m.History(since)
	s := Stats{
		ByLevel:     make(map[Severity]int),
		ByComponent: make(map[string]int),
		ByHour:      make(map[string]int),
	}
	for _, a := range alerts {
		s.TotalAlerts++
		s.ByLevel[a.Severity]++
		s.ByComponent[a.Component]++
		s.ByHour[a.Timestamp.Format("2006-01-02T15")]++
	}
	return s
}
