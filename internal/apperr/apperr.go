// Package apperr holds the sentinel errors that the core treats as
// normal control-flow outcomes rather than failures (spec §7, §9 —
// "raise exceptions for flow control" is replaced with result-shaped
// errors checked via errors.Is).
package apperr

import "errors"

var (
	// ErrDuplicateSignal is returned by the Signal Store when a signal
	// of the same (symbol, signal_type) was already persisted within
	// the deduplication window. Not a failure: the detector loop skips
	// the save and continues.
	ErrDuplicateSignal = errors.New("duplicate signal within dedup window")

	// ErrStaleBar is returned by the Price-Series Cache when an
	// appended bar's timestamp does not strictly advance the series.
	ErrStaleBar = errors.New("stale or out-of-order bar")

	// ErrDataSourceUnavailable is surfaced once the price provider's
	// retry budget is exhausted.
	ErrDataSourceUnavailable = errors.New("price data source unavailable")

	// ErrOutcomeSignalMissing marks referential corruption: an outcome
	// row whose paired signal cannot be found.
	ErrOutcomeSignalMissing = errors.New("outcome references missing signal")

	// ErrRateLimited marks an upstream 429. The price provider adapter
	// does not return it: it retries 429 responses with the same backoff
	// as 5xx ones and reports exhaustion as ErrDataSourceUnavailable.
	ErrRateLimited = errors.New("price provider rate limited")
)
