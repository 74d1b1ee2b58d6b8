// Package signal implements the Signal Detector (component C) and
// Signal Store (component D).
package signal

import "time"

// MarketCondition classifies the backdrop a signal fired against.
type MarketCondition string

const (
	Bullish  MarketCondition = "bullish"
	Bearish  MarketCondition = "bearish"
	Sideways MarketCondition = "sideways"
)

// Signal is an emitted event (spec §3). Created once at detection,
// never mutated except AlertSent.
type Signal struct {
	ID                int64
	ExternalID        string // uuid, stable external reference independent of the autoincrement rowid
	Symbol            string
	SignalType        string
	Timeframe         string
	TriggeredAt       time.Time
	CurrentPrice      float64
	IndicatorValue    *float64
	SignalStrength    *float64
	Volume            *float64
	MarketCondition   MarketCondition
	AlertSent         bool
	AdditionalContext map[string]interface{} // single untyped map per spec §9
}

// Outcome mirrors SignalOutcome (spec §3), 1:1 with Signal via SignalID.
type Outcome struct {
	ID           int64
	SignalID     int64
	Price1h      *float64
	Price4h      *float64
	Price1d      *float64
	Price1w      *float64
	Price1m      *float64
	Return1h     *float64
	Return4h     *float64
	Return1d     *float64
	Return1w     *float64
	Return1m     *float64
	IsComplete   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Horizon enumerates the fixed future offsets tracked by the Outcome
// Tracker, in strict ascending order (spec §4.E: "slots must be
// considered in strict horizon order").
type Horizon struct {
	Name string
	Dur  time.Duration
}

var Horizons = []Horizon{
	{"1h", time.Hour},
	{"4h", 4 * time.Hour},
	{"1d", 24 * time.Hour},
	{"1w", 7 * 24 * time.Hour},
	{"1m", 30 * 24 * time.Hour},
}
