package domain

import "time"

// Price domain bounds enforced by the Parser.
const (
	MinPriceMWh = -1000.0
	MaxPriceMWh = 17500.0

	// SpikeThresholdMWh is a build-time constant, deliberately not a
	// per-user setting — see DESIGN.md's Open Question 2.
	SpikeThresholdMWh = 100.0
)

// MarketTimeLayout is AEMO's interval-time format: fixed-width,
// zero-padded, and therefore safe to compare lexicographically.
const MarketTimeLayout = "2006/01/02 15:04:05"

// MarketDateLayout is the date-only prefix used for daily aggregation.
const MarketDateLayout = "2006/01/02"

// PriceRecord is one dispatch price reading as parsed from AEMO's CSV,
// before it has been persisted.
type PriceRecord struct {
	Region       Region
	PriceMWh     float64
	IntervalTime string // YYYY/MM/DD HH:MM:SS, market-local
}

// PricePoint is a persisted row of price_history.
type PricePoint struct {
	Region       Region    `db:"region"`
	PriceMWh     float64   `db:"price_mwh"`
	IntervalTime string    `db:"interval_time"`
	FetchedAt    time.Time `db:"fetched_at"`
}

// DailyStats summarizes one region's prices for one market-local date.
type DailyStats struct {
	Min           float64
	Max           float64
	Avg           float64
	NegativeHours float64
}
