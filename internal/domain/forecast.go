package domain

import "time"

// ForecastRecord is one pre-dispatch forecast reading as parsed from
// AEMO's CSV, before it has been persisted.
type ForecastRecord struct {
	Region       Region
	PriceMWh     float64
	ForecastTime string // YYYY/MM/DD HH:MM:SS, market-local
}

// ForecastPoint is a persisted row of the forecast table.
type ForecastPoint struct {
	Region       Region    `db:"region"`
	ForecastTime string    `db:"forecast_time"`
	PublishedAt  string    `db:"published_at"`
	PriceMWh     float64   `db:"price_mwh"`
	FetchedAt    time.Time `db:"fetched_at"`
}
