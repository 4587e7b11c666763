package domain

import "time"

// AlertType enumerates the kinds of notification the engine can emit.
type AlertType string

const (
	AlertHighPrice AlertType = "high_price"
	AlertLowPrice  AlertType = "low_price"
	AlertSpike     AlertType = "spike"
	AlertAllClear  AlertType = "all_clear"
	AlertForecast  AlertType = "forecast"
)

// DedupWindow returns the minimum spacing required between two log entries
// of this alert type for the same user, per spec.md §8.
func (t AlertType) DedupWindow() time.Duration {
	switch t {
	case AlertAllClear, AlertForecast:
		return 60 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// AlertLog is one row of the persisted alert_log table: a record of a
// successfully delivered notification.
type AlertLog struct {
	ChatID    int64     `db:"chat_id"`
	AlertType AlertType `db:"alert_type"`
	PriceMWh  float64   `db:"price_mwh"`
	Region    Region    `db:"region"`
	SentAt    time.Time `db:"sent_at"`
}

// PendingAlert is the Analyzer's output: a notification that still needs
// to be rendered through the MessageSink and logged by the Notifier.
type PendingAlert struct {
	ChatID    int64
	Text      string
	AlertType AlertType
	PriceMWh  float64
	Region    Region
}
