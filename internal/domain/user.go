package domain

import "time"

// Default thresholds applied to a brand-new user row. Region changes never
// reset these — see DESIGN.md's Open Question 1.
const (
	DefaultHighAlert = 150.0
	DefaultLowAlert  = 0.0

	MinHighAlert = 50.0
	MaxHighAlert = 15000.0
	MinLowAlert  = -1000.0
	MaxLowAlert  = 50.0
)

// User is a chat subscriber, keyed by the externally assigned chat ID.
type User struct {
	ChatID    int64     `db:"chat_id"`
	Region    Region    `db:"region"`
	HighAlert float64   `db:"high_alert"`
	LowAlert  float64   `db:"low_alert"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
