package domain

import (
	"errors"
	"fmt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// User errors
var (
	// ErrUserNotFound is returned when no user matches the given chat ID.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidThresholds is returned when a threshold update would leave
	// low_alert >= high_alert, or either value outside its allowed range.
	ErrInvalidThresholds = errors.New("low_alert must be less than high_alert")

	// ErrInvalidRegion is returned when a region string isn't one of the
	// five enumerated NEM regions.
	ErrInvalidRegion = errors.New("invalid region")
)

// Data errors
var (
	// ErrNoData is returned by aggregate queries (get_daily_range,
	// get_daily_stats, get_daily_peak_time) when no rows intersect the
	// requested window.
	ErrNoData = errors.New("no data for requested window")
)

// ──────────────────────────────────────────────────────────────────────────────
// Typed wrapper errors
// ──────────────────────────────────────────────────────────────────────────────

// StoreError wraps any failure from the persistence layer with the name of
// the failing operation, so background loops can log a stable, greppable
// tag without parsing driver-specific error strings.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store.%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err with the operation name op. Returns nil if err is nil.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// FetchError wraps a network failure from the Fetcher after all retries
// have been exhausted.
type FetchError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StaleDataError describes a price-slot fetch whose archive does not yet
// contain the expected settlement interval. It is not a failure of the
// Fetcher itself — the archive simply hasn't been published yet. The
// Scheduler's price loop tracks this case with its own fetchStale result
// and does not construct this type.
type StaleDataError struct {
	Expected string
	Attempt  int
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("stale data: expected interval %s not present (attempt %d)", e.Expected, e.Attempt)
}

// SendError is returned by a MessageSink implementation. Forbidden
// distinguishes "the user blocked/revoked the bot" (permanent, triggers
// deactivation) from any other transient transport failure.
type SendError struct {
	Forbidden bool
	Err       error
}

func (e *SendError) Error() string {
	if e.Forbidden {
		return fmt.Sprintf("send forbidden: %v", e.Err)
	}
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// IsNotFound returns true when err (or any error in its chain) represents a
// missing entity or empty aggregate window.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrNoData)
}

// IsStale reports whether err is a StaleDataError, unwrapping as needed.
func IsStale(err error) bool {
	var stale *StaleDataError
	return errors.As(err, &stale)
}

// IsForbidden reports whether err is a SendError with Forbidden set —
// the signal the Notifier uses to deactivate a user.
func IsForbidden(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Forbidden
}
