// Package store is the persistence layer: a single embedded SQLite database
// holding subscribers, price history, forecasts, and the alert log.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers as "sqlite"

	"github.com/nemalert/pricebot/internal/domain"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store wraps a single sqlite connection. SQLite only supports one writer at
// a time; rather than hand-roll a mutex around every query (the original
// engine's approach), the pool is capped at one connection so the
// database/sql layer serializes every query, reads and writes alike. WAL
// journal mode is still set on that connection.
type Store struct {
	db *sqlx.DB
}

// Open creates (if needed) the database file at path, applies the mandatory
// PRAGMAs, runs migrations, and returns a ready Store.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.NewStoreError("Open", fmt.Errorf("create data dir: %w", err))
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, domain.NewStoreError("Open", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, domain.NewStoreError("Open", err)
	}

	pragmas := fmt.Sprintf("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds())
	if _, err := db.ExecContext(ctx, pragmas); err != nil {
		return nil, domain.NewStoreError("Open", fmt.Errorf("apply pragmas: %w", err))
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies every *.sql file under migrations/, sorted by name.
// Idempotent: migration files use IF NOT EXISTS throughout.
func (s *Store) migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return domain.NewStoreError("migrate", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrationFS.ReadFile(filepath.Join("migrations", name))
		if err != nil {
			return domain.NewStoreError("migrate", fmt.Errorf("read %s: %w", name, err))
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return domain.NewStoreError("migrate", fmt.Errorf("exec %s: %w", name, err))
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Users
// ──────────────────────────────────────────────────────────────────────────────

// UpsertUser creates a subscriber row or updates its region if one already
// exists for chatID.
func (s *Store) UpsertUser(ctx context.Context, chatID int64, region domain.Region) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (chat_id, region, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?3)
		ON CONFLICT(chat_id) DO UPDATE SET region=?2, updated_at=?3`,
		chatID, string(region), now)
	if err != nil {
		return domain.NewStoreError("UpsertUser", err)
	}
	return nil
}

// GetUser fetches a subscriber by chat ID. Returns domain.ErrUserNotFound
// when no row exists.
func (s *Store) GetUser(ctx context.Context, chatID int64) (*domain.User, error) {
	var u domain.User
	err := s.db.GetContext(ctx, &u, `
		SELECT chat_id, region, high_alert, low_alert, is_active, created_at, updated_at
		FROM users WHERE chat_id = ?1`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, domain.NewStoreError("GetUser", err)
	}
	return &u, nil
}

// UpdateHighAlert sets a subscriber's upper threshold.
func (s *Store) UpdateHighAlert(ctx context.Context, chatID int64, value float64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET high_alert=?1, updated_at=?2 WHERE chat_id=?3`, value, now, chatID)
	if err != nil {
		return domain.NewStoreError("UpdateHighAlert", err)
	}
	return nil
}

// UpdateLowAlert sets a subscriber's lower threshold.
func (s *Store) UpdateLowAlert(ctx context.Context, chatID int64, value float64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET low_alert=?1, updated_at=?2 WHERE chat_id=?3`, value, now, chatID)
	if err != nil {
		return domain.NewStoreError("UpdateLowAlert", err)
	}
	return nil
}

// SetActive toggles whether a subscriber receives notifications. The
// Notifier calls this with active=false the moment a send comes back
// Forbidden (the user blocked the bot).
func (s *Store) SetActive(ctx context.Context, chatID int64, active bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active=?1, updated_at=?2 WHERE chat_id=?3`, active, now, chatID)
	if err != nil {
		return domain.NewStoreError("SetActive", err)
	}
	return nil
}

// GetActiveUsersByRegion returns every active subscriber watching region.
func (s *Store) GetActiveUsersByRegion(ctx context.Context, region domain.Region) ([]domain.User, error) {
	var users []domain.User
	err := s.db.SelectContext(ctx, &users, `
		SELECT chat_id, region, high_alert, low_alert, is_active, created_at, updated_at
		FROM users WHERE region=?1 AND is_active=1`, string(region))
	if err != nil {
		return nil, domain.NewStoreError("GetActiveUsersByRegion", err)
	}
	return users, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Prices
// ──────────────────────────────────────────────────────────────────────────────

// InsertPrice stores one dispatch price reading. Duplicate (region,
// interval_time) pairs are silently ignored — the Fetcher's retry loop can
// re-deliver the same interval.
func (s *Store) InsertPrice(ctx context.Context, p domain.PriceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO price_history (region, price_mwh, interval_time, fetched_at)
		VALUES (?1, ?2, ?3, ?4)`,
		string(p.Region), p.PriceMWh, p.IntervalTime, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return domain.NewStoreError("InsertPrice", err)
	}
	return nil
}

// GetLatestPrice returns the most recent price point for region.
func (s *Store) GetLatestPrice(ctx context.Context, region domain.Region) (*domain.PriceRecord, error) {
	var row struct {
		PriceMWh     float64 `db:"price_mwh"`
		IntervalTime string  `db:"interval_time"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT price_mwh, interval_time FROM price_history
		WHERE region=?1 ORDER BY interval_time DESC LIMIT 1`, string(region))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoData
		}
		return nil, domain.NewStoreError("GetLatestPrice", err)
	}
	return &domain.PriceRecord{Region: region, PriceMWh: row.PriceMWh, IntervalTime: row.IntervalTime}, nil
}

// GetPreviousPrice returns the price point immediately before the latest
// one — the baseline the Analyzer compares against to detect a spike.
func (s *Store) GetPreviousPrice(ctx context.Context, region domain.Region) (float64, error) {
	var price float64
	err := s.db.GetContext(ctx, &price, `
		SELECT price_mwh FROM price_history
		WHERE region=?1 ORDER BY interval_time DESC LIMIT 1 OFFSET 1`, string(region))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrNoData
		}
		return 0, domain.NewStoreError("GetPreviousPrice", err)
	}
	return price, nil
}

// GetDailyRange returns (min, max) price for region on the market-local date
// identified by datePrefix ("2006/01/02"). Returns domain.ErrNoData when no
// rows fall in that window.
func (s *Store) GetDailyRange(ctx context.Context, region domain.Region, datePrefix string) (min, max float64, err error) {
	var row struct {
		Min sql.NullFloat64 `db:"mn"`
		Max sql.NullFloat64 `db:"mx"`
	}
	err = s.db.GetContext(ctx, &row, `
		SELECT MIN(price_mwh) AS mn, MAX(price_mwh) AS mx FROM price_history
		WHERE region=?1 AND interval_time LIKE ?2`, string(region), datePrefix+"%")
	if err != nil {
		return 0, 0, domain.NewStoreError("GetDailyRange", err)
	}
	if !row.Min.Valid || !row.Max.Valid {
		return 0, 0, domain.ErrNoData
	}
	return row.Min.Float64, row.Max.Float64, nil
}

// GetDailyStats aggregates region's prices for the market-local date
// identified by datePrefix. Returns domain.ErrNoData when no rows match.
func (s *Store) GetDailyStats(ctx context.Context, region domain.Region, datePrefix string) (*domain.DailyStats, error) {
	var row struct {
		Min      sql.NullFloat64 `db:"mn"`
		Max      sql.NullFloat64 `db:"mx"`
		Avg      sql.NullFloat64 `db:"avg"`
		NegCount int64           `db:"neg_count"`
		Total    int64           `db:"total"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT MIN(price_mwh) AS mn, MAX(price_mwh) AS mx, AVG(price_mwh) AS avg,
		       SUM(CASE WHEN price_mwh < 0 THEN 1 ELSE 0 END) AS neg_count,
		       COUNT(*) AS total
		FROM price_history WHERE region=?1 AND interval_time LIKE ?2`,
		string(region), datePrefix+"%")
	if err != nil {
		return nil, domain.NewStoreError("GetDailyStats", err)
	}
	if row.Total == 0 || !row.Min.Valid {
		return nil, domain.ErrNoData
	}
	return &domain.DailyStats{
		Min:           row.Min.Float64,
		Max:           row.Max.Float64,
		Avg:           row.Avg.Float64,
		NegativeHours: float64(row.NegCount) * 5.0 / 60.0,
	}, nil
}

// GetDailyPeakTime returns the interval_time of the highest price recorded
// for region on the market-local date identified by datePrefix.
func (s *Store) GetDailyPeakTime(ctx context.Context, region domain.Region, datePrefix string) (string, error) {
	var t string
	err := s.db.GetContext(ctx, &t, `
		SELECT interval_time FROM price_history
		WHERE region=?1 AND interval_time LIKE ?2
		ORDER BY price_mwh DESC LIMIT 1`, string(region), datePrefix+"%")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrNoData
		}
		return "", domain.NewStoreError("GetDailyPeakTime", err)
	}
	return t, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Forecasts
// ──────────────────────────────────────────────────────────────────────────────

// InsertForecast stores one pre-dispatch forecast reading. Duplicate
// (region, forecast_time, published_at) triples are silently ignored.
func (s *Store) InsertForecast(ctx context.Context, f domain.ForecastRecord, publishedAt string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO forecast (region, forecast_time, published_at, price_mwh, fetched_at)
		VALUES (?1, ?2, ?3, ?4, ?5)`,
		string(f.Region), f.ForecastTime, publishedAt, f.PriceMWh, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return domain.NewStoreError("InsertForecast", err)
	}
	return nil
}

// GetForecasts returns the most recently published forecast for each
// forecast_time in region strictly after `after` and at-or-before `before`,
// ordered by forecast_time ascending. A region can have several forecast
// runs covering the same future interval; only the latest published_at per
// slot is kept.
func (s *Store) GetForecasts(ctx context.Context, region domain.Region, after, before string) ([]domain.ForecastRecord, error) {
	var rows []struct {
		ForecastTime string  `db:"forecast_time"`
		PriceMWh     float64 `db:"price_mwh"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT forecast_time, price_mwh FROM forecast
		WHERE region=?1 AND forecast_time>?2 AND forecast_time<=?3
		ORDER BY forecast_time, published_at DESC`, string(region), after, before)
	if err != nil {
		return nil, domain.NewStoreError("GetForecasts", err)
	}

	seen := make(map[string]bool, len(rows))
	out := make([]domain.ForecastRecord, 0, len(rows))
	for _, r := range rows {
		if seen[r.ForecastTime] {
			continue
		}
		seen[r.ForecastTime] = true
		out = append(out, domain.ForecastRecord{Region: region, ForecastTime: r.ForecastTime, PriceMWh: r.PriceMWh})
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Alerts
// ──────────────────────────────────────────────────────────────────────────────

// LogAlert records a successfully delivered notification.
func (s *Store) LogAlert(ctx context.Context, a domain.AlertLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_log (chat_id, alert_type, price_mwh, region, sent_at)
		VALUES (?1, ?2, ?3, ?4, ?5)`,
		a.ChatID, string(a.AlertType), a.PriceMWh, string(a.Region), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return domain.NewStoreError("LogAlert", err)
	}
	return nil
}

// WasAlertSentRecently reports whether chatID already received an alert of
// alertType within the last `window`.
func (s *Store) WasAlertSentRecently(ctx context.Context, chatID int64, alertType domain.AlertType, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window).Format(time.RFC3339)
	var count int64
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM alert_log
		WHERE chat_id=?1 AND alert_type=?2 AND sent_at>?3`, chatID, string(alertType), cutoff)
	if err != nil {
		return false, domain.NewStoreError("WasAlertSentRecently", err)
	}
	return count > 0, nil
}

// CountAlertsSince returns how many alerts chatID has received since `since`.
// Used for the per-hour analyzer/notifier cap, the /status command's weekly
// count, and the daily summary's 24h count.
func (s *Store) CountAlertsSince(ctx context.Context, chatID int64, since time.Time) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM alert_log WHERE chat_id=?1 AND sent_at>?2`,
		chatID, since.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, domain.NewStoreError("CountAlertsSince", err)
	}
	return count, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Maintenance
// ──────────────────────────────────────────────────────────────────────────────

// CleanupOldRecords deletes price_history/alert_log rows older than
// retentionDays and forecast rows older than 7 days (forecasts are only
// ever read relative to "now", so nothing reads a week-old one).
func (s *Store) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	cutoffLong := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	cutoffShort := time.Now().UTC().AddDate(0, 0, -7).Format(time.RFC3339)

	if _, err := s.db.ExecContext(ctx, `DELETE FROM price_history WHERE fetched_at<?1`, cutoffLong); err != nil {
		return domain.NewStoreError("CleanupOldRecords", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alert_log WHERE sent_at<?1`, cutoffLong); err != nil {
		return domain.NewStoreError("CleanupOldRecords", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM forecast WHERE fetched_at<?1`, cutoffShort); err != nil {
		return domain.NewStoreError("CleanupOldRecords", err)
	}
	return nil
}
