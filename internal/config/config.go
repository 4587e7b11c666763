// Package config provides application configuration loaded from environment
// variables. Use the package-level Get() function to obtain the singleton
// Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// TelegramConfig holds chat-bot credentials and the optional admin contact.
type TelegramConfig struct {
	BotToken     string // must be set
	AdminChatID  int64  // 0 = no admin, fetch-failure notifications are skipped
	HasAdminChat bool
}

// DBConfig holds the embedded SQLite connection settings.
type DBConfig struct {
	Path        string        // filesystem path to the sqlite file
	BusyTimeout time.Duration // default 5s, mirrored into PRAGMA busy_timeout
}

// SchedulerConfig holds the clock-alignment and retry settings for the
// price and forecast ingestion loops.
type SchedulerConfig struct {
	SettlementOffset time.Duration // default 90s past interval_end
	StaleRetries     int           // default 5
	StaleRetryDelay  time.Duration // default 15s
	FetchRetries     int           // default 3
	FetchRetryDelay  time.Duration // default 30s
	RetentionDays    int           // default 90, how long price_history/alert_log rows are kept
	DailySummaryHour int           // default 21, market-local hour the summary fires
}

// HealthConfig holds the ambient HTTP surface settings.
type HealthConfig struct {
	Addr            string        // default ":8089"
	ReadTimeout     time.Duration // default 5s
	WriteTimeout    time.Duration // default 5s
	RateLimitPerMin int           // default 60, requests per minute per client IP
}

// NotifierConfig holds outbound-send pacing settings.
type NotifierConfig struct {
	SendsPerSecond float64 // default 20, rate.Limiter token rate
	SendBurst      int     // default 1, so consecutive sends stay 1/SendsPerSecond apart
	MaxPerUserHour int     // default 10, per-user alert cap
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Env       string // "development" | "production"
	Telegram  TelegramConfig
	DB        DBConfig
	Scheduler SchedulerConfig
	Health    HealthConfig
	Notifier  NotifierConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Env == "production"
}

// Validate checks that all required configuration values are present and
// valid. Returns every validation error found, joined together.
func (c *Config) Validate() error {
	var errs []error

	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN (or TELOXIDE_TOKEN) must be set"))
	}
	if c.DB.Path == "" {
		errs = append(errs, errors.New("DATABASE_URL must not be empty"))
	}
	if c.Scheduler.StaleRetries < 1 {
		errs = append(errs, fmt.Errorf("SCHEDULER_STALE_RETRIES must be at least 1, got %d", c.Scheduler.StaleRetries))
	}
	if c.Scheduler.DailySummaryHour < 0 || c.Scheduler.DailySummaryHour > 23 {
		errs = append(errs, fmt.Errorf("SCHEDULER_DAILY_SUMMARY_HOUR must be in [0,23], got %d", c.Scheduler.DailySummaryHour))
	}
	if c.Notifier.MaxPerUserHour < 1 {
		errs = append(errs, fmt.Errorf("NOTIFIER_MAX_PER_USER_HOUR must be at least 1, got %d", c.Notifier.MaxPerUserHour))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment
// variables. Panics if loading fails — call this early in main() to catch
// misconfigurations at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	// Best-effort: a missing .env is normal in production where real env
	// vars are injected by the process manager.
	_ = godotenv.Load()

	cfg := &Config{
		Env: getEnv("ENVIRONMENT", "development"),
	}

	// ── Telegram ──────────────────────────────────────────────────────────────
	token := getEnv("TELEGRAM_BOT_TOKEN", "")
	if token == "" {
		token = getEnv("TELOXIDE_TOKEN", "")
	}
	adminChatID, hasAdmin, err := getOptionalInt64("ADMIN_CHAT_ID")
	if err != nil {
		return nil, fmt.Errorf("ADMIN_CHAT_ID: %w", err)
	}
	cfg.Telegram = TelegramConfig{
		BotToken:     token,
		AdminChatID:  adminChatID,
		HasAdminChat: hasAdmin,
	}

	// ── Database ──────────────────────────────────────────────────────────────
	cfg.DB = DBConfig{
		Path:        getEnv("DATABASE_URL", "./data/nem_price.db"),
		BusyTimeout: getDuration("DATABASE_BUSY_TIMEOUT", 5*time.Second),
	}

	// ── Scheduler ─────────────────────────────────────────────────────────────
	staleRetries, err := getInt("SCHEDULER_STALE_RETRIES", 5)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_STALE_RETRIES: %w", err)
	}
	fetchRetries, err := getInt("SCHEDULER_FETCH_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_FETCH_RETRIES: %w", err)
	}
	retentionDays, err := getInt("SCHEDULER_RETENTION_DAYS", 90)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_RETENTION_DAYS: %w", err)
	}
	summaryHour, err := getInt("SCHEDULER_DAILY_SUMMARY_HOUR", 21)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_DAILY_SUMMARY_HOUR: %w", err)
	}

	cfg.Scheduler = SchedulerConfig{
		SettlementOffset: getDuration("SCHEDULER_SETTLEMENT_OFFSET", 90*time.Second),
		StaleRetries:     staleRetries,
		StaleRetryDelay:  getDuration("SCHEDULER_STALE_RETRY_DELAY", 15*time.Second),
		FetchRetries:     fetchRetries,
		FetchRetryDelay:  getDuration("SCHEDULER_FETCH_RETRY_DELAY", 30*time.Second),
		RetentionDays:    retentionDays,
		DailySummaryHour: summaryHour,
	}

	// ── Health ────────────────────────────────────────────────────────────────
	rateLimit, err := getInt("HEALTH_RATE_LIMIT_PER_MIN", 60)
	if err != nil {
		return nil, fmt.Errorf("HEALTH_RATE_LIMIT_PER_MIN: %w", err)
	}
	cfg.Health = HealthConfig{
		Addr:            getEnv("HEALTH_ADDR", ":8089"),
		ReadTimeout:     getDuration("HEALTH_READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("HEALTH_WRITE_TIMEOUT", 5*time.Second),
		RateLimitPerMin: rateLimit,
	}

	// ── Notifier ──────────────────────────────────────────────────────────────
	sendRate, err := getFloat("NOTIFIER_SENDS_PER_SECOND", 20)
	if err != nil {
		return nil, fmt.Errorf("NOTIFIER_SENDS_PER_SECOND: %w", err)
	}
	sendBurst, err := getInt("NOTIFIER_SEND_BURST", 1)
	if err != nil {
		return nil, fmt.Errorf("NOTIFIER_SEND_BURST: %w", err)
	}
	maxPerUserHour, err := getInt("NOTIFIER_MAX_PER_USER_HOUR", 10)
	if err != nil {
		return nil, fmt.Errorf("NOTIFIER_MAX_PER_USER_HOUR: %w", err)
	}
	cfg.Notifier = NotifierConfig{
		SendsPerSecond: sendRate,
		SendBurst:      sendBurst,
		MaxPerUserHour: maxPerUserHour,
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

// getOptionalInt64 parses an env var as int64. Returns (0, false, nil) if
// the variable is unset, matching ADMIN_CHAT_ID's "optional" semantics.
func getOptionalInt64(key string) (int64, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid integer %q", v)
	}
	return n, true, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or malformed.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
