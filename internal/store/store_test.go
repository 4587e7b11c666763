package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers as "sqlite"

	"github.com/nemalert/pricebot/internal/domain"
	"github.com/nemalert/pricebot/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(context.Background(), path, 5*time.Second)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ── Users ─────────────────────────────────────────────────────────────────────

func TestUpsertUser_CreatesThenUpdatesRegion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.UpsertUser(ctx, 100, domain.RegionNSW); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	u, err := s.GetUser(ctx, 100)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.Region != domain.RegionNSW {
		t.Errorf("Region = %s, want %s", u.Region, domain.RegionNSW)
	}
	if u.HighAlert != domain.DefaultHighAlert {
		t.Errorf("HighAlert on a fresh user should default via migration, got %v", u.HighAlert)
	}

	if err := s.UpsertUser(ctx, 100, domain.RegionVIC); err != nil {
		t.Fatalf("UpsertUser() (update) error = %v", err)
	}
	u, err = s.GetUser(ctx, 100)
	if err != nil {
		t.Fatalf("GetUser() after update error = %v", err)
	}
	if u.Region != domain.RegionVIC {
		t.Errorf("Region after re-upsert = %s, want %s", u.Region, domain.RegionVIC)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetUser(context.Background(), 999)
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("GetUser() error = %v, want ErrUserNotFound", err)
	}
}

func TestUpdateThresholds_AndSetActive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.UpsertUser(ctx, 200, domain.RegionQLD); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	if err := s.UpdateHighAlert(ctx, 200, 300); err != nil {
		t.Fatalf("UpdateHighAlert() error = %v", err)
	}
	if err := s.UpdateLowAlert(ctx, 200, 10); err != nil {
		t.Fatalf("UpdateLowAlert() error = %v", err)
	}
	if err := s.SetActive(ctx, 200, false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	u, err := s.GetUser(ctx, 200)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.HighAlert != 300 || u.LowAlert != 10 {
		t.Errorf("thresholds = (%v, %v), want (300, 10)", u.HighAlert, u.LowAlert)
	}
	if u.IsActive {
		t.Error("IsActive should be false after SetActive(false)")
	}
}

func TestGetActiveUsersByRegion_ExcludesInactiveAndOtherRegions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mustUpsert(t, s, 1, domain.RegionSA)
	mustUpsert(t, s, 2, domain.RegionSA)
	mustUpsert(t, s, 3, domain.RegionTAS)
	if err := s.SetActive(ctx, 2, false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	users, err := s.GetActiveUsersByRegion(ctx, domain.RegionSA)
	if err != nil {
		t.Fatalf("GetActiveUsersByRegion() error = %v", err)
	}
	if len(users) != 1 || users[0].ChatID != 1 {
		t.Errorf("GetActiveUsersByRegion() = %+v, want exactly chat 1", users)
	}
}

func mustUpsert(t *testing.T, s *store.Store, chatID int64, region domain.Region) {
	t.Helper()
	if err := s.UpsertUser(context.Background(), chatID, region); err != nil {
		t.Fatalf("UpsertUser(%d) error = %v", chatID, err)
	}
}

// ── Prices ────────────────────────────────────────────────────────────────────

func TestInsertAndGetLatestPrice(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	records := []domain.PriceRecord{
		{Region: domain.RegionNSW, PriceMWh: 50, IntervalTime: "2026/07/30 10:00:00"},
		{Region: domain.RegionNSW, PriceMWh: 80, IntervalTime: "2026/07/30 10:05:00"},
	}
	for _, r := range records {
		if err := s.InsertPrice(ctx, r); err != nil {
			t.Fatalf("InsertPrice() error = %v", err)
		}
	}

	latest, err := s.GetLatestPrice(ctx, domain.RegionNSW)
	if err != nil {
		t.Fatalf("GetLatestPrice() error = %v", err)
	}
	if latest.PriceMWh != 80 {
		t.Errorf("GetLatestPrice().PriceMWh = %v, want 80", latest.PriceMWh)
	}

	prev, err := s.GetPreviousPrice(ctx, domain.RegionNSW)
	if err != nil {
		t.Fatalf("GetPreviousPrice() error = %v", err)
	}
	if prev != 50 {
		t.Errorf("GetPreviousPrice() = %v, want 50", prev)
	}
}

func TestInsertPrice_DuplicateIntervalIgnored(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := domain.PriceRecord{Region: domain.RegionVIC, PriceMWh: 42, IntervalTime: "2026/07/30 10:00:00"}
	if err := s.InsertPrice(ctx, rec); err != nil {
		t.Fatalf("InsertPrice() error = %v", err)
	}
	rec.PriceMWh = 999
	if err := s.InsertPrice(ctx, rec); err != nil {
		t.Fatalf("InsertPrice() (duplicate) error = %v", err)
	}

	latest, err := s.GetLatestPrice(ctx, domain.RegionVIC)
	if err != nil {
		t.Fatalf("GetLatestPrice() error = %v", err)
	}
	if latest.PriceMWh != 42 {
		t.Errorf("duplicate insert should be ignored, GetLatestPrice().PriceMWh = %v, want 42", latest.PriceMWh)
	}
}

func TestGetDailyStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	prices := []float64{-10, 50, 100}
	for i, p := range prices {
		rec := domain.PriceRecord{
			Region:       domain.RegionQLD,
			PriceMWh:     p,
			IntervalTime: "2026/07/30 1" + string(rune('0'+i)) + ":00:00",
		}
		if err := s.InsertPrice(ctx, rec); err != nil {
			t.Fatalf("InsertPrice() error = %v", err)
		}
	}

	stats, err := s.GetDailyStats(ctx, domain.RegionQLD, "2026/07/30")
	if err != nil {
		t.Fatalf("GetDailyStats() error = %v", err)
	}
	if stats.Min != -10 || stats.Max != 100 {
		t.Errorf("stats = %+v, want min=-10 max=100", stats)
	}
	if stats.NegativeHours <= 0 {
		t.Errorf("NegativeHours = %v, want > 0 given one negative reading", stats.NegativeHours)
	}
}

func TestGetDailyStats_NoData(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetDailyStats(context.Background(), domain.RegionTAS, "2026/01/01")
	if !errors.Is(err, domain.ErrNoData) {
		t.Errorf("GetDailyStats() error = %v, want ErrNoData", err)
	}
}

// ── Forecasts ─────────────────────────────────────────────────────────────────

func TestGetForecasts_KeepsLatestPublishedPerSlot(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	slot := domain.ForecastRecord{Region: domain.RegionNSW, ForecastTime: "2026/07/30 12:00:00", PriceMWh: 100}
	if err := s.InsertForecast(ctx, slot, "2026/07/30 11:00:00"); err != nil {
		t.Fatalf("InsertForecast() error = %v", err)
	}
	slot.PriceMWh = 250
	if err := s.InsertForecast(ctx, slot, "2026/07/30 11:30:00"); err != nil {
		t.Fatalf("InsertForecast() (re-run) error = %v", err)
	}

	forecasts, err := s.GetForecasts(ctx, domain.RegionNSW, "2026/07/30 11:59:00", "2026/07/30 13:00:00")
	if err != nil {
		t.Fatalf("GetForecasts() error = %v", err)
	}
	if len(forecasts) != 1 {
		t.Fatalf("GetForecasts() returned %d rows, want 1", len(forecasts))
	}
	if forecasts[0].PriceMWh != 250 {
		t.Errorf("GetForecasts()[0].PriceMWh = %v, want 250 (the latest published run)", forecasts[0].PriceMWh)
	}
}

// ── Alerts ────────────────────────────────────────────────────────────────────

func TestLogAlert_WasAlertSentRecentlyAndCount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	alert := domain.AlertLog{ChatID: 42, AlertType: domain.AlertHighPrice, PriceMWh: 200, Region: domain.RegionNSW}
	if err := s.LogAlert(ctx, alert); err != nil {
		t.Fatalf("LogAlert() error = %v", err)
	}

	sent, err := s.WasAlertSentRecently(ctx, 42, domain.AlertHighPrice, 30*time.Minute)
	if err != nil {
		t.Fatalf("WasAlertSentRecently() error = %v", err)
	}
	if !sent {
		t.Error("WasAlertSentRecently() = false, want true right after LogAlert")
	}

	sentOther, err := s.WasAlertSentRecently(ctx, 42, domain.AlertLowPrice, 30*time.Minute)
	if err != nil {
		t.Fatalf("WasAlertSentRecently() error = %v", err)
	}
	if sentOther {
		t.Error("WasAlertSentRecently() for a different alert type should be false")
	}

	count, err := s.CountAlertsSince(ctx, 42, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountAlertsSince() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CountAlertsSince() = %d, want 1", count)
	}
}

// ── Maintenance ───────────────────────────────────────────────────────────────

func TestCleanupOldRecords_RemovesOnlyStaleRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.InsertPrice(ctx, domain.PriceRecord{
		Region: domain.RegionNSW, PriceMWh: 77, IntervalTime: "2026/07/30 10:00:00",
	}); err != nil {
		t.Fatalf("InsertPrice() error = %v", err)
	}

	if err := s.CleanupOldRecords(ctx, 90); err != nil {
		t.Fatalf("CleanupOldRecords() error = %v", err)
	}

	latest, err := s.GetLatestPrice(ctx, domain.RegionNSW)
	if err != nil {
		t.Fatalf("GetLatestPrice() after cleanup error = %v", err)
	}
	if latest.PriceMWh != 77 {
		t.Errorf("cleanup removed a fresh row: GetLatestPrice().PriceMWh = %v, want 77", latest.PriceMWh)
	}
}

func TestCleanupOldRecords_RetentionBoundary(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "boundary.db")
	s, err := store.Open(ctx, path, 5*time.Second)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer s.Close()

	if err := s.InsertPrice(ctx, domain.PriceRecord{
		Region: domain.RegionNSW, PriceMWh: 55, IntervalTime: "2026/04/01 10:00:00",
	}); err != nil {
		t.Fatalf("InsertPrice(NSW) error = %v", err)
	}
	if err := s.InsertPrice(ctx, domain.PriceRecord{
		Region: domain.RegionVIC, PriceMWh: 66, IntervalTime: "2026/04/01 10:05:00",
	}); err != nil {
		t.Fatalf("InsertPrice(VIC) error = %v", err)
	}
	if err := s.LogAlert(ctx, domain.AlertLog{ChatID: 900, AlertType: domain.AlertHighPrice, PriceMWh: 200, Region: domain.RegionNSW}); err != nil {
		t.Fatalf("LogAlert(fresh) error = %v", err)
	}
	if err := s.LogAlert(ctx, domain.AlertLog{ChatID: 901, AlertType: domain.AlertHighPrice, PriceMWh: 200, Region: domain.RegionVIC}); err != nil {
		t.Fatalf("LogAlert(stale) error = %v", err)
	}

	// fetched_at/sent_at are stamped internally at insert time, so backdate
	// them directly: one set at 89 days old (inside a 90-day retention), the
	// other at 91 days old (outside it).
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer raw.Close()

	fresh := time.Now().UTC().AddDate(0, 0, -89).Format(time.RFC3339)
	stale := time.Now().UTC().AddDate(0, 0, -91).Format(time.RFC3339)
	if _, err := raw.ExecContext(ctx, `UPDATE price_history SET fetched_at=? WHERE region=?`, fresh, string(domain.RegionNSW)); err != nil {
		t.Fatalf("backdate NSW price error = %v", err)
	}
	if _, err := raw.ExecContext(ctx, `UPDATE price_history SET fetched_at=? WHERE region=?`, stale, string(domain.RegionVIC)); err != nil {
		t.Fatalf("backdate VIC price error = %v", err)
	}
	if _, err := raw.ExecContext(ctx, `UPDATE alert_log SET sent_at=? WHERE chat_id=?`, fresh, 900); err != nil {
		t.Fatalf("backdate fresh alert error = %v", err)
	}
	if _, err := raw.ExecContext(ctx, `UPDATE alert_log SET sent_at=? WHERE chat_id=?`, stale, 901); err != nil {
		t.Fatalf("backdate stale alert error = %v", err)
	}

	if err := s.CleanupOldRecords(ctx, 90); err != nil {
		t.Fatalf("CleanupOldRecords() error = %v", err)
	}

	if _, err := s.GetLatestPrice(ctx, domain.RegionNSW); err != nil {
		t.Errorf("a price row at 89 days should survive a 90-day retention cutoff, GetLatestPrice() error = %v", err)
	}
	if _, err := s.GetLatestPrice(ctx, domain.RegionVIC); !errors.Is(err, domain.ErrNoData) {
		t.Errorf("a price row at 91 days should be purged by a 90-day retention cutoff, GetLatestPrice() error = %v", err)
	}

	freshCount, err := s.CountAlertsSince(ctx, 900, time.Now().Add(-100*24*time.Hour))
	if err != nil {
		t.Fatalf("CountAlertsSince(900) error = %v", err)
	}
	if freshCount != 1 {
		t.Errorf("an alert_log row at 89 days should survive a 90-day retention cutoff, count = %d, want 1", freshCount)
	}

	staleCount, err := s.CountAlertsSince(ctx, 901, time.Now().Add(-100*24*time.Hour))
	if err != nil {
		t.Fatalf("CountAlertsSince(901) error = %v", err)
	}
	if staleCount != 0 {
		t.Errorf("an alert_log row at 91 days should be purged by a 90-day retention cutoff, count = %d, want 0", staleCount)
	}
}
