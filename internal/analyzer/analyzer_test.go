package analyzer_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nemalert/pricebot/internal/analyzer"
	"github.com/nemalert/pricebot/internal/domain"
)

// ── Fake store ──────────────────────────────────────────────────────────────

type fakeStore struct {
	previousPrice float64
	previousErr   error
	users         []domain.User
	usersErr      error
	min, max      float64
	rangeErr      error
	forecasts     []domain.ForecastRecord
	forecastsErr  error

	sentRecently map[string]bool
	countByChat  map[int64]int64
}

func (f *fakeStore) GetPreviousPrice(ctx context.Context, region domain.Region) (float64, error) {
	return f.previousPrice, f.previousErr
}

func (f *fakeStore) GetActiveUsersByRegion(ctx context.Context, region domain.Region) ([]domain.User, error) {
	return f.users, f.usersErr
}

func (f *fakeStore) GetDailyRange(ctx context.Context, region domain.Region, datePrefix string) (float64, float64, error) {
	return f.min, f.max, f.rangeErr
}

func (f *fakeStore) GetForecasts(ctx context.Context, region domain.Region, after, before string) ([]domain.ForecastRecord, error) {
	return f.forecasts, f.forecastsErr
}

func (f *fakeStore) WasAlertSentRecently(ctx context.Context, chatID int64, alertType domain.AlertType, window time.Duration) (bool, error) {
	if f.sentRecently == nil {
		return false, nil
	}
	key := alertKey(chatID, alertType)
	return f.sentRecently[key], nil
}

func (f *fakeStore) CountAlertsSince(ctx context.Context, chatID int64, since time.Time) (int64, error) {
	if f.countByChat == nil {
		return 0, nil
	}
	return f.countByChat[chatID], nil
}

func alertKey(chatID int64, t domain.AlertType) string {
	return string(t) + ":" + time.Unix(chatID, 0).String()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func marketNowFixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// ── High price alert ────────────────────────────────────────────────────────

func TestAnalyze_HighPriceAlert(t *testing.T) {
	store := &fakeStore{
		previousErr: domain.ErrNoData,
		users: []domain.User{
			{ChatID: 1, Region: domain.RegionNSW, HighAlert: 150, LowAlert: 0, IsActive: true},
		},
		rangeErr: domain.ErrNoData,
	}
	a := analyzer.New(store, 10, testLogger(), marketNowFixed(time.Now()))

	prices := []domain.PriceRecord{
		{Region: domain.RegionNSW, PriceMWh: 200, IntervalTime: "2026/07/30 10:05:00"},
	}

	alerts := a.Analyze(context.Background(), prices)
	if len(alerts) != 1 {
		t.Fatalf("Analyze() returned %d alerts, want 1", len(alerts))
	}
	if alerts[0].AlertType != domain.AlertHighPrice {
		t.Errorf("AlertType = %s, want %s", alerts[0].AlertType, domain.AlertHighPrice)
	}
	if alerts[0].ChatID != 1 {
		t.Errorf("ChatID = %d, want 1", alerts[0].ChatID)
	}
}

func TestAnalyze_PriceBelowThreshold_NoAlert(t *testing.T) {
	store := &fakeStore{
		previousErr: domain.ErrNoData,
		users: []domain.User{
			{ChatID: 1, Region: domain.RegionNSW, HighAlert: 150, LowAlert: 0, IsActive: true},
		},
		rangeErr: domain.ErrNoData,
	}
	a := analyzer.New(store, 10, testLogger(), marketNowFixed(time.Now()))

	prices := []domain.PriceRecord{
		{Region: domain.RegionNSW, PriceMWh: 80, IntervalTime: "2026/07/30 10:05:00"},
	}

	alerts := a.Analyze(context.Background(), prices)
	if len(alerts) != 0 {
		t.Fatalf("Analyze() returned %d alerts, want 0", len(alerts))
	}
}

// ── Low price alert ─────────────────────────────────────────────────────────

func TestAnalyze_LowPriceAlert(t *testing.T) {
	store := &fakeStore{
		previousErr: domain.ErrNoData,
		users: []domain.User{
			{ChatID: 2, Region: domain.RegionVIC, HighAlert: 150, LowAlert: 10, IsActive: true},
		},
		rangeErr: domain.ErrNoData,
	}
	a := analyzer.New(store, 10, testLogger(), marketNowFixed(time.Now()))

	prices := []domain.PriceRecord{
		{Region: domain.RegionVIC, PriceMWh: -5, IntervalTime: "2026/07/30 10:05:00"},
	}

	alerts := a.Analyze(context.Background(), prices)
	if len(alerts) != 1 || alerts[0].AlertType != domain.AlertLowPrice {
		t.Fatalf("Analyze() = %+v, want one low_price alert", alerts)
	}
}

// ── Spike detection ─────────────────────────────────────────────────────────

func TestAnalyze_SpikeAboveThreshold(t *testing.T) {
	store := &fakeStore{
		previousPrice: 50,
		users: []domain.User{
			{ChatID: 3, Region: domain.RegionQLD, HighAlert: 5000, LowAlert: -500, IsActive: true},
		},
		rangeErr: domain.ErrNoData,
	}
	a := analyzer.New(store, 10, testLogger(), marketNowFixed(time.Now()))

	prices := []domain.PriceRecord{
		// |200 - 50| = 150 > SpikeThresholdMWh(100)
		{Region: domain.RegionQLD, PriceMWh: 200, IntervalTime: "2026/07/30 10:05:00"},
	}

	alerts := a.Analyze(context.Background(), prices)
	var sawSpike bool
	for _, al := range alerts {
		if al.AlertType == domain.AlertSpike {
			sawSpike = true
		}
	}
	if !sawSpike {
		t.Fatalf("Analyze() = %+v, expected a spike alert", alerts)
	}
}

func TestAnalyze_SmallMove_NoSpike(t *testing.T) {
	store := &fakeStore{
		previousPrice: 50,
		users: []domain.User{
			{ChatID: 3, Region: domain.RegionQLD, HighAlert: 5000, LowAlert: -500, IsActive: true},
		},
		rangeErr: domain.ErrNoData,
	}
	a := analyzer.New(store, 10, testLogger(), marketNowFixed(time.Now()))

	prices := []domain.PriceRecord{
		{Region: domain.RegionQLD, PriceMWh: 80, IntervalTime: "2026/07/30 10:05:00"},
	}

	alerts := a.Analyze(context.Background(), prices)
	for _, al := range alerts {
		if al.AlertType == domain.AlertSpike {
			t.Fatalf("unexpected spike alert for a 30-unit move: %+v", al)
		}
	}
}

// ── Forecast alert ──────────────────────────────────────────────────────────

func TestAnalyzeForecasts_AboveThreshold(t *testing.T) {
	store := &fakeStore{
		users: []domain.User{
			{ChatID: 4, Region: domain.RegionSA, HighAlert: 150, LowAlert: 0, IsActive: true},
		},
		forecasts: []domain.ForecastRecord{
			{Region: domain.RegionSA, PriceMWh: 300, ForecastTime: "2026/07/30 11:00:00"},
		},
	}
	a := analyzer.New(store, 10, testLogger(), marketNowFixed(time.Now()))

	alerts := a.AnalyzeForecasts(context.Background(), domain.RegionSA, 90)
	if len(alerts) != 1 || alerts[0].AlertType != domain.AlertForecast {
		t.Fatalf("AnalyzeForecasts() = %+v, want one forecast alert", alerts)
	}
}

// ── Hourly cap ───────────────────────────────────────────────────────────────

func TestAnalyze_HourlyCapBlocksAlert(t *testing.T) {
	store := &fakeStore{
		previousErr: domain.ErrNoData,
		users: []domain.User{
			{ChatID: 5, Region: domain.RegionTAS, HighAlert: 150, LowAlert: 0, IsActive: true},
		},
		rangeErr:    domain.ErrNoData,
		countByChat: map[int64]int64{5: 10},
	}
	a := analyzer.New(store, 10, testLogger(), marketNowFixed(time.Now()))

	prices := []domain.PriceRecord{
		{Region: domain.RegionTAS, PriceMWh: 200, IntervalTime: "2026/07/30 10:05:00"},
	}

	alerts := a.Analyze(context.Background(), prices)
	if len(alerts) != 0 {
		t.Fatalf("Analyze() returned %d alerts, want 0 once the hourly cap is hit", len(alerts))
	}
}
