// Package analyzer turns freshly ingested prices and forecasts into the set
// of notifications that should go out, checking each user's thresholds and
// enforcing the dedup/rate rules that keep a volatile market from flooding a
// chat.
package analyzer

import (
	"context"
	"log/slog"
	"time"

	"github.com/nemalert/pricebot/internal/domain"
	"github.com/nemalert/pricebot/internal/messages"
)

// wasHighDedupWindow is the lookback Analyze uses to decide whether an
// all-clear is meaningful — "was this user recently above their threshold
// at all", not just "did we alert them in the last 30 minutes".
const wasHighDedupWindow = 180 * time.Minute

// forecastLookahead bounds how far into the future AnalyzeForecasts looks:
// only forecasts landing within the next hour generate a warning.
const forecastLookahead = time.Hour

// priceStore is the subset of store.Store the analyzer depends on.
type priceStore interface {
	GetPreviousPrice(ctx context.Context, region domain.Region) (float64, error)
	GetActiveUsersByRegion(ctx context.Context, region domain.Region) ([]domain.User, error)
	GetDailyRange(ctx context.Context, region domain.Region, datePrefix string) (min, max float64, err error)
	GetForecasts(ctx context.Context, region domain.Region, after, before string) ([]domain.ForecastRecord, error)
	WasAlertSentRecently(ctx context.Context, chatID int64, alertType domain.AlertType, window time.Duration) (bool, error)
	CountAlertsSince(ctx context.Context, chatID int64, since time.Time) (int64, error)
}

// Analyzer evaluates ingested market data against subscriber thresholds.
type Analyzer struct {
	store       priceStore
	maxPerHour  int64
	log         *slog.Logger
	marketNowFn func() time.Time
}

// New constructs an Analyzer. marketNow returns the current market-local
// time; it is a func rather than a fixed location so tests can pin it.
func New(store priceStore, maxPerHour int, log *slog.Logger, marketNow func() time.Time) *Analyzer {
	return &Analyzer{store: store, maxPerHour: int64(maxPerHour), log: log, marketNowFn: marketNow}
}

// Analyze evaluates one ingestion cycle's dispatch prices and returns every
// notification that should be sent: spike alerts (vs. the previous
// interval), high/low threshold breaches, and all-clears.
func (a *Analyzer) Analyze(ctx context.Context, prices []domain.PriceRecord) []domain.PendingAlert {
	var alerts []domain.PendingAlert
	todayPrefix := a.marketNowFn().Format(domain.MarketDateLayout)

	for _, rec := range prices {
		region := rec.Region
		current := rec.PriceMWh

		if prev, err := a.store.GetPreviousPrice(ctx, region); err == nil {
			if abs(current-prev) > domain.SpikeThresholdMWh {
				users, err := a.store.GetActiveUsersByRegion(ctx, region)
				if err != nil {
					a.log.Warn("analyzer: list users for spike check failed", "region", region, "err", err)
				}
				for _, u := range users {
					if a.canAlert(ctx, u.ChatID, domain.AlertSpike) {
						alerts = append(alerts, domain.PendingAlert{
							ChatID:    u.ChatID,
							Text:      messages.FormatSpikeAlert(region, prev, current),
							AlertType: domain.AlertSpike,
							PriceMWh:  current,
							Region:    region,
						})
					}
				}
			}
		}

		users, err := a.store.GetActiveUsersByRegion(ctx, region)
		if err != nil {
			a.log.Warn("analyzer: list users failed", "region", region, "err", err)
			continue
		}

		dailyMin, dailyMax, rangeErr := a.store.GetDailyRange(ctx, region, todayPrefix)
		haveRange := rangeErr == nil

		for _, u := range users {
			if current > u.HighAlert && a.canAlert(ctx, u.ChatID, domain.AlertHighPrice) {
				alerts = append(alerts, domain.PendingAlert{
					ChatID:    u.ChatID,
					Text:      messages.FormatHighAlert(region, current, u.HighAlert, haveRange, dailyMin, dailyMax),
					AlertType: domain.AlertHighPrice,
					PriceMWh:  current,
					Region:    region,
				})
			}

			if current < u.LowAlert && a.canAlert(ctx, u.ChatID, domain.AlertLowPrice) {
				alerts = append(alerts, domain.PendingAlert{
					ChatID:    u.ChatID,
					Text:      messages.FormatLowAlert(region, current),
					AlertType: domain.AlertLowPrice,
					PriceMWh:  current,
					Region:    region,
				})
			}

			if current <= u.HighAlert {
				wasHigh, _ := a.store.WasAlertSentRecently(ctx, u.ChatID, domain.AlertHighPrice, wasHighDedupWindow)
				alreadyCleared, _ := a.store.WasAlertSentRecently(ctx, u.ChatID, domain.AlertAllClear, domain.AlertAllClear.DedupWindow())
				if wasHigh && !alreadyCleared {
					alerts = append(alerts, domain.PendingAlert{
						ChatID:    u.ChatID,
						Text:      messages.FormatAllClear(region, current, haveRange, dailyMax),
						AlertType: domain.AlertAllClear,
						PriceMWh:  current,
						Region:    region,
					})
				}
			}
		}
	}

	return alerts
}

// AnalyzeForecasts checks region's pre-dispatch forecasts for the coming
// hour against subscriber thresholds and returns any forecast warnings due.
func (a *Analyzer) AnalyzeForecasts(ctx context.Context, region domain.Region, currentPrice float64) []domain.PendingAlert {
	var alerts []domain.PendingAlert

	now := a.marketNowFn()
	nowStr := now.Format(domain.MarketTimeLayout)
	laterStr := now.Add(forecastLookahead).Format(domain.MarketTimeLayout)

	forecasts, err := a.store.GetForecasts(ctx, region, nowStr, laterStr)
	if err != nil {
		return alerts
	}
	users, err := a.store.GetActiveUsersByRegion(ctx, region)
	if err != nil {
		return alerts
	}

	for _, fc := range forecasts {
		for _, u := range users {
			if fc.PriceMWh > u.HighAlert && a.canAlert(ctx, u.ChatID, domain.AlertForecast) {
				alerts = append(alerts, domain.PendingAlert{
					ChatID:    u.ChatID,
					Text:      messages.FormatForecastAlert(region, fc.PriceMWh, fc.ForecastTime, currentPrice),
					AlertType: domain.AlertForecast,
					PriceMWh:  fc.PriceMWh,
					Region:    region,
				})
			}
		}
	}

	return alerts
}

// canAlert enforces the dedup window for alertType plus the per-user
// hourly cap. The Notifier rechecks the cap again immediately before
// sending, since time passes between analysis and delivery.
func (a *Analyzer) canAlert(ctx context.Context, chatID int64, alertType domain.AlertType) bool {
	wasSent, err := a.store.WasAlertSentRecently(ctx, chatID, alertType, alertType.DedupWindow())
	if err != nil {
		// Fail closed on dedup lookup failure: better to miss one alert than spam.
		return false
	}
	if wasSent {
		return false
	}
	count, err := a.store.CountAlertsSince(ctx, chatID, time.Now().Add(-time.Hour))
	if err != nil {
		return false
	}
	return count < a.maxPerHour
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
