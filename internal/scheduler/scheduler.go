// Package scheduler manages the background goroutines that run the
// ingestion engine:
//  1. priceFetchLoop    – aligned to each 5-minute AEMO dispatch interval.
//  2. forecastFetchLoop – aligned to each 30-minute pre-dispatch run.
//  3. dailySummaryLoop  – fires the end-of-day recap once per market day.
//  4. cleanupLoop       – prunes old rows once a day.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nemalert/pricebot/internal/analyzer"
	"github.com/nemalert/pricebot/internal/config"
	"github.com/nemalert/pricebot/internal/domain"
	"github.com/nemalert/pricebot/internal/fetcher"
	"github.com/nemalert/pricebot/internal/messages"
	"github.com/nemalert/pricebot/internal/notifier"
	"github.com/nemalert/pricebot/internal/store"
	"github.com/nemalert/pricebot/internal/weather"
)

// fetchResult mirrors the original engine's tri-state fetch outcome: a
// successful aligned fetch, data that hasn't been published for the
// expected interval yet (retry), or a hard failure (give up this slot).
type fetchResult int

const (
	fetchSuccess fetchResult = iota
	fetchStale
	fetchError
)

// Scheduler wires together the ingestion pipeline and runs its background
// loops. Call Start(ctx) once from main(); cancel the context to shut it
// down gracefully.
type Scheduler struct {
	store     *store.Store
	fetcher   *fetcher.Fetcher
	analyzer  *analyzer.Analyzer
	notifier  *notifier.Notifier
	weather   *weather.Client
	sink      notifier.MessageSink // general-purpose, used for daily summaries
	adminSink notifier.MessageSink // admin-chat-only, used for operational alerts

	cfg         config.SchedulerConfig
	adminChatID int64
	hasAdmin    bool

	logger *slog.Logger
}

// New constructs a Scheduler.
func New(
	st *store.Store,
	fe *fetcher.Fetcher,
	an *analyzer.Analyzer,
	no *notifier.Notifier,
	we *weather.Client,
	sink notifier.MessageSink,
	adminSink notifier.MessageSink,
	cfg config.SchedulerConfig,
	adminChatID int64,
	hasAdmin bool,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		store:       st,
		fetcher:     fe,
		analyzer:    an,
		notifier:    no,
		weather:     we,
		sink:        sink,
		adminSink:   adminSink,
		cfg:         cfg,
		adminChatID: adminChatID,
		hasAdmin:    hasAdmin,
		logger:      logger,
	}
}

// Start primes the engine with an immediate unchecked fetch, then launches
// the four background loops. It returns once priming completes; the loops
// themselves run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.priceFetchUnchecked(ctx)
	s.forecastFetch(ctx)

	go s.priceFetchLoop(ctx)
	go s.forecastFetchLoop(ctx)
	go s.dailySummaryLoop(ctx)
	go s.cleanupLoop(ctx)

	s.logger.Info("scheduler started")
}

// ──────────────────────────────────────────────────────────────────────────────
// Clock alignment
// ──────────────────────────────────────────────────────────────────────────────

// waitUntilNextPriceSlot returns the duration until the next 5-minute
// aligned fetch slot: interval_end + SettlementOffset (90s by default),
// giving AEMO time to publish before we ask.
func (s *Scheduler) waitUntilNextPriceSlot() time.Duration {
	return waitUntilNextSlot(domain.MarketNow(), 5*time.Minute, s.cfg.SettlementOffset)
}

// waitUntilNextForecastSlot is the same alignment on AEMO's 30-minute
// pre-dispatch publish cadence.
func (s *Scheduler) waitUntilNextForecastSlot() time.Duration {
	return waitUntilNextSlot(domain.MarketNow(), 30*time.Minute, s.cfg.SettlementOffset)
}

func waitUntilNextSlot(now time.Time, period, offset time.Duration) time.Duration {
	currentSecs := time.Duration(now.Minute())*time.Minute + time.Duration(now.Second())*time.Second
	periodMin := int(period.Minutes())
	base := time.Duration(now.Minute()/periodMin*periodMin) * time.Minute
	target := base + offset

	wait := target - currentSecs
	if wait <= 0 {
		wait += period
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// expectedSettlementTime returns the SETTLEMENTDATE we expect to find in
// the next dispatch fetch: the most recently completed 5-minute boundary.
func expectedSettlementTime(now time.Time) string {
	periodMin := 5
	base := now.Minute() / periodMin * periodMin
	aligned := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), base, 0, 0, now.Location())
	return aligned.Format(domain.MarketTimeLayout)
}

// ──────────────────────────────────────────────────────────────────────────────
// Price loop
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) priceFetchLoop(ctx context.Context) {
	defer s.recoverAndLog("priceFetchLoop")

	for {
		wait := s.waitUntilNextPriceSlot()
		select {
		case <-ctx.Done():
			s.logger.Info("priceFetchLoop: shutting down")
			return
		case <-time.After(wait):
		}

		expected := expectedSettlementTime(domain.MarketNow())
		success := false

		for attempt := 0; attempt < s.cfg.StaleRetries; attempt++ {
			result := s.priceFetchChecked(ctx, expected)
			if result == fetchSuccess {
				success = true
				break
			}
			if result == fetchError {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.StaleRetryDelay):
			}
		}

		if !success {
			s.logger.Warn("priceFetchLoop: could not fetch current interval after retries", "expected", expected)
		}
	}
}

func (s *Scheduler) forecastFetchLoop(ctx context.Context) {
	defer s.recoverAndLog("forecastFetchLoop")

	for {
		wait := s.waitUntilNextForecastSlot()
		select {
		case <-ctx.Done():
			s.logger.Info("forecastFetchLoop: shutting down")
			return
		case <-time.After(wait):
		}
		s.forecastFetch(ctx)
	}
}

// priceFetchChecked fetches dispatch prices and validates that the expected
// settlement interval is present before processing them.
func (s *Scheduler) priceFetchChecked(ctx context.Context, expectedTime string) fetchResult {
	log := s.cycleLogger()

	prices, err := s.fetcher.FetchDispatch(ctx)
	if err != nil {
		log.Error("dispatch fetch failed", "err", err)
		s.notifyAdmin(ctx, fmt.Sprintf("⚠️ Dispatch fetch failed\n%v", err))
		return fetchError
	}

	found := false
	for _, p := range prices {
		if p.IntervalTime == expectedTime {
			found = true
			break
		}
	}
	if !found {
		return fetchStale
	}

	log.Info("fetched aligned prices", "count", len(prices), "interval", expectedTime)
	s.processPrices(ctx, log, prices)
	return fetchSuccess
}

// priceFetchUnchecked fetches dispatch prices without interval validation —
// used once at startup so the engine has data immediately rather than
// waiting for the next aligned slot.
func (s *Scheduler) priceFetchUnchecked(ctx context.Context) {
	log := s.cycleLogger()

	prices, err := s.fetcher.FetchDispatch(ctx)
	if err != nil {
		log.Error("initial dispatch fetch failed", "err", err)
		s.notifyAdmin(ctx, fmt.Sprintf("⚠️ Startup fetch failed\n%v", err))
		return
	}
	log.Info("initial price fetch", "count", len(prices))
	s.processPrices(ctx, log, prices)
}

// processPrices stores every reading, runs threshold/spike analysis, sends
// any resulting alerts, then checks each region's pre-dispatch forecasts
// against the price just ingested.
func (s *Scheduler) processPrices(ctx context.Context, log *slog.Logger, prices []domain.PriceRecord) {
	for _, p := range prices {
		if err := s.store.InsertPrice(ctx, p); err != nil {
			log.Error("insert price failed", "region", p.Region, "err", err)
		}
	}

	alerts := s.analyzer.Analyze(ctx, prices)
	if len(alerts) > 0 {
		log.Info("sending price alerts", "count", len(alerts))
		s.notifier.Send(ctx, alerts)
	}

	byRegion := make(map[domain.Region]float64, len(prices))
	for _, p := range prices {
		byRegion[p.Region] = p.PriceMWh
	}
	for _, region := range domain.Regions {
		fcAlerts := s.analyzer.AnalyzeForecasts(ctx, region, byRegion[region])
		if len(fcAlerts) > 0 {
			s.notifier.Send(ctx, fcAlerts)
		}
	}
}

func (s *Scheduler) forecastFetch(ctx context.Context) {
	log := s.cycleLogger()

	forecasts, err := s.fetcher.FetchPreDispatch(ctx)
	if err != nil {
		log.Error("pre-dispatch fetch failed", "err", err)
		s.notifyAdmin(ctx, fmt.Sprintf("⚠️ Pre-dispatch fetch failed\n%v", err))
		return
	}
	log.Info("fetched pre-dispatch forecasts", "count", len(forecasts))

	publishedAt := domain.MarketNow().Format(domain.MarketTimeLayout)
	for _, f := range forecasts {
		if err := s.store.InsertForecast(ctx, f, publishedAt); err != nil {
			log.Error("insert forecast failed", "region", f.Region, "err", err)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Daily summary
// ──────────────────────────────────────────────────────────────────────────────

// dailySummaryLoop checks once a minute whether it's time to send the daily
// recap. The recap fires once at cfg.DailySummaryHour and the sent-today
// flag resets at market-local midnight.
func (s *Scheduler) dailySummaryLoop(ctx context.Context) {
	defer s.recoverAndLog("dailySummaryLoop")

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	sentToday := false
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("dailySummaryLoop: shutting down")
			return
		case <-ticker.C:
			hour := domain.MarketNow().Hour()
			if hour == s.cfg.DailySummaryHour && !sentToday {
				sentToday = true
				s.sendDailySummary(ctx)
			}
			if hour == 0 {
				sentToday = false
			}
		}
	}
}

func (s *Scheduler) sendDailySummary(ctx context.Context) {
	log := s.cycleLogger()
	now := domain.MarketNow()
	datePrefix := now.Format(domain.MarketDateLayout)
	dateDisplay := now.Format("02 Jan 2006")

	for _, region := range domain.Regions {
		stats, statsErr := s.store.GetDailyStats(ctx, region, datePrefix)
		if statsErr != nil {
			stats = nil
		}
		peakTime, peakErr := s.store.GetDailyPeakTime(ctx, region, datePrefix)
		havePeak := peakErr == nil

		var wx *weather.Forecast
		if fc, err := s.weather.FetchTomorrow(ctx, region); err == nil {
			wx = fc
		}

		users, err := s.store.GetActiveUsersByRegion(ctx, region)
		if err != nil {
			log.Error("daily summary: list users failed", "region", region, "err", err)
			continue
		}

		for _, u := range users {
			alertsToday, _ := s.store.CountAlertsSince(ctx, u.ChatID, now.Add(-24*time.Hour))
			text := messages.FormatDailySummary(messages.DailySummaryInput{
				Region:       region,
				DateDisplay:  dateDisplay,
				Stats:        stats,
				PeakTime:     peakTime,
				HavePeakTime: havePeak,
				Weather:      wx,
				AlertsToday:  alertsToday,
			})
			if err := s.sink.Send(ctx, u.ChatID, text); err != nil {
				log.Error("daily summary: send failed", "chat_id", u.ChatID, "err", err)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
	log.Info("daily summary sent")
}

// ──────────────────────────────────────────────────────────────────────────────
// Cleanup
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.recoverAndLog("cleanupLoop")

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanupLoop: shutting down")
			return
		case <-ticker.C:
			if err := s.store.CleanupOldRecords(ctx, s.cfg.RetentionDays); err != nil {
				s.logger.Error("cleanupLoop: cleanup failed", "err", err)
			} else {
				s.logger.Info("cleanup completed")
			}
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// cycleLogger attaches a fresh correlation ID to every ingestion cycle so
// its log lines can be grepped together across the fetch/store/analyze/
// notify chain.
func (s *Scheduler) cycleLogger() *slog.Logger {
	return s.logger.With("cycle_id", uuid.NewString())
}

func (s *Scheduler) notifyAdmin(ctx context.Context, text string) {
	if !s.hasAdmin {
		return
	}
	if err := s.adminSink.Send(ctx, s.adminChatID, text); err != nil {
		s.logger.Error("notifyAdmin: send failed", "err", err)
	}
}

// recoverAndLog is deferred inside each goroutine to catch unexpected
// panics, log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop", "loop", loop, "panic", r)
	}
}
