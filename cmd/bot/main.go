// Package main is the entry point for the NEM spot-price alerting bot. It
// wires together the store, fetcher, analyzer, notifier, scheduler, chat
// command layer, and ops HTTP surface, then runs until an interrupt or
// terminate signal arrives.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nemalert/pricebot/internal/analyzer"
	"github.com/nemalert/pricebot/internal/commands"
	"github.com/nemalert/pricebot/internal/config"
	"github.com/nemalert/pricebot/internal/domain"
	"github.com/nemalert/pricebot/internal/fetcher"
	"github.com/nemalert/pricebot/internal/health"
	"github.com/nemalert/pricebot/internal/notifier"
	"github.com/nemalert/pricebot/internal/scheduler"
	"github.com/nemalert/pricebot/internal/store"
	"github.com/nemalert/pricebot/internal/telegrambot"
	"github.com/nemalert/pricebot/internal/weather"
)

func main() {
	// ── 1. Config + logger ───────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting nem price bot", "env", cfg.Env)

	// ── 2. Root context + signal handling ────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Store ──────────────────────────────────────────────────────────────
	db, err := store.Open(ctx, cfg.DB.Path, cfg.DB.BusyTimeout)
	if err != nil {
		logger.Error("database open failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database ready", "path", cfg.DB.Path)

	// ── 4. Telegram client ────────────────────────────────────────────────────
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error("telegram bot api init failed", "err", err)
		os.Exit(1)
	}
	logger.Info("telegram bot authorized", "username", api.Self.UserName)

	sink := telegrambot.New(api)

	// ── 5. Engine components ──────────────────────────────────────────────────
	fe := fetcher.New(cfg.Scheduler.FetchRetries, cfg.Scheduler.FetchRetryDelay)
	an := analyzer.New(db, cfg.Notifier.MaxPerUserHour, logger, domain.MarketNow)
	no := notifier.New(sink, db, cfg.Notifier.SendsPerSecond, cfg.Notifier.SendBurst, cfg.Notifier.MaxPerUserHour, logger)
	we := weather.NewClient()
	router := commands.New(db, logger)

	var adminSink notifier.MessageSink
	if cfg.Telegram.HasAdminChat {
		adminSink = sink
	}

	sched := scheduler.New(db, fe, an, no, we, sink, adminSink, cfg.Scheduler, cfg.Telegram.AdminChatID, cfg.Telegram.HasAdminChat, logger)

	// ── 6. Start background engine ────────────────────────────────────────────
	var ready atomic.Bool
	sched.Start(ctx)
	ready.Store(true)
	logger.Info("scheduler primed and running")

	// ── 7. Ops HTTP surface ────────────────────────────────────────────────────
	healthSrv := health.New(cfg.Health, db, cfg.Scheduler.RetentionDays, ready.Load, logger)
	go func() {
		if err := healthSrv.Run(ctx, logger); err != nil {
			logger.Error("health server error", "err", err)
		}
	}()

	// ── 8. Telegram update loop ────────────────────────────────────────────────
	go runUpdateLoop(ctx, api, router, logger)

	logger.Info("bot running, press ctrl+c to stop")

	// ── 9. Graceful shutdown ───────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining…")
	time.Sleep(500 * time.Millisecond)
	logger.Info("bot stopped cleanly")
}

// runUpdateLoop polls Telegram for incoming chat messages and dispatches
// each to the command router, replying with whatever text it returns.
func runUpdateLoop(ctx context.Context, api *tgbotapi.BotAPI, router *commands.Router, logger *slog.Logger) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			chatID := update.Message.Chat.ID
			reply := router.Handle(ctx, chatID, update.Message.Text)
			if reply == "" {
				continue
			}
			msg := tgbotapi.NewMessage(chatID, reply)
			if _, err := api.Send(msg); err != nil {
				logger.Error("update loop: reply send failed", "chat_id", chatID, "err", err)
			}
		}
	}
}
