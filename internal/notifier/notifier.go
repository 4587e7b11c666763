// Package notifier drains the Analyzer's pending alerts through a
// MessageSink, enforcing the per-user hourly cap a second time immediately
// before send (time has passed since analysis), logging every delivery,
// and pacing outbound sends so a burst of alerts doesn't trip Telegram's
// rate limits.
package notifier

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nemalert/pricebot/internal/domain"
)

// MessageSink delivers a single chat message. Implementations translate
// transport-specific failures (blocked chat, revoked bot) into
// *domain.SendError so the Notifier can react without depending on the
// transport's types.
type MessageSink interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// alertStore is the subset of store.Store the Notifier depends on.
type alertStore interface {
	CountAlertsSince(ctx context.Context, chatID int64, since time.Time) (int64, error)
	LogAlert(ctx context.Context, a domain.AlertLog) error
	SetActive(ctx context.Context, chatID int64, active bool) error
}

// Notifier sends pending alerts and records the outcome.
type Notifier struct {
	sink       MessageSink
	store      alertStore
	limiter    *rate.Limiter
	maxPerHour int64
	log        *slog.Logger
}

// New constructs a Notifier. sendsPerSecond/burst bound the outbound send
// rate via a token bucket; maxPerHour is the per-user cap re-checked at
// send time.
func New(sink MessageSink, store alertStore, sendsPerSecond float64, burst, maxPerHour int, log *slog.Logger) *Notifier {
	return &Notifier{
		sink:       sink,
		store:      store,
		limiter:    rate.NewLimiter(rate.Limit(sendsPerSecond), burst),
		maxPerHour: int64(maxPerHour),
		log:        log,
	}
}

// Send delivers every pending alert in order, skipping any user who has
// since hit their hourly cap, deactivating any user whose chat rejects the
// bot, and logging each successful delivery.
func (n *Notifier) Send(ctx context.Context, alerts []domain.PendingAlert) {
	for _, alert := range alerts {
		count, err := n.store.CountAlertsSince(ctx, alert.ChatID, time.Now().Add(-time.Hour))
		if err == nil && count >= n.maxPerHour {
			continue
		}

		if err := n.limiter.Wait(ctx); err != nil {
			return // context cancelled
		}

		if err := n.sink.Send(ctx, alert.ChatID, alert.Text); err != nil {
			n.log.Error("notifier: send failed", "chat_id", alert.ChatID, "alert_type", alert.AlertType, "err", err)
			if domain.IsForbidden(err) {
				if setErr := n.store.SetActive(ctx, alert.ChatID, false); setErr != nil {
					n.log.Error("notifier: deactivate failed", "chat_id", alert.ChatID, "err", setErr)
				}
			}
			continue
		}

		logErr := n.store.LogAlert(ctx, domain.AlertLog{
			ChatID:    alert.ChatID,
			AlertType: alert.AlertType,
			PriceMWh:  alert.PriceMWh,
			Region:    alert.Region,
		})
		if logErr != nil {
			n.log.Error("notifier: log alert failed", "chat_id", alert.ChatID, "err", logErr)
		}
	}
}
