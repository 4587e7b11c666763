// Package telegrambot adapts github.com/go-telegram-bot-api/telegram-bot-api
// to the notifier.MessageSink interface, so the rest of the engine never
// depends on the Telegram API's wire types directly.
package telegrambot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nemalert/pricebot/internal/domain"
)

// Sink sends chat messages via the Telegram Bot API.
type Sink struct {
	api *tgbotapi.BotAPI
}

// New constructs a Sink from an already-authenticated Telegram bot client.
func New(api *tgbotapi.BotAPI) *Sink {
	return &Sink{api: api}
}

// Send delivers text to chatID. Returns a *domain.SendError with Forbidden
// set when Telegram reports the chat has blocked or never started the bot —
// the Notifier uses this to deactivate the subscriber. ctx is accepted for
// cancellation but unused: the underlying bot API call is not
// context-aware.
func (s *Sink) Send(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := s.api.Send(msg)
	if err != nil {
		return &domain.SendError{
			Forbidden: strings.Contains(err.Error(), "Forbidden") || strings.Contains(err.Error(), "blocked"),
			Err:       err,
		}
	}
	return nil
}
