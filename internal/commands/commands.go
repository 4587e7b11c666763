// Package commands implements the thin chat command layer: one handler per
// slash command, each validating input, calling the store, and formatting
// exactly one reply. It mirrors the teacher's
// internal/api/handler style (validate -> call one service/store method ->
// format one reply) over chat updates instead of HTTP requests.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemalert/pricebot/internal/domain"
	"github.com/nemalert/pricebot/internal/messages"
)

// chatStore is the subset of store.Store the command layer depends on.
type chatStore interface {
	UpsertUser(ctx context.Context, chatID int64, region domain.Region) error
	GetUser(ctx context.Context, chatID int64) (*domain.User, error)
	UpdateHighAlert(ctx context.Context, chatID int64, value float64) error
	UpdateLowAlert(ctx context.Context, chatID int64, value float64) error
	SetActive(ctx context.Context, chatID int64, active bool) error
	GetLatestPrice(ctx context.Context, region domain.Region) (*domain.PriceRecord, error)
	GetDailyRange(ctx context.Context, region domain.Region, datePrefix string) (min, max float64, err error)
	GetForecasts(ctx context.Context, region domain.Region, after, before string) ([]domain.ForecastRecord, error)
	CountAlertsSince(ctx context.Context, chatID int64, since time.Time) (int64, error)
}

// Router dispatches an incoming chat message to the handler for its
// command word, or reports it unrecognized.
type Router struct {
	store chatStore
	log   *slog.Logger
}

// New constructs a Router.
func New(store chatStore, log *slog.Logger) *Router {
	return &Router{store: store, log: log}
}

// Handle parses text as "/command arg1 arg2 ..." and dispatches to the
// matching handler. It returns the reply text to send back to chatID.
func (r *Router) Handle(ctx context.Context, chatID int64, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return messages.HelpMessage()
	}

	cmd := strings.ToLower(fields[0])
	if idx := strings.Index(cmd, "@"); idx >= 0 {
		cmd = cmd[:idx] // strip Telegram's "/cmd@botname" suffix
	}
	args := fields[1:]

	switch cmd {
	case "/start":
		return r.start(ctx, chatID, args)
	case "/region":
		return r.region(ctx, chatID, args)
	case "/alert":
		return r.alert(ctx, chatID, args)
	case "/status":
		return r.status(ctx, chatID)
	case "/stop":
		return r.stop(ctx, chatID)
	case "/price":
		return r.price(ctx, chatID)
	case "/forecast":
		return r.forecast(ctx, chatID)
	case "/help":
		return messages.HelpMessage()
	case "/about":
		return messages.AboutMessage()
	default:
		return "Unrecognized command. Send /help to see what I understand."
	}
}

// start registers chatID for NSW1 by default, or the region named in args,
// at the default thresholds. Re-running /start on an existing user only
// reactivates it; it never resets a region or thresholds already set.
func (r *Router) start(ctx context.Context, chatID int64, args []string) string {
	region := domain.RegionNSW
	if len(args) > 0 {
		candidate := domain.Region(strings.ToUpper(args[0]))
		if !candidate.Valid() {
			return fmt.Sprintf("Unknown region %q. Valid regions: NSW1, VIC1, QLD1, SA1, TAS1.", args[0])
		}
		region = candidate
	} else if existing, err := r.store.GetUser(ctx, chatID); err == nil {
		region = existing.Region
	}

	if err := r.store.UpsertUser(ctx, chatID, region); err != nil {
		r.log.Error("commands: start failed", "chat_id", chatID, "err", err)
		return "Something went wrong registering you. Please try again shortly."
	}
	if err := r.store.SetActive(ctx, chatID, true); err != nil {
		r.log.Error("commands: reactivate failed", "chat_id", chatID, "err", err)
	}
	return messages.WelcomeMessage()
}

// region changes the user's subscribed market region without touching
// their thresholds.
func (r *Router) region(ctx context.Context, chatID int64, args []string) string {
	if len(args) != 1 {
		return "Usage: /region <NSW1|VIC1|QLD1|SA1|TAS1>"
	}
	candidate := domain.Region(strings.ToUpper(args[0]))
	if !candidate.Valid() {
		return fmt.Sprintf("Unknown region %q. Valid regions: NSW1, VIC1, QLD1, SA1, TAS1.", args[0])
	}

	if err := r.store.UpsertUser(ctx, chatID, candidate); err != nil {
		r.log.Error("commands: region change failed", "chat_id", chatID, "err", err)
		return "Something went wrong changing your region. Please try again shortly."
	}

	user, err := r.store.GetUser(ctx, chatID)
	if err != nil {
		return fmt.Sprintf("Region set to %s.", candidate)
	}
	return messages.ConfirmRegion(user.Region, user.HighAlert, user.LowAlert)
}

// alert updates the user's thresholds or subscription state, per the usage
// documented in messages.HelpMessage: "/alert high <v>", "/alert low <v>",
// "/alert on", "/alert off". A threshold value is parsed and rounded
// through decimal.Decimal to two places before conversion back to
// float64, so "123.456" is rounded consistently rather than truncated by
// float formatting quirks.
func (r *Router) alert(ctx context.Context, chatID int64, args []string) string {
	const usage = "Usage: /alert high <value> | /alert low <value> | /alert on | /alert off"
	if len(args) == 0 {
		return usage
	}

	sub := strings.ToLower(args[0])
	switch sub {
	case "on":
		if err := r.store.SetActive(ctx, chatID, true); err != nil {
			r.log.Error("commands: alert on failed", "chat_id", chatID, "err", err)
			return "Something went wrong resuming your alerts."
		}
		return "Alerts resumed."
	case "off":
		if err := r.store.SetActive(ctx, chatID, false); err != nil {
			r.log.Error("commands: alert off failed", "chat_id", chatID, "err", err)
			return "Something went wrong pausing your alerts."
		}
		return "Alerts paused. Send /alert on to resume."
	case "high", "low":
		// handled below
	default:
		return usage
	}

	if len(args) != 2 {
		return usage
	}
	value, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Sprintf("Couldn't read %q as a price.", args[1])
	}
	value = value.Round(2)
	valueF, _ := value.Float64()

	user, err := r.store.GetUser(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "You're not registered yet. Send /start first."
		}
		r.log.Error("commands: alert lookup failed", "chat_id", chatID, "err", err)
		return "Something went wrong. Please try again shortly."
	}

	if sub == "high" {
		if valueF < domain.MinHighAlert || valueF > domain.MaxHighAlert {
			return fmt.Sprintf("High threshold must be between %.0f and %.0f $/MWh.", domain.MinHighAlert, domain.MaxHighAlert)
		}
		if valueF <= user.LowAlert {
			return "High threshold must be greater than your low threshold."
		}
		if err := r.store.UpdateHighAlert(ctx, chatID, valueF); err != nil {
			r.log.Error("commands: update high alert failed", "chat_id", chatID, "err", err)
			return "Something went wrong updating your high threshold."
		}
		return fmt.Sprintf("High threshold set to $%s/MWh.", value.StringFixed(2))
	}

	if valueF < domain.MinLowAlert || valueF > domain.MaxLowAlert {
		return fmt.Sprintf("Low threshold must be between %.0f and %.0f $/MWh.", domain.MinLowAlert, domain.MaxLowAlert)
	}
	if valueF >= user.HighAlert {
		return "Low threshold must be less than your high threshold."
	}
	if err := r.store.UpdateLowAlert(ctx, chatID, valueF); err != nil {
		r.log.Error("commands: update low alert failed", "chat_id", chatID, "err", err)
		return "Something went wrong updating your low threshold."
	}
	return fmt.Sprintf("Low threshold set to $%s/MWh.", value.StringFixed(2))
}

// status reports the user's region, thresholds, subscription state, how
// long they've been subscribed, and how many alerts they've received in
// the last 7 days.
func (r *Router) status(ctx context.Context, chatID int64) string {
	user, err := r.store.GetUser(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "You're not registered yet. Send /start first."
		}
		r.log.Error("commands: status lookup failed", "chat_id", chatID, "err", err)
		return "Something went wrong. Please try again shortly."
	}

	weeklyAlerts, err := r.store.CountAlertsSince(ctx, chatID, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		r.log.Warn("commands: weekly alert count failed", "chat_id", chatID, "err", err)
	}

	state := "active"
	if !user.IsActive {
		state = "paused"
	}
	return fmt.Sprintf(
		"Region: %s\nLow threshold: $%.2f/MWh\nHigh threshold: $%.2f/MWh\nSubscription: %s\n"+
			"Member since: %s\nAlerts received this week: %d",
		user.Region, user.LowAlert, user.HighAlert, state,
		user.CreatedAt.Format("2006-01-02"), weeklyAlerts)
}

// stop deactivates the user; it never deletes their row, so thresholds
// and region survive a later /start.
func (r *Router) stop(ctx context.Context, chatID int64) string {
	if err := r.store.SetActive(ctx, chatID, false); err != nil {
		r.log.Error("commands: stop failed", "chat_id", chatID, "err", err)
		return "Something went wrong pausing your subscription."
	}
	return "You've been unsubscribed. Send /start any time to resume."
}

// price reports the latest dispatch price and today's range for the
// user's registered region.
func (r *Router) price(ctx context.Context, chatID int64) string {
	user, err := r.store.GetUser(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "You're not registered yet. Send /start first."
		}
		r.log.Error("commands: price lookup failed", "chat_id", chatID, "err", err)
		return "Something went wrong. Please try again shortly."
	}

	latest, err := r.store.GetLatestPrice(ctx, user.Region)
	if err != nil {
		if errors.Is(err, domain.ErrNoData) {
			return "No price data yet for your region. Check back shortly."
		}
		r.log.Error("commands: latest price failed", "chat_id", chatID, "err", err)
		return "Something went wrong fetching the latest price."
	}

	datePrefix := latest.IntervalTime[:10]
	min, max, err := r.store.GetDailyRange(ctx, user.Region, datePrefix)
	haveRange := err == nil

	ageMinutes := int64(-1)
	if t, parseErr := time.ParseInLocation(domain.MarketTimeLayout, latest.IntervalTime, domain.MarketLocation); parseErr == nil {
		ageMinutes = int64(domain.MarketNow().Sub(t).Minutes())
	}

	return messages.FormatPriceResponse(user.Region, latest.PriceMWh, latest.IntervalTime, haveRange, min, max, ageMinutes)
}

// forecast reports upcoming pre-dispatch forecast prices for the user's
// registered region over the next two hours.
func (r *Router) forecast(ctx context.Context, chatID int64) string {
	user, err := r.store.GetUser(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "You're not registered yet. Send /start first."
		}
		r.log.Error("commands: forecast lookup failed", "chat_id", chatID, "err", err)
		return "Something went wrong. Please try again shortly."
	}

	now := domain.MarketNow()
	after := now.Format(domain.MarketTimeLayout)
	before := now.Add(2 * time.Hour).Format(domain.MarketTimeLayout)

	forecasts, err := r.store.GetForecasts(ctx, user.Region, after, before)
	if err != nil {
		r.log.Error("commands: forecast query failed", "chat_id", chatID, "err", err)
		return "Something went wrong fetching the forecast."
	}

	return messages.FormatForecastResponse(user.Region, forecasts)
}
