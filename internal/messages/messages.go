// Package messages renders the plain-text chat bodies sent to subscribers:
// alerts, command replies, and the daily summary.
package messages

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nemalert/pricebot/internal/domain"
	"github.com/nemalert/pricebot/internal/weather"
)

// priceLevel classifies a $/MWh price into an emoji, label, and suggested
// action, used throughout the alert and status copy.
func priceLevel(price float64) (emoji, label, suggestion string) {
	switch {
	case price < 0:
		return "\U0001F7E2\U0001F4B0", "Negative", "Charge from grid. Run heavy appliances. You're being paid to use power."
	case price < 50:
		return "\U0001F7E2", "Low", "Good time to charge battery from grid."
	case price < 100:
		return "\U0001F7E1", "Normal", "No action needed — prices are within typical range."
	case price < 200:
		return "\U0001F7E0", "Elevated", "Consider switching to battery power."
	case price < 500:
		return "\U0001F534", "High", "Discharge battery. Minimise grid usage."
	default:
		return "\U0001F534\U0001F525", "Extreme", "Discharge and export to grid immediately. Pause heavy appliances."
	}
}

// regionDisplay shortens a region code for display: "NSW1" -> "NSW".
func regionDisplay(region domain.Region) string {
	s := string(region)
	return strings.TrimSuffix(s, "1")
}

// formatTimeShort extracts "HH:MM" from a market interval timestamp
// ("2026/02/27 14:35:00" -> "14:35").
func formatTimeShort(intervalTime string) string {
	if len(intervalTime) >= 16 {
		return intervalTime[11:16]
	}
	return intervalTime
}

// money formats a price for display as "123.45" (callers prepend the "$"),
// rounding through
// decimal.Decimal so a stored float64 like 123.4549999998 never prints a
// surprising third decimal.
func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// moneyRound0 formats a price rounded to the nearest dollar, matching the
// original copy's "${:.0}" usage for headline/threshold figures.
func moneyRound0(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(0)
}

// FormatPriceResponse renders the body of the /price command.
func FormatPriceResponse(region domain.Region, price float64, intervalTime string, haveRange bool, min, max float64, ageMinutes int64) string {
	emoji, label, suggestion := priceLevel(price)
	timeStr := formatTimeShort(intervalTime)

	rangeStr := "No data for today yet."
	if haveRange {
		rangeStr = fmt.Sprintf("Today's range: $%s ~ $%s", moneyRound0(min), moneyRound0(max))
	}

	ageStr := ""
	switch {
	case ageMinutes < 0:
		// unknown age, omit
	case ageMinutes <= 1:
		ageStr = " (just now)"
	default:
		ageStr = fmt.Sprintf(" (%d min ago)", ageMinutes)
	}
	stale := ""
	if ageMinutes > 5 {
		stale = " ⚠️"
	}

	return fmt.Sprintf(
		"⚡ %s Spot Price\n\n$%s/MWh %s %s\n\n%s\n\nUpdated: %s AEST%s%s | %s",
		regionDisplay(region), money(price), emoji, label, suggestion, timeStr, ageStr, stale, rangeStr,
	)
}

// FormatForecastResponse renders the body of the /forecast command.
func FormatForecastResponse(region domain.Region, forecasts []domain.ForecastRecord) string {
	if len(forecasts) == 0 {
		return fmt.Sprintf("\U0001F4C8 %s Price Forecast\n\nNo forecast data available.", regionDisplay(region))
	}

	lines := []string{fmt.Sprintf("\U0001F4C8 %s Price Forecast\n", regionDisplay(region))}
	peakPrice := -1e18
	peakTime := ""
	for _, fc := range forecasts {
		emoji, _, _ := priceLevel(fc.PriceMWh)
		ts := formatTimeShort(fc.ForecastTime)
		marker := ""
		if fc.PriceMWh > peakPrice {
			peakPrice = fc.PriceMWh
			peakTime = fc.ForecastTime
			marker = "  ← Peak expected"
		}
		lines = append(lines, fmt.Sprintf("%s  $%s/MWh   %s%s", ts, moneyRound0(fc.PriceMWh), emoji, marker))
	}

	peakTS := formatTimeShort(peakTime)
	lines = append(lines, fmt.Sprintf(
		"\n\U0001F4A1 Peak expected around %s.\n\n⚠️ Forecasts are estimates and may change.", peakTS))
	return strings.Join(lines, "\n")
}

// FormatHighAlert renders a high-price threshold alert.
func FormatHighAlert(region domain.Region, price, threshold float64, haveRange bool, min, max float64) string {
	rangeStr := ""
	if haveRange {
		rangeStr = fmt.Sprintf("Today's range: $%s ~ $%s", moneyRound0(min), moneyRound0(max))
	}
	return fmt.Sprintf(
		"⚡ HIGH PRICE — %s\n\nCurrent price: $%s/MWh \U0001F534\nYour threshold: $%s/MWh\n\n"+
			"\U0001F4A1 What to do:\n→ Switch battery to discharge / export mode\n"+
			"→ Avoid running dishwasher, dryer, pool pump\n→ If on a VPP, ensure export is enabled\n\n%s",
		regionDisplay(region), money(price), moneyRound0(threshold), rangeStr,
	)
}

// FormatLowAlert renders a low/negative-price threshold alert.
func FormatLowAlert(region domain.Region, price float64) string {
	label := "LOW PRICE"
	if price < 0 {
		label = "NEGATIVE PRICE"
	}
	paidLine := ""
	if price < 0 {
		paidLine = "→ You're being PAID to use electricity!"
	}
	return fmt.Sprintf(
		"\U0001F50B %s — %s\n\nCurrent price: $%s/MWh \U0001F7E2\U0001F4B0\n\n"+
			"\U0001F4A1 What to do:\n→ Switch battery to charge from grid\n→ Run washing machine, dryer, dishwasher\n%s",
		label, regionDisplay(region), money(price), paidLine,
	)
}

// FormatSpikeAlert renders a sudden-jump alert comparing two consecutive
// dispatch intervals.
func FormatSpikeAlert(region domain.Region, prev, current float64) string {
	return fmt.Sprintf(
		"⚠️ PRICE SPIKE — %s\n\nPrice jumped from $%s → $%s/MWh in 5 minutes!\n"+
			"This is unusual and may indicate a supply event.\n\n"+
			"\U0001F4A1 Switch to battery power immediately if you haven't already.",
		regionDisplay(region), moneyRound0(prev), moneyRound0(current),
	)
}

// FormatForecastAlert renders a pre-dispatch heads-up warning.
func FormatForecastAlert(region domain.Region, forecastPrice float64, forecastTime string, currentPrice float64) string {
	ts := formatTimeShort(forecastTime)
	return fmt.Sprintf(
		"\U0001F4E2 HEADS UP — %s\n\nPrices forecast to reach $%s+/MWh around %s.\n"+
			"Current price: $%s/MWh \U0001F7E1\n\n\U0001F4A1 Prepare now:\n"+
			"→ Ensure battery is fully charged\n→ Set battery to discharge when peak begins\n"+
			"→ Delay any heavy appliance usage",
		regionDisplay(region), moneyRound0(forecastPrice), ts, moneyRound0(currentPrice),
	)
}

// FormatAllClear renders the notification sent once a price that triggered
// a high-price alert has dropped back under threshold.
func FormatAllClear(region domain.Region, price float64, havePeak bool, peak float64) string {
	peakStr := ""
	if havePeak {
		peakStr = fmt.Sprintf("\nPeak reached: $%s/MWh", moneyRound0(peak))
	}
	emoji, _, _ := priceLevel(price)
	return fmt.Sprintf(
		"✅ PRICES NORMAL — %s\n\nPrice has dropped back to $%s/MWh %s\n%s",
		regionDisplay(region), money(price), emoji, peakStr,
	)
}

// DailySummaryInput bundles everything FormatDailySummary needs so the
// scheduler doesn't have to pass a long, easily-misordered argument list.
type DailySummaryInput struct {
	Region       domain.Region
	DateDisplay  string
	Stats        *domain.DailyStats
	PeakTime     string
	HavePeakTime bool
	Weather      *weather.Forecast
	AlertsToday  int64
}

// FormatDailySummary renders the end-of-day recap, including tomorrow's
// solar outlook when weather data was available.
func FormatDailySummary(in DailySummaryInput) string {
	lines := []string{fmt.Sprintf("\U0001F4CA Daily Summary — %s — %s\n", regionDisplay(in.Region), in.DateDisplay)}

	if in.Stats != nil {
		lines = append(lines, fmt.Sprintf("Price range: $%s ~ $%s/MWh", moneyRound0(in.Stats.Min), moneyRound0(in.Stats.Max)))
		lines = append(lines, fmt.Sprintf("Average price: $%s/MWh", moneyRound0(in.Stats.Avg)))
		if in.Stats.NegativeHours > 0 {
			lines = append(lines, fmt.Sprintf("Negative price hours: %.1fh", in.Stats.NegativeHours))
		}
		if in.HavePeakTime {
			lines = append(lines, fmt.Sprintf("Peak: $%s/MWh at %s AEST", moneyRound0(in.Stats.Max), formatTimeShort(in.PeakTime)))
		}
	} else {
		lines = append(lines, "No price data recorded today.")
	}

	lines = append(lines, fmt.Sprintf("\nAlerts sent today: %d", in.AlertsToday))

	if in.Weather != nil {
		w := in.Weather
		tempStr := ""
		if w.HasTempMax {
			tempStr = fmt.Sprintf(", %.0f°C", w.TempMax)
		}
		lines = append(lines, fmt.Sprintf("\nTomorrow's outlook:\n%s %s%s — %s",
			w.Solar.Emoji(), w.Description, tempStr, w.Solar.Label()))

		switch w.Solar {
		case weather.SolarExcellent, weather.SolarGood:
			lines = append(lines, "\U0001F50B Likely negative prices midday\n"+
				"• Morning: Let solar charge battery\n"+
				"• Midday: Charge from grid (negative prices)\n"+
				"• Evening: Discharge during peak")
		case weather.SolarModerate:
			lines = append(lines, "⛅ Some solar generation expected\n"+
				"• Midday prices may dip but unlikely negative\n"+
				"• Evening: Discharge during peak if prices rise")
		case weather.SolarPoor:
			lines = append(lines, "\U0001F327️ Low solar generation expected\n"+
				"• Prices unlikely to go negative\n"+
				"• Conserve battery for evening peak")
		}

		if w.HasTempMax {
			switch {
			case w.TempMax >= 35:
				lines = append(lines, "⚡ Extreme heat — expect high evening demand and prices")
			case w.TempMax >= 30:
				lines = append(lines, "⚡ Hot day — possible elevated evening prices")
			}
		}
	}

	lines = append(lines, "\nPowered by AEMO + BOM data | /help for commands")
	return strings.Join(lines, "\n")
}

// WelcomeMessage greets a new subscriber and prompts for a region.
func WelcomeMessage() string {
	return "Welcome to NEM Price Bot! ⚡\n\n" +
		"I'll send you real-time electricity price alerts so you know\n" +
		"when to charge and discharge your home battery.\n\n" +
		"Select your NEM region:"
}

// ConfirmRegion renders the reply after a subscriber picks (or changes)
// their region.
func ConfirmRegion(region domain.Region, highAlert, lowAlert float64) string {
	return fmt.Sprintf(
		"✅ You're set up for %s.\n\nCurrent alerts:\n"+
			"• High price: $%s/MWh (notify when price goes above)\n"+
			"• Low price: $%s/MWh (notify when price drops below)\n\n"+
			"Commands:\n/price — Current spot price\n/forecast — Next few hours outlook\n"+
			"/alert — Customise alert thresholds\n/status — View your settings\n/help — All commands",
		regionDisplay(region), moneyRound0(highAlert), moneyRound0(lowAlert),
	)
}

// HelpMessage is the static /help reply.
func HelpMessage() string {
	return "NEM Price Bot — Help ⚡\n\n" +
		"\U0001F4CA Check prices:\n/price — Current spot price for your region\n" +
		"/forecast — Price forecast for next 2 hours\n\n" +
		"\U0001F514 Manage alerts:\n/alert high 200 — Notify above $200/MWh\n" +
		"/alert low -20 — Notify below -$20/MWh\n/alert off — Pause notifications\n" +
		"/alert on — Resume notifications\n\n" +
		"⚙️ Settings:\n/status — View current settings\n/region — Change your NEM region\n\n" +
		"ℹ️ About:\n/about — What is this bot and where does the data come from\n\n" +
		"Data source: AEMO (aemo.com.au)\nPrices update every 5 minutes.\n\n" +
		"⚠️ This is an information service only. Always verify\n" +
		"before making decisions. Not financial advice."
}

// AboutMessage is the static /about reply.
func AboutMessage() string {
	return "NEM Price Bot ⚡\n\n" +
		"An independent electricity price alert tool for Australian\nsolar + battery households.\n\n" +
		"\U0001F4E1 Data source:\nWholesale spot prices from AEMO's NEM dispatch system\n" +
		"(nemweb.com.au). Updated every 5 minutes.\n\n" +
		"\U0001F512 Privacy:\nWe only store your Telegram chat ID and region selection.\n" +
		"No personal information is collected.\n\n" +
		"⚠️ Disclaimer:\nThis service provides wholesale market data for\n" +
		"informational purposes only. It does not constitute\n" +
		"financial, energy, or investment advice. Always verify\n" +
		"information before acting. Battery operation is entirely\n" +
		"at your own discretion and risk."
}
