// Package weather fetches tomorrow's outlook from the Bureau of
// Meteorology for the capital city anchoring each NEM region, and
// classifies it by rooftop-solar generation potential for the daily
// summary message.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nemalert/pricebot/internal/domain"
)

// bomBaseURL is BOM's public forecast API.
const bomBaseURL = "https://api.weather.bom.gov.au/v1/locations"

// regionGeohash maps each NEM region to the BOM geohash of its capital
// city, the closest BOM resolves a forecast to.
var regionGeohash = map[domain.Region]string{
	domain.RegionNSW: "r3gx2f", // Sydney
	domain.RegionVIC: "r1r0fs", // Melbourne
	domain.RegionQLD: "r7hg1c", // Brisbane
	domain.RegionSA:  "r1f94e", // Adelaide
	domain.RegionTAS: "r228fh", // Hobart
}

// SolarPotential classifies a day's rooftop-solar generation outlook.
type SolarPotential string

const (
	SolarExcellent SolarPotential = "excellent"
	SolarGood      SolarPotential = "good"
	SolarModerate  SolarPotential = "moderate"
	SolarPoor      SolarPotential = "poor"
)

// Emoji returns the display glyph for this solar outlook.
func (s SolarPotential) Emoji() string {
	switch s {
	case SolarExcellent:
		return "☀️"
	case SolarGood:
		return "\U0001F324️"
	case SolarModerate:
		return "⛅"
	default:
		return "\U0001F327️"
	}
}

// Label returns the display label for this solar outlook.
func (s SolarPotential) Label() string {
	switch s {
	case SolarExcellent:
		return "Excellent solar day"
	case SolarGood:
		return "Good solar day"
	case SolarModerate:
		return "Moderate solar"
	default:
		return "Poor solar day"
	}
}

// classifySolar maps a BOM icon_descriptor to a SolarPotential bucket.
// Anything BOM doesn't describe as clear/sunny/partly-cloudy is treated
// conservatively as poor.
func classifySolar(icon string) SolarPotential {
	switch icon {
	case "sunny", "clear":
		return SolarExcellent
	case "mostly_sunny":
		return SolarGood
	case "partly_cloudy", "hazy":
		return SolarModerate
	default:
		return SolarPoor
	}
}

// Forecast is tomorrow's weather outlook for one region.
type Forecast struct {
	HasTempMax  bool
	TempMax     float64
	Description string
	Solar       SolarPotential
}

type bomResponse struct {
	Data []dayForecast `json:"data"`
}

type dayForecast struct {
	TempMax        *float64 `json:"temp_max"`
	IconDescriptor *string  `json:"icon_descriptor"`
	ShortText      *string  `json:"short_text"`
}

// Client fetches BOM forecasts over HTTP.
type Client struct {
	http *http.Client
}

// NewClient constructs a weather Client.
func NewClient() *Client {
	return &Client{http: &http.Client{}}
}

// FetchTomorrow returns tomorrow's forecast for region, or (nil, nil) if
// the region has no known geohash or BOM's response has no tomorrow entry.
func (c *Client) FetchTomorrow(ctx context.Context, region domain.Region) (*Forecast, error) {
	geohash, ok := regionGeohash[region]
	if !ok {
		return nil, nil
	}

	url := fmt.Sprintf("%s/%s/forecasts/daily", bomBaseURL, geohash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("weather: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather: unexpected status %d from %s", resp.StatusCode, url)
	}

	var body bomResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("weather: decode response: %w", err)
	}

	// index 0 = today, index 1 = tomorrow
	if len(body.Data) < 2 {
		return nil, nil
	}
	tomorrow := body.Data[1]

	icon := ""
	if tomorrow.IconDescriptor != nil {
		icon = *tomorrow.IconDescriptor
	}
	description := ""
	if tomorrow.ShortText != nil {
		description = *tomorrow.ShortText
	}

	f := &Forecast{
		Description: description,
		Solar:       classifySolar(icon),
	}
	if tomorrow.TempMax != nil {
		f.HasTempMax = true
		f.TempMax = *tomorrow.TempMax
	}
	return f, nil
}
