// Package weather answers weather questions via the Open-Meteo public API:
// a geocoding lookup to resolve the place name, then a forecast call. No
// API key required.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

const (
	defaultGeocodeURL  = "https://geocoding-api.open-meteo.com"
	defaultForecastURL = "https://api.open-meteo.com"
)

// Connector provides current conditions and forecast tools.
type Connector struct {
	geocodeURL  string
	forecastURL string
	client      *http.Client
}

// New creates the weather connector. The URL overrides are empty outside
// tests.
func New(geocodeURL, forecastURL string) *Connector {
	if geocodeURL == "" {
		geocodeURL = defaultGeocodeURL
	}
	if forecastURL == "" {
		forecastURL = defaultForecastURL
	}
	return &Connector{
		geocodeURL:  geocodeURL,
		forecastURL: forecastURL,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Type implements connectors.Connector.
func (c *Connector) Type() string { return "weather" }

// HealthCheck implements connectors.Connector. A geocode for a known city
// exercises the whole path without needing credentials.
func (c *Connector) HealthCheck(ctx context.Context) error {
	_, err := c.geocode(ctx, "Berlin")
	return err
}

type forecastParams struct {
	Location string `json:"location" jsonschema_description:"City or place name, e.g. Lisbon or Austin, Texas"`
	Days     int    `json:"days,omitempty" jsonschema_description:"Forecast days (1-7), default 3"`
}

type location struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

// Tools implements connectors.Connector.
func (c *Connector) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "weather_current",
			Description: "Get current weather conditions for a location.",
			Parameters:  tools.ParamsSchema(forecastParams{}),
			Call:        c.callCurrent,
		},
		{
			Name:        "weather_forecast",
			Description: "Get a daily weather forecast for a location.",
			Parameters:  tools.ParamsSchema(forecastParams{}),
			Call:        c.callForecast,
		},
	}
}

func (c *Connector) callCurrent(ctx context.Context, args json.RawMessage) (any, error) {
	var params forecastParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}

	loc, err := c.geocode(ctx, params.Location)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("current", "temperature_2m,apparent_temperature,relative_humidity_2m,precipitation,wind_speed_10m,weather_code")
	q.Set("timezone", "auto")

	var raw struct {
		Current map[string]any `json:"current"`
	}
	if err := c.getJSON(ctx, c.forecastURL+"/v1/forecast?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	if code, ok := raw.Current["weather_code"].(float64); ok {
		raw.Current["conditions"] = describeWeatherCode(int(code))
	}
	return map[string]any{
		"location": loc,
		"current":  raw.Current,
	}, nil
}

func (c *Connector) callForecast(ctx context.Context, args json.RawMessage) (any, error) {
	var params forecastParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	days := params.Days
	if days <= 0 || days > 7 {
		days = 3
	}

	loc, err := c.geocode(ctx, params.Location)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_probability_max,weather_code")
	q.Set("forecast_days", fmt.Sprint(days))
	q.Set("timezone", "auto")

	var raw struct {
		Daily struct {
			Time         []string  `json:"time"`
			TempMax      []float64 `json:"temperature_2m_max"`
			TempMin      []float64 `json:"temperature_2m_min"`
			PrecipChance []float64 `json:"precipitation_probability_max"`
			WeatherCode  []int     `json:"weather_code"`
		} `json:"daily"`
	}
	if err := c.getJSON(ctx, c.forecastURL+"/v1/forecast?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	type day struct {
		Date         string  `json:"date"`
		TempMaxC     float64 `json:"temp_max_c"`
		TempMinC     float64 `json:"temp_min_c"`
		PrecipChance float64 `json:"precip_chance_pct"`
		Conditions   string  `json:"conditions"`
	}
	forecast := make([]day, 0, len(raw.Daily.Time))
	for i, date := range raw.Daily.Time {
		d := day{Date: date}
		if i < len(raw.Daily.TempMax) {
			d.TempMaxC = raw.Daily.TempMax[i]
		}
		if i < len(raw.Daily.TempMin) {
			d.TempMinC = raw.Daily.TempMin[i]
		}
		if i < len(raw.Daily.PrecipChance) {
			d.PrecipChance = raw.Daily.PrecipChance[i]
		}
		if i < len(raw.Daily.WeatherCode) {
			d.Conditions = describeWeatherCode(raw.Daily.WeatherCode[i])
		}
		forecast = append(forecast, d)
	}

	return map[string]any{
		"location": loc,
		"forecast": forecast,
	}, nil
}

func (c *Connector) geocode(ctx context.Context, name string) (*location, error) {
	if name == "" {
		return nil, fmt.Errorf("location is required")
	}

	q := url.Values{}
	q.Set("name", name)
	q.Set("count", "1")

	var raw struct {
		Results []location `json:"results"`
	}
	if err := c.getJSON(ctx, c.geocodeURL+"/v1/search?"+q.Encode(), &raw); err != nil {
		return nil, err
	}
	if len(raw.Results) == 0 {
		return nil, fmt.Errorf("location %q not found", name)
	}
	return &raw.Results[0], nil
}

func (c *Connector) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("weather API returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// describeWeatherCode maps WMO weather codes to readable conditions.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "fog"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain showers"
	case code <= 86:
		return "snow showers"
	default:
		return "thunderstorm"
	}
}
