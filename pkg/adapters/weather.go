package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const defaultWeatherBase = "https://api.openweathermap.org"

// Weather is the current-conditions summary for one city.
type Weather struct {
	City        string
	Description string
	TempC       float64
	Humidity    float64
}

// WeatherClient looks up current conditions by city name.
type WeatherClient struct {
	httpClient *http.Client
	apiBase    string
	apiKey     string
}

// NewWeatherClient creates a weather lookup client.
func NewWeatherClient(apiKey string) *WeatherClient {
	return &WeatherClient{
		httpClient: http.DefaultClient,
		apiBase:    defaultWeatherBase,
		apiKey:     apiKey,
	}
}

// NewWeatherClientWithBase points the client at a custom API base. Test seam.
func NewWeatherClientWithBase(apiBase, apiKey string) *WeatherClient {
	return &WeatherClient{httpClient: http.DefaultClient, apiBase: apiBase, apiKey: apiKey}
}

type weatherResponse struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Name string `json:"name"`
}

// Current fetches current conditions for city. One attempt, no retry.
func (w *WeatherClient) Current(ctx context.Context, city string) (Weather, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", w.apiKey)
	q.Set("units", "metric")
	q.Set("lang", "zh_tw")

	endpoint := w.apiBase + "/data/2.5/weather?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Weather{}, fmt.Errorf("build weather request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return Weather{}, fmt.Errorf("weather call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Weather{}, fmt.Errorf("read weather response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Weather{}, fmt.Errorf("weather API status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed weatherResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Weather{}, fmt.Errorf("decode weather response: %w", err)
	}
	if len(parsed.Weather) == 0 {
		return Weather{}, fmt.Errorf("weather API returned no conditions")
	}

	name := parsed.Name
	if name == "" {
		name = city
	}
	return Weather{
		City:        name,
		Description: parsed.Weather[0].Description,
		TempC:       parsed.Main.Temp,
		Humidity:    parsed.Main.Humidity,
	}, nil
}
