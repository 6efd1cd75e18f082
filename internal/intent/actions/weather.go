package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vce-gateway/gateway/internal/httpx"
	"github.com/vce-gateway/gateway/internal/intent"
)

// WeatherInfo is the normalized shape returned to the chat reply, grounded
// on original_source's OpenWeatherMap.get_weather_info response shape.
type WeatherInfo struct {
	Location    string  `json:"location"`
	Summary     string  `json:"summary"`
	TempCelsius float64 `json:"temp_celsius"`
}

// WeatherProvider abstracts the cy_weather/open_weather_map backends.
type WeatherProvider interface {
	GetWeather(ctx context.Context, query string) (WeatherInfo, error)
}

// OpenWeatherMapClient is an HTTP JSON client against the OpenWeatherMap
// API, grounded on original_source's openapi/weather/open_weather_map.py,
// with the cachetools.TTLCache there reimplemented as ttlCache.
type OpenWeatherMapClient struct {
	baseURL string
	appID   string
	client  *http.Client
	cache   *ttlCache[WeatherInfo]
}

// NewOpenWeatherMapClient builds a client with a 24h/1000-entry cache,
// matching original_source's defaults.
func NewOpenWeatherMapClient(baseURL, appID string, poolSize int) *OpenWeatherMapClient {
	return &OpenWeatherMapClient{
		baseURL: baseURL,
		appID:   appID,
		client:  httpx.NewPooledClient(poolSize, 10*time.Second),
		cache:   newTTLCache[WeatherInfo](1000, 24*time.Hour),
	}
}

func (w *OpenWeatherMapClient) GetWeather(ctx context.Context, query string) (WeatherInfo, error) {
	if cached, ok := w.cache.get(query); ok {
		return cached, nil
	}

	u := fmt.Sprintf("%s/data/2.5/weather?q=%s&appid=%s&units=metric", w.baseURL, url.QueryEscape(query), w.appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return WeatherInfo{}, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return WeatherInfo{}, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return WeatherInfo{}, fmt.Errorf("weather status %d", resp.StatusCode)
	}

	var raw struct {
		Name string `json:"name"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return WeatherInfo{}, fmt.Errorf("weather decode: %w", err)
	}

	summary := "clear"
	if len(raw.Weather) > 0 {
		summary = raw.Weather[0].Description
	}
	info := WeatherInfo{Location: raw.Name, Summary: summary, TempCelsius: raw.Main.Temp}
	w.cache.set(query, info)
	return info, nil
}

// WeatherHandler implements intent.Handler for the weather intent.
type WeatherHandler struct {
	Provider WeatherProvider
}

var _ intent.Handler = WeatherHandler{}

func (h WeatherHandler) Handle(ctx context.Context, text, content, history string, deps intent.Deps) (intent.ActionResult, error) {
	if h.Provider == nil {
		return intent.ActionResult{UserPrompt: "I don't have weather access configured right now."}, nil
	}
	info, err := h.Provider.GetWeather(ctx, content)
	if err != nil {
		return intent.ActionResult{UserPrompt: "I couldn't reach the weather service just now."}, nil
	}
	return intent.ActionResult{
		UserPrompt: fmt.Sprintf("It's %s in %s, about %.0f degrees.", info.Summary, info.Location, info.TempCelsius),
	}, nil
}
