package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/0xTanzim/weather-extension/internal/models"
	"github.com/0xTanzim/weather-extension/internal/observability"
)

// WeatherClient performs a single upstream call per invocation. The API key
// is passed per call so the caller can rotate keys between attempts; retry
// policy lives in the orchestrator, not here.
type WeatherClient interface {
	CurrentWeather(ctx context.Context, apiKey, city, units string) (models.CurrentWeather, error)
	Forecast(ctx context.Context, apiKey, city, units string) (models.Forecast, error)
	ReverseGeocode(ctx context.Context, apiKey string, lat, lon float64) (models.Location, error)
}

var (
	ErrUnauthorized = errors.New("api key rejected")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUpstream     = errors.New("upstream failure")
	ErrTimeout      = errors.New("request timeout")
	ErrBadPayload   = errors.New("invalid response payload")
)

// OpenWeatherClient calls the OpenWeatherMap HTTP API. Each call is bounded
// by timeout and aborted through the request context when it elapses.
type OpenWeatherClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewOpenWeatherClient(baseURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenWeatherClient{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type currentResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main *struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

type forecastResponse struct {
	City *struct {
		Name string `json:"name"`
	} `json:"city"`
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity int     `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
	} `json:"list"`
}

type geocodeResponse []struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	State   string  `json:"state"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// CurrentWeather fetches current conditions for a city.
func (c *OpenWeatherClient) CurrentWeather(ctx context.Context, apiKey, city, units string) (models.CurrentWeather, error) {
	params := url.Values{}
	params.Set("q", city)
	params.Set("units", units)
	body, err := c.call(ctx, "weather", "/data/2.5/weather", apiKey, params)
	if err != nil {
		return models.CurrentWeather{}, err
	}

	var resp currentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.CurrentWeather{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if resp.Main == nil || len(resp.Weather) == 0 || resp.Name == "" {
		return models.CurrentWeather{}, fmt.Errorf("%w: missing required fields", ErrBadPayload)
	}

	conditions := resp.Weather[0].Main
	if resp.Weather[0].Description != "" {
		conditions = resp.Weather[0].Description
	}
	return models.CurrentWeather{
		City:        resp.Name,
		Country:     resp.Sys.Country,
		Temperature: resp.Main.Temp,
		FeelsLike:   resp.Main.FeelsLike,
		Conditions:  conditions,
		Humidity:    resp.Main.Humidity,
		WindSpeed:   resp.Wind.Speed,
		Units:       units,
		Timestamp:   time.Now(),
	}, nil
}

// Forecast fetches the 5-day/3-hour forecast for a city.
func (c *OpenWeatherClient) Forecast(ctx context.Context, apiKey, city, units string) (models.Forecast, error) {
	params := url.Values{}
	params.Set("q", city)
	params.Set("units", units)
	body, err := c.call(ctx, "forecast", "/data/2.5/forecast", apiKey, params)
	if err != nil {
		return models.Forecast{}, err
	}

	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.Forecast{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if resp.City == nil || resp.City.Name == "" || len(resp.List) == 0 {
		return models.Forecast{}, fmt.Errorf("%w: missing required fields", ErrBadPayload)
	}

	out := models.Forecast{
		City:      resp.City.Name,
		Units:     units,
		Timestamp: time.Now(),
	}
	for _, slot := range resp.List {
		conditions := ""
		if len(slot.Weather) > 0 {
			conditions = slot.Weather[0].Main
			if slot.Weather[0].Description != "" {
				conditions = slot.Weather[0].Description
			}
		}
		out.Entries = append(out.Entries, models.ForecastEntry{
			Time:        time.Unix(slot.Dt, 0).UTC(),
			Temperature: slot.Main.Temp,
			Conditions:  conditions,
			Humidity:    slot.Main.Humidity,
			WindSpeed:   slot.Wind.Speed,
		})
	}
	return out, nil
}

// ReverseGeocode resolves coordinates to the nearest named place.
func (c *OpenWeatherClient) ReverseGeocode(ctx context.Context, apiKey string, lat, lon float64) (models.Location, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("limit", "1")
	body, err := c.call(ctx, "geocode", "/geo/1.0/reverse", apiKey, params)
	if err != nil {
		return models.Location{}, err
	}

	var resp geocodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.Location{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(resp) == 0 {
		// The geocode endpoint reports unknown coordinates with an empty
		// array rather than a 404.
		return models.Location{}, fmt.Errorf("%w: no place for coordinates", ErrNotFound)
	}
	if resp[0].Name == "" {
		return models.Location{}, fmt.Errorf("%w: missing required fields", ErrBadPayload)
	}
	return models.Location{
		Name:      resp[0].Name,
		Country:   resp[0].Country,
		State:     resp[0].State,
		Latitude:  resp[0].Lat,
		Longitude: resp[0].Lon,
	}, nil
}

// call performs one bounded HTTP request and classifies the outcome into the
// package sentinel errors. On success it returns the raw body for decoding.
func (c *OpenWeatherClient) call(ctx context.Context, category, path, apiKey string, params url.Values) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params.Set("appid", apiKey)
	req, err := http.NewRequestWithContext(reqCtx, "GET", c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(category, "error").Inc()
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		status := "error"
		defer func() {
			observability.UpstreamCallsTotal.WithLabelValues(category, status).Inc()
			observability.UpstreamCallDuration.WithLabelValues(category, status).Observe(time.Since(start).Seconds())
		}()
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			status = "timeout"
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(category, status).Inc()
	observability.UpstreamCallDuration.WithLabelValues(category, status).Observe(time.Since(start).Seconds())

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ErrUpstream, err)
	}
	return body, nil
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, code)
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstream, code)
	}
	return nil
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == 429:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}

func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}
