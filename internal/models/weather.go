package models

import "time"

// CurrentWeather is the validated current-conditions payload served to clients.
type CurrentWeather struct {
	City        string    `json:"city"`
	Country     string    `json:"country,omitempty"`
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feelsLike"`
	Conditions  string    `json:"conditions"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	Units       string    `json:"units"`
	Timestamp   time.Time `json:"timestamp"`
}

// ForecastEntry is a single forecast slot (3-hour resolution upstream).
type ForecastEntry struct {
	Time        time.Time `json:"time"`
	Temperature float64   `json:"temperature"`
	Conditions  string    `json:"conditions"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
}

// Forecast is the validated forecast payload for a city.
type Forecast struct {
	City      string          `json:"city"`
	Units     string          `json:"units"`
	Entries   []ForecastEntry `json:"entries"`
	Timestamp time.Time       `json:"timestamp"`
}

// Location is the result of a reverse geocode lookup.
type Location struct {
	Name      string  `json:"name"`
	Country   string  `json:"country,omitempty"`
	State     string  `json:"state,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
