package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	WeatherAPIKeys    []string

	WeatherTTL    time.Duration
	ForecastTTL   time.Duration
	GeocodeTTL    time.Duration
	NegativeTTL   time.Duration
	CacheMaxSize  int
	SweepInterval time.Duration

	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout         time.Duration
	ShutdownInFlightTimeout time.Duration

	WarmCache     bool
	WarmInterval  time.Duration
	TrackedCities []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Cache struct {
		WeatherTTL    string `yaml:"weather_ttl"`
		ForecastTTL   string `yaml:"forecast_ttl"`
		GeocodeTTL    string `yaml:"geocode_ttl"`
		NegativeTTL   string `yaml:"negative_ttl"`
		MaxSize       int    `yaml:"max_size"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"cache"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout         string `yaml:"timeout"`
		InFlightTimeout string `yaml:"in_flight_timeout"`
	} `yaml:"shutdown"`

	Warm struct {
		Enabled       bool     `yaml:"enabled"`
		Interval      string   `yaml:"interval"`
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"warm"`
}

type secretsFile struct {
	WeatherAPIKeys string `yaml:"weather_api_keys"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev). API
// keys come from the WEATHER_API_KEYS env (comma-delimited) or
// config/secrets.yaml. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	rawKeys := os.Getenv("WEATHER_API_KEYS")
	if rawKeys == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			rawKeys = sec.WeatherAPIKeys
		}
	}
	cfg.WeatherAPIKeys = SplitKeys(rawKeys)
	if len(cfg.WeatherAPIKeys) == 0 {
		return nil, fmt.Errorf("WEATHER_API_KEYS required (set env or config/secrets.yaml weather_api_keys)")
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org"
	}
	cfg.WeatherAPITimeout = parseDuration(fc.WeatherAPI.Timeout, 10*time.Second)

	cfg.WeatherTTL = parseDuration(fc.Cache.WeatherTTL, 30*time.Minute)
	cfg.ForecastTTL = parseDuration(fc.Cache.ForecastTTL, time.Hour)
	cfg.GeocodeTTL = parseDuration(fc.Cache.GeocodeTTL, 24*time.Hour)
	cfg.NegativeTTL = parseDuration(fc.Cache.NegativeTTL, 5*time.Minute)
	cfg.CacheMaxSize = fc.Cache.MaxSize
	if cfg.CacheMaxSize <= 0 {
		cfg.CacheMaxSize = 100
	}
	cfg.SweepInterval = parseDuration(fc.Cache.SweepInterval, 5*time.Minute)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)

	cfg.WarmCache = fc.Warm.Enabled
	cfg.WarmInterval = parseDurationOrZero(fc.Warm.Interval, 0)
	cfg.TrackedCities = fc.Warm.TrackedCities

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SplitKeys splits a comma-delimited key list, trimming whitespace and
// dropping empties.
func SplitKeys(raw string) []string {
	var out []string
	for _, k := range strings.Split(raw, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on
// empty string or parse error. Zero and negative results pass through.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. The request timeout must exceed
// the upstream timeout or every slow upstream call turns into a request
// timeout; auto-adjusted instead of rejected.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.NegativeTTL > cfg.WeatherTTL {
		return fmt.Errorf("cache.negative_ttl must not exceed cache.weather_ttl")
	}
	return nil
}
