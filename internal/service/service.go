package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/0xTanzim/weather-extension/internal/cache"
	"github.com/0xTanzim/weather-extension/internal/client"
	"github.com/0xTanzim/weather-extension/internal/keypool"
	"github.com/0xTanzim/weather-extension/internal/models"
	"github.com/0xTanzim/weather-extension/internal/observability"
	"github.com/0xTanzim/weather-extension/internal/validation"
)

// Config holds cache TTLs, bounds, and retry policy for the service.
type Config struct {
	WeatherTTL     time.Duration
	ForecastTTL    time.Duration
	GeocodeTTL     time.Duration
	NegativeTTL    time.Duration
	MaxSize        int
	SweepInterval  time.Duration // 0 disables background sweeps (tests)
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// WeatherService orchestrates one outbound call per logical request: cache
// lookup, key acquisition, the bounded upstream call, outcome classification,
// and cache/pool bookkeeping. It is the only place that maps upstream
// outcomes to cache and key-pool actions.
type WeatherService struct {
	client client.WeatherClient
	pool   *keypool.Pool

	weather  *cache.Cache[models.CurrentWeather]
	forecast *cache.Cache[models.Forecast]
	geocode  *cache.Cache[models.Location]
	// negative holds upstream not-found outcomes so repeated identical bad
	// requests skip the network for a short window.
	negative *cache.Cache[string]

	retryAttempts  int
	retryBaseDelay time.Duration
}

// NewWeatherService creates a WeatherService with one cache per data
// category. Each Acquire on the pool is paired with exactly one
// ReportSuccess/ReportFailure before the operation returns.
func NewWeatherService(cl client.WeatherClient, pool *keypool.Pool, cfg Config) *WeatherService {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	s := &WeatherService{
		client:         cl,
		pool:           pool,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
	if cfg.SweepInterval > 0 {
		s.weather = cache.NewWithSweep[models.CurrentWeather](cfg.WeatherTTL, cfg.MaxSize, cfg.SweepInterval)
		s.forecast = cache.NewWithSweep[models.Forecast](cfg.ForecastTTL, cfg.MaxSize, cfg.SweepInterval)
		s.geocode = cache.NewWithSweep[models.Location](cfg.GeocodeTTL, cfg.MaxSize, cfg.SweepInterval)
		s.negative = cache.NewWithSweep[string](cfg.NegativeTTL, cfg.MaxSize, cfg.SweepInterval)
	} else {
		s.weather = cache.New[models.CurrentWeather](cfg.WeatherTTL, cfg.MaxSize)
		s.forecast = cache.New[models.Forecast](cfg.ForecastTTL, cfg.MaxSize)
		s.geocode = cache.New[models.Location](cfg.GeocodeTTL, cfg.MaxSize)
		s.negative = cache.New[string](cfg.NegativeTTL, cfg.MaxSize)
	}
	return s
}

// CurrentWeather returns current conditions for a city, served from cache
// when fresh.
func (s *WeatherService) CurrentWeather(ctx context.Context, city, units string) (models.CurrentWeather, error) {
	city, err := validation.ValidateCity(city)
	if err != nil {
		return models.CurrentWeather{}, invalidInput(err)
	}
	units, err = validation.ValidateUnits(units)
	if err != nil {
		return models.CurrentWeather{}, invalidInput(err)
	}
	key := cache.CityKey("weather", city, units)
	return fetch(ctx, s, "weather", key, s.weather, func(ctx context.Context, apiKey string) (models.CurrentWeather, error) {
		return s.client.CurrentWeather(ctx, apiKey, city, units)
	})
}

// Forecast returns the forecast for a city, served from cache when fresh.
func (s *WeatherService) Forecast(ctx context.Context, city, units string) (models.Forecast, error) {
	city, err := validation.ValidateCity(city)
	if err != nil {
		return models.Forecast{}, invalidInput(err)
	}
	units, err = validation.ValidateUnits(units)
	if err != nil {
		return models.Forecast{}, invalidInput(err)
	}
	key := cache.CityKey("forecast", city, units)
	return fetch(ctx, s, "forecast", key, s.forecast, func(ctx context.Context, apiKey string) (models.Forecast, error) {
		return s.client.Forecast(ctx, apiKey, city, units)
	})
}

// ReverseGeocode resolves coordinates to a named place. Coordinates are
// rounded during key derivation so near-identical lookups share an entry.
func (s *WeatherService) ReverseGeocode(ctx context.Context, lat, lon float64) (models.Location, error) {
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		return models.Location{}, invalidInput(err)
	}
	key := cache.CoordKey("geocode", lat, lon)
	return fetch(ctx, s, "geocode", key, s.geocode, func(ctx context.Context, apiKey string) (models.Location, error) {
		return s.client.ReverseGeocode(ctx, apiKey, lat, lon)
	})
}

// fetch runs the shared orchestration protocol for one logical request.
// Cache hit returns immediately with no key acquisition. On miss it acquires
// a key, calls upstream, classifies the outcome, and reports it back to the
// pool before returning.
func fetch[V any](ctx context.Context, s *WeatherService, category, key string, c *cache.Cache[V], call func(ctx context.Context, apiKey string) (V, error)) (V, error) {
	var zero V
	logger := loggerFromContext(ctx)

	if v, ok := c.Get(key); ok {
		observability.CacheHitsTotal.WithLabelValues(category).Inc()
		if logger != nil {
			logger.Debug("cache hit", zap.String("category", category), zap.String("key", key))
		}
		return v, nil
	}
	observability.CacheMissesTotal.WithLabelValues(category).Inc()

	if msg, ok := s.negative.Get(key); ok {
		observability.NegativeCacheHitsTotal.Inc()
		return zero, &Error{Kind: KindNotFound, Err: errors.New(msg)}
	}

	if logger != nil {
		logger.Debug("cache miss, calling upstream", zap.String("category", category), zap.String("key", key))
	}

	transportAttempts := 0
	authRetried := false
	for {
		apiKey := s.pool.Acquire()
		v, err := call(ctx, apiKey)
		if err == nil {
			s.pool.ReportSuccess(apiKey)
			c.Set(key, v)
			return v, nil
		}

		kind := classify(err)
		if kind == KindNotFound {
			// The key worked; the input named something that does not exist.
			s.pool.ReportSuccess(apiKey)
			s.negative.Set(key, err.Error())
			return zero, &Error{Kind: KindNotFound, Err: err}
		}
		s.pool.ReportFailure(apiKey)

		if kind == KindUnauthorized && !authRetried {
			authRetried = true
			if logger != nil {
				logger.Warn("key rejected, retrying with next key", zap.String("category", category))
			}
			continue
		}

		if retryable(kind) {
			transportAttempts++
			if transportAttempts < s.retryAttempts {
				observability.UpstreamRetriesTotal.Inc()
				delay := s.retryBaseDelay << (transportAttempts - 1)
				select {
				case <-ctx.Done():
					return zero, &Error{Kind: KindTimeout, Err: ctx.Err()}
				case <-time.After(delay):
				}
				continue
			}
		}

		if logger != nil {
			logger.Warn("upstream call failed",
				zap.String("category", category),
				zap.String("kind", kind.String()),
				zap.Error(err))
		}
		return zero, &Error{Kind: kind, Err: err}
	}
}

// Stats describes cache and key-pool health for the status endpoint.
type Stats struct {
	Cache CacheStats    `json:"cache"`
	Keys  keypool.Stats `json:"keys"`
}

// CacheStats holds per-category cache snapshots and the total entry count.
type CacheStats struct {
	Categories map[string]cache.Stats `json:"categories"`
	TotalSize  int                    `json:"totalSize"`
}

// Stats returns a snapshot of cache and pool state. Expired-but-unswept
// entries are purged first so sizes reflect live data.
func (s *WeatherService) Stats() Stats {
	categories := map[string]cache.Stats{}
	total := 0
	for name, st := range map[string]func() cache.Stats{
		"weather":  func() cache.Stats { s.weather.Cleanup(); return s.weather.Stats() },
		"forecast": func() cache.Stats { s.forecast.Cleanup(); return s.forecast.Stats() },
		"geocode":  func() cache.Stats { s.geocode.Cleanup(); return s.geocode.Stats() },
		"negative": func() cache.Stats { s.negative.Cleanup(); return s.negative.Stats() },
	} {
		snap := st()
		categories[name] = snap
		total += snap.Size
	}
	return Stats{
		Cache: CacheStats{Categories: categories, TotalSize: total},
		Keys:  s.pool.Stats(),
	}
}

// ClearCaches removes all entries from every category. Used for manual
// resets and test isolation.
func (s *WeatherService) ClearCaches() {
	s.weather.Clear()
	s.forecast.Clear()
	s.geocode.Clear()
	s.negative.Clear()
}

// Close destroys all caches, stopping their background sweeps. Idempotent.
func (s *WeatherService) Close() {
	s.weather.Destroy()
	s.forecast.Destroy()
	s.geocode.Destroy()
	s.negative.Destroy()
}

// ActiveKeys reports the number of active keys; used by the health handler
// and the pool gauge.
func (s *WeatherService) ActiveKeys() int {
	return s.pool.Stats().ActiveKeys
}

// loggerFromContext extracts a zap.Logger from request context if present.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}
