package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/0xTanzim/weather-extension/internal/client"
	"github.com/0xTanzim/weather-extension/internal/keypool"
	"github.com/0xTanzim/weather-extension/internal/models"
)

// fakeClient scripts upstream outcomes per call. Each method records the
// API key it was called with so tests can assert rotation behavior.
type fakeClient struct {
	weatherCalls int
	geocodeCalls int
	usedKeys     []string
	weatherFn    func(apiKey string) (models.CurrentWeather, error)
	forecastFn   func(apiKey string) (models.Forecast, error)
	geocodeFn    func(apiKey string) (models.Location, error)
}

func (f *fakeClient) CurrentWeather(ctx context.Context, apiKey, city, units string) (models.CurrentWeather, error) {
	f.weatherCalls++
	f.usedKeys = append(f.usedKeys, apiKey)
	return f.weatherFn(apiKey)
}

func (f *fakeClient) Forecast(ctx context.Context, apiKey, city, units string) (models.Forecast, error) {
	f.usedKeys = append(f.usedKeys, apiKey)
	return f.forecastFn(apiKey)
}

func (f *fakeClient) ReverseGeocode(ctx context.Context, apiKey string, lat, lon float64) (models.Location, error) {
	f.geocodeCalls++
	f.usedKeys = append(f.usedKeys, apiKey)
	return f.geocodeFn(apiKey)
}

func newTestService(t *testing.T, cl client.WeatherClient, keys ...string) (*WeatherService, *keypool.Pool) {
	t.Helper()
	if len(keys) == 0 {
		keys = []string{"test-key-1", "test-key-2"}
	}
	pool, err := keypool.New(keys)
	if err != nil {
		t.Fatalf("keypool.New() error = %v", err)
	}
	svc := NewWeatherService(cl, pool, Config{
		WeatherTTL:     time.Minute,
		ForecastTTL:    time.Minute,
		GeocodeTTL:     time.Minute,
		NegativeTTL:    time.Minute,
		MaxSize:        10,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
	})
	return svc, pool
}

// TestCurrentWeather_CachesSuccess verifies the cold miss then hit path: the
// first request calls upstream, the second is served from cache without
// acquiring a key.
func TestCurrentWeather_CachesSuccess(t *testing.T) {
	cl := &fakeClient{
		weatherFn: func(string) (models.CurrentWeather, error) {
			return models.CurrentWeather{City: "London", Temperature: 15}, nil
		},
	}
	svc, pool := newTestService(t, cl)

	got, err := svc.CurrentWeather(context.Background(), "London", "metric")
	if err != nil {
		t.Fatalf("CurrentWeather() error = %v", err)
	}
	if got.Temperature != 15 {
		t.Errorf("Temperature = %v, want 15", got.Temperature)
	}

	// Normalized equivalent should hit the cache.
	if _, err := svc.CurrentWeather(context.Background(), " london ", "metric"); err != nil {
		t.Fatalf("CurrentWeather() second call error = %v", err)
	}
	if cl.weatherCalls != 1 {
		t.Errorf("upstream calls = %d, want 1 (second request cached)", cl.weatherCalls)
	}
	if got := pool.Stats().TotalRequests; got != 1 {
		t.Errorf("pool TotalRequests = %d, want 1 (no key acquired on hit)", got)
	}
}

// TestCurrentWeather_InvalidInput verifies that validation failures surface
// as typed errors before any key acquisition or network activity.
func TestCurrentWeather_InvalidInput(t *testing.T) {
	cl := &fakeClient{}
	svc, pool := newTestService(t, cl)

	tests := []struct {
		name  string
		city  string
		units string
	}{
		{"empty city", "  ", "metric"},
		{"disallowed characters", "London<script>", "metric"},
		{"bad units", "London", "kelvinish"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CurrentWeather(context.Background(), tc.city, tc.units)
			if kind, ok := KindOf(err); !ok || kind != KindInvalidInput {
				t.Fatalf("error = %v, want KindInvalidInput", err)
			}
		})
	}
	if cl.weatherCalls != 0 {
		t.Errorf("upstream calls = %d, want 0", cl.weatherCalls)
	}
	if got := pool.Stats().TotalRequests; got != 0 {
		t.Errorf("pool TotalRequests = %d, want 0", got)
	}
}

// TestCurrentWeather_NotFoundCachedNotPenalized verifies that an upstream
// 404 does not count against the key and that the negative result is cached
// so an identical repeat skips the network.
func TestCurrentWeather_NotFoundCachedNotPenalized(t *testing.T) {
	cl := &fakeClient{
		weatherFn: func(string) (models.CurrentWeather, error) {
			return models.CurrentWeather{}, client.ErrNotFound
		},
	}
	svc, pool := newTestService(t, cl)

	_, err := svc.CurrentWeather(context.Background(), "Atlantis", "metric")
	if kind, ok := KindOf(err); !ok || kind != KindNotFound {
		t.Fatalf("error = %v, want KindNotFound", err)
	}

	for _, ks := range pool.Stats().Keys {
		if ks.ErrorCount != 0 {
			t.Errorf("key %s ErrorCount = %d, want 0 (not-found is not the key's fault)", ks.Key, ks.ErrorCount)
		}
	}

	_, err = svc.CurrentWeather(context.Background(), "atlantis", "metric")
	if kind, ok := KindOf(err); !ok || kind != KindNotFound {
		t.Fatalf("second error = %v, want KindNotFound", err)
	}
	if cl.weatherCalls != 1 {
		t.Errorf("upstream calls = %d, want 1 (negative result cached)", cl.weatherCalls)
	}
}

// TestCurrentWeather_NotFoundResetsFailureStreak verifies that a not-found
// outcome counts as evidence of key health: a sub-threshold failure streak
// accumulated on earlier requests is reset, not merely left unchanged.
func TestCurrentWeather_NotFoundResetsFailureStreak(t *testing.T) {
	cl := &fakeClient{}
	cl.weatherFn = func(string) (models.CurrentWeather, error) {
		if cl.weatherCalls == 1 {
			return models.CurrentWeather{}, client.ErrRateLimited
		}
		return models.CurrentWeather{}, client.ErrNotFound
	}
	svc, pool := newTestService(t, cl, "only-key")

	_, err := svc.CurrentWeather(context.Background(), "London", "metric")
	if kind, ok := KindOf(err); !ok || kind != KindRateLimited {
		t.Fatalf("error = %v, want KindRateLimited", err)
	}
	if got := pool.Stats().Keys[0].ErrorCount; got != 1 {
		t.Fatalf("ErrorCount after throttle = %d, want 1", got)
	}

	_, err = svc.CurrentWeather(context.Background(), "Atlantis", "metric")
	if kind, ok := KindOf(err); !ok || kind != KindNotFound {
		t.Fatalf("error = %v, want KindNotFound", err)
	}
	if got := pool.Stats().Keys[0].ErrorCount; got != 0 {
		t.Errorf("ErrorCount after not-found = %d, want 0 (streak reset by the authenticated exchange)", got)
	}
}

// TestCurrentWeather_UnauthorizedRetriesWithNextKey verifies that a rejected
// key is penalized and the call is retried once with a freshly acquired key.
func TestCurrentWeather_UnauthorizedRetriesWithNextKey(t *testing.T) {
	cl := &fakeClient{
		weatherFn: func(apiKey string) (models.CurrentWeather, error) {
			if apiKey == "bad-key" {
				return models.CurrentWeather{}, client.ErrUnauthorized
			}
			return models.CurrentWeather{City: "London", Temperature: 12}, nil
		},
	}
	svc, pool := newTestService(t, cl, "bad-key", "good-key")

	got, err := svc.CurrentWeather(context.Background(), "London", "metric")
	if err != nil {
		t.Fatalf("CurrentWeather() error = %v (should have rotated to the good key)", err)
	}
	if got.Temperature != 12 {
		t.Errorf("Temperature = %v, want 12", got.Temperature)
	}
	if len(cl.usedKeys) != 2 || cl.usedKeys[0] != "bad-key" || cl.usedKeys[1] != "good-key" {
		t.Errorf("usedKeys = %v, want [bad-key good-key]", cl.usedKeys)
	}

	s := pool.Stats()
	if s.Keys[0].ErrorCount != 1 {
		t.Errorf("bad key ErrorCount = %d, want 1", s.Keys[0].ErrorCount)
	}
	if s.Keys[1].ErrorCount != 0 {
		t.Errorf("good key ErrorCount = %d, want 0", s.Keys[1].ErrorCount)
	}
}

// TestCurrentWeather_UnauthorizedTwiceSurfaces verifies that a second
// rejection gives up rather than cycling through the pool forever.
func TestCurrentWeather_UnauthorizedTwiceSurfaces(t *testing.T) {
	cl := &fakeClient{
		weatherFn: func(string) (models.CurrentWeather, error) {
			return models.CurrentWeather{}, client.ErrUnauthorized
		},
	}
	svc, _ := newTestService(t, cl)

	_, err := svc.CurrentWeather(context.Background(), "London", "metric")
	if kind, ok := KindOf(err); !ok || kind != KindUnauthorized {
		t.Fatalf("error = %v, want KindUnauthorized", err)
	}
	if cl.weatherCalls != 2 {
		t.Errorf("upstream calls = %d, want 2 (one auth retry, then give up)", cl.weatherCalls)
	}
}

// TestCurrentWeather_TransportRetriesThenSurfaces verifies the retry budget
// for transport failures and that every acquisition got an outcome report.
func TestCurrentWeather_TransportRetriesThenSurfaces(t *testing.T) {
	cl := &fakeClient{
		weatherFn: func(string) (models.CurrentWeather, error) {
			return models.CurrentWeather{}, client.ErrUpstream
		},
	}
	svc, pool := newTestService(t, cl)

	_, err := svc.CurrentWeather(context.Background(), "London", "metric")
	if kind, ok := KindOf(err); !ok || kind != KindTransport {
		t.Fatalf("error = %v, want KindTransport", err)
	}
	if cl.weatherCalls != 3 {
		t.Errorf("upstream calls = %d, want 3 (retry budget)", cl.weatherCalls)
	}

	// Three acquisitions, three failure reports: error counts across the
	// pool must sum to the attempt count.
	s := pool.Stats()
	if s.TotalRequests != 3 {
		t.Errorf("pool TotalRequests = %d, want 3", s.TotalRequests)
	}
	sum := 0
	for _, ks := range s.Keys {
		sum += ks.ErrorCount
	}
	if sum != 3 {
		t.Errorf("summed ErrorCount = %d, want 3 (every acquire paired with a report)", sum)
	}
}

// TestCurrentWeather_TransportRecovers verifies that a retry can succeed and
// the result is cached.
func TestCurrentWeather_TransportRecovers(t *testing.T) {
	cl := &fakeClient{}
	cl.weatherFn = func(string) (models.CurrentWeather, error) {
		if cl.weatherCalls < 2 {
			return models.CurrentWeather{}, client.ErrTimeout
		}
		return models.CurrentWeather{City: "London", Temperature: 9}, nil
	}
	svc, _ := newTestService(t, cl)

	got, err := svc.CurrentWeather(context.Background(), "London", "metric")
	if err != nil {
		t.Fatalf("CurrentWeather() error = %v", err)
	}
	if got.Temperature != 9 {
		t.Errorf("Temperature = %v, want 9", got.Temperature)
	}

	if _, err := svc.CurrentWeather(context.Background(), "London", "metric"); err != nil {
		t.Fatalf("cached call error = %v", err)
	}
	if cl.weatherCalls != 2 {
		t.Errorf("upstream calls = %d, want 2", cl.weatherCalls)
	}
}

// TestCurrentWeather_RateLimitedNotRetried verifies that throttling is
// penalized, surfaced distinctly, and never retried or cached.
func TestCurrentWeather_RateLimitedNotRetried(t *testing.T) {
	cl := &fakeClient{
		weatherFn: func(string) (models.CurrentWeather, error) {
			return models.CurrentWeather{}, client.ErrRateLimited
		},
	}
	svc, pool := newTestService(t, cl)

	_, err := svc.CurrentWeather(context.Background(), "London", "metric")
	if kind, ok := KindOf(err); !ok || kind != KindRateLimited {
		t.Fatalf("error = %v, want KindRateLimited", err)
	}
	if cl.weatherCalls != 1 {
		t.Errorf("upstream calls = %d, want 1 (rate-limit not retried)", cl.weatherCalls)
	}
	if got := pool.Stats().Keys[0].ErrorCount; got != 1 {
		t.Errorf("ErrorCount = %d, want 1", got)
	}

	// Nothing cached: a second request calls upstream again.
	_, _ = svc.CurrentWeather(context.Background(), "London", "metric")
	if cl.weatherCalls != 2 {
		t.Errorf("upstream calls = %d, want 2", cl.weatherCalls)
	}
}

// TestCurrentWeather_BadPayloadPenalizedNotCached verifies that a 2xx with a
// structurally invalid body penalizes the key and is not cached.
func TestCurrentWeather_BadPayloadPenalizedNotCached(t *testing.T) {
	cl := &fakeClient{
		weatherFn: func(string) (models.CurrentWeather, error) {
			return models.CurrentWeather{}, fmt.Errorf("%w: missing required fields", client.ErrBadPayload)
		},
	}
	svc, pool := newTestService(t, cl)

	_, err := svc.CurrentWeather(context.Background(), "London", "metric")
	if kind, ok := KindOf(err); !ok || kind != KindInvalidResponse {
		t.Fatalf("error = %v, want KindInvalidResponse", err)
	}
	if cl.weatherCalls != 1 {
		t.Errorf("upstream calls = %d, want 1 (shape failures not retried)", cl.weatherCalls)
	}
	if got := pool.Stats().Keys[0].ErrorCount; got != 1 {
		t.Errorf("ErrorCount = %d, want 1", got)
	}
}

// TestReverseGeocode_RoundedCoordinatesShareEntry verifies that coordinates
// differing past the rounding precision are served from one cache entry.
func TestReverseGeocode_RoundedCoordinatesShareEntry(t *testing.T) {
	cl := &fakeClient{
		geocodeFn: func(string) (models.Location, error) {
			return models.Location{Name: "Dhaka", Country: "BD"}, nil
		},
	}
	svc, _ := newTestService(t, cl)

	if _, err := svc.ReverseGeocode(context.Background(), 23.81034, 90.41256); err != nil {
		t.Fatalf("ReverseGeocode() error = %v", err)
	}
	if _, err := svc.ReverseGeocode(context.Background(), 23.8103, 90.4126); err != nil {
		t.Fatalf("ReverseGeocode() second call error = %v", err)
	}
	if cl.geocodeCalls != 1 {
		t.Errorf("upstream calls = %d, want 1 (rounded coordinates collide)", cl.geocodeCalls)
	}
}

// TestReverseGeocode_OutOfRange verifies coordinate validation.
func TestReverseGeocode_OutOfRange(t *testing.T) {
	cl := &fakeClient{}
	svc, _ := newTestService(t, cl)

	_, err := svc.ReverseGeocode(context.Background(), 91, 0)
	if kind, ok := KindOf(err); !ok || kind != KindInvalidInput {
		t.Fatalf("error = %v, want KindInvalidInput", err)
	}
	if cl.geocodeCalls != 0 {
		t.Errorf("upstream calls = %d, want 0", cl.geocodeCalls)
	}
}

// TestStats_ReportsAllCategories verifies the introspection shape consumed
// by the status endpoint.
func TestStats_ReportsAllCategories(t *testing.T) {
	cl := &fakeClient{
		weatherFn: func(string) (models.CurrentWeather, error) {
			return models.CurrentWeather{City: "London"}, nil
		},
	}
	svc, _ := newTestService(t, cl)

	if _, err := svc.CurrentWeather(context.Background(), "London", "metric"); err != nil {
		t.Fatalf("CurrentWeather() error = %v", err)
	}

	s := svc.Stats()
	for _, cat := range []string{"weather", "forecast", "geocode", "negative"} {
		if _, ok := s.Cache.Categories[cat]; !ok {
			t.Errorf("Stats missing category %q", cat)
		}
	}
	if s.Cache.TotalSize != 1 {
		t.Errorf("TotalSize = %d, want 1", s.Cache.TotalSize)
	}
	if s.Keys.TotalKeys != 2 {
		t.Errorf("Keys.TotalKeys = %d, want 2", s.Keys.TotalKeys)
	}
}

// TestClearCaches verifies test-isolation resets.
func TestClearCaches(t *testing.T) {
	cl := &fakeClient{
		weatherFn: func(string) (models.CurrentWeather, error) {
			return models.CurrentWeather{City: "London"}, nil
		},
	}
	svc, _ := newTestService(t, cl)

	if _, err := svc.CurrentWeather(context.Background(), "London", "metric"); err != nil {
		t.Fatalf("CurrentWeather() error = %v", err)
	}
	svc.ClearCaches()
	if got := svc.Stats().Cache.TotalSize; got != 0 {
		t.Errorf("TotalSize after ClearCaches = %d, want 0", got)
	}
}

// TestClose_Idempotent verifies teardown can run twice.
func TestClose_Idempotent(t *testing.T) {
	cl := &fakeClient{}
	pool, _ := keypool.New([]string{"k"})
	svc := NewWeatherService(cl, pool, Config{
		WeatherTTL:    time.Minute,
		ForecastTTL:   time.Minute,
		GeocodeTTL:    time.Minute,
		NegativeTTL:   time.Minute,
		MaxSize:       10,
		SweepInterval: time.Minute,
	})
	svc.Close()
	svc.Close()
	if got := svc.Stats().Cache.TotalSize; got != 0 {
		t.Errorf("TotalSize after Close = %d, want 0", got)
	}
}
