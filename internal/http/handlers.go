package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/0xTanzim/weather-extension/internal/service"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc       *service.WeatherService
	logger    *zap.Logger
	startTime time.Time
}

// NewHandler returns a new Handler.
func NewHandler(svc *service.WeatherService, logger *zap.Logger) *Handler {
	return &Handler{
		svc:       svc,
		logger:    logger,
		startTime: time.Now(),
	}
}

// GetWeather handles GET /weather/{city}?units=.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]
	units := r.URL.Query().Get("units")

	result, err := h.svc.CurrentWeather(r.Context(), city, units)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetForecast handles GET /forecast/{city}?units=.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]
	units := r.URL.Query().Get("units")

	result, err := h.svc.Forecast(r.Context(), city, units)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetGeocode handles GET /geocode?lat=&lon=.
func (h *Handler) GetGeocode(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "lat and lon query parameters are required")
		return
	}

	result, err := h.svc.ReverseGeocode(r.Context(), lat, lon)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetStatus handles GET /status: cache and key-pool introspection.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":       "weather-proxy",
		"uptimeSeconds": int64(time.Since(h.startTime).Seconds()),
		"stats":         h.svc.Stats(),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// GetHealth handles GET /health. Degraded when no API keys are active;
// the next acquisition will trigger a reactivation sweep, so degraded here
// is a warning, not an outage.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	statusCode := http.StatusOK
	checks := map[string]string{"keyPool": "healthy"}
	if h.svc.ActiveKeys() == 0 {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
		checks["keyPool"] = "unhealthy"
	}
	writeJSON(w, statusCode, map[string]interface{}{
		"status":    status,
		"service":   "weather-proxy",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statusForKind maps a service failure kind to an HTTP status and stable
// error code. Upstream-side failures collapse to 503; the client cannot fix
// them by changing the request.
func statusForKind(k service.Kind) (int, string) {
	switch k {
	case service.KindInvalidInput:
		return http.StatusBadRequest, "INVALID_INPUT"
	case service.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case service.KindRateLimited:
		return http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED"
	default:
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error envelope with
// code, message, and requestId (correlation ID) when available.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps a typed service failure to the error envelope.
// Every error reaching here carries a kind; anything else is a programming
// error and reported as 503.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := service.KindOf(err)
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
		if logger, lok := r.Context().Value("logger").(*zap.Logger); lok && logger != nil {
			logger.Error("unclassified service error", zap.Error(err))
		}
		return
	}
	status, code := statusForKind(kind)
	writeError(w, r, status, code, messageForKind(kind))
	if logger, lok := r.Context().Value("logger").(*zap.Logger); lok && logger != nil {
		logger.Debug("request failed", zap.String("kind", kind.String()), zap.Error(err))
	}
}

func messageForKind(k service.Kind) string {
	switch k {
	case service.KindInvalidInput:
		return "Invalid request parameters"
	case service.KindNotFound:
		return "Location not found"
	case service.KindRateLimited:
		return "Upstream rate limit reached, try again later"
	default:
		return "Unable to fetch weather data"
	}
}
