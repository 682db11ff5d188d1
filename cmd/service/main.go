package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0xTanzim/weather-extension/internal/cache"
	"github.com/0xTanzim/weather-extension/internal/client"
	"github.com/0xTanzim/weather-extension/internal/config"
	httphandler "github.com/0xTanzim/weather-extension/internal/http"
	"github.com/0xTanzim/weather-extension/internal/keypool"
	"github.com/0xTanzim/weather-extension/internal/observability"
	"github.com/0xTanzim/weather-extension/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	pool, err := keypool.New(cfg.WeatherAPIKeys)
	if err != nil {
		logger.Fatal("key pool", zap.Error(err))
	}
	pool.OnDeactivate = func() { observability.KeyDeactivationsTotal.Inc() }
	pool.OnReactivateSweep = func() { observability.KeyReactivationSweepsTotal.Inc() }
	observability.RegisterKeyPoolGauge(func() float64 {
		return float64(pool.Stats().ActiveKeys)
	})
	logger.Info("key pool ready", zap.Int("keys", pool.Stats().TotalKeys))

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	weatherService := service.NewWeatherService(weatherClient, pool, service.Config{
		WeatherTTL:     cfg.WeatherTTL,
		ForecastTTL:    cfg.ForecastTTL,
		GeocodeTTL:     cfg.GeocodeTTL,
		NegativeTTL:    cfg.NegativeTTL,
		MaxSize:        cfg.CacheMaxSize,
		SweepInterval:  cfg.SweepInterval,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WarmCache && len(cfg.TrackedCities) > 0 {
		warmer := cache.NewWarmer(weatherService, logger)
		warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.TrackedCities); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			// Derived from the signal context so shutdown stops the refresher.
			go func() {
				if err := warmer.WarmPeriodic(ctx, cfg.TrackedCities, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(weatherService, logger)

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.HandleFunc("/status", handler.GetStatus).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	proxyRouter := router.NewRoute().Subrouter()
	proxyRouter.Use(httphandler.RateLimitMiddleware(limiter))
	proxyRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	proxyRouter.HandleFunc("/weather/{city}", handler.GetWeather).Methods("GET")
	proxyRouter.HandleFunc("/forecast/{city}", handler.GetForecast).Methods("GET")
	proxyRouter.HandleFunc("/geocode", handler.GetGeocode).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	// Stops the cache sweepers; safe even if nothing else runs afterwards.
	weatherService.Close()
	logger.Info("shutdown complete")
}
