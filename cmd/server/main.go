package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagkit/internal/api"
	"github.com/TimurManjosov/flagkit/internal/config"
	"github.com/TimurManjosov/flagkit/internal/engine"
	"github.com/TimurManjosov/flagkit/internal/provider"
	"github.com/TimurManjosov/flagkit/internal/snapshot"
	"github.com/TimurManjosov/flagkit/internal/sticky"
	"github.com/TimurManjosov/flagkit/internal/telemetry"
	"github.com/TimurManjosov/flagkit/internal/tracking"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	level, _ := cfg.Level()
	log = log.Level(level)
	if cfg.IsProduction() {
		log = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init()

	store, err := sticky.NewService(ctx, cfg.StickyStore, cfg.DatabaseDSN, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.StickyStore).Msg("sticky bucket store")
	}
	defer store.Close()

	var track engine.TrackingCallback
	if cfg.TrackingURL != "" {
		dispatcher := tracking.NewDispatcher(cfg.TrackingURL, cfg.TrackingSecret,
			tracking.WithLogger(log),
			tracking.WithObserver(telemetry.Observer{}),
		)
		dispatcher.Start()
		defer dispatcher.Close()
		track = dispatcher.Track
	}

	// Keep the feature gauge in step with the served snapshot.
	updates, unsubscribe := snapshot.Subscribe()
	defer unsubscribe()
	go func() {
		for s := range updates {
			telemetry.SnapshotFeatures.Set(float64(s.Len()))
		}
	}()

	src := provider.NewFileSource(cfg.FeaturesFile, log)
	if _, err := provider.Prime(ctx, src, log); err != nil {
		log.Fatal().Err(err).Msg("initial features")
	}
	go func() {
		if err := provider.Follow(ctx, src); err != nil {
			log.Error().Err(err).Msg("feature watch stopped")
		}
	}()

	srvAPI := api.NewServer(api.Options{
		Logger:            log,
		StickyService:     store,
		TrackingCallback:  track,
		Observer:          telemetry.Observer{},
		TrackingCacheSize: cfg.TrackingCache,
		RateLimitPerIP:    cfg.RateLimitPerIP,
		QAMode:            cfg.QAMode,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telemetry.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("env", cfg.AppEnv).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()

	<-ctx.Done()
	ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShut)
	_ = metricsSrv.Shutdown(ctxShut)
	log.Info().Msg("stopped")
}
