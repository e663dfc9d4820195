package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"nuha.dev/gpsreporter/internal/config"
	"nuha.dev/gpsreporter/internal/event"
	"nuha.dev/gpsreporter/internal/idstore"
	"nuha.dev/gpsreporter/internal/position"
	"nuha.dev/gpsreporter/internal/position/device"
	"nuha.dev/gpsreporter/internal/report"
	"nuha.dev/gpsreporter/internal/tracking"
	"nuha.dev/gpsreporter/internal/web/api"
	"nuha.dev/gpsreporter/internal/wsconn"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.DefaultLogger.Level = log.ParseLevel(cfg.LogLevel)
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var provider position.Provider
	switch cfg.Position.Source {
	case "device":
		dev := device.NewProvider(cfg.Device())
		if err := dev.Listen(); err != nil {
			log.Fatal().Err(err).Msg("error starting gps device listener")
		}
		go dev.Serve()
		defer dev.Close()
		provider = dev
	default:
		provider = position.NewStatic(report.Position{Latitude: cfg.Position.Latitude, Longitude: cfg.Position.Longitude})
	}

	ids, err := idstore.Open(cfg.IdStore)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.IdStore).Msg("error opening id store")
	}

	b, err := event.NewBus(1)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating event bus")
	}
	recorder := event.NewRecorder(100)
	recorder.Attach(b)

	manager := wsconn.NewManager(cfg.Connection())
	session := tracking.NewSession(manager, provider, cfg.Tracking())
	session.SetEmitter(b)

	server := api.NewApi(session, ids, recorder, &api.ApiConfig{
		ListenAddr: cfg.ApiAddr,
		Settings: api.Settings{
			Endpoint:            cfg.Endpoint,
			ReportIntervalMs:    cfg.ReportInterval.Milliseconds(),
			StatusIntervalMs:    cfg.StatusInterval.Milliseconds(),
			ConnectTimeoutMs:    cfg.ConnectTimeout.Milliseconds(),
			MinReconnectDelayMs: cfg.MinReconnectDelay.Milliseconds(),
			MaxReconnectDelayMs: cfg.MaxReconnectDelay.Milliseconds(),
			ReconnectGrowFactor: cfg.ReconnectGrowFactor,
			MaxRetries:          cfg.MaxRetries,
			PositionSource:      cfg.Position.Source,
		},
	})
	go func() {
		if err := server.Run(); err != nil {
			zlog.Error().Err(err).Msg("api stopped")
			stop()
		}
	}()

	if stored, ok := ids.Get(); ok && cfg.ResumeOnStart {
		if !session.Start(ctx, stored.VehicleId, stored.DriverId) {
			log.Warn().Str("vehicle_id", stored.VehicleId).Msg("could not resume tracking")
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	session.Stop()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(sctx)
}
