package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"nuha.dev/gpsreporter/internal/config"
	"nuha.dev/gpsreporter/internal/relay"
	"nuha.dev/gpsreporter/internal/sink"
	"nuha.dev/gpsreporter/internal/store"
	"nuha.dev/gpsreporter/internal/store/impl/logstore"
	"nuha.dev/gpsreporter/internal/store/impl/pgstore"
	"nuha.dev/gpsreporter/internal/store/impl/redisstore"
)

func main() {
	cfg, err := config.LoadSink(os.Args[1:])
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}
	log.DefaultLogger.Level = log.ParseLevel(cfg.LogLevel)
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores := store.Multi{logstore.NewStore()}

	if cfg.DbUrl != "" {
		pool, err := pgxpool.Connect(ctx, cfg.DbUrl)
		if err != nil {
			zlog.Fatal().Err(err).Msg("error connecting to database")
		}
		defer pool.Close()
		if err := pgstore.CreateTable(ctx, pool, cfg.Table); err != nil {
			zlog.Fatal().Err(err).Str("table", cfg.Table).Msg("error creating table")
		}
		pg := pgstore.NewStore(pool, cfg.Table, pgstore.DefaultConfig())
		if err := pg.Run(ctx); err != nil {
			zlog.Fatal().Err(err).Msg("error starting pgstore")
		}
		defer pg.Close()
		stores = append(stores, pg)
	}

	var last sink.LastReader
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		rs := redisstore.NewStore(rdb)
		stores = append(stores, rs)
		last = rs
	}

	if cfg.NatsUrl != "" {
		r, err := relay.Connect(cfg.NatsUrl, cfg.NatsSubject)
		if err != nil {
			zlog.Fatal().Err(err).Msg("error connecting to nats")
		}
		defer r.Close()
		stores = append(stores, r)
	}

	srv := sink.NewServer(sink.Config{ListenAddr: cfg.ListenAddr, Path: cfg.Path}, stores, last)
	go func() {
		if err := srv.Run(); err != nil {
			zlog.Error().Err(err).Msg("sink stopped")
			stop()
		}
	}()

	<-ctx.Done()
	zlog.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
}
