package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/application/service"
	"pricepulse/internal/domain"
	"pricepulse/internal/infrastructure/cache/redis"
	"pricepulse/internal/infrastructure/config"
	"pricepulse/internal/infrastructure/feed/finnhub"
	"pricepulse/internal/infrastructure/logger"
	"pricepulse/internal/infrastructure/storage"
	"pricepulse/internal/interfaces/web"
)

func main() {
	logger.Setup()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN, cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("open aggregate store failed")
	}
	defer store.Close()

	var cache port.LatestCache
	if cfg.Redis.Enabled {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer rdb.Close()
		cache = redis.New(rdb, cfg.Redis.Prefix, cfg.RedisTTL())
	} else {
		log.Warn().Msg("redis disabled by config, /api/latest will be empty")
	}

	registry := domain.NewRegistry()
	hub := web.NewHub()
	pipeline := service.NewPipeline(registry, store, hub, cache)

	conn := finnhub.New(finnhub.Config{
		Token:          cfg.Feed.Token,
		WsURL:          cfg.Feed.WsURL,
		BackoffFloor:   cfg.BackoffFloor(),
		BackoffCeiling: cfg.BackoffCeiling(),
	}, registry.Aliases(), pipeline)

	if err := conn.Start(ctx); err != nil {
		// A missing credential disables the live feed but the query surface
		// and staleness backfill can still run.
		log.Error().Err(err).Msg("feed connection not started")
	}

	snapshots := finnhub.NewSnapshotClient(cfg.Feed.RestURL, cfg.Feed.Token)
	monitor := service.NewMonitor(pipeline, snapshots, registry, cfg.StalenessPeriod(), cfg.StalenessThreshold())
	go monitor.Run(ctx)

	httpServer := &http.Server{
		Addr:    cfg.App.ListenAddr,
		Handler: web.NewServer(store, cache, registry, hub),
	}
	go func() {
		log.Info().Str("addr", cfg.App.ListenAddr).Msg("pricepulse listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server exited")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	conn.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}
}
