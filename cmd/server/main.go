package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/slamtalk/slamtalk/internal/api"
	"github.com/slamtalk/slamtalk/internal/broker"
	"github.com/slamtalk/slamtalk/internal/cache"
	"github.com/slamtalk/slamtalk/internal/chat"
	"github.com/slamtalk/slamtalk/internal/config"
	"github.com/slamtalk/slamtalk/internal/database"
	"github.com/slamtalk/slamtalk/internal/mate"
	"github.com/slamtalk/slamtalk/internal/server"
	"github.com/slamtalk/slamtalk/internal/stats"
)

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(level).With().Timestamp().Str("service", "slamtalk").Logger()
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config")
	}

	logger := newLogger(cfg.Log)

	db, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	if err := db.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("db migrate")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis ping")
	}
	cancelPing()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, logger)
	statsUpdater.RegisterMetric(cache.MetricHits)
	statsUpdater.RegisterMetric(cache.MetricMisses)

	roomBroker := broker.NewRedisBroker(rdb, broker.DefaultPrefix, logger)
	profiles := cache.NewProfileCache(rdb, db, statsUpdater, logger, cfg.ProfileTTL)

	chatSvc := chat.NewService(db, profiles, roomBroker, logger)
	mateSvc := mate.NewService(db, chatSvc, logger)

	chatServer, err := server.NewChatServer(logger, chatSvc, roomBroker, statsUpdater)
	if err != nil {
		logger.Fatal().Err(err).Msg("new chat server")
	}

	srv := api.NewSlamTalkApp(mux, logger, chatServer, db, chatSvc, mateSvc, profiles, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	logger.Info().Msg("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("chat server shutdown")
	}

	logger.Info().Msg("shutdown complete")
}
