package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/cruisebooking/config"
	"github.com/Domenick1991/cruisebooking/internal/auth"
	"github.com/Domenick1991/cruisebooking/internal/bootstrap"
	"github.com/Domenick1991/cruisebooking/internal/cache"
	"github.com/Domenick1991/cruisebooking/internal/kafka"
	"github.com/Domenick1991/cruisebooking/internal/service/booking"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := bootstrap.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	redisCache := cache.NewRedisCache(cfg.Redis, cfg.Booking.SearchCacheTTL())
	defer redisCache.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	defer producer.Close()

	sessions := bootstrap.NewSessions(pool, producer, cfg, logger)
	client := bootstrap.NewFusionClient(cfg.Fusion, bootstrap.NewTokenManager(cfg.Fusion), logger)

	bookingService := booking.NewBookingService(
		client,
		sessions.Store,
		sessions.Guard,
		booking.WithCache(redisCache),
		booking.WithDefaultHold(cfg.Booking.DefaultHold()),
		booking.WithLogger(logger),
	)

	checks := map[string]bootstrap.HealthCheck{
		"postgres": pool.Ping,
		"redis":    redisCache.Ping,
		"kafka":    producer.CheckConnection,
	}
	resolver := auth.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	if err := bootstrap.Run(ctx, cfg, bookingService, resolver, logger, checks); err != nil {
		logger.Fatalf("server error: %v", err)
	}
}
