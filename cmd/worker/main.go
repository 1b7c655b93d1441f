package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/cruisebooking/config"
	"github.com/Domenick1991/cruisebooking/internal/bootstrap"
	"github.com/Domenick1991/cruisebooking/internal/kafka"
	"github.com/Domenick1991/cruisebooking/internal/notify"
	"github.com/Domenick1991/cruisebooking/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
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

	producer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	defer producer.Close()

	sessions := bootstrap.NewSessions(pool, producer, cfg, logger)
	sweeper := worker.NewSweeper(sessions.Store, logger)

	scheduler := cron.New()
	if err := sweeper.Schedule(ctx, scheduler, cfg.Worker); err != nil {
		logger.Fatalf("schedule jobs: %v", err)
	}
	scheduler.Start()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, logger)
	defer consumer.Close()

	sender := notify.NewSender(logger)
	go func() {
		if err := consumer.ConsumeSessionEvents(ctx, sender.Send); err != nil {
			logger.WithError(err).Error("notification consumer stopped")
			stop()
		}
	}()

	logger.Info("worker started")
	<-ctx.Done()
	logger.Info("shutting down worker")
	<-scheduler.Stop().Done()
}
