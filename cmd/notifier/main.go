package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/config"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/events"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load(logger)
	logger.SetLevel(cfg.LogLevel)
	if cfg.KafkaBrokers == "" {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	consumer, err := events.NewNotificationConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, newLogDelivery(logger), events.DefaultRetryPolicy(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create notification consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Notification consumer stopped")
			cancel()
		}
	}()

	if cfg.ReplayDLQ {
		replayer, err := events.NewReplayer(cfg.KafkaBrokers, cfg.ReplayDelay, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create DLQ replayer")
		}
		defer replayer.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := replayer.Start(ctx); err != nil {
				logger.WithError(err).Error("DLQ replayer stopped")
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.WithField("metrics", consumer.Metrics()).Info("Notification consumer metrics")
			}
		}
	}()

	logger.WithFields(logrus.Fields{
		"group":      cfg.NotifierGroup,
		"topics":     events.NotificationTopics,
		"replay_dlq": cfg.ReplayDLQ,
	}).Info("Notifier started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("Shutting down notifier...")
	cancel()
	wg.Wait()
	logger.WithField("metrics", consumer.Metrics()).Info("Notifier stopped")
}
