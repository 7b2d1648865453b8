package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/api"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/backoffice"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/cancellation"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/circuitbreaker"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/config"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/events"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/fulfillment"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/lifecycle"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/pricing"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/store"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/websocket"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load(logger)
	logger.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	breakers := circuitbreaker.NewManager(logger)

	st, closeStore := openStore(ctx, cfg, breakers, logger)
	defer closeStore()

	requests, closeRequests := openRequestStore(ctx, cfg, logger)
	defer closeRequests()

	var publisher events.Publisher = events.NopPublisher{Logger: logger}
	if cfg.KafkaBrokers != "" {
		producer, err := events.NewSyncProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		publisher = events.NewKafkaPublisher(producer, logger)
	} else {
		logger.Warn("KAFKA_BROKERS not set, events are dropped and cancellation codes cannot be delivered")
	}
	defer publisher.Close()

	var engineOpts []lifecycle.Option
	if cfg.StrictSequence {
		engineOpts = append(engineOpts, lifecycle.WithStrictSequence())
	}
	if !cfg.AllowReturns {
		engineOpts = append(engineOpts, lifecycle.WithoutReturns())
	}
	engine := lifecycle.NewEngine(engineOpts...)

	workflow := cancellation.NewWorkflow(cancellation.Config{
		CodeTTL:     cfg.CancelCodeTTL,
		MaxAttempts: cfg.CancelMaxAttempts,
		CodeDigits:  cfg.CancelCodeDigits,
	}, engine, requests, publisher, logger)

	hub := websocket.NewHub(cfg.AllowedOrigins, logger)
	go hub.Run(ctx)

	svc := fulfillment.NewService(st, engine, workflow, publisher, logger,
		fulfillment.WithBroadcaster(hub),
		fulfillment.WithPolicy(fulfillment.Policy{
			Discount: pricing.PercentDiscount(cfg.DiscountPercent),
			Tax:      pricing.TaxRate(cfg.TaxRate),
		}),
	)

	handler := api.NewHandler(svc, breakers, logger)
	handler.SetAllowedOrigins(cfg.AllowedOrigins)
	handler.SetWebSocketHandler(hub.HandleWebSocket)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":          cfg.Port,
			"store_backend": cfg.StoreBackend,
		}).Info("Starting fulfillment service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func openStore(ctx context.Context, cfg config.Config, breakers *circuitbreaker.Manager, logger *logrus.Logger) (store.Store, func()) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := store.OpenPostgres(ctx, cfg.PostgresDSN(), 30, 2*time.Second)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		logger.Info("Database connection established")

		pg := store.NewPostgresStore(db)
		if err := pg.CreateTables(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to create tables")
		}
		return pg, func() { db.Close() }
	case config.BackendRemote:
		logger.WithField("backoffice_url", cfg.BackofficeURL).Info("Using remote back office store")
		return backoffice.NewClient(cfg.BackofficeURL, breakers, logger), func() {}
	default:
		logger.Warn("Using in-memory store, records are lost on restart")
		return store.NewMemoryStore(), func() {}
	}
}

func openRequestStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (cancellation.RequestStore, func()) {
	if cfg.RedisAddr == "" {
		return cancellation.NewMemoryRequestStore(), func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	logger.WithField("redis_addr", cfg.RedisAddr).Info("Cancellation requests stored in Redis")
	return cancellation.NewRedisRequestStore(client), func() { client.Close() }
}
