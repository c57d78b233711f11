package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"travel-booking/internal/api"
	"travel-booking/internal/auth"
	"travel-booking/internal/config"
	"travel-booking/internal/db"
	"travel-booking/internal/events"
	"travel-booking/internal/gateway"
	"travel-booking/internal/idempotency"
	"travel-booking/internal/kafka"
	"travel-booking/internal/logging"
	"travel-booking/internal/metrics"
	"travel-booking/internal/notification"
	"travel-booking/internal/payment"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics, logger)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	connStr := db.GetConnStr(cfg.Database)
	if cfg.Database.MigrateOnStart {
		if err := db.RunMigrations(connStr); err != nil {
			return err
		}
	}

	pool, err := db.GetPool(ctx, connStr)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := db.NewPaymentRepository(pool)

	service, err := payment.NewService(gateway.NewClient(cfg.Gateway, logger), repo, cfg.Payment, cfg.Gateway.KeySecret, logger)
	if err != nil {
		return err
	}

	var idem api.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		idem = idempotency.NewStore(rdb, time.Duration(cfg.Redis.IdempotencyTTLMs)*time.Millisecond)
	} else {
		logger.Info("Redis not configured, Idempotency-Key header is ignored")
	}

	writer := kafka.NewWriter(cfg.Kafka)
	defer writer.Close()

	events.NewProducer(repo, writer, cfg.Outbox, logger).Start(ctx)

	consumerDone := make(chan struct{})
	if cfg.Notification.URL != "" {
		reader := kafka.NewReader(cfg.Kafka)
		defer reader.Close()

		consumer := notification.NewConsumer(notification.NewSender(cfg.Notification, logger), cfg.Notification, logger)
		go func() {
			defer close(consumerDone)
			consumer.Run(ctx, reader)
		}()
	} else {
		close(consumerDone)
		logger.Info("Notification URL not configured, payment events are not forwarded")
	}

	router := api.NewRouter(api.Deps{
		Service:        service,
		Gate:           auth.NewGate(cfg.Auth, logger),
		Idempotency:    idem,
		Ready:          repo.Ping,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutMs) * time.Millisecond,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutMs)*time.Millisecond)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", "error", err)
	}

	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		logger.Warn("Notification consumer did not stop in time")
	}
	return nil
}
