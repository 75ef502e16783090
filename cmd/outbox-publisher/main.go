package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-bookings/internal/adapters/rabbit"
	"github.com/robertarktes/event-bookings/internal/app"
	"github.com/robertarktes/event-bookings/internal/config"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/robertarktes/event-bookings/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLoggerWithLevel(cfg.LogLevel).WithField("component", "outbox-publisher")

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "bookings-outbox-publisher")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open booking store: %v", err)
	}
	defer closeStore()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	if err := rabbit.Declare(conn, app.BookingQueues()...); err != nil {
		log.Fatalf("failed to declare queues: %v", err)
	}
	broker, err := rabbit.NewPublisher(conn, domain.EventsExchange)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer broker.Close()

	publisher := outbox.NewPublisher(store, broker, outbox.Config{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		BaseBackoff:  time.Second,
		MaxBackoff:   5 * time.Minute,
	}, logger)

	publisher.Run(ctx)
	logger.Info("Shutdown outbox publisher")
}
