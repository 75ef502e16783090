package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-bookings/internal/adapters/mongo"
	"github.com/robertarktes/event-bookings/internal/adapters/rabbit"
	"github.com/robertarktes/event-bookings/internal/app"
	"github.com/robertarktes/event-bookings/internal/audit"
	"github.com/robertarktes/event-bookings/internal/config"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/notify"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/robertarktes/event-bookings/internal/worker"
	"golang.org/x/sync/errgroup"
)

// Consumes booking.confirmed twice: once to mail the customer and once
// to record the activity entry. Each has its own queue and dead letters.
// A lost broker channel stops the process with a non-zero exit.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLoggerWithLevel(cfg.LogLevel).WithField("component", "notification-worker")

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "bookings-notification-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}

	err = run(cfg, logger)
	shutdownOtel()
	if err != nil {
		log.Fatalf("notification worker: %v", err)
	}
	logger.Info("Shutdown notification worker")
}

func run(cfg *config.Config, logger observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoDB, closeMongo, err := app.OpenMongo(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeMongo()
	activities := mongo.NewActivityRepository(mongoDB, logger)
	if err := activities.EnsureIndexes(ctx); err != nil {
		return errors.Wrap(err, "ensure activity indexes")
	}

	mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.MailFrom,
		RatePerSec: cfg.MailRatePerSec,
	})
	if err != nil {
		return err
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return errors.Wrap(err, "connect to rabbitmq")
	}
	defer conn.Close()

	handlers := map[string]worker.Handler{
		domain.QueueNotifications: notify.NewDispatcher(mailer, logger),
		domain.QueueActivities:    audit.NewRecorder(activities, logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, qc := range app.BookingQueues() {
		consumer, err := rabbit.NewConsumer(conn, qc)
		if err != nil {
			return errors.Wrapf(err, "declare %s", qc.Queue)
		}
		defer consumer.Close()

		deliveries, err := consumer.Consume(gctx)
		if err != nil {
			return err
		}
		w := worker.New(qc.Queue, handlers[qc.Queue], logger)
		g.Go(func() error {
			return w.Run(gctx, deliveries)
		})
	}
	return g.Wait()
}
