// Package worker drives a queue consumer: each delivery is handed to a
// Handler, retried in-process with exponential backoff, and dead-lettered
// when it keeps failing.
package worker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
)

const DefaultMaxRetries = 3

type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

type HandlerFunc func(ctx context.Context, body []byte) error

func (f HandlerFunc) Handle(ctx context.Context, body []byte) error {
	return f(ctx, body)
}

type Worker struct {
	queue      string
	handler    Handler
	logger     observability.Logger
	maxRetries int
	baseDelay  time.Duration
}

func New(queue string, handler Handler, logger observability.Logger) *Worker {
	return &Worker{
		queue:      queue,
		handler:    handler,
		logger:     logger.WithField("queue", queue),
		maxRetries: DefaultMaxRetries,
		baseDelay:  time.Second,
	}
}

// WithBackoff overrides the retry budget and the first retry delay.
func (w *Worker) WithBackoff(maxRetries int, base time.Duration) *Worker {
	w.maxRetries = maxRetries
	w.baseDelay = base
	return w
}

// ErrDeliveriesClosed means the broker channel went away and the worker
// stopped consuming.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Run processes deliveries until ctx is done, which returns nil, or the
// channel closes, which returns ErrDeliveriesClosed.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("delivery channel closed")
				return errors.WithStack(ErrDeliveriesClosed)
			}
			w.Process(ctx, d)
		}
	}
}

// Process acks d once the handler succeeds. A handler that still fails
// after the retries, or rejects the body as invalid, gets d nacked
// without requeue so the broker dead-letters it.
func (w *Worker) Process(ctx context.Context, d amqp.Delivery) {
	log := w.logger.WithField("message_id", d.MessageId).WithField("routing_key", d.RoutingKey)

	err := w.handleWithRetry(ctx, d.Body, log)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			log.WithError(ackErr).Error("ack failed")
		}
		return
	}
	if ctx.Err() != nil {
		// Shutting down: hand the message back for another consumer.
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.WithError(nackErr).Error("requeue failed")
		}
		return
	}

	observability.ConsumerFailures.WithLabelValues(w.queue).Inc()
	log.WithError(err).Error("delivery dead-lettered")
	if nackErr := d.Nack(false, false); nackErr != nil {
		log.WithError(nackErr).Error("nack failed")
	}
}

func (w *Worker) handleWithRetry(ctx context.Context, body []byte, log observability.Logger) error {
	var err error
	for i := 0; ; i++ {
		err = w.handler.Handle(ctx, body)
		if err == nil || errors.Is(err, domain.ErrInvalidInput) || i >= w.maxRetries {
			return err
		}
		backoff := time.Duration(1<<i) * w.baseDelay
		log.WithError(err).WithField("retry_in", backoff.String()).Warn("handler failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
