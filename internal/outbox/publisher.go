// Package outbox relays committed outbox rows to the message broker.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
)

type Store interface {
	ClaimPending(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.OutboxMessage, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	// Lease hides a claimed message from other publishers while it is
	// being sent.
	Lease time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	return c
}

type Publisher struct {
	store  Store
	broker Broker
	cfg    Config
	logger observability.Logger
	now    func() time.Time
}

func NewPublisher(store Store, broker Broker, cfg Config, logger observability.Logger) *Publisher {
	return &Publisher{
		store:  store,
		broker: broker,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Backoff is min(base*2^attempts, max), attempts being the failures so far.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (p *Publisher) Run(ctx context.Context) {
	p.logger.WithField("interval", p.cfg.PollInterval.String()).Info("outbox publisher started")
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("outbox poll failed")
			}
		}
	}
}

// RunOnce publishes one batch of due messages and returns how many made
// it to the broker.
func (p *Publisher) RunOnce(ctx context.Context) (int, error) {
	now := p.now()
	msgs, err := p.store.ClaimPending(ctx, now, p.cfg.BatchSize, p.cfg.Lease)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(now.Sub(msgs[0].CreatedAt).Seconds())

	published := 0
	for _, m := range msgs {
		log := p.logger.WithField("outbox_id", m.ID.String()).WithField("event_type", m.EventType)
		err := p.broker.Publish(ctx, m.EventType, amqp.Publishing{
			MessageId:    m.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    m.CreatedAt,
			Type:         m.EventType,
			Body:         m.Payload,
		})
		if err == nil {
			if err := p.store.MarkPublished(ctx, m.ID, p.now()); err != nil {
				log.WithError(err).Error("mark published failed, message may be sent again")
				continue
			}
			published++
			continue
		}

		observability.RabbitPublishRetries.Inc()
		attempts := m.Attempts + 1
		if attempts >= p.cfg.MaxAttempts {
			log.WithError(err).WithField("attempts", attempts).Error("outbox message failed permanently")
			if err := p.store.MarkFailed(ctx, m.ID, attempts, err.Error()); err != nil {
				log.WithError(err).Error("mark failed failed")
			}
			continue
		}
		next := p.now().Add(Backoff(m.Attempts, p.cfg.BaseBackoff, p.cfg.MaxBackoff))
		log.WithError(err).WithField("attempts", attempts).WithField("next_attempt_at", next).Warn("outbox publish failed, will retry")
		if err := p.store.MarkRetry(ctx, m.ID, attempts, next, err.Error()); err != nil {
			log.WithError(err).Error("mark retry failed")
		}
	}
	return published, nil
}
