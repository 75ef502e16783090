package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueConfig describes one consumer queue, its bindings on Exchange and
// the dead-letter exchange rejected deliveries are routed to.
type QueueConfig struct {
	Exchange    string
	Queue       string
	Bindings    []string
	DLX         string
	DLQ         string
	Prefetch    int
	ConsumerTag string
}

type Consumer struct {
	ch  *amqp.Channel
	cfg QueueConfig
}

func NewConsumer(conn *amqp.Connection, cfg QueueConfig) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := declare(ch, &cfg); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &Consumer{ch: ch, cfg: cfg}, nil
}

// Declare sets up the exchange, queues and dead-letter queues for each
// config on a short-lived channel. Publishers call it too, so a message
// is never confirmed into an exchange with nothing bound to it.
func Declare(conn *amqp.Connection, queues ...QueueConfig) error {
	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel")
	}
	defer ch.Close()
	for i := range queues {
		if err := declare(ch, &queues[i]); err != nil {
			return err
		}
	}
	return nil
}

func declare(ch *amqp.Channel, cfg *QueueConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare exchange %s", cfg.Exchange)
	}

	args := amqp.Table{}
	if cfg.DLX != "" {
		// Dead letters keep the queue name as routing key so each DLQ only
		// holds what its own consumer rejected.
		args["x-dead-letter-exchange"] = cfg.DLX
		args["x-dead-letter-routing-key"] = cfg.Queue
		if err := ch.ExchangeDeclare(cfg.DLX, "topic", true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declare dlx %s", cfg.DLX)
		}
		if cfg.DLQ == "" {
			cfg.DLQ = cfg.Queue + ".dlq"
		}
		if _, err := ch.QueueDeclare(cfg.DLQ, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declare dlq %s", cfg.DLQ)
		}
		if err := ch.QueueBind(cfg.DLQ, cfg.Queue, cfg.DLX, false, nil); err != nil {
			return errors.Wrapf(err, "bind dlq %s", cfg.DLQ)
		}
	}

	q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args)
	if err != nil {
		return errors.Wrapf(err, "declare queue %s", cfg.Queue)
	}
	for _, key := range cfg.Bindings {
		if err := ch.QueueBind(q.Name, key, cfg.Exchange, false, nil); err != nil {
			return errors.Wrapf(err, "bind %s to %s", key, cfg.Queue)
		}
	}

	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	return errors.Wrap(ch.Qos(cfg.Prefetch, 0, false), "set qos")
}

func (c *Consumer) Queue() string {
	return c.cfg.Queue
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	return msgs, errors.Wrapf(err, "consume %s", c.cfg.Queue)
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
