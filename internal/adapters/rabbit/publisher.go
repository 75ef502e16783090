package rabbit

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrUnroutable means the broker confirmed a message no queue was bound
// for. The caller should retry once the topology exists.
var ErrUnroutable = errors.New("message unroutable")

// Publisher publishes mandatory messages to a durable topic exchange in
// confirm mode, so a nil error means at least one queue holds the message.
type Publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	returns  chan amqp.Return
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	returns := ch.NotifyReturn(make(chan amqp.Return, 16))
	return &Publisher{ch: ch, exchange: exchange, returns: returns}, nil
}

// Publish blocks until the broker confirms msg. The broker sends a return
// for an unroutable message before its ack, so publishes are serialized
// and the return is checked once the confirm arrives.
func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainReturns()

	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, true, false, msg)
	if err != nil {
		return errors.Wrapf(err, "publish %s", key)
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "confirm %s", key)
	}
	if !ok {
		return errors.Newf("broker nacked %s", key)
	}
	select {
	case ret, open := <-p.returns:
		if !open {
			return errors.Newf("channel closed while publishing %s", key)
		}
		return errors.Mark(errors.Newf("broker returned %s: %d %s", key, ret.ReplyCode, ret.ReplyText), ErrUnroutable)
	default:
		return nil
	}
}

func (p *Publisher) drainReturns() {
	for {
		select {
		case _, open := <-p.returns:
			if !open {
				return
			}
		default:
			return
		}
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
