package notify

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"
)

type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	RatePerSec float64
}

// SMTPMailer sends over SMTP, throttled by a token bucket so a burst of
// confirmations does not trip the relay's rate limits.
type SMTPMailer struct {
	client  *mail.Client
	from    string
	limiter *rate.Limiter
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create smtp client")
	}

	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &SMTPMailer{client: client, from: cfg.From, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "mail throttle")
	}

	out := mail.NewMsg()
	if err := out.From(m.from); err != nil {
		return errors.Wrapf(err, "sender %q", m.from)
	}
	if err := out.AddToFormat(msg.ToName, msg.To); err != nil {
		return errors.Wrapf(err, "recipient %q", msg.To)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(mail.TypeTextHTML, msg.HTML)

	if err := m.client.DialAndSendWithContext(ctx, out); err != nil {
		return errors.Wrap(err, "send mail")
	}
	return nil
}
