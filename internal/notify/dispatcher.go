// Package notify mails booking confirmations to the booking user.
package notify

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
)

type Dispatcher struct {
	mailer Mailer
	logger observability.Logger
}

func NewDispatcher(mailer Mailer, logger observability.Logger) *Dispatcher {
	return &Dispatcher{mailer: mailer, logger: logger}
}

// Handle consumes one booking.confirmed payload.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) error {
	evt, err := domain.DecodeBookingConfirmed(body)
	if err != nil {
		return err
	}
	if evt.Email == "" {
		return errors.Mark(errors.Newf("booking %d has no recipient", evt.BookingID), domain.ErrInvalidInput)
	}

	msg, err := ConfirmationEmail(evt)
	if err != nil {
		return errors.Mark(err, domain.ErrInvalidInput)
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		return err
	}
	d.logger.WithField("booking_id", evt.BookingID).WithField("user_id", evt.UserID).Info("confirmation mail sent")
	return nil
}
