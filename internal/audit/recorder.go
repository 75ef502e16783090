// Package audit turns booking confirmations into activity records.
package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
)

type ActivityStore interface {
	Record(ctx context.Context, rec domain.ActivityRecord) error
}

type Recorder struct {
	store  ActivityStore
	logger observability.Logger
}

func NewRecorder(store ActivityStore, logger observability.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// RecordID is stable per payment, so a redelivered event maps to the
// record already written.
func RecordID(evt domain.BookingConfirmed) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(domain.RKBookingConfirmed+":"+evt.PaymentID))
}

func (r *Recorder) Handle(ctx context.Context, body []byte) error {
	evt, err := domain.DecodeBookingConfirmed(body)
	if err != nil {
		return err
	}
	rec := domain.ActivityRecord{
		ID:        RecordID(evt),
		Action:    domain.ConfirmationAction(evt),
		UserID:    evt.UserID,
		CreatedAt: evt.ConfirmedAt,
	}
	if err := r.store.Record(ctx, rec); err != nil {
		return err
	}
	r.logger.WithField("user_id", evt.UserID).WithField("booking_id", evt.BookingID).Debug("activity recorded")
	return nil
}
