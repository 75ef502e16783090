package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	EventsExchange = "bookings.events"

	RKBookingConfirmed = "booking.confirmed"

	DeadLetterExchange = "bookings.dlx"
	QueueNotifications = "bookings.notifications.q"
	QueueActivities    = "bookings.activities.q"
)

// BookingConfirmed carries everything the mail and activity consumers
// need, so neither has to go back to the catalog.
type BookingConfirmed struct {
	BookingID       int64     `json:"booking_id"`
	UserID          int64     `json:"user_id"`
	PostID          int64     `json:"post_id"`
	PostTitle       string    `json:"post_title"`
	PostDescription string    `json:"post_description"`
	Price           float64   `json:"price"`
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	OrderID         string    `json:"order_id"`
	PaymentID       string    `json:"payment_id"`
	ConfirmedAt     time.Time `json:"confirmed_at"`
}

func NewBookingConfirmed(user User, post Post, proof PaymentProof, at time.Time) BookingConfirmed {
	return BookingConfirmed{
		UserID:          user.ID,
		PostID:          post.ID,
		PostTitle:       post.Title,
		PostDescription: post.Description,
		Price:           post.Price,
		Email:           user.Email,
		FirstName:       user.FirstName,
		LastName:        user.LastName,
		OrderID:         proof.OrderID,
		PaymentID:       proof.PaymentID,
		ConfirmedAt:     at,
	}
}

// OutboxMessage wraps the event for the transactional outbox. The payment
// id is the dedupe key: one gateway payment confirms at most one booking.
func (e BookingConfirmed) OutboxMessage() (OutboxMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return OutboxMessage{}, errors.Wrap(err, "marshal booking.confirmed")
	}
	return OutboxMessage{
		ID:            uuid.New(),
		AggregateType: "booking",
		AggregateID:   strconv.FormatInt(e.UserID, 10) + ":" + strconv.FormatInt(e.PostID, 10),
		EventType:     RKBookingConfirmed,
		Payload:       payload,
		CreatedAt:     e.ConfirmedAt,
		DedupeKey:     e.PaymentID,
	}, nil
}

func DecodeBookingConfirmed(body []byte) (BookingConfirmed, error) {
	var evt BookingConfirmed
	if err := json.Unmarshal(body, &evt); err != nil {
		return evt, errors.Mark(errors.Wrap(err, "decode booking.confirmed"), ErrInvalidInput)
	}
	return evt, nil
}

// OutboxFunc builds the messages to enqueue for a freshly inserted
// booking. Stores call it inside the insert transaction.
type OutboxFunc func(b *Booking) ([]OutboxMessage, error)
