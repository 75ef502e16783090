package booking

import (
	"context"

	"github.com/robertarktes/event-bookings/internal/domain"
)

// Store persists bookings. CreateBooking reports created=false, with the
// existing active row, when the pair already has an active booking.
type Store interface {
	FindBooking(ctx context.Context, userID, postID int64) (*domain.Booking, error)
	CreateBooking(ctx context.Context, userID, postID int64, outbox domain.OutboxFunc) (*domain.Booking, bool, error)
	CancelBooking(ctx context.Context, userID, postID int64) (*domain.Booking, error)
	DeleteBookingsForUser(ctx context.Context, userID int64) (int64, error)
	ListBookingsByUser(ctx context.Context, userID int64) ([]domain.Booking, error)
	ListBookingsByPost(ctx context.Context, postID int64) ([]domain.Booking, error)
}

type Catalog interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetPost(ctx context.Context, id int64) (*domain.Post, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, amount float64) (domain.PaymentOrder, error)
	VerifySignature(orderID, paymentID, signature string) bool
	KeyID() string
}
