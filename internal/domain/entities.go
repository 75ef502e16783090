package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusBookNow   BookingStatus = "Book Now"
	StatusBooked    BookingStatus = "Booked"
	StatusCancelled BookingStatus = "Cancelled"
)

type Booking struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"user_id"`
	PostID    int64         `json:"post_id"`
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PaymentOrder is a gateway-side order. Amount is in minor units.
type PaymentOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
}

// PaymentProof is what the checkout page posts back once the gateway
// has taken the payment.
type PaymentProof struct {
	OrderID   string
	PaymentID string
	Signature string
	PostID    int64
}

type ActivityRecord struct {
	ID        uuid.UUID `json:"id"`
	Action    string    `json:"action"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type Post struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Venue       string    `json:"venue,omitempty"`
	Date        time.Time `json:"date"`
}

type OutboxMessage struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
	DedupeKey     string
}
