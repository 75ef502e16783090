package domain

import (
	"fmt"
	"strings"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusBookNow, StatusBooked, StatusCancelled:
		return true
	}
	return false
}

func (s BookingStatus) Active() bool {
	return s != StatusCancelled
}

// ButtonStatus is what the post page shows on its booking button.
func ButtonStatus(b *Booking) BookingStatus {
	if b == nil {
		return StatusBookNow
	}
	return b.Status
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ConfirmationAction is the activity line stored for a confirmed booking.
func ConfirmationAction(evt BookingConfirmed) string {
	return fmt.Sprintf("Confirmed booking for show %q(Post ID: %d) by %s %s - Payment ID: %s and Order ID: %s",
		evt.PostTitle, evt.PostID, evt.FirstName, evt.LastName, evt.PaymentID, evt.OrderID)
}
