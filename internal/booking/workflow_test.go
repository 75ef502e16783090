package booking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/booking"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/robertarktes/event-bookings/internal/payment"
)

const secret = "rzp_test_secret"

type memStore struct {
	mu       sync.Mutex
	nextID   int64
	bookings []domain.Booking
	outbox   []domain.OutboxMessage
	err      error
}

func (s *memStore) FindBooking(_ context.Context, userID, postID int64) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.bookings) - 1; i >= 0; i-- {
		b := s.bookings[i]
		if b.UserID == userID && b.PostID == postID {
			return &b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) CreateBooking(_ context.Context, userID, postID int64, outbox domain.OutboxFunc) (*domain.Booking, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	for _, b := range s.bookings {
		if b.UserID == userID && b.PostID == postID && b.Status.Active() {
			return &b, false, nil
		}
	}
	s.nextID++
	b := domain.Booking{ID: s.nextID, UserID: userID, PostID: postID, Status: domain.StatusBooked}
	msgs, err := outbox(&b)
	if err != nil {
		return nil, false, err
	}
	for _, m := range msgs {
		for _, seen := range s.outbox {
			if seen.EventType == m.EventType && seen.DedupeKey == m.DedupeKey {
				return nil, false, errors.Mark(errors.Newf("duplicate outbox key %s", m.DedupeKey), domain.ErrConflict)
			}
		}
	}
	s.bookings = append(s.bookings, b)
	s.outbox = append(s.outbox, msgs...)
	return &b, true, nil
}

func (s *memStore) CancelBooking(_ context.Context, userID, postID int64) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bookings {
		if s.bookings[i].UserID == userID && s.bookings[i].PostID == postID {
			s.bookings[i].Status = domain.StatusCancelled
			b := s.bookings[i]
			return &b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) DeleteBookingsForUser(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.bookings[:0]
	var n int64
	for _, b := range s.bookings {
		if b.UserID == userID {
			n++
			continue
		}
		kept = append(kept, b)
	}
	s.bookings = kept
	return n, nil
}

func (s *memStore) ListBookingsByUser(_ context.Context, userID int64) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) ListBookingsByPost(_ context.Context, postID int64) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.PostID == postID {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	users map[int64]domain.User
	posts map[int64]domain.Post
}

func (c *fakeCatalog) GetUser(_ context.Context, id int64) (*domain.User, error) {
	u, ok := c.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (c *fakeCatalog) GetPost(_ context.Context, id int64) (*domain.Post, error) {
	p, ok := c.posts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

type fakeOrders struct {
	amount interface{}
	err    error
}

func (f *fakeOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.amount = data["amount"]
	return map[string]interface{}{"id": "order_1", "amount": float64(data["amount"].(int64)), "currency": data["currency"]}, nil
}

func newWorkflow(t *testing.T) (*booking.Workflow, *memStore, *fakeOrders) {
	t.Helper()
	store := &memStore{}
	catalog := &fakeCatalog{
		users: map[int64]domain.User{1: {ID: 1, FirstName: "Asha", LastName: "Rao", Email: "asha@example.com"}},
		posts: map[int64]domain.Post{10: {ID: 10, Title: "Jazz Night", Description: "Live jazz", Price: 500}},
	}
	orders := &fakeOrders{}
	gw := payment.NewGateway(orders, "rzp_key", secret, "INR", time.Second)
	return booking.NewWorkflow(store, catalog, gw, observability.NewNopLogger()), store, orders
}

func proof(sig string) domain.PaymentProof {
	return domain.PaymentProof{OrderID: "order_1", PaymentID: "pay_1", Signature: sig, PostID: 10}
}

func TestStartCheckout(t *testing.T) {
	w, _, orders := newWorkflow(t)

	co, err := w.StartCheckout(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if co.Order.ID != "order_1" || co.Order.Amount != 50000 || co.Order.Currency != "INR" {
		t.Errorf("unexpected order %+v", co.Order)
	}
	if co.KeyID != "rzp_key" || co.Post.ID != 10 || co.User.ID != 1 {
		t.Errorf("unexpected checkout %+v", co)
	}
	if orders.amount != int64(50000) {
		t.Errorf("expected 50000 minor units sent, got %v", orders.amount)
	}
}

func TestStartCheckout_Failures(t *testing.T) {
	w, _, orders := newWorkflow(t)

	if _, err := w.StartCheckout(context.Background(), 0, 10); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
	if _, err := w.StartCheckout(context.Background(), 1, 99); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found for unknown post, got %v", err)
	}

	orders.err = errors.New("503 from gateway")
	if _, err := w.StartCheckout(context.Background(), 1, 10); !errors.Is(err, domain.ErrGateway) {
		t.Errorf("expected gateway failure, got %v", err)
	}
}

func TestConfirmPayment_Success(t *testing.T) {
	w, store, _ := newWorkflow(t)

	c, err := w.ConfirmPayment(context.Background(), 1, proof(payment.Sign("order_1", "pay_1", secret)))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !c.Created || c.State != booking.StateNotified || c.Message != booking.MsgBookingCreated {
		t.Errorf("unexpected confirmation %+v", c)
	}
	if c.Booking.Status != domain.StatusBooked {
		t.Errorf("expected Booked, got %q", c.Booking.Status)
	}
	if len(store.outbox) != 1 {
		t.Fatalf("expected one outbox message, got %d", len(store.outbox))
	}
	evt, err := domain.DecodeBookingConfirmed(store.outbox[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if evt.BookingID != c.Booking.ID || evt.Email != "asha@example.com" || evt.OrderID != "order_1" || evt.PaymentID != "pay_1" {
		t.Errorf("unexpected event %+v", evt)
	}
}

func TestConfirmPayment_ReplayReportsExisting(t *testing.T) {
	w, store, _ := newWorkflow(t)
	p := proof(payment.Sign("order_1", "pay_1", secret))

	first, err := w.ConfirmPayment(context.Background(), 1, p)
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.ConfirmPayment(context.Background(), 1, p)
	if err != nil {
		t.Fatalf("replay must not error, got %v", err)
	}
	if second.Created || second.Message != booking.MsgBookingExists || second.Booking.ID != first.Booking.ID {
		t.Errorf("unexpected replay result %+v", second)
	}
	if len(store.bookings) != 1 || len(store.outbox) != 1 {
		t.Errorf("expected 1 booking and 1 message, got %d and %d", len(store.bookings), len(store.outbox))
	}
}

func TestConfirmPayment_SignatureMismatch(t *testing.T) {
	w, store, _ := newWorkflow(t)
	sig := payment.Sign("order_1", "pay_1", secret)
	tampered := "0" + sig[1:]
	if tampered == sig {
		tampered = "1" + sig[1:]
	}

	_, err := w.ConfirmPayment(context.Background(), 1, proof(tampered))
	if !errors.Is(err, domain.ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
	if len(store.bookings) != 0 || len(store.outbox) != 0 {
		t.Error("tampered proof must not create a booking")
	}
}

func TestConfirmPayment_Failures(t *testing.T) {
	w, store, _ := newWorkflow(t)
	good := proof(payment.Sign("order_1", "pay_1", secret))

	if _, err := w.ConfirmPayment(context.Background(), 0, good); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}

	incomplete := good
	incomplete.PaymentID = ""
	if _, err := w.ConfirmPayment(context.Background(), 1, incomplete); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}

	if _, err := w.ConfirmPayment(context.Background(), 2, good); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found for unknown user, got %v", err)
	}

	store.err = errors.New("connection refused")
	if _, err := w.ConfirmPayment(context.Background(), 1, good); !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("expected persistence failure, got %v", err)
	}
}

func TestConfirmPayment_ReusedAfterCancel(t *testing.T) {
	w, store, _ := newWorkflow(t)
	ctx := context.Background()
	good := proof(payment.Sign("order_1", "pay_1", secret))

	if _, err := w.ConfirmPayment(ctx, 1, good); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Cancel(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}

	_, err := w.ConfirmPayment(ctx, 1, good)
	if !errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected a conflict that is not a persistence failure, got %v", err)
	}
	if len(store.bookings) != 1 || len(store.outbox) != 1 {
		t.Errorf("expected nothing new written, got %d bookings and %d messages", len(store.bookings), len(store.outbox))
	}
}

func TestStatusCancelRemove(t *testing.T) {
	w, _, _ := newWorkflow(t)
	ctx := context.Background()

	status, err := w.Status(ctx, 1, 10)
	if err != nil || status != domain.StatusBookNow {
		t.Fatalf("expected Book Now before booking, got %q, %v", status, err)
	}

	if _, err := w.ConfirmPayment(ctx, 1, proof(payment.Sign("order_1", "pay_1", secret))); err != nil {
		t.Fatal(err)
	}
	if status, _ = w.Status(ctx, 1, 10); status != domain.StatusBooked {
		t.Errorf("expected Booked, got %q", status)
	}

	b, err := w.Cancel(ctx, 1, 10)
	if err != nil || b.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled booking, got %+v, %v", b, err)
	}
	if _, err := w.Cancel(ctx, 1, 11); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	list, _ := w.Bookings(ctx, 1)
	if len(list) != 1 {
		t.Errorf("expected 1 booking for user, got %d", len(list))
	}
	if list, _ = w.PostBookings(ctx, 10); len(list) != 1 || list[0].UserID != 1 {
		t.Errorf("expected 1 booking for post, got %+v", list)
	}
	n, err := w.RemoveUser(ctx, 1)
	if err != nil || n != 1 {
		t.Errorf("expected 1 row removed, got %d, %v", n, err)
	}
	if n, err := w.RemoveUser(ctx, 1); err != nil || n != 0 {
		t.Errorf("expected no-op, got %d, %v", n, err)
	}
}
