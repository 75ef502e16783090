// Package booking runs the checkout → payment proof → booking workflow.
package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StatePendingOrder State = "PendingOrder"
	StatePaid         State = "Paid"
	StateVerified     State = "Verified"
	StateConfirmed    State = "Confirmed"
	StateNotified     State = "Notified"

	StateUnauthorized       State = "Unauthorized"
	StateSignatureMismatch  State = "SignatureMismatch"
	StateGatewayFailure     State = "GatewayFailure"
	StateNotFound           State = "NotFound"
	StatePersistenceFailure State = "PersistenceFailure"
	StatePaymentReused      State = "PaymentReused"
)

const (
	MsgBookingCreated   = "Booking created successfully!"
	MsgBookingExists    = "Booking already exists!"
	MsgSignatureInvalid = "Signature mismatch!"
	MsgPaymentUsed      = "Payment already used!"
)

type Checkout struct {
	Post  domain.Post
	User  domain.User
	Order domain.PaymentOrder
	KeyID string
}

type Confirmation struct {
	Booking domain.Booking
	Created bool
	State   State
	Message string
}

type Workflow struct {
	store   Store
	catalog Catalog
	gateway Gateway
	logger  observability.Logger
	now     func() time.Time
}

func NewWorkflow(store Store, catalog Catalog, gateway Gateway, logger observability.Logger) *Workflow {
	return &Workflow{store: store, catalog: catalog, gateway: gateway, logger: logger, now: time.Now}
}

// StartCheckout creates the gateway order a signed-in user pays against.
func (w *Workflow) StartCheckout(ctx context.Context, userID, postID int64) (*Checkout, error) {
	if userID <= 0 {
		w.finish(StateUnauthorized)
		return nil, errors.Mark(errors.New("checkout without a session"), domain.ErrUnauthorized)
	}

	user, post, err := w.lookup(ctx, userID, postID)
	if err != nil {
		w.finish(stateFor(err))
		return nil, err
	}

	order, err := w.gateway.CreateOrder(ctx, post.Price)
	if err != nil {
		w.finish(stateFor(err))
		return nil, errors.Wrapf(err, "create order for post %d", postID)
	}

	w.logger.WithField("user_id", userID).WithField("post_id", postID).WithField("order_id", order.ID).
		Info("payment order created")
	w.finish(StatePendingOrder)
	return &Checkout{Post: *post, User: *user, Order: order, KeyID: w.gateway.KeyID()}, nil
}

// ConfirmPayment verifies proof and books the post for userID. A replay
// for an already booked pair succeeds with Created=false.
func (w *Workflow) ConfirmPayment(ctx context.Context, userID int64, proof domain.PaymentProof) (*Confirmation, error) {
	log := w.logger.WithField("user_id", userID).WithField("post_id", proof.PostID).
		WithField("order_id", proof.OrderID).WithField("payment_id", proof.PaymentID)

	if userID <= 0 {
		w.finish(StateUnauthorized)
		return nil, errors.Mark(errors.New("payment proof without a session"), domain.ErrUnauthorized)
	}
	if proof.OrderID == "" || proof.PaymentID == "" || proof.PostID <= 0 {
		return nil, errors.Mark(errors.New("incomplete payment proof"), domain.ErrInvalidInput)
	}

	// Paid: the gateway took the money out of band; the proof says so.
	if !w.gateway.VerifySignature(proof.OrderID, proof.PaymentID, proof.Signature) {
		log.Warn("payment signature mismatch")
		w.finish(StateSignatureMismatch)
		return nil, errors.Mark(errors.New(MsgSignatureInvalid), domain.ErrSignatureMismatch)
	}

	user, post, err := w.lookup(ctx, userID, proof.PostID)
	if err != nil {
		log.WithError(err).Error("lookup after verified payment failed")
		w.finish(stateFor(err))
		return nil, err
	}

	confirmedAt := w.now().UTC()
	evt := domain.NewBookingConfirmed(*user, *post, proof, confirmedAt)
	b, created, err := w.store.CreateBooking(ctx, userID, proof.PostID, func(b *domain.Booking) ([]domain.OutboxMessage, error) {
		evt.BookingID = b.ID
		msg, err := evt.OutboxMessage()
		if err != nil {
			return nil, err
		}
		return []domain.OutboxMessage{msg}, nil
	})
	if errors.Is(err, domain.ErrConflict) {
		// The payment already confirmed a booking that has since been cancelled.
		log.WithError(err).Warn("payment proof reused")
		w.finish(StatePaymentReused)
		return nil, errors.Mark(errors.Wrap(err, MsgPaymentUsed), domain.ErrConflict)
	}
	if err != nil {
		log.WithError(err).Error("booking persistence failed")
		w.finish(StatePersistenceFailure)
		return nil, errors.Mark(errors.Wrap(err, "create booking"), domain.ErrPersistence)
	}

	if !created {
		log.WithField("booking_id", b.ID).Info("booking already exists")
		w.finish(StateConfirmed)
		return &Confirmation{Booking: *b, State: StateConfirmed, Message: MsgBookingExists}, nil
	}

	log.WithField("booking_id", b.ID).Info("booking confirmed, notification queued")
	w.finish(StateNotified)
	return &Confirmation{Booking: *b, Created: true, State: StateNotified, Message: MsgBookingCreated}, nil
}

func (w *Workflow) Cancel(ctx context.Context, userID, postID int64) (*domain.Booking, error) {
	b, err := w.store.CancelBooking(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	w.logger.WithField("user_id", userID).WithField("post_id", postID).Info("booking cancelled")
	return b, nil
}

// Status is the booking button state for userID on postID.
func (w *Workflow) Status(ctx context.Context, userID, postID int64) (domain.BookingStatus, error) {
	b, err := w.store.FindBooking(ctx, userID, postID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ButtonStatus(nil), nil
	}
	if err != nil {
		return "", err
	}
	return domain.ButtonStatus(b), nil
}

func (w *Workflow) Bookings(ctx context.Context, userID int64) ([]domain.Booking, error) {
	return w.store.ListBookingsByUser(ctx, userID)
}

func (w *Workflow) PostBookings(ctx context.Context, postID int64) ([]domain.Booking, error) {
	return w.store.ListBookingsByPost(ctx, postID)
}

// RemoveUser drops every booking of a deleted user.
func (w *Workflow) RemoveUser(ctx context.Context, userID int64) (int64, error) {
	n, err := w.store.DeleteBookingsForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	w.logger.WithField("user_id", userID).WithField("rows", n).Info("user bookings removed")
	return n, nil
}

func (w *Workflow) lookup(ctx context.Context, userID, postID int64) (*domain.User, *domain.Post, error) {
	var (
		user *domain.User
		post *domain.Post
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := w.catalog.GetUser(gctx, userID)
		if err != nil {
			return errors.Wrapf(err, "get user %d", userID)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		p, err := w.catalog.GetPost(gctx, postID)
		if err != nil {
			return errors.Wrapf(err, "get post %d", postID)
		}
		post = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return user, post, nil
}

func (w *Workflow) finish(s State) {
	observability.WorkflowOutcomes.WithLabelValues(string(s)).Inc()
}

func stateFor(err error) State {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return StateUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return StateNotFound
	case errors.Is(err, domain.ErrConflict):
		return StatePaymentReused
	case errors.Is(err, domain.ErrGateway), errors.Is(err, domain.ErrInvalidInput):
		return StateGatewayFailure
	default:
		return StatePersistenceFailure
	}
}
