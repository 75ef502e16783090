package http

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/robertarktes/event-bookings/internal/booking"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
)

const (
	FlashCookie   = "flash"
	LoginPath     = "/users/login"
	msgLoginFirst = "Kindly Login or Register Yourself First!"

	msgInternal        = "Internal server error"
	msgUnauthorized    = "Unauthorized"
	msgInvalidPayment  = "Invalid payment details!"
	msgBookingNotFound = "Booking not found!"
	msgBookingCanceled = "Booking cancelled successfully!"
)

type BookingService interface {
	StartCheckout(ctx context.Context, userID, postID int64) (*booking.Checkout, error)
	ConfirmPayment(ctx context.Context, userID int64, proof domain.PaymentProof) (*booking.Confirmation, error)
	Cancel(ctx context.Context, userID, postID int64) (*domain.Booking, error)
	Status(ctx context.Context, userID, postID int64) (domain.BookingStatus, error)
	Bookings(ctx context.Context, userID int64) ([]domain.Booking, error)
	PostBookings(ctx context.Context, postID int64) ([]domain.Booking, error)
	RemoveUser(ctx context.Context, userID int64) (int64, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	bookings BookingService
	checks   map[string]Pinger
	logger   observability.Logger
}

func NewHandlers(bookings BookingService, checks map[string]Pinger, logger observability.Logger) *Handlers {
	return &Handlers{bookings: bookings, checks: checks, logger: logger}
}

type checkoutResponse struct {
	Post     domain.Post `json:"post"`
	User     domain.User `json:"user"`
	OrderID  string      `json:"order_id"`
	Amount   int64       `json:"amount"`
	Currency string      `json:"currency"`
	KeyID    string      `json:"key_id"`
}

// BookingPage creates the gateway order the checkout page pays against.
func (h *Handlers) BookingPage(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.SetCookie(w, &http.Cookie{
			Name:     FlashCookie,
			Value:    url.QueryEscape(msgLoginFirst),
			Path:     "/",
			MaxAge:   60,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, LoginPath, http.StatusSeeOther)
		return
	}
	postID, err := pathID(r, "postId")
	if err != nil {
		writeStatus(w, http.StatusBadRequest, statusFailed, err.Error())
		return
	}

	co, err := h.bookings.StartCheckout(r.Context(), userID, postID)
	if err != nil {
		log := h.log(r).WithError(err).WithField("post_id", postID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeStatus(w, http.StatusNotFound, statusFailed, "Post not found!")
		case errors.Is(err, domain.ErrGateway), errors.Is(err, domain.ErrInvalidInput):
			log.Error("payment order creation failed")
			writeStatus(w, http.StatusBadGateway, statusError, "Payment gateway unavailable, please try again later")
		default:
			log.Error("checkout failed")
			writeStatus(w, http.StatusInternalServerError, statusError, msgInternal)
		}
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		Post:     co.Post,
		User:     co.User,
		OrderID:  co.Order.ID,
		Amount:   co.Order.Amount,
		Currency: co.Order.Currency,
		KeyID:    co.KeyID,
	})
}

var validate = validator.New()

type verifyRequest struct {
	OrderID   string          `json:"razorpay_order_id" validate:"required"`
	PaymentID string          `json:"razorpay_payment_id" validate:"required"`
	Signature string          `json:"razorpay_signature" validate:"required"`
	PostID    json.RawMessage `json:"postId" validate:"required"`
}

// decodeProof accepts the checkout callback as JSON or as a form post.
// postId may arrive as a number or a string.
func decodeProof(w http.ResponseWriter, r *http.Request) (domain.PaymentProof, error) {
	var req verifyRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			return domain.PaymentProof{}, errors.Mark(errors.Wrap(err, "decode payment proof"), domain.ErrInvalidInput)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return domain.PaymentProof{}, errors.Mark(errors.Wrap(err, "parse payment form"), domain.ErrInvalidInput)
		}
		req.OrderID = r.PostForm.Get("razorpay_order_id")
		req.PaymentID = r.PostForm.Get("razorpay_payment_id")
		req.Signature = r.PostForm.Get("razorpay_signature")
		if raw := r.PostForm.Get("postId"); raw != "" {
			req.PostID = json.RawMessage(raw)
		}
	}
	if err := validate.Struct(req); err != nil {
		return domain.PaymentProof{}, errors.Mark(errors.Wrap(err, "incomplete payment proof"), domain.ErrInvalidInput)
	}

	rawPostID := strings.Trim(string(req.PostID), `"`)
	postID, err := strconv.ParseInt(rawPostID, 10, 64)
	if err != nil || postID <= 0 {
		return domain.PaymentProof{}, errors.Mark(errors.Newf("invalid postId %q", rawPostID), domain.ErrInvalidInput)
	}
	return domain.PaymentProof{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
		PostID:    postID,
	}, nil
}

func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized, statusUnauthorized, msgUnauthorized)
		return
	}
	proof, err := decodeProof(w, r)
	if err != nil {
		h.log(r).WithError(err).Warn("rejected payment proof")
		writeStatus(w, http.StatusBadRequest, statusFailed, msgInvalidPayment)
		return
	}

	c, err := h.bookings.ConfirmPayment(r.Context(), userID, proof)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSignatureMismatch):
			writeStatus(w, http.StatusBadRequest, statusFailed, booking.MsgSignatureInvalid)
		case errors.Is(err, domain.ErrInvalidInput):
			writeStatus(w, http.StatusBadRequest, statusFailed, msgInvalidPayment)
		case errors.Is(err, domain.ErrConflict):
			writeStatus(w, http.StatusBadRequest, statusFailed, booking.MsgPaymentUsed)
		case errors.Is(err, domain.ErrUnauthorized):
			writeStatus(w, http.StatusUnauthorized, statusUnauthorized, msgUnauthorized)
		default:
			h.log(r).WithError(err).WithField("order_id", proof.OrderID).Error("payment verification error")
			writeStatus(w, http.StatusInternalServerError, statusError, msgInternal)
		}
		return
	}
	writeStatus(w, http.StatusOK, statusSuccess, c.Message)
}

func (h *Handlers) MyBookings(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized, statusUnauthorized, msgUnauthorized)
		return
	}
	list, err := h.bookings.Bookings(r.Context(), userID)
	if err != nil {
		h.log(r).WithError(err).Error("list bookings failed")
		writeStatus(w, http.StatusInternalServerError, statusError, msgInternal)
		return
	}
	if list == nil {
		list = []domain.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": statusSuccess, "bookings": list})
}

func (h *Handlers) BookingStatus(w http.ResponseWriter, r *http.Request) {
	postID, err := pathID(r, "postId")
	if err != nil {
		writeStatus(w, http.StatusBadRequest, statusFailed, err.Error())
		return
	}
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": statusSuccess, "booking_status": domain.StatusBookNow})
		return
	}
	st, err := h.bookings.Status(r.Context(), userID, postID)
	if err != nil {
		h.log(r).WithError(err).Error("booking status failed")
		writeStatus(w, http.StatusInternalServerError, statusError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": statusSuccess, "booking_status": st})
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized, statusUnauthorized, msgUnauthorized)
		return
	}
	postID, err := pathID(r, "postId")
	if err != nil {
		writeStatus(w, http.StatusBadRequest, statusFailed, err.Error())
		return
	}
	if _, err := h.bookings.Cancel(r.Context(), userID, postID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeStatus(w, http.StatusNotFound, statusFailed, msgBookingNotFound)
			return
		}
		h.log(r).WithError(err).Error("cancel booking failed")
		writeStatus(w, http.StatusInternalServerError, statusError, msgInternal)
		return
	}
	writeStatus(w, http.StatusOK, statusSuccess, msgBookingCanceled)
}

// PostBookings lists every booking of an event for the admin console.
func (h *Handlers) PostBookings(w http.ResponseWriter, r *http.Request) {
	postID, err := pathID(r, "postId")
	if err != nil {
		writeStatus(w, http.StatusBadRequest, statusFailed, err.Error())
		return
	}
	list, err := h.bookings.PostBookings(r.Context(), postID)
	if err != nil {
		h.log(r).WithError(err).Error("list post bookings failed")
		writeStatus(w, http.StatusInternalServerError, statusError, msgInternal)
		return
	}
	if list == nil {
		list = []domain.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": statusSuccess, "bookings": list})
}

// DeleteUserBookings is called by the admin console after a user is removed.
func (h *Handlers) DeleteUserBookings(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeStatus(w, http.StatusBadRequest, statusFailed, err.Error())
		return
	}
	n, err := h.bookings.RemoveUser(r.Context(), userID)
	if err != nil {
		h.log(r).WithError(err).Error("delete user bookings failed")
		writeStatus(w, http.StatusInternalServerError, statusError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": statusSuccess, "deleted": n})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		h.log(r).WithField("failed", failed).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": statusError, "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) log(r *http.Request) observability.Logger {
	return observability.LoggerFrom(r.Context(), h.logger)
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Newf("invalid %s %q", name, raw)
	}
	return id, nil
}
