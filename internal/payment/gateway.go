// Package payment talks to the Razorpay orders API and checks the
// signatures the checkout widget posts back.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	razorpay "github.com/razorpay/razorpay-go"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
)

// OrdersAPI is the slice of the Razorpay SDK the gateway uses.
type OrdersAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Gateway struct {
	orders   OrdersAPI
	keyID    string
	secret   string
	currency string
	timeout  time.Duration
	now      func() time.Time
}

func NewRazorpayGateway(keyID, secret, currency string, timeout time.Duration) *Gateway {
	client := razorpay.NewClient(keyID, secret)
	return NewGateway(client.Order, keyID, secret, currency, timeout)
}

func NewGateway(orders OrdersAPI, keyID, secret, currency string, timeout time.Duration) *Gateway {
	if currency == "" {
		currency = "INR"
	}
	return &Gateway{
		orders:   orders,
		keyID:    keyID,
		secret:   secret,
		currency: currency,
		timeout:  timeout,
		now:      time.Now,
	}
}

func (g *Gateway) KeyID() string {
	return g.keyID
}

// CreateOrder registers an order for amount, given in major units.
func (g *Gateway) CreateOrder(ctx context.Context, amount float64) (domain.PaymentOrder, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return domain.PaymentOrder{}, errors.Mark(errors.Newf("order amount must be positive, got %v", amount), domain.ErrInvalidInput)
	}

	req := map[string]interface{}{
		"amount":   int64(math.Round(amount * 100)),
		"currency": g.currency,
		"receipt":  fmt.Sprintf("receipt_order_%d", g.now().UnixMilli()),
	}

	body, err := g.create(ctx, req)
	if err != nil {
		return domain.PaymentOrder{}, errors.Mark(errors.Wrap(err, "create razorpay order"), domain.ErrGateway)
	}
	order, err := parseOrder(body)
	if err != nil {
		return domain.PaymentOrder{}, errors.Mark(err, domain.ErrGateway)
	}
	return order, nil
}

// create bounds the SDK call, which takes no context, by the gateway timeout.
func (g *Gateway) create(ctx context.Context, req map[string]interface{}) (map[string]interface{}, error) {
	start := time.Now()
	defer func() { observability.GatewayDuration.Observe(time.Since(start).Seconds()) }()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := g.orders.Create(req, nil)
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.body, res.err
	}
}

func parseOrder(body map[string]interface{}) (domain.PaymentOrder, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return domain.PaymentOrder{}, errors.New("razorpay order response has no id")
	}
	order := domain.PaymentOrder{ID: id}
	order.Currency, _ = body["currency"].(string)
	order.Receipt, _ = body["receipt"].(string)
	switch v := body["amount"].(type) {
	case float64:
		order.Amount = int64(v)
	case int64:
		order.Amount = v
	case int:
		order.Amount = int64(v)
	default:
		return domain.PaymentOrder{}, errors.Newf("razorpay order %s has unexpected amount %v", id, body["amount"])
	}
	return order, nil
}

// VerifySignature checks signature against the gateway secret.
func (g *Gateway) VerifySignature(orderID, paymentID, signature string) bool {
	return VerifySignature(orderID, paymentID, signature, g.secret)
}

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID" keyed by secret.
func Sign(orderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(orderID, paymentID, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(orderID, paymentID, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
