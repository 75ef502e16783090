// Package idempotency replays the stored response for a repeated
// Idempotency-Key instead of running the request twice.
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrInFlight = errors.New("request with this idempotency key is in flight")

// Backend is the key-value store behind Idempotency. Get returns nil, nil
// on a miss.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl, lockTTL: 30 * time.Second}
}

type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Scope prefixes key with the caller identity so two users cannot replay
// each other's responses.
func Scope(subject, key string) string {
	return subject + ":" + key
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	raw, err := i.backend.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode stored response")
	}
	return &resp, nil
}

// Begin returns the stored response for key if there is one. Otherwise
// it claims key for the caller, who must call Finish or Abort.
func (i *Idempotency) Begin(ctx context.Context, key string) (*Response, error) {
	if resp, err := i.Get(ctx, key); err != nil || resp != nil {
		return resp, err
	}
	ok, err := i.backend.Lock(ctx, key, i.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInFlight
	}
	return nil, nil
}

// Finish stores resp for replay and releases the claim.
func (i *Idempotency) Finish(ctx context.Context, key string, resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, "encode response")
	}
	if err := i.backend.Set(ctx, key, raw, i.ttl); err != nil {
		return err
	}
	return i.backend.Unlock(ctx, key)
}

// Abort releases the claim without storing anything, so a retry runs again.
func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.backend.Unlock(ctx, key)
}
