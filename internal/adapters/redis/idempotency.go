package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const (
	idempPrefix = "idemp:"
	lockPrefix  = "idemp:lock:"
)

// Idempotency stores replayable responses and in-flight markers.
type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

// Get returns nil, nil when nothing is stored under key.
func (i *Idempotency) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := i.client.Get(ctx, idempPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get idempotency record")
	}
	return val, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return errors.Wrap(i.client.Set(ctx, idempPrefix+key, val, ttl).Err(), "set idempotency record")
}

// Lock marks key as in flight. It reports false when another request
// already holds it.
func (i *Idempotency) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := i.client.SetNX(ctx, lockPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "lock idempotency key")
	}
	return ok, nil
}

func (i *Idempotency) Unlock(ctx context.Context, key string) error {
	return errors.Wrap(i.client.Del(ctx, lockPrefix+key).Err(), "unlock idempotency key")
}
