package idempotency

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "idem:create-order:"
	pendingValue = "\x00pending"
)

var ErrInProgress = errors.New("request with this idempotency key is in progress")

// Client is the subset of *redis.Client the store needs.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Store struct {
	rdb Client
	ttl time.Duration
}

func NewStore(rdb Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Reserve claims key for the caller. It returns the stored result when the
// key was already completed, ErrInProgress when another request holds it,
// and an empty string when the caller now owns the key.
func (s *Store) Reserve(ctx context.Context, key string) (string, error) {
	ok, err := s.rdb.SetNX(ctx, keyPrefix+key, pendingValue, s.ttl).Result()
	if err != nil {
		return "", pkgerrors.Wrap(err, "reserve idempotency key")
	}
	if ok {
		return "", nil
	}

	value, err := s.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		return s.reserveOnce(ctx, key)
	}
	if err != nil {
		return "", pkgerrors.Wrap(err, "read idempotency key")
	}
	if value == pendingValue {
		return "", ErrInProgress
	}
	return value, nil
}

func (s *Store) reserveOnce(ctx context.Context, key string) (string, error) {
	ok, err := s.rdb.SetNX(ctx, keyPrefix+key, pendingValue, s.ttl).Result()
	if err != nil {
		return "", pkgerrors.Wrap(err, "reserve idempotency key")
	}
	if !ok {
		return "", ErrInProgress
	}
	return "", nil
}

func (s *Store) Complete(ctx context.Context, key, result string) error {
	return pkgerrors.Wrap(s.rdb.Set(ctx, keyPrefix+key, result, s.ttl).Err(), "store idempotency result")
}

// Release frees a reservation so the client can retry after a failure.
func (s *Store) Release(ctx context.Context, key string) error {
	return pkgerrors.Wrap(s.rdb.Del(ctx, keyPrefix+key).Err(), "release idempotency key")
}
