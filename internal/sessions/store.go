package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Purposes. A session is keyed by (actor, purpose); for deal-scoped state
// the actor is the deal id.
const (
	PurposeGate         = "gate"          // open key-validation session
	PurposeGateAttempts = "gate_attempts" // wrong-secret counter
	PurposeDeadlineWarn = "deadline_warn" // phase-1 warning marker
	PurposePayoutLock   = "payout_lock"   // advisory per-wallet payout lock
)

// Store is the durable, TTL-bearing session store. Absence of a session is
// always a valid state: monitors and the gate recompute from what is here,
// never from process memory.
type Store interface {
	Put(ctx context.Context, actor, purpose string, value any, ttl time.Duration) error
	Get(ctx context.Context, actor, purpose string, dest any) (bool, error)
	Delete(ctx context.Context, actor, purpose string) error
	// Increment bumps a counter session, creating it with ttl on first use.
	Increment(ctx context.Context, actor, purpose string, ttl time.Duration) (int64, error)
	// Acquire takes an advisory lock; returns false when already held.
	Acquire(ctx context.Context, actor, purpose string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, actor, purpose string) error
}

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func key(actor, purpose string) string {
	return fmt.Sprintf("sess:%s:%s", purpose, actor)
}

func (s *RedisStore) Put(ctx context.Context, actor, purpose string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(actor, purpose), data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, actor, purpose string, dest any) (bool, error) {
	data, err := s.rdb.Get(ctx, key(actor, purpose)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) Delete(ctx context.Context, actor, purpose string) error {
	return s.rdb.Del(ctx, key(actor, purpose)).Err()
}

func (s *RedisStore) Increment(ctx context.Context, actor, purpose string, ttl time.Duration) (int64, error) {
	k := key(actor, purpose)
	n, err := s.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		s.rdb.Expire(ctx, k, ttl)
	}
	return n, nil
}

func (s *RedisStore) Acquire(ctx context.Context, actor, purpose string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key(actor, purpose), "1", ttl).Result()
}

func (s *RedisStore) Release(ctx context.Context, actor, purpose string) error {
	return s.rdb.Del(ctx, key(actor, purpose)).Err()
}
