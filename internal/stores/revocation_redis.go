package stores

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocations shares the revocation list across processes. Redis key
// expiry replaces the lazy purge of the in-memory implementation.
type RedisRevocations struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRevocations creates a Redis-backed [Revocations].
func NewRedisRevocations(redisClient redis.UniversalClient, prefix string, now func() time.Time) *RedisRevocations {
	if prefix == "" {
		prefix = "frv"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisRevocations{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (r *RedisRevocations) key(jti string) string {
	return r.prefix + ":" + jti
}

func (r *RedisRevocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(r.now())
	if jti == "" || ttl <= 0 {
		return false, nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := r.redis.SetNX(ctx, r.key(jti), strconv.FormatInt(expiresAt.Unix(), 10), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	return ok, nil
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	n, err := r.redis.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	return n > 0, nil
}

// PurgeExpired is a no-op: Redis expires revoked entries on its own.
func (r *RedisRevocations) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}
