package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// ReserveCode claims a sign-in code for the given TTL. Returns false when the
// code is already held by another live session. Reservation is advisory: the
// database uniqueness check remains authoritative.
func (r *Redis) ReserveCode(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	if r == nil || r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, "iattend:code:"+code, 1, ttl).Result()
}

// ReleaseCode drops a code reservation before its TTL, e.g. when session
// creation fails after the code was claimed.
func (r *Redis) ReleaseCode(ctx context.Context, code string) error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, "iattend:code:"+code).Err()
}

// CacheStats stores a serialized stats snapshot for a session code.
func (r *Redis) CacheStats(ctx context.Context, code string, payload []byte, ttl time.Duration) error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Set(ctx, "iattend:stats:"+code, payload, ttl).Err()
}

// CachedStats returns a previously cached stats snapshot, or nil when absent.
func (r *Redis) CachedStats(ctx context.Context, code string) ([]byte, error) {
	if r == nil || r.Client == nil {
		return nil, nil
	}
	b, err := r.Client.Get(ctx, "iattend:stats:"+code).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}
