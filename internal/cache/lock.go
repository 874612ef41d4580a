package cache

import (
	"context"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// RedisLocker hands out short leases with SET NX. Leases are never released
// early; they simply expire.
type RedisLocker struct {
	client *redisv9.Client
	owner  string
}

func NewRedisLocker(client *redisv9.Client, owner string) *RedisLocker {
	return &RedisLocker{client: client, owner: owner}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis acquire lock %s failed: %w", key, err)
	}
	return ok, nil
}
