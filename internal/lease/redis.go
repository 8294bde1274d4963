package lease

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker keeps leases as Redis keys with a PX expiry.
type RedisLocker struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisLocker connects to addr and verifies the connection.
func NewRedisLocker(ctx context.Context, addr string) (*RedisLocker, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisLocker{client: client, prefix: "lararun:lease:"}, nil
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	token := newToken()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{Key: key, Token: token}, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, le *Lease) error {
	if le == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{l.prefix + le.Key}, le.Token).Err()
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
