package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"contentflow/internal/config"
)

// Locker grants named, time-bounded leases. AcquireLease only succeeds on a
// free or expired lease, never on one the caller already holds; holders
// extend with RenewLease. *queue.Store satisfies it.
type Locker interface {
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
}

// renewScript extends the key only while the owner still holds it.
// KEYS[1] = lease key, ARGV[1] = owner, ARGV[2] = ttl in milliseconds.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the key only while the owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker keeps leases in Redis so processes that do not share a
// database file can still exclude each other.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker connects to the configured Redis instance.
func NewRedisLocker(cfg config.Redis) *RedisLocker {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisLockerWithClient(client)
}

// NewRedisLockerWithClient wraps an existing client.
func NewRedisLockerWithClient(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, prefix: "contentflow:lease:"}
}

// AcquireLease implements Locker.
func (l *RedisLocker) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+name, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis acquire lease %s: %w", name, err)
	}
	return ok, nil
}

// RenewLease implements Locker.
func (l *RedisLocker) RenewLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, l.client, []string{l.prefix + name}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis renew lease %s: %w", name, err)
	}
	return res == 1, nil
}

// ReleaseLease implements Locker.
func (l *RedisLocker) ReleaseLease(ctx context.Context, name, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + name}, owner).Err(); err != nil {
		return fmt.Errorf("redis release lease %s: %w", name, err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
