// Package lock keeps two sync runs of the same portfolio from overlapping.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("lock is held by another run")

// ReleaseFunc gives the lock back.
type ReleaseFunc func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, key string) (ReleaseFunc, error)
}

// Nop always succeeds.
type Nop struct{}

func (Nop) Acquire(context.Context, string) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}

// Deletes the key only if it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance Redis lock with a TTL so a crashed run
// cannot hold it forever.
type RedisLocker struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client *goredis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, prefix: "portfolio-sync:lock:", ttl: ttl}
}

// NewRedisClient connects and pings the server at addr.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (ReleaseFunc, error) {
	k := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", k, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{k}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("failed to release lock %s: %w", k, err)
		}
		return nil
	}, nil
}
