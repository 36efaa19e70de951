package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockHeld is returned when another request already owns the lock
var ErrLockHeld = errors.New("payments: lock already held")

// Locker serializes relay operations on the same transaction
type Locker interface {
	// Acquire takes key for at most ttl. The returned func releases it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// releaseScript deletes the key only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is an advisory lock shared by every API instance
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker returns a Locker storing keys under prefix
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		// the request context may already be done
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.client, []string{fullKey}, token).Err()
	}
	return release, nil
}

// LocalLocker is an in-process Locker for single instance deployments and tests
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localLease
	now  func() time.Time
}

type localLease struct {
	token   string
	expires time.Time
}

// NewLocalLocker returns an empty LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localLease), now: time.Now}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.held[key]; ok && now.Before(lease.expires) {
		return nil, ErrLockHeld
	}

	token := uuid.NewString()
	l.held[key] = localLease{token: token, expires: now.Add(ttl)}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.held[key]; ok && lease.token == token {
			delete(l.held, key)
		}
	}, nil
}
