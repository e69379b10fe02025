package pagination

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultLockKey is the shared run lock key.
	DefaultLockKey = "bookmarks:import:lock"

	// DefaultLockTTL is the lock lease; it is refreshed while a run is active.
	DefaultLockTTL = 5 * time.Minute
)

// Locker acquires an exclusive run lease. unlock releases it.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// releaseScript deletes the lock only if it is still held by token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lease only if it is still held by token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker serializes runs across processes sharing one Redis.
type RedisLocker struct {
	redis  *redis.Client
	key    string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisLocker creates a Redis-backed run lock.
func NewRedisLocker(redisClient *redis.Client, key string, ttl time.Duration, logger zerolog.Logger) *RedisLocker {
	if redisClient == nil {
		panic("redis client is required")
	}
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{redis: redisClient, key: key, ttl: ttl, logger: logger}
}

// Lock acquires the lease or returns ErrRunInProgress when another process
// holds it.
func (l *RedisLocker) Lock(ctx context.Context) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ok, err := l.redis.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.refresh(token, stop)
	}()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			wg.Wait()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.redis, []string{l.key}, token).Err(); err != nil {
				l.logger.Warn().Err(err).Str("key", l.key).Msg("Failed to release run lock")
			}
		})
	}
	return unlock, nil
}

func (l *RedisLocker) refresh(token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := refreshScript.Run(ctx, l.redis, []string{l.key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn().Err(err).Str("key", l.key).Msg("Failed to refresh run lock")
				continue
			}
			if n == 0 {
				l.logger.Warn().Str("key", l.key).Msg("Run lock lost")
				return
			}
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
