package credentials

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis keys for session-scoped credential storage.
const (
	RedisKeyCookie     = "bookmarks:session:cookie"
	RedisKeyCSRF       = "bookmarks:session:csrf"
	RedisKeyAuth       = "bookmarks:session:auth"
	RedisKeyLastFetch  = "bookmarks:last_fetch"
	RedisKeyCachedData = "bookmarks:cached_data"
)

const (
	// DefaultSessionTTL bounds how long captured credentials live in Redis.
	DefaultSessionTTL = 12 * time.Hour

	// CaptureThrottle is the window in which a new capture does not move the
	// recorded capture time forward.
	CaptureThrottle = 30 * time.Minute
)

// RedisSource stores credentials in Redis with a session TTL, so they expire
// with the session instead of being persisted permanently.
type RedisSource struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedisSource creates a credential source backed by Redis.
// A ttl <= 0 uses DefaultSessionTTL.
func NewRedisSource(redisClient *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisSource {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSource{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Get reads the three credential values. Missing keys yield empty fields;
// callers check Complete before using the result.
func (s *RedisSource) Get(ctx context.Context) (Credentials, error) {
	values, err := s.redis.MGet(ctx, RedisKeyCookie, RedisKeyCSRF, RedisKeyAuth).Result()
	if err != nil {
		return Credentials{}, fmt.Errorf("redis mget credentials: %w", err)
	}

	str := func(v interface{}) string {
		if s, ok := v.(string); ok {
			return s
		}
		return ""
	}

	return Credentials{
		SessionToken: str(values[0]),
		CSRFToken:    str(values[1]),
		AuthToken:    str(values[2]),
	}, nil
}

// Save stores all three values atomically with the session TTL and records
// the capture time.
func (s *RedisSource) Save(ctx context.Context, c Credentials) error {
	return s.save(ctx, c, true)
}

func (s *RedisSource) save(ctx context.Context, c Credentials, touch bool) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, RedisKeyCookie, c.SessionToken, s.ttl)
		pipe.Set(ctx, RedisKeyCSRF, c.CSRFToken, s.ttl)
		pipe.Set(ctx, RedisKeyAuth, c.AuthToken, s.ttl)
		if touch {
			pipe.Set(ctx, RedisKeyLastFetch, strconv.FormatInt(s.now().UnixMilli(), 10), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store credentials in redis: %w", err)
	}
	return nil
}

// Capture stores credentials observed on an outgoing request and reports
// whether they were written. Incomplete header sets are ignored. Complete
// ones always replace the stored values; when the previous capture is younger
// than CaptureThrottle the capture time is left as is and the cached data is
// reported instead.
func (s *RedisSource) Capture(ctx context.Context, headers http.Header) (bool, error) {
	c := FromHeaders(headers)
	if !c.Complete() {
		s.logger.Debug().Msg("Ignoring incomplete credential headers")
		return false, nil
	}

	values, err := s.redis.MGet(ctx, RedisKeyLastFetch, RedisKeyCachedData).Result()
	if err != nil {
		return false, fmt.Errorf("redis mget last fetch: %w", err)
	}

	touch := true
	if raw, ok := values[0].(string); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastFetch := time.UnixMilli(ms)
			if s.now().Sub(lastFetch) < CaptureThrottle {
				touch = false
				cached, _ := values[1].(string)
				s.logger.Debug().
					Time("last_fetch", lastFetch).
					Int("cached_bytes", len(cached)).
					Msg("Using cached data")
			}
		}
	}

	if err := s.save(ctx, c, touch); err != nil {
		return false, err
	}

	s.logger.Info().Bool("refreshed_last_fetch", touch).Msg("Captured session credentials")
	return true, nil
}
