// Package ratelimit implements the backoff policy applied when the remote
// API signals rate limiting or a page fetch fails.
//
// A Controller owns one mutable backoff interval. Each signal waits for the
// current interval and then doubles it; a fully successful page resets it.
// A Controller is scoped to a single import run so repeated runs never share
// stale backoff state.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/bookmark-importer/pkg/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultInitialInterval is the first backoff wait.
const DefaultInitialInterval = 60 * time.Second

// Prometheus metrics for backoff waits.
var (
	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookmarks_rate_limit_waits_total",
		Help: "Total number of backoff waits after rate limiting or fetch failures",
	})

	backoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bookmarks_backoff_seconds",
		Help:    "Backoff wait duration in seconds",
		Buckets: []float64{1, 10, 60, 120, 240, 480, 960, 1920},
	})
)

// Config holds backoff settings.
type Config struct {
	// InitialInterval is the first wait and the value restored by Reset.
	InitialInterval time.Duration

	// MaxInterval caps the interval growth. Zero means unbounded doubling.
	MaxInterval time.Duration
}

// DefaultConfig returns unbounded doubling from one minute.
func DefaultConfig() Config {
	return Config{
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     0,
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep waits for d, returning ctx.Err() if the context ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Controller decides how long to pause after a rate-limit signal.
type Controller struct {
	mu       sync.Mutex
	config   Config
	interval time.Duration
	notifier notify.Notifier
	sleep    Sleeper
	logger   zerolog.Logger
}

// NewController creates a controller. A nil notifier disables wait messages,
// a nil sleeper uses Sleep.
func NewController(cfg Config, notifier notify.Notifier, sleep Sleeper, logger zerolog.Logger) *Controller {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Controller{
		config:   cfg,
		interval: cfg.InitialInterval,
		notifier: notifier,
		sleep:    sleep,
		logger:   logger,
	}
}

// Interval returns the wait the next signal will use.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// OnRateLimited notifies the observer, waits for the current interval and
// doubles the interval for the next signal. It returns the interval waited.
// If ctx ends during the wait the interval is left unchanged and ctx.Err()
// is returned.
func (c *Controller) OnRateLimited(ctx context.Context) (time.Duration, error) {
	wait := c.Interval()

	c.logger.Warn().
		Dur("backoff", wait).
		Msg("Rate limited, waiting before retry")

	if c.notifier != nil {
		c.notifier.Publish(ctx, notify.Progress(WaitMessage(wait)))
	}

	rateLimitWaitsTotal.Inc()
	backoffSeconds.Observe(wait.Seconds())

	if err := c.sleep(ctx, wait); err != nil {
		return wait, fmt.Errorf("backoff wait: %w", err)
	}

	c.mu.Lock()
	c.interval *= 2
	if c.config.MaxInterval > 0 && c.interval > c.config.MaxInterval {
		c.interval = c.config.MaxInterval
	}
	c.mu.Unlock()

	return wait, nil
}

// Reset restores the initial interval.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = c.config.InitialInterval
}

// WaitMessage renders the user-facing wait notice for d.
func WaitMessage(d time.Duration) string {
	seconds := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	return "Rate limit reached. Waiting for " + seconds + " seconds before retrying..."
}
