package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	requestsUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artic_rate_limit_requests_used",
		Help: "Requests recorded in the current rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artic_rate_limit_blocks_total",
		Help: "Total number of requests blocked because the budget was spent",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artic_rate_limit_throttles_total",
		Help: "Total number of requests delayed past the warning threshold",
	})
)

// DefaultThrottleDelay is the pause applied to requests past the warning threshold.
const DefaultThrottleDelay = time.Second

// Tracker counts API requests in a Redis fixed window and gates new ones.
type Tracker struct {
	redis         *redis.Client
	limit         int
	throttleDelay time.Duration
	logger        zerolog.Logger
}

// NewTracker creates a tracker allowing limit requests per Window.
// A limit <= 0 uses DefaultRequestsPerMinute.
func NewTracker(redisClient *redis.Client, limit int, logger zerolog.Logger) *Tracker {
	if limit <= 0 {
		limit = DefaultRequestsPerMinute
	}
	return &Tracker{
		redis:         redisClient,
		limit:         limit,
		throttleDelay: DefaultThrottleDelay,
		logger:        logger,
	}
}

// SetThrottleDelay overrides the pause applied past the warning threshold.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState reads the current window from Redis.
// An absent window is reported as a fresh, healthy one.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	used, err := t.redis.Get(ctx, RedisKeyRequestCount).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get request count: %w", err)
	}

	ttl, err := t.redis.PTTL(ctx, RedisKeyRequestCount).Result()
	if err != nil {
		return nil, fmt.Errorf("get window ttl: %w", err)
	}
	now := time.Now()
	resetAt := now.Add(Window)
	if ttl > 0 {
		resetAt = now.Add(ttl)
	}

	var lastUpdate time.Time
	raw, err := t.redis.Get(ctx, RedisKeyLastUpdate).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("get last update: %w", err)
	default:
		if err := json.Unmarshal(raw, &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &RateLimitState{
		RequestsUsed: used,
		Limit:        t.limit,
		ResetAt:      resetAt,
		LastUpdate:   lastUpdate,
	}
	state.UpdateHealth()

	return state, nil
}

// Record counts one request against the current window, opening a new
// window if none is active.
func (t *Tracker) Record(ctx context.Context) (*RateLimitState, error) {
	used, err := t.redis.Incr(ctx, RedisKeyRequestCount).Result()
	if err != nil {
		return nil, fmt.Errorf("increment request count: %w", err)
	}

	// The first request opens the window. A counter left without expiry
	// (process killed between the two commands) is repaired here too.
	ttl, err := t.redis.PTTL(ctx, RedisKeyRequestCount).Result()
	if err != nil {
		return nil, fmt.Errorf("get window ttl: %w", err)
	}
	if used == 1 || ttl < 0 {
		if err := t.redis.Expire(ctx, RedisKeyRequestCount, Window).Err(); err != nil {
			return nil, fmt.Errorf("set window expiry: %w", err)
		}
		ttl = Window
	}

	now := time.Now()
	lastUpdateJSON, err := json.Marshal(now)
	if err != nil {
		return nil, fmt.Errorf("marshal last update: %w", err)
	}
	if err := t.redis.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, Window).Err(); err != nil {
		return nil, fmt.Errorf("store last update: %w", err)
	}

	state := &RateLimitState{
		RequestsUsed: int(used),
		Limit:        t.limit,
		ResetAt:      now.Add(ttl),
		LastUpdate:   now,
	}
	state.UpdateHealth()

	requestsUsed.Set(float64(used))

	return state, nil
}

// MarkExhausted spends the rest of the window after the API answered 429.
// retryAfter, when positive, replaces the window expiry.
func (t *Tracker) MarkExhausted(ctx context.Context, retryAfter time.Duration) error {
	expiry := retryAfter
	if expiry <= 0 {
		ttl, err := t.redis.PTTL(ctx, RedisKeyRequestCount).Result()
		if err != nil {
			return fmt.Errorf("get window ttl: %w", err)
		}
		expiry = ttl
		if expiry <= 0 {
			expiry = Window
		}
	}

	if err := t.redis.Set(ctx, RedisKeyRequestCount, t.limit, expiry).Err(); err != nil {
		return fmt.Errorf("store exhausted window: %w", err)
	}
	requestsUsed.Set(float64(t.limit))

	t.logger.Warn().
		Dur("reset_in", expiry).
		Msg("Collection API rate limited us - blocking until the window resets")

	return nil
}

// ShouldAllowRequest checks the budget before a request.
// Returns false once the budget is spent. Past the warning threshold it
// waits for the throttle delay first, returning early if ctx is done.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("requests_used", state.RequestsUsed).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Request budget spent - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("requests_remaining", state.Remaining()).
			Msg("Request budget low - throttling request")

		rateLimitThrottlesTotal.Inc()

		timer := time.NewTimer(t.throttleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}
