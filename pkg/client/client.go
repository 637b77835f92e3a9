// Package client provides the HTTP client for the Art Institute of Chicago
// collection API with shared rate limiting, layered caching, conditional
// revalidation and a circuit breaker.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/cache"
	"github.com/Sternrassler/artic-gallery/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Prometheus metrics for API client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artic_requests_total",
		Help: "Total collection API requests by route and status",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "artic_request_duration_seconds",
		Help:    "Collection API request duration in seconds by route",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"route"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artic_errors_total",
		Help: "Total collection API errors by class",
	}, []string{"class"})

	coalescedRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artic_coalesced_requests_total",
		Help: "Calls answered by an identical request already in flight",
	})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artic_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	})
)

// DefaultBaseURL is the public collection API.
const DefaultBaseURL = "https://api.artic.edu/api/v1"

// BreakerConfig configures the circuit breaker around API calls.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open
	MaxRequests uint32
	// Interval after which closed-state counts are cleared
	Interval time.Duration
	// Timeout spent open before probing again
	Timeout time.Duration
	// FailureThreshold is the failure ratio that trips the breaker
	FailureThreshold float64
	// MinRequests before the failure ratio is considered
	MinRequests uint32
}

// Config holds the client configuration.
type Config struct {
	// Redis client for the shared cache layer and request budget.
	// Optional: without it the client caches in memory and limits locally.
	Redis *redis.Client

	// BaseURL of the API, without trailing slash
	BaseURL string

	// UserAgent identifies the application to the API.
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// Rate limiting
	RequestsPerMinute int     // Shared budget across processes (Redis)
	RequestsPerSecond float64 // Local token bucket
	Burst             int

	// Caching
	MemoryCacheTTL time.Duration // In-memory cache TTL, 0 disables
	RespectExpires bool          // Honour Cache-Control/Expires (MUST be true)

	// Timeout per HTTP attempt
	Timeout time.Duration

	Breaker BreakerConfig
}

// DefaultConfig returns a configuration that stays within the public
// API's anonymous budget.
func DefaultConfig(redis *redis.Client, userAgent string) Config {
	return Config{
		Redis:             redis,
		BaseURL:           DefaultBaseURL,
		UserAgent:         userAgent,
		RequestsPerMinute: ratelimit.DefaultRequestsPerMinute,
		RequestsPerSecond: 1,
		Burst:             5,
		MemoryCacheTTL:    60 * time.Second,
		RespectExpires:    true,
		Timeout:           10 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:      3,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 0.6,
			MinRequests:      5,
		},
	}
}

// Client is the collection API client.
type Client struct {
	httpClient  *http.Client
	redis       *redis.Client
	rateLimiter *ratelimit.Tracker
	limiter     *rate.Limiter
	cache       *cache.Layered
	breaker     *gobreaker.CircuitBreaker
	inflight    singleflight.Group
	config      Config
	logger      zerolog.Logger
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if !cfg.RespectExpires {
		return nil, fmt.Errorf("respect_expires must be true (stale responses are never served)")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests_per_second must be > 0 (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	logger := log.With().Str("component", "artic-client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		redis:   cfg.Redis,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cache:   cache.NewLayered(cfg.Redis, cfg.MemoryCacheTTL),
		config:  cfg,
		logger:  logger,
	}

	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, cfg.RequestsPerMinute, logger)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "artic-api",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			minRequests := cfg.Breaker.MinRequests
			if minRequests == 0 {
				minRequests = 5
			}
			if counts.Requests < minRequests {
				return false
			}
			threshold := cfg.Breaker.FailureThreshold
			if threshold <= 0 {
				threshold = 0.6
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= threshold
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			breakerState.Set(float64(to))
			logger.Warn().
				Str("circuit", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return c, nil
}

// Do performs an HTTP request with rate limiting, caching, and error handling.
//
// Fresh memory-cached responses are served without a request. Otherwise the
// request passes the shared budget and the local limiter, is made
// conditional when Redis holds the response, and goes to the API exactly
// once through the circuit breaker. Responses >= 400 are returned as
// *APIError with the body closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	route := c.routeLabel(req.URL.Path)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(route).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check Cache
	cacheKey := cache.CacheKey{
		Endpoint:    req.URL.Path,
		QueryParams: req.URL.Query(),
	}
	cacheable := req.Method == http.MethodGet

	var cachedEntry *cache.CacheEntry
	if cacheable {
		entry, layer, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil && layer == cache.LayerMemory:
			requestsTotal.WithLabelValues(route, "memory_cache").Inc()
			return cache.EntryToResponse(entry), nil
		case err == nil:
			cachedEntry = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("route", route).Msg("Cache get error")
		}
	}

	// Step 2: Check the shared request budget
	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "request cancelled", Err: ctx.Err()}
		case err != nil:
			// Redis trouble must not take browsing down; the local
			// limiter still applies.
			c.logger.Warn().Err(err).Msg("Rate limit check failed - continuing with local limiter")
		case !allowed:
			c.logger.Warn().
				Str("route", route).
				Msg("Request blocked by rate limiter")
			requestsTotal.WithLabelValues(route, "rate_limited").Inc()
			errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &APIError{
				ErrorClass: ErrorClassRateLimit,
				Message:    "request budget spent",
				Err:        ErrRateLimited,
			}
		}
	}

	// Step 3: Local token bucket
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "rate limiter wait", Err: err}
	}

	// Step 4: Make Conditional Request if Redis holds the response
	if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("route", route).
			Str("etag", cachedEntry.ETag).
			Msg("Making conditional request")
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("AIC-User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	// Step 5: Execute the single attempt through the breaker
	c.logger.Debug().
		Str("route", route).
		Str("method", req.Method).
		Str("query", req.URL.RawQuery).
		Msg("Executing API request")

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.attempt(req)
	})
	if err != nil {
		return nil, c.handleFailure(ctx, route, err)
	}
	resp := result.(*http.Response)

	// Step 6: Handle 304 Not Modified
	if resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		if cachedEntry == nil {
			requestsTotal.WithLabelValues(route, "304").Inc()
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassServer,
				Message:    "not modified without a cached response",
			}
		}

		c.logger.Debug().Str("route", route).Msg("304 Not Modified - using cache")
		requestsTotal.WithLabelValues(route, "304").Inc()
		cache.NotModifiedResponses.Inc()

		if fresh, err := cache.ResponseToEntry(resp); err == nil {
			if err := c.cache.UpdateTTL(ctx, cacheKey, cachedEntry, fresh.Expires); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
			}
		}

		return cache.EntryToResponse(cachedEntry), nil
	}

	requestsTotal.WithLabelValues(route, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	// Step 7: Update Cache on success
	if cacheable && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if entry.TTL() > 0 {
			if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to cache response")
			} else {
				c.logger.Debug().
					Str("route", route).
					Dur("ttl", entry.TTL()).
					Msg("Cached response")
			}
		}
	}

	return resp, nil
}

// attempt sends req once and turns >= 400 responses into errors so the
// breaker can count them.
func (c *Client) attempt(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if c.rateLimiter != nil {
		if _, err := c.rateLimiter.Record(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record request against budget")
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, newAPIError(resp)
	}

	return resp, nil
}

// handleFailure records a failed attempt and returns the error for the caller.
func (c *Client) handleFailure(ctx context.Context, route string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		requestsTotal.WithLabelValues(route, "circuit_open").Inc()
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		c.logger.Warn().Str("route", route).Msg("Request rejected by open circuit breaker")
		return &APIError{ErrorClass: ErrorClassNetwork, Message: "collection API unavailable", Err: ErrCircuitOpen}
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}

	errorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()
	if apiErr.StatusCode == 0 {
		requestsTotal.WithLabelValues(route, "network_error").Inc()
		c.logger.Error().Err(apiErr.Err).Str("route", route).Msg("HTTP request failed")
		return apiErr
	}

	requestsTotal.WithLabelValues(route, fmt.Sprintf("%d", apiErr.StatusCode)).Inc()
	c.logger.Warn().
		Str("route", route).
		Int("status", apiErr.StatusCode).
		Str("error_class", string(apiErr.ErrorClass)).
		Msg("API request error")

	if apiErr.ErrorClass == ErrorClassRateLimit && c.rateLimiter != nil {
		if err := c.rateLimiter.MarkExhausted(ctx, apiErr.RetryAfter); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to mark request budget exhausted")
		}
	}

	return apiErr
}

var numericSegment = regexp.MustCompile(`/\d+(/|$)`)

// routeLabel maps a request path to a low-cardinality metric label.
func (c *Client) routeLabel(path string) string {
	if base, err := url.Parse(c.config.BaseURL); err == nil {
		path = strings.TrimPrefix(path, base.Path)
	}
	return numericSegment.ReplaceAllString(path, "/:id$1")
}

// Get performs a GET request to an API endpoint relative to the base URL.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*http.Response, error) {
	target := c.config.BaseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// Ping checks the Redis connection backing the shared layers.
// It succeeds trivially when the client runs without Redis.
func (c *Client) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// BreakerState returns the circuit breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Close releases idle connections. The Redis client belongs to the caller.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	c.cache.Flush()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the layered cache (for testing).
func (c *Client) GetCache() *cache.Layered {
	return c.cache
}
