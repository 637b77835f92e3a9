// Package ratelimit keeps every process talking to the collection API within
// its shared request budget.
//
// The API allows anonymous clients a fixed number of requests per minute.
// Requests are counted in a fixed window stored in Redis, so several
// gallery processes behind one egress IP share a single budget.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRequestCount = "artic:rate_limit:requests"
	RedisKeyLastUpdate   = "artic:rate_limit:last_update"
)

const (
	// DefaultRequestsPerMinute is the documented anonymous budget.
	DefaultRequestsPerMinute = 60

	// Window is the length of one counting window.
	Window = time.Minute

	// WarningFraction of the budget after which requests are throttled.
	WarningFraction = 0.8

	// HealthyFraction of the budget below which the state is healthy.
	HealthyFraction = 0.5
)

// RateLimitState is the budget usage of the current window.
type RateLimitState struct {
	// RequestsUsed counts requests issued in the current window.
	RequestsUsed int `json:"requests_used"`

	// Limit is the budget per window.
	Limit int `json:"limit"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when a request was last recorded.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true while less than half the budget is used.
	IsHealthy bool `json:"is_healthy"`
}

// Remaining returns how many requests are left in the current window.
func (s *RateLimitState) Remaining() int {
	if r := s.Limit - s.RequestsUsed; r > 0 {
		return r
	}
	return 0
}

// IsStale returns true if no request was recorded within maxAge.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true once the budget is spent.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining() == 0
}

// NeedsThrottling returns true past the warning fraction of the budget.
func (s *RateLimitState) NeedsThrottling() bool {
	return float64(s.RequestsUsed) >= float64(s.Limit)*WarningFraction && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from the current usage.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = float64(s.RequestsUsed) < float64(s.Limit)*HealthyFraction
}
