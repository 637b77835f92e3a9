package ratelimit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestTracker(t *testing.T, limit int) (*Tracker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(client, limit, logger)
	tracker.SetThrottleDelay(50 * time.Millisecond)
	return tracker, mr
}

func TestNewTracker_DefaultLimit(t *testing.T) {
	tracker := NewTracker(nil, 0, zerolog.Nop())
	if tracker.limit != DefaultRequestsPerMinute {
		t.Errorf("limit = %d, want %d", tracker.limit, DefaultRequestsPerMinute)
	}
}

func TestTracker_GetState_Empty(t *testing.T) {
	tracker, _ := newTestTracker(t, 60)

	state, err := tracker.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.RequestsUsed != 0 {
		t.Errorf("RequestsUsed = %d, want 0", state.RequestsUsed)
	}
	if state.Limit != 60 {
		t.Errorf("Limit = %d, want 60", state.Limit)
	}
	if !state.IsHealthy {
		t.Error("empty window should be healthy")
	}
}

func TestTracker_Record(t *testing.T) {
	tracker, mr := newTestTracker(t, 60)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		state, err := tracker.Record(ctx)
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if state.RequestsUsed != i {
			t.Errorf("RequestsUsed after %d records = %d", i, state.RequestsUsed)
		}
	}

	ttl := mr.TTL(RedisKeyRequestCount)
	if ttl <= 0 || ttl > Window {
		t.Errorf("window TTL = %v, want (0, %v]", ttl, Window)
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.RequestsUsed != 3 {
		t.Errorf("GetState().RequestsUsed = %d, want 3", state.RequestsUsed)
	}
	if state.LastUpdate.IsZero() {
		t.Error("LastUpdate not stored")
	}
}

func TestTracker_WindowResets(t *testing.T) {
	tracker, mr := newTestTracker(t, 60)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := tracker.Record(ctx); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	mr.FastForward(Window + time.Second)

	state, err := tracker.Record(ctx)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if state.RequestsUsed != 1 {
		t.Errorf("RequestsUsed in new window = %d, want 1", state.RequestsUsed)
	}
}

func TestTracker_RecordRepairsMissingExpiry(t *testing.T) {
	tracker, mr := newTestTracker(t, 60)

	if err := mr.Set(RedisKeyRequestCount, "7"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := tracker.Record(context.Background()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if ttl := mr.TTL(RedisKeyRequestCount); ttl <= 0 {
		t.Errorf("window TTL = %v, want a positive expiry", ttl)
	}
}

func TestTracker_ShouldAllowRequest(t *testing.T) {
	// With a budget of 10 the warning band starts at 8 requests.
	tests := []struct {
		name         string
		used         string
		wantAllowed  bool
		wantThrottle bool
	}{
		{name: "healthy", used: "2", wantAllowed: true},
		{name: "warning", used: "8", wantAllowed: true, wantThrottle: true},
		{name: "spent", used: "10", wantAllowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, mr := newTestTracker(t, 10)
			if err := mr.Set(RedisKeyRequestCount, tt.used); err != nil {
				t.Fatalf("seed: %v", err)
			}
			mr.SetTTL(RedisKeyRequestCount, Window)

			start := time.Now()
			allowed, err := tracker.ShouldAllowRequest(context.Background())
			elapsed := time.Since(start)

			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}
			if allowed != tt.wantAllowed {
				t.Errorf("ShouldAllowRequest() = %v, want %v", allowed, tt.wantAllowed)
			}
			if tt.wantThrottle && elapsed < 40*time.Millisecond {
				t.Errorf("throttle duration = %v, want >= 50ms", elapsed)
			}
		})
	}
}

func TestTracker_ThrottleHonoursContext(t *testing.T) {
	tracker, mr := newTestTracker(t, 10)
	tracker.SetThrottleDelay(time.Hour)
	if err := mr.Set(RedisKeyRequestCount, "9"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	allowed, err := tracker.ShouldAllowRequest(ctx)
	if allowed {
		t.Error("ShouldAllowRequest() = true after context deadline")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ShouldAllowRequest() error = %v, want DeadlineExceeded", err)
	}
}

func TestTracker_MarkExhausted(t *testing.T) {
	tracker, mr := newTestTracker(t, 60)
	ctx := context.Background()

	if err := tracker.MarkExhausted(ctx, 30*time.Second); err != nil {
		t.Fatalf("MarkExhausted() error = %v", err)
	}

	allowed, err := tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if allowed {
		t.Error("ShouldAllowRequest() = true after MarkExhausted")
	}

	mr.FastForward(31 * time.Second)

	allowed, err = tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if !allowed {
		t.Error("ShouldAllowRequest() = false after the window reset")
	}
}

func TestTracker_RedisUnavailable(t *testing.T) {
	tracker, mr := newTestTracker(t, 60)
	mr.Close()

	if _, err := tracker.ShouldAllowRequest(context.Background()); err == nil {
		t.Error("ShouldAllowRequest() expected error with Redis down")
	}
}
