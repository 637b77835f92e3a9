package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/artic-gallery/internal/testutil"
	"github.com/Sternrassler/artic-gallery/pkg/artwork"
	"github.com/Sternrassler/artic-gallery/pkg/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testUserAgent = "GalleryTest/1.0.0 (test@example.com)"

// setupTestRedis starts an in-memory Redis.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// newTestClient points a client at mock. A memoryTTL of 0 disables the
// memory layer so every call reaches Redis or the server.
func newTestClient(t *testing.T, mock *testutil.MockARTIC, redisClient *redis.Client, memoryTTL time.Duration) *Client {
	t.Helper()

	cfg := DefaultConfig(redisClient, testUserAgent)
	cfg.BaseURL = mock.BaseURL()
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 100
	cfg.MemoryCacheTTL = memoryTTL

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config without redis",
			config: DefaultConfig(nil, testUserAgent),
		},
		{
			name: "empty user agent",
			config: Config{
				RespectExpires:    true,
				RequestsPerSecond: 1,
			},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "respect expires false",
			config: Config{
				UserAgent:         testUserAgent,
				RequestsPerSecond: 1,
			},
			expectError: true,
			errorMsg:    "respect_expires must be true (stale responses are never served)",
		},
		{
			name: "no local rate",
			config: Config{
				UserAgent:      testUserAgent,
				RespectExpires: true,
			},
			expectError: true,
			errorMsg:    "requests_per_second must be > 0 (got 0)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(nil, testUserAgent)

	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if !cfg.RespectExpires {
		t.Error("RespectExpires should be true")
	}
	if cfg.RequestsPerMinute != ratelimit.DefaultRequestsPerMinute {
		t.Errorf("RequestsPerMinute = %d, want %d", cfg.RequestsPerMinute, ratelimit.DefaultRequestsPerMinute)
	}
	if cfg.RequestsPerSecond*60 > float64(cfg.RequestsPerMinute) {
		t.Errorf("local rate %v/s exceeds the shared budget of %d/min", cfg.RequestsPerSecond, cfg.RequestsPerMinute)
	}
}

func TestRouteLabel(t *testing.T) {
	c := &Client{config: Config{BaseURL: "https://api.artic.edu/api/v1"}}

	tests := []struct {
		path string
		want string
	}{
		{path: "/api/v1/artworks", want: "/artworks"},
		{path: "/api/v1/artworks/27992", want: "/artworks/:id"},
		{path: "/api/v1/artworks/27992/manifest.json", want: "/artworks/:id/manifest.json"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := c.routeLabel(tt.path); got != tt.want {
				t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestDo_UserAgentSet(t *testing.T) {
	mock := testutil.NewMockARTIC(40)
	defer mock.Close()

	c := newTestClient(t, mock, nil, 0)
	if _, err := c.ListArtworks(context.Background(), 1, 20, nil); err != nil {
		t.Fatalf("ListArtworks() error = %v", err)
	}

	header := mock.GetLastRequestHeader()
	if got := header.Get("User-Agent"); got != testUserAgent {
		t.Errorf("User-Agent = %q, want %q", got, testUserAgent)
	}
	if got := header.Get("AIC-User-Agent"); got != testUserAgent {
		t.Errorf("AIC-User-Agent = %q, want %q", got, testUserAgent)
	}
}

func TestListArtworks(t *testing.T) {
	mock := testutil.NewMockARTIC(95)
	defer mock.Close()

	c := newTestClient(t, mock, nil, 0)
	resp, err := c.ListArtworks(context.Background(), 2, 20, artwork.DefaultFields)
	if err != nil {
		t.Fatalf("ListArtworks() error = %v", err)
	}

	if resp.Pagination.TotalPages != 5 {
		t.Errorf("TotalPages = %d, want 5", resp.Pagination.TotalPages)
	}
	if resp.Pagination.CurrentPage != 2 {
		t.Errorf("CurrentPage = %d, want 2", resp.Pagination.CurrentPage)
	}
	if len(resp.Data) != 20 || resp.Data[0].ID != 21 {
		t.Errorf("Data = %d items starting at %d, want 20 starting at 21", len(resp.Data), resp.Data[0].ID)
	}
	if resp.Config.IIIFURL == "" {
		t.Error("IIIFURL not set")
	}

	if !strings.Contains(mock.GetLastQuery(), "fields=id%2Ctitle%2Cartist_display%2Cimage_id%2Cdate_display%2Cthumbnail") {
		t.Errorf("query %q does not request the card fields", mock.GetLastQuery())
	}
	if !strings.Contains(mock.GetLastQuery(), "limit=20") || !strings.Contains(mock.GetLastQuery(), "page=2") {
		t.Errorf("query %q missing page or limit", mock.GetLastQuery())
	}
}

func TestListArtworks_PastLastPage(t *testing.T) {
	mock := testutil.NewMockARTIC(45)
	defer mock.Close()

	c := newTestClient(t, mock, nil, 0)
	resp, err := c.ListArtworks(context.Background(), 9, 20, nil)
	if err != nil {
		t.Fatalf("ListArtworks() error = %v", err)
	}
	if len(resp.Data) != 0 {
		t.Errorf("Data has %d items, want 0", len(resp.Data))
	}
	if resp.Pagination.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", resp.Pagination.TotalPages)
	}
}

func TestListArtworks_InvalidArguments(t *testing.T) {
	c, err := New(DefaultConfig(nil, testUserAgent))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name     string
		page     int
		pageSize int
	}{
		{name: "page zero", page: 0, pageSize: 20},
		{name: "negative page", page: -3, pageSize: 20},
		{name: "page size zero", page: 1, pageSize: 0},
		{name: "page size above max", page: 1, pageSize: MaxPageSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ListArtworks(context.Background(), tt.page, tt.pageSize, nil)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("ListArtworks() error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestGetArtwork(t *testing.T) {
	mock := testutil.NewMockARTIC(30)
	defer mock.Close()

	c := newTestClient(t, mock, nil, 0)
	resp, err := c.GetArtwork(context.Background(), "12")
	if err != nil {
		t.Fatalf("GetArtwork() error = %v", err)
	}

	if resp.Data.ID != 12 || resp.Data.Title != "Artwork 12" {
		t.Errorf("Data = %+v", resp.Data.Artwork)
	}
	if resp.Data.Description == nil || !strings.Contains(*resp.Data.Description, "<em>Artwork 12</em>") {
		t.Errorf("Description = %v", resp.Data.Description)
	}
	if !strings.Contains(mock.GetLastQuery(), "description") {
		t.Errorf("query %q does not request the detail fields", mock.GetLastQuery())
	}
}

func TestGetArtwork_NotFound(t *testing.T) {
	mock := testutil.NewMockARTIC(30)
	defer mock.Close()

	c := newTestClient(t, mock, nil, 0)
	_, err := c.GetArtwork(context.Background(), "999")

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetArtwork() error = %v, want ErrNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatus() != http.StatusNotFound {
		t.Errorf("GetArtwork() error = %#v, want *APIError with status 404", err)
	}
}

func TestGetArtwork_InvalidID(t *testing.T) {
	c, err := New(DefaultConfig(nil, testUserAgent))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, id := range []string{"", "abc", "0", "-4", "12abc"} {
		if _, err := c.GetArtwork(context.Background(), id); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("GetArtwork(%q) error = %v, want ErrInvalidRequest", id, err)
		}
	}
}

func TestFetchPage(t *testing.T) {
	mock := testutil.NewMockARTIC(50)
	defer mock.Close()

	c := newTestClient(t, mock, nil, 0)
	items, totalPages, err := c.FetchPage(context.Background(), 3)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if totalPages != 3 {
		t.Errorf("totalPages = %d, want 3", totalPages)
	}
	if len(items) != 10 {
		t.Errorf("items = %d, want 10", len(items))
	}
}

func TestDo_MemoryCacheHit(t *testing.T) {
	mock := testutil.NewMockARTIC(40)
	defer mock.Close()

	c := newTestClient(t, mock, nil, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.ListArtworks(ctx, 1, 20, nil); err != nil {
			t.Fatalf("ListArtworks() call %d error = %v", i, err)
		}
	}

	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("RequestCount = %d, want 1 (memory cache)", got)
	}
}

func TestDo_NoStoreIsNotCached(t *testing.T) {
	mock := testutil.NewMockARTIC(40)
	defer mock.Close()
	mock.SetMaxAge(0)

	c := newTestClient(t, mock, nil, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.ListArtworks(ctx, 1, 20, nil); err != nil {
			t.Fatalf("ListArtworks() error = %v", err)
		}
	}

	if got := mock.GetRequestCount(); got != 2 {
		t.Errorf("RequestCount = %d, want 2", got)
	}
}

func TestDo_Handle304NotModified(t *testing.T) {
	mock := testutil.NewMockARTIC(40)
	defer mock.Close()
	redisClient, _ := setupTestRedis(t)

	c := newTestClient(t, mock, redisClient, 0)
	ctx := context.Background()

	first, err := c.ListArtworks(ctx, 1, 20, nil)
	if err != nil {
		t.Fatalf("first ListArtworks() error = %v", err)
	}

	second, err := c.ListArtworks(ctx, 1, 20, nil)
	if err != nil {
		t.Fatalf("second ListArtworks() error = %v", err)
	}

	if got := mock.GetConditionalCount(); got != 1 {
		t.Errorf("ConditionalCount = %d, want 1", got)
	}
	if len(second.Data) != len(first.Data) || second.Data[0].ID != first.Data[0].ID {
		t.Errorf("revalidated response differs: %d items vs %d", len(second.Data), len(first.Data))
	}
}

func TestDo_SingleAttemptOnServerError(t *testing.T) {
	mock := testutil.NewMockARTIC(40)
	defer mock.Close()
	mock.SetListingResponse(testutil.NewServerErrorResponse())

	c := newTestClient(t, mock, nil, 0)
	_, err := c.ListArtworks(context.Background(), 1, 20, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("ListArtworks() error = %v, want *APIError", err)
	}
	if apiErr.ErrorClass != ErrorClassServer || apiErr.StatusCode != 500 {
		t.Errorf("APIError = %+v", apiErr)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("RequestCount = %d, want exactly 1 attempt", got)
	}
}

func TestDo_RateLimitBlock(t *testing.T) {
	mock := testutil.NewMockARTIC(200)
	defer mock.Close()
	redisClient, _ := setupTestRedis(t)

	cfg := DefaultConfig(redisClient, testUserAgent)
	cfg.BaseURL = mock.BaseURL()
	cfg.RequestsPerMinute = 3
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 100
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	for page := 1; page <= 3; page++ {
		if _, err := c.ListArtworks(ctx, page, 20, nil); err != nil {
			t.Fatalf("ListArtworks(page %d) error = %v", page, err)
		}
	}

	_, err = c.ListArtworks(ctx, 4, 20, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("fourth call error = %v, want ErrRateLimited", err)
	}
	if got := mock.GetRequestCount(); got != 3 {
		t.Errorf("RequestCount = %d, want 3", got)
	}
}

func TestDo_TooManyRequestsSpendsBudget(t *testing.T) {
	mock := testutil.NewMockARTIC(200)
	defer mock.Close()
	mock.SetListingResponse(testutil.NewRateLimitResponse(30))
	redisClient, mr := setupTestRedis(t)

	c := newTestClient(t, mock, redisClient, 0)
	ctx := context.Background()

	_, err := c.ListArtworks(ctx, 1, 20, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("ListArtworks() error = %v, want 429 APIError", err)
	}

	if ttl := mr.TTL(ratelimit.RedisKeyRequestCount); ttl <= 0 || ttl > 30*time.Second {
		t.Errorf("budget window TTL = %v, want the Retry-After of 30s", ttl)
	}

	_, err = c.ListArtworks(ctx, 2, 20, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("follow-up error = %v, want ErrRateLimited", err)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("RequestCount = %d, want 1", got)
	}
}

func TestDo_CircuitBreakerOpens(t *testing.T) {
	mock := testutil.NewMockARTIC(200)
	defer mock.Close()
	mock.SetListingResponse(testutil.NewServerErrorResponse())

	cfg := DefaultConfig(nil, testUserAgent)
	cfg.BaseURL = mock.BaseURL()
	cfg.RequestsPerSecond = 1000
	cfg.Breaker = BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 0.5, MinRequests: 2}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	for page := 1; page <= 2; page++ {
		if _, err := c.ListArtworks(ctx, page, 20, nil); err == nil {
			t.Fatalf("ListArtworks(page %d) expected server error", page)
		}
	}

	_, err = c.ListArtworks(ctx, 3, 20, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("third call error = %v, want ErrCircuitOpen", err)
	}
	if got := mock.GetRequestCount(); got != 2 {
		t.Errorf("RequestCount = %d, want 2", got)
	}
	if c.BreakerState() != "open" {
		t.Errorf("BreakerState() = %q, want open", c.BreakerState())
	}
}

func TestDo_NotFoundDoesNotTripBreaker(t *testing.T) {
	mock := testutil.NewMockARTIC(5)
	defer mock.Close()

	cfg := DefaultConfig(nil, testUserAgent)
	cfg.BaseURL = mock.BaseURL()
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 100
	cfg.Breaker.MinRequests = 2
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for id := 100; id < 110; id++ {
		if _, err := c.GetArtwork(context.Background(), fmt.Sprint(id)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetArtwork(%d) error = %v, want ErrNotFound", id, err)
		}
	}
	if c.BreakerState() != "closed" {
		t.Errorf("BreakerState() = %q, want closed", c.BreakerState())
	}
}

func TestDo_NetworkError(t *testing.T) {
	mock := testutil.NewMockARTIC(5)
	c := newTestClient(t, mock, nil, 0)
	mock.Close()

	_, err := c.ListArtworks(context.Background(), 1, 20, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("ListArtworks() error = %v, want *APIError", err)
	}
	if apiErr.ErrorClass != ErrorClassNetwork || apiErr.HTTPStatus() != 0 {
		t.Errorf("APIError = %+v, want network class without status", apiErr)
	}
}

func TestGetJSON_CoalescesConcurrentRequests(t *testing.T) {
	mock := testutil.NewMockARTIC(40)
	defer mock.Close()

	release := make(chan struct{})
	mock.SetHandler(testutil.APIPrefix+"/artworks", func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"pagination": {"total": 1, "limit": 20, "total_pages": 1, "current_page": 1}, "data": [{"id": 1, "title": "Only"}]}`)
	})

	c := newTestClient(t, mock, nil, 0)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ListArtworks(context.Background(), 1, 20, nil)
			errs <- err
		}()
	}

	// Let every caller join the in-flight request before it completes.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("ListArtworks() error = %v", err)
		}
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("RequestCount = %d, want 1", got)
	}
}

func TestPing(t *testing.T) {
	c, err := New(DefaultConfig(nil, testUserAgent))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() without redis error = %v", err)
	}

	redisClient, mr := setupTestRedis(t)
	c, err = New(DefaultConfig(redisClient, testUserAgent))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	mr.Close()
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping() expected error with redis down")
	}
}

func TestGetJSON_CancelledCallerDoesNotFailOthers(t *testing.T) {
	mock := testutil.NewMockARTIC(40)
	defer mock.Close()

	release := make(chan struct{})
	mock.SetHandler(testutil.APIPrefix+"/artworks", func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"pagination": {"total": 1, "limit": 20, "total_pages": 1, "current_page": 1}, "data": [{"id": 1, "title": "Only"}]}`)
	})

	c := newTestClient(t, mock, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.ListArtworks(ctx, 1, 20, nil)
		firstErr <- err
	}()
	waitFor(t, func() bool { return mock.GetRequestCount() == 1 })

	secondErr := make(chan error, 1)
	go func() {
		_, err := c.ListArtworks(context.Background(), 1, 20, nil)
		secondErr <- err
	}()
	// Let the second caller join the in-flight request.
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(release)
	if err := <-secondErr; err != nil {
		t.Errorf("live caller error = %v, want nil", err)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("RequestCount = %d, want 1", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(time.Millisecond)
	}
}
