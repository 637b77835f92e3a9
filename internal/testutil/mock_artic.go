// Package testutil provides a mock collection API server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/artwork"
)

// APIPrefix is the path prefix of the mock API, matching the real one.
const APIPrefix = "/api/v1"

// MockResponse defines a canned response for one path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockARTIC is a configurable mock of the artworks API.
//
// By default it serves a generated collection: listings under
// /api/v1/artworks and details under /api/v1/artworks/{id}. Listings carry
// an ETag and honour If-None-Match. Handlers set for a path replace the
// default behaviour for that path.
type MockARTIC struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	total    int
	maxAge   int

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
	LastQuery         string
}

// NewMockARTIC creates a mock server holding total artworks.
func NewMockARTIC(total int) *MockARTIC {
	mock := &MockARTIC{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		total:    total,
		maxAge:   300,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastQuery = r.URL.RawQuery
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server root URL.
func (m *MockARTIC) URL() string {
	return m.server.URL
}

// BaseURL returns the API base URL to configure clients with.
func (m *MockARTIC) BaseURL() string {
	return m.server.URL + APIPrefix
}

// Close shuts down the mock server.
func (m *MockARTIC) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockARTIC) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
	m.LastQuery = ""
}

// SetTotal changes the size of the generated collection.
func (m *MockARTIC) SetTotal(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = total
}

// SetMaxAge sets the Cache-Control max-age of generated responses.
// Zero makes them uncacheable.
func (m *MockARTIC) SetMaxAge(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxAge = seconds
}

// SetHandler sets a custom handler for a specific path.
func (m *MockARTIC) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// ClearHandler restores the default behaviour for path.
func (m *MockARTIC) ClearHandler(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, path)
}

// SetResponse configures a fixed response for a path.
func (m *MockARTIC) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetListingResponse configures the listing endpoint response.
func (m *MockARTIC) SetListingResponse(resp MockResponse) {
	m.SetResponse(APIPrefix+"/artworks", resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockARTIC) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockARTIC) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetLastQuery returns the raw query of the most recent request.
func (m *MockARTIC) GetLastQuery() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockARTIC) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

func (m *MockARTIC) defaultHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, APIPrefix)
	switch {
	case path == "/artworks":
		m.serveListing(w, r)
	case strings.HasPrefix(path, "/artworks/"):
		m.serveDetail(w, strings.TrimPrefix(path, "/artworks/"))
	default:
		writeError(w, http.StatusNotFound, "Endpoint not found", "No route for "+r.URL.Path)
	}
}

func (m *MockARTIC) serveListing(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	total, maxAge := m.total, m.maxAge
	m.mu.RUnlock()

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 12)
	if limit > 100 {
		writeError(w, http.StatusForbidden, "Invalid number of results", "You have requested too many resources per page.")
		return
	}

	etag := fmt.Sprintf(`"listing-%d-%d-%d"`, page, limit, total)
	setCaching(w, maxAge)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	totalPages := (total + limit - 1) / limit
	offset := (page - 1) * limit
	data := make([]artwork.Artwork, 0, limit)
	for i := offset; i < total && len(data) < limit; i++ {
		data = append(data, GeneratedArtwork(i+1))
	}

	resp := artwork.ListResponse{
		Pagination: artwork.PaginationInfo{
			Total:       total,
			Limit:       limit,
			Offset:      offset,
			TotalPages:  totalPages,
			CurrentPage: page,
		},
		Data:   data,
		Config: artwork.APIConfig{IIIFURL: artwork.DefaultIIIFURL, WebsiteURL: "http://www.artic.edu"},
	}
	if page > 1 {
		prev := fmt.Sprintf("%s%s?page=%d&limit=%d", m.server.URL, r.URL.Path, page-1, limit)
		resp.Pagination.PrevURL = &prev
	}
	if page < totalPages {
		next := fmt.Sprintf("%s%s?page=%d&limit=%d", m.server.URL, r.URL.Path, page+1, limit)
		resp.Pagination.NextURL = &next
	}

	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, resp)
}

func (m *MockARTIC) serveDetail(w http.ResponseWriter, rawID string) {
	m.mu.RLock()
	total, maxAge := m.total, m.maxAge
	m.mu.RUnlock()

	id, err := strconv.Atoi(rawID)
	if err != nil || id < 1 || id > total {
		writeError(w, http.StatusNotFound, "Not found", "The item you requested cannot be found.")
		return
	}

	setCaching(w, maxAge)
	writeJSON(w, http.StatusOK, artwork.DetailResponse{
		Data:   GeneratedDetail(id),
		Config: artwork.APIConfig{IIIFURL: artwork.DefaultIIIFURL, WebsiteURL: "http://www.artic.edu"},
	})
}

// GeneratedArtwork returns the card the mock serves for id.
// Every fifth artwork has no image.
func GeneratedArtwork(id int) artwork.Artwork {
	a := artwork.Artwork{
		ID:            id,
		Title:         fmt.Sprintf("Artwork %d", id),
		ArtistDisplay: fmt.Sprintf("Artist %d\nAmerican, 1900-1980", id%17),
	}
	if id%5 != 0 {
		imageID := fmt.Sprintf("img-%04d", id)
		a.ImageID = &imageID
		a.Thumbnail = &artwork.Thumbnail{AltText: a.Title, Width: 3000, Height: 2000}
	}
	date := strconv.Itoa(1850 + id%150)
	a.DateDisplay = &date
	return a
}

// GeneratedDetail returns the detail record the mock serves for id.
func GeneratedDetail(id int) artwork.Detail {
	description := fmt.Sprintf("<p>Description of <em>Artwork %d</em>.</p>", id)
	return artwork.Detail{
		Artwork:          GeneratedArtwork(id),
		PlaceOfOrigin:    "Chicago",
		Dimensions:       "50 × 40 cm",
		MediumDisplay:    "Oil on canvas",
		CreditLine:       "Gift of a test fixture",
		IsPublicDomain:   id%2 == 0,
		DepartmentTitle:  "Painting and Sculpture of Europe",
		ArtworkTypeTitle: "Painting",
		Description:      &description,
	}
}

// NewHealthyResponse creates a cacheable 200 OK response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"ETag":          `"test-etag-123"`,
			"Cache-Control": "public, max-age=300",
			"Content-Type":  "application/json",
		},
	}
}

// NewNotModifiedResponse creates a 304 Not Modified response.
func NewNotModifiedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotModified,
		Headers:    map[string]string{"Cache-Control": "public, max-age=300"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"status": 429, "error": "Too many requests", "detail": "Please slow down."}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(retryAfter),
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"status": 500, "error": "Internal server error", "detail": "Something went wrong."}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewConditionalHandler creates a handler that answers 304 when the
// request carries etag.
func NewConditionalHandler(etag string, data string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300")

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(data))
	}
}

func setCaching(w http.ResponseWriter, maxAge int) {
	if maxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, title, detail string) {
	writeJSON(w, status, map[string]any{"status": status, "error": title, "detail": detail})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
