// Package gallery coordinates paginated browsing of the artwork collection.
//
// A Controller owns the browsing state (items, pagination metadata, loading
// flag, error, current page) and is the only thing that mutates it. Every
// navigation issues exactly one listing request; its result is applied in a
// single step, so readers never observe items from one page paired with the
// metadata of another.
//
// Responses can settle out of order when navigations overlap. Each load is
// tagged with a sequence number and only the most recently issued load may
// apply its result; older ones are discarded.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Sternrassler/artic-gallery/pkg/artwork"
	"github.com/Sternrassler/artic-gallery/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	pageLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_page_loads_total",
		Help: "Gallery page loads by outcome",
	}, []string{"outcome"})

	staleResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_stale_responses_total",
		Help: "Listing responses discarded because a newer navigation was issued",
	})
)

// ErrSuperseded is returned by Load when a newer load was issued before this
// one settled. Its result was discarded.
var ErrSuperseded = errors.New("superseded by a newer navigation")

// Lister fetches one page of the artwork listing.
type Lister interface {
	ListArtworks(ctx context.Context, page, pageSize int, fields []string) (*artwork.ListResponse, error)
}

// Config holds the controller configuration.
type Config struct {
	// PageSize is the number of artworks requested per page
	PageSize int

	// Fields are the artwork fields requested from the API
	Fields []string

	// InitialPage is the page the controller starts on, typically taken from
	// a "page" URL parameter. Values below 1 mean page 1.
	InitialPage int

	// OnChange, when set, receives a snapshot after every state transition.
	// It is called outside the controller lock and may call back into it.
	OnChange func(State)
}

// DefaultConfig returns the gallery defaults: 20 artworks per page with the
// card fields, starting at page 1.
func DefaultConfig() Config {
	return Config{
		PageSize:    artwork.DefaultPageSize,
		Fields:      artwork.DefaultFields,
		InitialPage: 1,
	}
}

// Controller is the single owner of the browsing state.
type Controller struct {
	mu     sync.Mutex
	state  State
	seq    uint64
	lister Lister
	config Config
	logger zerolog.Logger
}

// NewController creates a controller backed by lister.
func NewController(lister Lister, cfg Config) (*Controller, error) {
	if lister == nil {
		return nil, fmt.Errorf("lister is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = artwork.DefaultPageSize
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = artwork.DefaultFields
	}
	if cfg.InitialPage < 1 {
		cfg.InitialPage = 1
	}

	return &Controller{
		state:  State{CurrentPage: cfg.InitialPage},
		lister: lister,
		config: cfg,
		logger: log.With().Str("component", "gallery").Logger(),
	}, nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// CurrentPage returns the page currently displayed, for mirroring into a URL.
func (c *Controller) CurrentPage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CurrentPage
}

// Start loads the initial page.
func (c *Controller) Start(ctx context.Context) error {
	return c.Load(ctx, c.CurrentPage())
}

// Reload fetches the current page again. It is the user-initiated retry
// after a failure.
func (c *Controller) Reload(ctx context.Context) error {
	return c.Load(ctx, c.CurrentPage())
}

// Load fetches page and applies the result.
//
// Loading is set and the error cleared before the request; loading is cleared
// again when the request settles, whatever the outcome. A response reporting
// fewer than page pages is an out-of-range failure and leaves items,
// pagination and the current page untouched, as does a failed request.
//
// The returned error is nil when the page was applied, a *Failure when the
// failure was recorded in the state, or ErrSuperseded when a newer load made
// this result stale.
func (c *Controller) Load(ctx context.Context, page int) error {
	if page < 1 {
		return fmt.Errorf("%w: page must be >= 1 (got %d)", pagination.ErrInvalidArgument, page)
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.state.Loading = true
	c.state.Err = nil
	begin := c.state.clone()
	c.mu.Unlock()
	c.notify(begin)

	c.logger.Debug().Int("page", page).Uint64("seq", seq).Msg("Loading gallery page")

	resp, err := c.lister.ListArtworks(ctx, page, c.config.PageSize, c.config.Fields)

	settled, applied, failure := c.settle(seq, func(s *State) *Failure {
		if err != nil {
			return classify(err)
		}
		if resp == nil {
			return &Failure{Kind: FailureNetwork, Message: "failed to fetch artworks: empty response"}
		}
		if resp.Pagination.TotalPages < page {
			return outOfRange(page, resp.Pagination.TotalPages)
		}
		if err := resp.Pagination.Validate(); err != nil {
			return &Failure{Kind: FailureNetwork, Message: fmt.Sprintf("failed to fetch artworks: %v", err)}
		}

		p := resp.Pagination.Clone()
		s.Items = make([]artwork.Artwork, len(resp.Data))
		for i, a := range resp.Data {
			s.Items[i] = a.Clone()
		}
		s.Pagination = &p
		s.CurrentPage = page
		s.ImageBase = resp.Config.IIIFURL
		return nil
	})

	if !applied {
		staleResponsesTotal.Inc()
		c.logger.Debug().Int("page", page).Uint64("seq", seq).Msg("Discarding stale gallery response")
		return ErrSuperseded
	}
	c.notify(settled)

	if failure != nil {
		pageLoadsTotal.WithLabelValues(string(failure.Kind)).Inc()
		c.logger.Warn().
			Int("page", page).
			Str("kind", string(failure.Kind)).
			Str("error", failure.Message).
			Msg("Gallery page load failed")
		return failure
	}

	pageLoadsTotal.WithLabelValues("success").Inc()
	c.logger.Info().
		Int("page", page).
		Int("items", len(settled.Items)).
		Int("total_pages", settled.TotalPages()).
		Msg("Loaded gallery page")
	return nil
}

// settle applies mutate if seq is still the latest load. The loading flag is
// cleared by a deferred finalizer so it runs even if mutate panics.
func (c *Controller) settle(seq uint64, mutate func(*State) *Failure) (snapshot State, applied bool, failure *Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.seq {
		return State{}, false, nil
	}

	defer func() {
		c.state.Loading = false
		snapshot = c.state.clone()
	}()

	failure = mutate(&c.state)
	c.state.Err = failure
	return snapshot, true, failure
}

// GoToPage navigates to page. Pages below 1, or beyond the last known page,
// are rejected without a request: the state keeps its items, pagination and
// current page and records an out-of-range error. Before the first load the
// total is unknown, so the request is issued and validated on response.
//
// It reports whether a request was issued; the error is that of Load.
func (c *Controller) GoToPage(ctx context.Context, page int) (bool, error) {
	c.mu.Lock()
	if page < 1 || (c.state.Pagination != nil && page > c.state.Pagination.TotalPages) {
		failure := outOfRange(page, c.state.TotalPages())
		c.state.Err = failure
		snapshot := c.state.clone()
		c.mu.Unlock()

		pageLoadsTotal.WithLabelValues("rejected").Inc()
		c.notify(snapshot)
		return false, failure
	}
	c.mu.Unlock()

	return true, c.Load(ctx, page)
}

// NextPage moves one page forward. It is a no-op before the first load and
// on the last page.
func (c *Controller) NextPage(ctx context.Context) (bool, error) {
	c.mu.Lock()
	p := c.state.Pagination
	current := c.state.CurrentPage
	c.mu.Unlock()

	if p == nil || current >= p.TotalPages {
		return false, nil
	}
	return c.GoToPage(ctx, current+1)
}

// PreviousPage moves one page back. It is a no-op on page 1.
func (c *Controller) PreviousPage(ctx context.Context) (bool, error) {
	current := c.CurrentPage()
	if current <= 1 {
		return false, nil
	}
	return c.GoToPage(ctx, current-1)
}

// Window returns the page window for the current state, or an empty window
// before the first successful load.
func (c *Controller) Window() ([]pagination.Entry, error) {
	s := c.Snapshot()
	return pagination.VisiblePages(s.CurrentPage, s.TotalPages())
}

func (c *Controller) notify(s State) {
	if c.config.OnChange != nil {
		c.config.OnChange(s)
	}
}

// statusCoder is implemented by API errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// classify maps a fetch error to the failure shown to the user.
func classify(err error) *Failure {
	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		if code == http.StatusNotFound {
			return &Failure{
				Kind:       FailureNotFound,
				Message:    fmt.Sprintf("artworks not found: %v", err),
				StatusCode: code,
			}
		}
		if code != 0 {
			return &Failure{
				Kind:       FailureHTTP,
				Message:    fmt.Sprintf("failed to fetch artworks (status %d): %v", code, err),
				StatusCode: code,
			}
		}
	}
	return &Failure{
		Kind:    FailureNetwork,
		Message: fmt.Sprintf("failed to fetch artworks: %v", err),
	}
}
