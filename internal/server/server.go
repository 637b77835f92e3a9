// Package server exposes the gallery over HTTP as JSON.
//
// Every gallery request drives its own gallery.Controller started at the
// requested page, so the page in the URL is the only navigation state. The
// API client underneath shares its caches and request budget across
// requests.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/artwork"
	"github.com/Sternrassler/artic-gallery/pkg/client"
	"github.com/Sternrassler/artic-gallery/pkg/gallery"
	"github.com/Sternrassler/artic-gallery/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// API is the part of the collection client the server uses.
type API interface {
	gallery.Lister
	GetArtwork(ctx context.Context, id string) (*artwork.DetailResponse, error)
	Get(ctx context.Context, endpoint string, query url.Values) (*http.Response, error)
	Ping(ctx context.Context) error
	BreakerState() string
}

// Config holds the server configuration.
type Config struct {
	// Mode is the gin mode: debug, release or test
	Mode string

	// PageSize is the number of artworks per gallery page
	PageSize int

	// ReadyTimeout bounds the dependency checks of /ready
	ReadyTimeout time.Duration
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Mode:         gin.ReleaseMode,
		PageSize:     artwork.DefaultPageSize,
		ReadyTimeout: 2 * time.Second,
	}
}

// Server serves the gallery, artwork details, health and metrics.
type Server struct {
	engine *gin.Engine
	api    API
	config Config
	logger zerolog.Logger
}

// New creates a server backed by api.
func New(api API, cfg Config) (*Server, error) {
	if api == nil {
		return nil, fmt.Errorf("api client is required")
	}
	defaults := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = defaults.Mode
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaults.ReadyTimeout
	}

	gin.SetMode(cfg.Mode)

	s := &Server{
		engine: gin.New(),
		api:    api,
		config: cfg,
		logger: log.With().Str("component", "server").Logger(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery(), RequestID(), AccessLog(s.logger), Metrics())

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.engine.GET(RootPath, func(c *gin.Context) {
		c.Redirect(http.StatusFound, GalleryPath)
	})
	s.engine.GET(GalleryPath, s.handleGallery)
	s.engine.GET(ArtworkPath, s.handleArtwork)
	s.engine.GET(ProxyPath, s.handleProxy)
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully,
// waiting at most shutdownTimeout for in-flight requests.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting gallery server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Dur("timeout", shutdownTimeout).Msg("Shutting down gallery server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.ReadyTimeout)
	defer cancel()

	breaker := s.api.BreakerState()
	if err := s.api.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":          "not ready",
			"redis":           err.Error(),
			"circuit_breaker": breaker,
		})
		return
	}
	if breaker == "open" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":          "not ready",
			"circuit_breaker": breaker,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready", "circuit_breaker": breaker})
}

// handleGallery serves GET /gallery?page=N. A missing page means page 1.
func (s *Server) handleGallery(c *gin.Context) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.fail(c, http.StatusBadRequest, "", fmt.Sprintf("invalid page %q: pages start at 1", raw))
			return
		}
		page = n
	}

	ctrl, err := gallery.NewController(s.api, gallery.Config{
		PageSize:    s.config.PageSize,
		Fields:      artwork.DefaultFields,
		InitialPage: page,
	})
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "", err.Error())
		return
	}

	if err := ctrl.Start(c.Request.Context()); err != nil {
		var failure *gallery.Failure
		if errors.As(err, &failure) {
			s.fail(c, failureStatus(failure), string(failure.Kind), failure.Message)
			return
		}
		s.fail(c, http.StatusInternalServerError, "", err.Error())
		return
	}

	window, err := ctrl.Window()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "", err.Error())
		return
	}
	c.JSON(http.StatusOK, newGalleryView(ctrl.Snapshot(), window))
}

// handleArtwork serves GET /artwork/:id.
func (s *Server) handleArtwork(c *gin.Context) {
	resp, err := s.api.GetArtwork(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, errorStatus(err), "", err.Error())
		return
	}
	c.JSON(http.StatusOK, newDetailView(resp))
}

// handleProxy passes GET /api/v1/... through the client, so callers share
// its caches and request budget.
func (s *Server) handleProxy(c *gin.Context) {
	resp, err := s.api.Get(c.Request.Context(), c.Param("endpoint"), c.Request.URL.Query())
	if err != nil {
		s.fail(c, errorStatus(err), "", fmt.Sprintf("upstream request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified", "Expires"} {
		if v := resp.Header.Get(h); v != "" {
			c.Header(h, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		s.logger.Warn().Err(err).Str("endpoint", c.Param("endpoint")).Msg("Failed to copy upstream body")
	}
}

func (s *Server) fail(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, ErrorView{
		Error:     message,
		Kind:      kind,
		RequestID: c.GetString(requestIDKey),
	})
}

// failureStatus maps a gallery failure to the response status.
func failureStatus(f *gallery.Failure) int {
	switch f.Kind {
	case gallery.FailureOutOfRange, gallery.FailureNotFound:
		return http.StatusNotFound
	case gallery.FailureHTTP:
		if f.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
	}
	return http.StatusBadGateway
}

// errorStatus maps a client error to the response status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, client.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, client.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, client.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, client.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return apiErr.StatusCode
	}
	return http.StatusBadGateway
}
