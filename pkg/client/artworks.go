package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/Sternrassler/artic-gallery/pkg/artwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// MaxPageSize is the largest page the API serves.
const MaxPageSize = 100

// DetailFields are the fields requested for the artwork detail page.
var DetailFields = append(append([]string(nil), artwork.DefaultFields...),
	"place_of_origin",
	"dimensions",
	"medium_display",
	"credit_line",
	"is_public_domain",
	"is_on_view",
	"gallery_title",
	"department_title",
	"artwork_type_title",
	"description",
)

var tracer = otel.Tracer("github.com/Sternrassler/artic-gallery/pkg/client")

// ListArtworks fetches one page of the artwork listing.
// A page past the last one is not an error here: the API answers with an
// empty page whose metadata reports the real page count.
func (c *Client) ListArtworks(ctx context.Context, page, pageSize int, fields []string) (*artwork.ListResponse, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be >= 1 (got %d)", ErrInvalidRequest, page)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: page size must be in [1, %d] (got %d)", ErrInvalidRequest, MaxPageSize, pageSize)
	}

	ctx, span := tracer.Start(ctx, "artic.ListArtworks",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("artic.page", page),
			attribute.Int("artic.page_size", pageSize),
		))
	defer span.End()

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(pageSize))
	if len(fields) > 0 {
		query.Set("fields", artwork.FieldList(fields))
	}

	var out artwork.ListResponse
	if err := c.getJSON(ctx, "/artworks", query, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if out.Config.IIIFURL == "" {
		out.Config.IIIFURL = artwork.DefaultIIIFURL
	}

	span.SetAttributes(
		attribute.Int("artic.total_pages", out.Pagination.TotalPages),
		attribute.Int("artic.items", len(out.Data)),
	)
	return &out, nil
}

// GetArtwork fetches the detail record of one artwork.
// Unknown ids return an *APIError wrapping ErrNotFound.
func (c *Client) GetArtwork(ctx context.Context, id string) (*artwork.DetailResponse, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("%w: artwork id must be a positive integer (got %q)", ErrInvalidRequest, id)
	}

	ctx, span := tracer.Start(ctx, "artic.GetArtwork",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("artic.artwork_id", n)))
	defer span.End()

	query := url.Values{}
	query.Set("fields", artwork.FieldList(DetailFields))

	var out artwork.DetailResponse
	if err := c.getJSON(ctx, "/artworks/"+strconv.Itoa(n), query, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if out.Config.IIIFURL == "" {
		out.Config.IIIFURL = artwork.DefaultIIIFURL
	}
	return &out, nil
}

// FetchPage returns the artworks on page and the total page count, using
// the gallery's page size and fields. It serves batch exports.
func (c *Client) FetchPage(ctx context.Context, page int) ([]artwork.Artwork, int, error) {
	resp, err := c.ListArtworks(ctx, page, artwork.DefaultPageSize, artwork.DefaultFields)
	if err != nil {
		return nil, 0, err
	}
	return resp.Data, resp.Pagination.TotalPages, nil
}

// getJSON GETs endpoint and decodes the body into out. Identical requests
// in flight at the same time share one upstream call. The shared call runs
// detached from any single caller's cancellation, bounded by the client
// timeout; each caller still stops waiting when its own ctx ends.
func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	key := endpoint + "?" + query.Encode()

	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Timeout)
		defer cancel()

		resp, err := c.Get(fetchCtx, endpoint, query)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "read response body", Err: err}
		}
		return body, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return &APIError{ErrorClass: ErrorClassNetwork, Message: "request cancelled", Err: ctx.Err()}
	}

	if res.Shared {
		coalescedRequestsTotal.Inc()
	}
	if res.Err != nil {
		return res.Err
	}

	if err := json.Unmarshal(res.Val.([]byte), out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}
