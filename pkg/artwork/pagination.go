package artwork

import (
	"errors"
	"fmt"
)

// ErrInvalidPagination is returned by PaginationInfo.Validate.
var ErrInvalidPagination = errors.New("invalid pagination metadata")

// PaginationInfo is the server-reported pagination metadata of a listing.
type PaginationInfo struct {
	Total       int     `json:"total"`        // Total number of artworks in the collection
	Limit       int     `json:"limit"`        // Artworks per page
	Offset      int     `json:"offset"`       // Artworks skipped before this page
	TotalPages  int     `json:"total_pages"`  // ceil(Total / Limit)
	CurrentPage int     `json:"current_page"` // 1-based
	PrevURL     *string `json:"prev_url,omitempty"`
	NextURL     *string `json:"next_url,omitempty"`
}

// Validate checks the invariants of the metadata: a positive limit, at
// least one page and a current page within [1, TotalPages].
func (p PaginationInfo) Validate() error {
	if p.Total < 0 {
		return fmt.Errorf("%w: total must be >= 0 (got %d)", ErrInvalidPagination, p.Total)
	}
	if p.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0 (got %d)", ErrInvalidPagination, p.Limit)
	}
	if p.TotalPages < 1 {
		return fmt.Errorf("%w: total_pages must be >= 1 (got %d)", ErrInvalidPagination, p.TotalPages)
	}
	if p.CurrentPage < 1 || p.CurrentPage > p.TotalPages {
		return fmt.Errorf("%w: current_page %d outside [1, %d]",
			ErrInvalidPagination, p.CurrentPage, p.TotalPages)
	}
	return nil
}

// Clone returns a copy of p that shares no pointers with it.
func (p PaginationInfo) Clone() PaginationInfo {
	out := p
	out.PrevURL = clonePtr(p.PrevURL)
	out.NextURL = clonePtr(p.NextURL)
	return out
}

// HasNext reports whether a page follows the current one.
func (p PaginationInfo) HasNext() bool {
	return p.CurrentPage < p.TotalPages
}

// HasPrevious reports whether a page precedes the current one.
func (p PaginationInfo) HasPrevious() bool {
	return p.CurrentPage > 1
}
