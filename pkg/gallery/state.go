package gallery

import (
	"fmt"

	"github.com/Sternrassler/artic-gallery/pkg/artwork"
)

// FailureKind classifies why the last navigation failed.
type FailureKind string

const (
	// FailureNetwork represents transport failures (DNS, timeouts, resets).
	FailureNetwork FailureKind = "network"

	// FailureHTTP represents non-2xx responses from the API.
	FailureHTTP FailureKind = "http"

	// FailureOutOfRange represents a page beyond the last known page.
	FailureOutOfRange FailureKind = "out_of_range"

	// FailureNotFound represents a lookup that returned no record.
	FailureNotFound FailureKind = "not_found"
)

// Failure is the user-visible error of the last navigation.
type Failure struct {
	Kind       FailureKind `json:"kind"`
	Message    string      `json:"message"`
	StatusCode int         `json:"status_code,omitempty"`
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return f.Message
}

func outOfRange(page, lastPage int) *Failure {
	if page < 1 {
		return &Failure{
			Kind:    FailureOutOfRange,
			Message: fmt.Sprintf("page %d does not exist; pages start at 1", page),
		}
	}
	return &Failure{
		Kind:    FailureOutOfRange,
		Message: fmt.Sprintf("page %d does not exist; the last page is %d", page, lastPage),
	}
}

// State is the browsing state owned by a Controller. Values returned by
// Controller.Snapshot are copies and may be kept by the caller.
type State struct {
	Items       []artwork.Artwork       `json:"items"`
	Pagination  *artwork.PaginationInfo `json:"pagination"`
	Loading     bool                    `json:"loading"`
	Err         *Failure                `json:"error"`
	CurrentPage int                     `json:"current_page"`
	// ImageBase is the IIIF base URL reported with the last applied listing.
	ImageBase string `json:"image_base,omitempty"`
}

func (s State) clone() State {
	out := s
	if s.Items != nil {
		out.Items = make([]artwork.Artwork, len(s.Items))
		for i, a := range s.Items {
			out.Items[i] = a.Clone()
		}
	}
	if s.Pagination != nil {
		p := s.Pagination.Clone()
		out.Pagination = &p
	}
	if s.Err != nil {
		f := *s.Err
		out.Err = &f
	}
	return out
}

// TotalPages returns the last known page count, or 0 before the first load.
func (s State) TotalPages() int {
	if s.Pagination == nil {
		return 0
	}
	return s.Pagination.TotalPages
}
