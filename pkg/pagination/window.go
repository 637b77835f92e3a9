package pagination

import (
	"errors"
	"fmt"
	"strconv"
)

// WindowDelta is the number of pages shown on each side of the current page.
const WindowDelta = 2

// ErrInvalidArgument is returned when the current page lies outside [1, totalPages].
var ErrInvalidArgument = errors.New("invalid argument")

// Entry is one control in a page window: either a page number or an ellipsis
// standing for the pages skipped between two numbers.
type Entry struct {
	Page     int  `json:"page,omitempty"`
	Ellipsis bool `json:"ellipsis,omitempty"`
}

// PageEntry returns an entry for page n.
func PageEntry(n int) Entry { return Entry{Page: n} }

// EllipsisEntry returns an ellipsis marker.
func EllipsisEntry() Entry { return Entry{Ellipsis: true} }

// String renders the entry as it is labeled in the control.
func (e Entry) String() string {
	if e.Ellipsis {
		return "..."
	}
	return strconv.Itoa(e.Page)
}

// VisiblePages computes the compressed list of page controls for the given
// position: page 1, the pages within WindowDelta of currentPage, and the last
// page, with an ellipsis wherever pages are skipped.
//
//	VisiblePages(5, 10) -> [1 ... 3 4 5 6 7 ... 10]
//
// An empty window is returned when there are no pages. A currentPage outside
// [1, totalPages] yields ErrInvalidArgument.
func VisiblePages(currentPage, totalPages int) ([]Entry, error) {
	if totalPages < 1 {
		return []Entry{}, nil
	}

	if currentPage < 1 || currentPage > totalPages {
		return nil, fmt.Errorf("%w: currentPage (%d) must be between 1 and %d",
			ErrInvalidArgument, currentPage, totalPages)
	}

	if totalPages == 1 {
		return []Entry{PageEntry(1)}, nil
	}

	start := max(2, currentPage-WindowDelta)
	end := min(totalPages-1, currentPage+WindowDelta)

	entries := make([]Entry, 0, end-start+5)

	entries = append(entries, PageEntry(1))
	if currentPage-WindowDelta > 2 {
		entries = append(entries, EllipsisEntry())
	}

	for i := start; i <= end; i++ {
		entries = append(entries, PageEntry(i))
	}

	if currentPage+WindowDelta < totalPages-1 {
		entries = append(entries, EllipsisEntry())
	}
	entries = append(entries, PageEntry(totalPages))

	return entries, nil
}

// Labels renders a window as the strings shown on its controls.
func Labels(entries []Entry) []string {
	labels := make([]string, len(entries))
	for i, e := range entries {
		labels[i] = e.String()
	}
	return labels
}

// TotalPages returns ceil(total/limit), never less than one page.
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 1
	}
	return (total + limit - 1) / limit
}

// Offset returns the number of items preceding page.
func Offset(page, limit int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * limit
}
