package pagination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/artwork"
)

// fakeFetcher serves totalPages pages of pageSize artworks each.
type fakeFetcher struct {
	mu         sync.Mutex
	totalPages int
	pageSize   int
	failPage   int
	calls      map[int]int
}

func newFakeFetcher(totalPages, pageSize int) *fakeFetcher {
	return &fakeFetcher{totalPages: totalPages, pageSize: pageSize, calls: make(map[int]int)}
}

func (f *fakeFetcher) FetchPage(_ context.Context, page int) ([]artwork.Artwork, int, error) {
	f.mu.Lock()
	f.calls[page]++
	f.mu.Unlock()

	if page == f.failPage {
		return nil, 0, errors.New("upstream unavailable")
	}

	items := make([]artwork.Artwork, 0, f.pageSize)
	for i := 0; i < f.pageSize; i++ {
		items = append(items, artwork.Artwork{ID: (page-1)*f.pageSize + i + 1})
	}
	return items, f.totalPages, nil
}

func (f *fakeFetcher) callCount(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[page]
}

func TestNewBatchFetcher_Defaults(t *testing.T) {
	bf := NewBatchFetcher(newFakeFetcher(1, 1), Config{})

	if bf.config.MaxConcurrency != DefaultConfig().MaxConcurrency {
		t.Errorf("MaxConcurrency = %d, want %d", bf.config.MaxConcurrency, DefaultConfig().MaxConcurrency)
	}
	if bf.config.Timeout != DefaultConfig().Timeout {
		t.Errorf("Timeout = %v, want %v", bf.config.Timeout, DefaultConfig().Timeout)
	}
	if bf.config.MaxPages != DefaultConfig().MaxPages {
		t.Errorf("MaxPages = %d, want %d", bf.config.MaxPages, DefaultConfig().MaxPages)
	}
}

func TestBatchFetcher_FetchPages(t *testing.T) {
	tests := []struct {
		name       string
		totalPages int
		from       int
		to         int
		maxPages   int
		wantPages  []int
	}{
		{name: "all pages", totalPages: 7, from: 1, to: 0, wantPages: []int{1, 2, 3, 4, 5, 6, 7}},
		{name: "sub range", totalPages: 20, from: 3, to: 5, wantPages: []int{3, 4, 5}},
		{name: "range clamped to last page", totalPages: 4, from: 2, to: 10, wantPages: []int{2, 3, 4}},
		{name: "single page", totalPages: 1, from: 1, to: 0, wantPages: []int{1}},
		{name: "capped by max pages", totalPages: 50, from: 1, to: 0, maxPages: 3, wantPages: []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFakeFetcher(tt.totalPages, 2)
			bf := NewBatchFetcher(fetcher, Config{MaxConcurrency: 3, Timeout: time.Second, MaxPages: tt.maxPages})

			results, err := bf.FetchPages(context.Background(), tt.from, tt.to)
			if err != nil {
				t.Fatalf("FetchPages() unexpected error: %v", err)
			}

			if len(results) != len(tt.wantPages) {
				t.Fatalf("FetchPages() returned %d pages, want %d", len(results), len(tt.wantPages))
			}
			for _, page := range tt.wantPages {
				items, ok := results[page]
				if !ok {
					t.Errorf("page %d missing from results", page)
					continue
				}
				if len(items) != 2 || items[0].ID != (page-1)*2+1 {
					t.Errorf("page %d items = %+v", page, items)
				}
				if n := fetcher.callCount(page); n != 1 {
					t.Errorf("page %d fetched %d times, want 1", page, n)
				}
			}
		})
	}
}

func TestBatchFetcher_InvalidRange(t *testing.T) {
	bf := NewBatchFetcher(newFakeFetcher(5, 1), DefaultConfig())

	if _, err := bf.FetchPages(context.Background(), 0, 3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("from=0 error = %v, want ErrInvalidArgument", err)
	}
	if _, err := bf.FetchPages(context.Background(), 4, 2); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("to<from error = %v, want ErrInvalidArgument", err)
	}
	if _, err := bf.FetchPages(context.Background(), 9, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("from past last page error = %v, want ErrInvalidArgument", err)
	}
}

func TestBatchFetcher_FirstPageError(t *testing.T) {
	fetcher := newFakeFetcher(5, 1)
	fetcher.failPage = 1
	bf := NewBatchFetcher(fetcher, DefaultConfig())

	results, err := bf.FetchPages(context.Background(), 1, 0)
	if err == nil {
		t.Fatal("FetchPages() expected error when first page fails")
	}
	if results != nil {
		t.Errorf("FetchPages() results = %v, want nil", results)
	}
}

func TestBatchFetcher_PartialResults(t *testing.T) {
	fetcher := newFakeFetcher(6, 1)
	fetcher.failPage = 4
	bf := NewBatchFetcher(fetcher, Config{MaxConcurrency: 1, Timeout: time.Second})

	results, err := bf.FetchPages(context.Background(), 1, 0)
	if err == nil {
		t.Fatal("FetchPages() expected worker error")
	}
	if _, ok := results[1]; !ok {
		t.Error("partial results should contain page 1")
	}
	if _, ok := results[4]; ok {
		t.Error("partial results should not contain the failed page")
	}
}
