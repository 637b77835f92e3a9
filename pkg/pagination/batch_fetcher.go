package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/artwork"
	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests.
	// The API allows 60 req/min per client, so a handful of workers is plenty.
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
	// MaxPages caps how many pages one batch may request
	MaxPages int
}

// DefaultConfig returns safe default configuration for the collection API
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
		MaxPages:       500,
	}
}

// PageFetcher fetches a single listing page.
type PageFetcher interface {
	// FetchPage returns the artworks on page and the total page count
	FetchPage(ctx context.Context, page int) (items []artwork.Artwork, totalPages int, err error)
}

// PageResult represents the result of fetching a single page
type PageResult struct {
	PageNumber int
	Items      []artwork.Artwork
	Error      error
}

// BatchFetcher handles parallel fetching of multiple pages
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	defaults := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaults.MaxPages
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchPages fetches pages from..to (inclusive) using a worker pool.
// A to of 0 means "through the last page". The first page of the range is
// fetched alone to learn the total page count; the range is clamped to it.
// On worker failure the pages fetched so far are returned with the error.
func (bf *BatchFetcher) FetchPages(ctx context.Context, from, to int) (map[int][]artwork.Artwork, error) {
	start := time.Now()

	if from < 1 {
		return nil, fmt.Errorf("%w: from page must be >= 1 (got %d)", ErrInvalidArgument, from)
	}
	if to != 0 && to < from {
		return nil, fmt.Errorf("%w: to page %d before from page %d", ErrInvalidArgument, to, from)
	}

	firstItems, totalPages, err := bf.fetcher.FetchPage(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page %d: %w", from, err)
	}

	if from > totalPages {
		return nil, fmt.Errorf("%w: page %d does not exist (last page is %d)", ErrInvalidArgument, from, totalPages)
	}

	last := totalPages
	if to != 0 && to < last {
		last = to
	}
	if last-from+1 > bf.config.MaxPages {
		last = from + bf.config.MaxPages - 1
	}

	log.Info().
		Int("from", from).
		Int("to", last).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	results := map[int][]artwork.Artwork{from: firstItems}

	if last == from {
		log.Info().
			Int("pages", 1).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return results, nil
	}

	pageQueue := make(chan int, last-from)
	pageResults := make(chan PageResult, last-from)

	for page := from + 1; page <= last; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	var wg sync.WaitGroup
	for i := 0; i < bf.config.MaxConcurrency; i++ {
		wg.Add(1)
		go bf.worker(ctx, pageQueue, pageResults, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
	}()

	var firstErr error
	fetchedPages := 1
	expected := last - from + 1
	for result := range pageResults {
		if result.Error != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("page %d: %w", result.PageNumber, result.Error)
			}
			continue
		}

		results[result.PageNumber] = result.Items
		fetchedPages++

		if fetchedPages%50 == 0 {
			log.Info().
				Int("fetched", fetchedPages).
				Int("total", expected).
				Float64("progress_pct", float64(fetchedPages)/float64(expected)*100).
				Msg("Fetch progress")
		}
	}

	if firstErr != nil {
		log.Warn().
			Err(firstErr).
			Int("fetched_pages", fetchedPages).
			Int("expected_pages", expected).
			Msg("Worker error - returning partial results")
		return results, fmt.Errorf("worker error (partial data: %d/%d pages): %w", fetchedPages, expected, firstErr)
	}

	if err := ctx.Err(); err != nil && fetchedPages < expected {
		return results, fmt.Errorf("fetch cancelled (partial data: %d/%d pages): %w", fetchedPages, expected, err)
	}

	log.Info().
		Int("pages", fetchedPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

// worker processes pages from the queue
func (bf *BatchFetcher) worker(ctx context.Context, pageQueue <-chan int, results chan<- PageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		items, _, err := bf.fetcher.FetchPage(pageCtx, pageNum)
		cancel()

		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", pageNum).
				Msg("Page fetch failed")
			results <- PageResult{PageNumber: pageNum, Error: err}
			return
		}

		results <- PageResult{PageNumber: pageNum, Items: items}
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}
