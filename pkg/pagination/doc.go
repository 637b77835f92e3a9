// Package pagination computes page windows and fetches ranges of artwork
// listing pages in parallel.
//
// # Page windows
//
// VisiblePages compresses a long page list into the controls a gallery
// shows: the first page, the last page, the pages within WindowDelta of the
// current one, and an ellipsis for every skipped run.
//
//	entries, err := pagination.VisiblePages(5, 10)
//	// [1 ... 3 4 5 6 7 ... 10]
//
// # Batch fetching
//
// BatchFetcher fetches a page range with a small worker pool. The results
// channel is buffered for the whole range so workers never block on send.
//
//	fetcher := pagination.NewBatchFetcher(pageFetcher, pagination.DefaultConfig())
//	pages, err := fetcher.FetchPages(ctx, 1, 10)
//
// The batch fetcher:
//   - Fetches the first page of the range to learn the total page count
//   - Clamps the range to the last page and Config.MaxPages
//   - Distributes remaining pages across workers
//   - Returns partial data together with the first worker error
package pagination
