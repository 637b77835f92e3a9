package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/artwork"
	"github.com/Sternrassler/artic-gallery/pkg/pagination"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		from   int
		to     int
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export listing pages as JSON lines",
		Long: `Fetch the listing pages from..to in parallel and write one artwork per
line, in page order. --to 0 exports through the last page. When a page
fails, the pages already fetched are written and the command fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, cleanup, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			bf := pagination.NewBatchFetcher(c, pagination.Config{
				MaxConcurrency: a.config.Export.Concurrency,
				Timeout:        a.config.Export.PageTimeout,
				MaxPages:       a.config.Export.MaxPages,
			})

			start := time.Now()
			results, fetchErr := bf.FetchPages(ctx, from, to)
			if results == nil && fetchErr != nil {
				return fmt.Errorf("export: %w", fetchErr)
			}

			out := cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				out = f
			}

			n, err := writeJSONLines(out, results)
			if err != nil {
				return fmt.Errorf("write export: %w", err)
			}

			a.logger.Info().
				Int("pages", len(results)).
				Int("artworks", n).
				Dur("duration", time.Since(start)).
				Msg("Export written")

			if fetchErr != nil {
				return fmt.Errorf("export incomplete (%d artworks written): %w", n, fetchErr)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&from, "from", 1, "first page")
	cmd.Flags().IntVar(&to, "to", 0, "last page (0 for the last page of the collection)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (- for stdout)")
	return cmd
}

// writeJSONLines writes the artworks of every page, ordered by page, and
// returns how many were written.
func writeJSONLines(w io.Writer, pages map[int][]artwork.Artwork) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	order := lo.Keys(pages)
	slices.Sort(order)

	n := 0
	for _, page := range order {
		for _, a := range pages[page] {
			if err := enc.Encode(a); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, bw.Flush()
}
