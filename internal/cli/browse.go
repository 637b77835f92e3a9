package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Sternrassler/artic-gallery/internal/server"
	"github.com/Sternrassler/artic-gallery/pkg/artwork"
	"github.com/Sternrassler/artic-gallery/pkg/gallery"
	"github.com/Sternrassler/artic-gallery/pkg/pagination"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

const browseHelp = `commands:
  n        next page
  p        previous page
  g N      go to page N
  r        reload the current page
  h        this help
  q        quit`

func newBrowseCmd(a *app) *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Page through the collection in the terminal",
		Long:  "Page through the collection in the terminal.\n\n" + browseHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, cleanup, err := a.newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			ctrl, err := gallery.NewController(c, gallery.Config{
				PageSize:    a.config.Gallery.PageSize,
				InitialPage: page,
			})
			if err != nil {
				return err
			}
			return browse(cmd.Context(), ctrl, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page to start on")
	return cmd
}

// browse reads commands from in until "q" or EOF and prints the gallery
// state after every navigation. Load failures are shown, not returned.
func browse(ctx context.Context, ctrl *gallery.Controller, in io.Reader, out io.Writer) error {
	if err := ctrl.Start(ctx); err != nil && !isFailure(err) {
		return err
	}
	render(out, ctrl)

	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			fmt.Fprint(out, "> ")
			continue
		}

		var (
			moved bool
			err   error
		)
		switch fields[0] {
		case "q", "quit":
			return nil
		case "n", "next":
			if moved, err = ctrl.NextPage(ctx); !moved && err == nil {
				fmt.Fprintln(out, "already on the last page")
			}
		case "p", "prev":
			if moved, err = ctrl.PreviousPage(ctx); !moved && err == nil {
				fmt.Fprintln(out, "already on the first page")
			}
		case "g", "go":
			page, convErr := pageArg(fields)
			if convErr != nil {
				fmt.Fprintln(out, convErr)
				break
			}
			moved, err = ctrl.GoToPage(ctx, page)
		case "r", "reload":
			moved, err = true, ctrl.Reload(ctx)
		case "h", "help", "?":
			fmt.Fprintln(out, browseHelp)
		default:
			fmt.Fprintf(out, "unknown command %q (h for help)\n", fields[0])
		}

		if err != nil && !isFailure(err) {
			return err
		}
		if moved || err != nil {
			render(out, ctrl)
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func pageArg(fields []string) (int, error) {
	if len(fields) != 2 {
		return 0, errors.New("usage: g N")
	}
	page, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("%q is not a page number", fields[1])
	}
	return page, nil
}

func isFailure(err error) bool {
	var failure *gallery.Failure
	return errors.As(err, &failure)
}

// render prints the page listing, the page window and the shareable route.
func render(out io.Writer, ctrl *gallery.Controller) {
	s := ctrl.Snapshot()

	if s.Err != nil {
		fmt.Fprintf(out, "error: %s\n", s.Err.Message)
	}
	if s.Pagination == nil {
		fmt.Fprintln(out, "nothing loaded yet; r to retry")
		return
	}

	fmt.Fprintf(out, "Page %d of %d (%d artworks)\n", s.CurrentPage, s.TotalPages(), s.Pagination.Total)
	for _, a := range s.Items {
		line := fmt.Sprintf("  %7d  %s | %s", a.ID, a.Title, firstLine(a.ArtistDisplay))
		if a.DateDisplay != nil && *a.DateDisplay != "" {
			line += " | " + *a.DateDisplay
		}
		if _, ok := artwork.ImageURL(s.ImageBase, a.ImageID); !ok {
			line += " | " + server.NoImageText
		}
		fmt.Fprintln(out, line)
	}

	window, err := pagination.VisiblePages(s.CurrentPage, s.TotalPages())
	if err == nil {
		labels := lo.Map(window, func(e pagination.Entry, _ int) string {
			if !e.Ellipsis && e.Page == s.CurrentPage {
				return "[" + e.String() + "]"
			}
			return e.String()
		})
		fmt.Fprintf(out, "pages: %s\n", strings.Join(labels, " "))
	}
	fmt.Fprintf(out, "route: %s\n", server.GalleryRoute(s.CurrentPage))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
