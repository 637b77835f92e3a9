package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Sternrassler/artic-gallery/internal/server"
	"github.com/Sternrassler/artic-gallery/pkg/artwork"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newShowCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one artwork",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := a.newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := c.GetArtwork(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("show artwork %s: %w", args[0], err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp.Data)
			}
			printDetail(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}

func printDetail(out io.Writer, resp *artwork.DetailResponse) {
	d := resp.Data

	fmt.Fprintln(out, d.Title)
	fmt.Fprintln(out, d.ArtistDisplay)
	fmt.Fprintln(out)

	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(out, "%-12s %s\n", name+":", value)
		}
	}
	field("Date", lo.FromPtr(d.DateDisplay))
	field("Origin", d.PlaceOfOrigin)
	field("Medium", d.MediumDisplay)
	field("Dimensions", d.Dimensions)
	field("Credit", d.CreditLine)
	field("Department", d.DepartmentTitle)
	field("Type", d.ArtworkTypeTitle)
	field("Public", lo.Ternary(d.IsPublicDomain, "public domain", "copyrighted"))
	if d.IsOnView {
		gallery := lo.FromPtr(d.GalleryTitle)
		field("On view", lo.Ternary(gallery != "", gallery, "yes"))
	} else {
		field("On view", "no")
	}

	if u, ok := artwork.ImageURL(resp.Config.IIIFURL, d.ImageID); ok {
		field("Image", u)
	} else {
		field("Image", server.NoImageText)
	}

	if text := artwork.PlainDescription(lo.FromPtr(d.Description)); text != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, text)
	}

	fmt.Fprintln(out)
	field("Route", server.ArtworkRoute(d.ID))
	field("Back", server.RootPath)
}
