package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/artic-gallery/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gallery over HTTP",
		Long: `Serve the gallery as JSON on /gallery?page=N and /artwork/:id, with
/health, /ready and /metrics. SIGINT or SIGTERM shuts the server down
gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, cleanup, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			srv, err := server.New(c, server.Config{
				Mode:     a.config.Server.Mode,
				PageSize: a.config.Gallery.PageSize,
			})
			if err != nil {
				return err
			}

			if addr == "" {
				addr = a.config.Server.Address
			}
			a.logger.Info().
				Str("addr", addr).
				Str("api", a.config.API.BaseURL).
				Str("user_agent", a.config.API.UserAgent).
				Msg("Serving gallery")
			return srv.Run(ctx, addr, a.config.Server.ShutdownTimeout)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}
