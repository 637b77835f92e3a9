// Package cli implements the gallery command line: the HTTP server, an
// interactive browser, artwork lookup and batch export.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/Sternrassler/artic-gallery/internal/config"
	"github.com/Sternrassler/artic-gallery/pkg/client"
	"github.com/Sternrassler/artic-gallery/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// app carries what the subcommands share once the root command has
// loaded the configuration.
type app struct {
	configFile string
	envFiles   []string
	logLevel   string
	pretty     bool

	config *config.Configuration
	logger zerolog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "Browse the Art Institute of Chicago collection",
		Long: `gallery pages through the public collection of the Art Institute of
Chicago. It serves the gallery over HTTP, browses it in the terminal, shows
single artworks and exports page ranges as JSON lines.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file (default is gallery.yaml in ., ./config or /etc/artic-gallery)")
	flags.StringSliceVar(&a.envFiles, "env-file", nil, "env files to load (default is ./.env)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&a.pretty, "pretty", false, "human-readable logs")

	cmd.AddCommand(
		newServeCmd(a),
		newBrowseCmd(a),
		newShowCmd(a),
		newExportCmd(a),
	)
	return cmd
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile, a.envFiles...)
	if err != nil {
		return err
	}

	if a.logLevel != "" {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.Logging.Level = a.logLevel
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Logging.Pretty = a.pretty
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	a.logger = logging.Setup(logCfg)
	a.config = cfg
	return nil
}

// newClient builds the API client, connecting to Redis when an address is
// configured. The returned cleanup releases both.
func (a *app) newClient(ctx context.Context) (*client.Client, func(), error) {
	var rdb *redis.Client
	if opts := a.config.RedisOptions(); opts != nil {
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		a.logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	c, err := client.New(a.config.ClientConfig(rdb))
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, nil, fmt.Errorf("create client: %w", err)
	}

	cleanup := func() {
		c.Close()
		if rdb != nil {
			rdb.Close()
		}
	}
	return c, cleanup, nil
}
