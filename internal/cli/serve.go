package cli

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/mensa-client/internal/server"
	"github.com/Sternrassler/mensa-client/pkg/logging"
)

func newServeCmd(a *app) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a caching HTTP proxy for the API",
		Long: `Serve exposes the configured API under /api/ with every response going
through the fetch-through cache. /health and /metrics are served as well.

Example:
  mensa serve
  MENSA_SERVE_ADDR=:9090 mensa serve --ttl 10m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dependencies(cmd.Context())
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("ttl") {
				ttl = a.cfg.TTL.Meals
			}
			logger := logging.NewLogger("server")
			srv, err := server.New(server.Options{
				Client:  d.client,
				BaseURL: a.cfg.API.BaseURL,
				TTL:     ttl,
				Logger:  &logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, a.cfg.Serve.Addr)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "freshness window for proxied responses (default: ttl.meals)")
	cmd.Flags().String("addr", ":8080", "listen address")
	_ = a.v.BindPFlag("serve.addr", cmd.Flags().Lookup("addr"))
	return cmd
}
