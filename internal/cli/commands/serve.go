package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapframe/internal/config"
	"github.com/leapstack-labs/leapframe/internal/server"
	"github.com/leapstack-labs/leapframe/pkg/wire"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve workers over WebSocket",
		Long: `Start an HTTP server whose /ws endpoint speaks the worker protocol.

Every connection is an independent session over one shared catalog.
/healthz reports the server status and the catalog's table names.`,
		Example: `  leapframe serve --listen :8787 --codec msgpack`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := config.FromContext(ctx)
			codec, err := wire.CodecByName(cfg.Codec)
			if err != nil {
				return err
			}
			srv := server.New(server.Config{
				Addr:   cfg.Listen,
				Codec:  codec,
				Logger: config.GetLogger(ctx),
			})
			return srv.Serve(ctx)
		},
	}
}
