package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapframe/internal/config"
	"github.com/leapstack-labs/leapframe/pkg/wire"
	"github.com/leapstack-labs/leapframe/pkg/worker"
)

// NewWorkerCommand creates the worker command.
func NewWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Serve the worker protocol over stdin and stdout",
		Long: `Run a single worker session on length-prefixed frames read from stdin,
writing replies to stdout. Logs go to stderr. The session ends when stdin
closes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := config.FromContext(ctx)
			codec, err := wire.CodecByName(cfg.Codec)
			if err != nil {
				return err
			}
			srv := worker.NewServer(worker.Config{Codec: codec, Logger: config.GetLogger(ctx)})
			defer func() { _ = srv.Close() }()

			conn := wire.NewStreamConnPair(cmd.InOrStdin(), cmd.OutOrStdout(), nil)
			return srv.Serve(ctx, conn)
		},
	}
}
