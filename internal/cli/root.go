// Package cli provides the command-line interface for leapframe.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapframe/internal/cli/commands"
	"github.com/leapstack-labs/leapframe/internal/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "leapframe",
		Short: "leapframe - deferred table queries over a worker protocol",
		Long: `leapframe builds serializable table queries and evaluates them in a worker.

A worker keeps a catalog of named tables. Clients add or load tables, send
queries as JSON verb lists and receive result tables as JSON or Arrow.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, used, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			level, _ := cfg.Level()
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			if used != "" {
				logger.Debug("using config file", "path", used)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(config.WithContext(ctx, cfg, logger))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./leapframe.yaml)")
	flags.String("listen", "", "Address for serve to listen on")
	flags.String("transport", "", "Worker transport for query (websocket|stdio)")
	flags.String("codec", "", "Envelope codec (json|msgpack)")
	flags.String("format", "", "Table transfer format (json|arrow)")
	flags.Duration("timeout", 0, "Per-request timeout (0 disables)")
	flags.String("log-level", "", "Log level (debug|info|warn|error)")
	flags.StringP("output", "o", "", "Output format (auto|table|json)")
	flags.String("url", "", "Worker WebSocket URL")

	completions := map[string][]string{
		"output":    {"auto", "table", "json"},
		"transport": {"websocket", "stdio"},
		"codec":     {"json", "msgpack"},
		"format":    {"json", "arrow"},
		"log-level": {"debug", "info", "warn", "error"},
	}
	for name, values := range completions {
		_ = rootCmd.RegisterFlagCompletionFunc(name, func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return values, cobra.ShellCompDirectiveNoFileComp
		})
	}

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewWorkerCommand())
	rootCmd.AddCommand(commands.NewQueryCommand())
	rootCmd.AddCommand(commands.NewASTCommand())

	return rootCmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
