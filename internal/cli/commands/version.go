package commands

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapframe/pkg/wire"
)

var protocolMethods = []wire.Method{
	wire.MethodAdd, wire.MethodDrop, wire.MethodFetch, wire.MethodList,
	wire.MethodLoad, wire.MethodQuery, wire.MethodSeed,
}

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Print the leapframe version, the Go runtime it was built with and the worker protocol it speaks.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if short {
				_, _ = fmt.Fprintln(out, version)
				return
			}
			names := make([]string, len(protocolMethods))
			for i, m := range protocolMethods {
				names[i] = string(m)
			}
			_, _ = fmt.Fprintf(out, "leapframe v%s\n", version)
			_, _ = fmt.Fprintf(out, "go:       %s\n", runtime.Version())
			_, _ = fmt.Fprintf(out, "methods:  %s\n", strings.Join(names, ", "))
			_, _ = fmt.Fprintf(out, "codecs:   %s, %s\n", wire.JSON.Name(), wire.MsgPack.Name())
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
