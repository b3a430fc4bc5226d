package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapframe/pkg/query"
)

// NewASTCommand creates the ast command.
func NewASTCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ast <query.json>",
		Short: "Print the AST of a serialized query",
		Long:  `Read a serialized query and print its abstract syntax tree as JSON.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read query: %w", err)
			}
			q, err := query.Parse(content)
			if err != nil {
				return err
			}
			ast, err := q.ToAST()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ast)
		},
	}
}
