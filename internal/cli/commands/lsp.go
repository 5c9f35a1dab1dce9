package commands

import (
	"os"

	"github.com/leapstack-labs/schemasync/internal/config"
	"github.com/leapstack-labs/schemasync/internal/lsp"
	"github.com/spf13/cobra"
)

// NewLSPCommand creates the lsp command.
func NewLSPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Start the companion language server",
		Long: `Start the companion language server on stdin/stdout.

The server speaks JSON-RPC with Content-Length framing. It accepts the
custom setSchema notification, answers completion requests from the
pushed schema and publishes foldingRanges for open documents. Logs go
to stderr.`,
		Example: `  # Started by "schemasync watch" on desktop hosts
  schemasync lsp`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := config.GetLogger(cmd.Context())
			server := lsp.NewServer(os.Stdin, os.Stdout, logger)
			return server.Run()
		},
	}

	return cmd
}
