package cli

import (
	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run Reverie as an MCP server over stdio",
		Long: `Expose Reverie's memory to MCP-capable assistants. The server offers
get_context, search_memory, upload_file, and file_status tools.

Register it in your assistant's MCP configuration as:
  command: reverie
  args:    ["mcp"]`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadGlobal()
			if err != nil {
				cfg = config.DefaultGlobal()
			}
			logger := newLogger(cfg)

			database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			return mcp.NewServer(database, cfg, version, logger).Serve()
		},
	}
}
