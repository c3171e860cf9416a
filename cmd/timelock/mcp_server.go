package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/timelock/internal/mcp"
)

func newMCPServerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Start a read-only MCP server for AI assistants",
		Long: `Start an MCP (Model Context Protocol) server over stdio that lets AI
assistants read the journal. The server never modifies entries.

Available tools:
  - journal_list:   List entries with titles and sealed/locked flags (no content)
  - journal_read:   Read one entry; locked entries are refused while a PIN is set
  - journal_verify: Check sealed entries for tampering

Reads are recorded in the audit log with source "mcp".

Example MCP configuration:
  {
    "mcpServers": {
      "timelock": {
        "type": "stdio",
        "command": "/path/to/timelock",
        "args": ["mcp-server"]
      }
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &mcp.ServerOptions{
				Store:  a.store,
				Logger: a.logger.Named("mcp"),
			}
			if a.audit != nil {
				opts.Auditor = a.audit
			}
			server, err := mcp.NewServer(opts)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := server.Run(ctx); err != nil {
				// Don't report shutdown as an error
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}
}
