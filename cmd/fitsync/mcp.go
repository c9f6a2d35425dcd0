package main

import (
	"context"

	"github.com/hyperengineering/fitsync"
	fitsyncmcp "github.com/hyperengineering/fitsync/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for agent integration",
	Long: `Start a Model Context Protocol (MCP) server over stdio so agents can
log workouts and inspect the sync queue.

Example client configuration:

  {
    "mcpServers": {
      "fitsync": {
        "command": "fitsync",
        "args": ["mcp"],
        "env": {
          "FITSYNC_PROFILE": "default",
          "FITSYNC_API_URL": "https://api.example.com",
          "FITSYNC_TOKEN": "..."
        }
      }
    }
  }

Without FITSYNC_API_URL the tools still log locally and queue changes.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	// The client persists for the server lifetime, so background drains run.
	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.remote != nil {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go fitsync.NewProber(a.remote, a.client.Monitor(), a.config.ProbeInterval, a.config.Logger).Run(ctx)
	}

	return fitsyncmcp.NewServer(a.client).Run()
}
