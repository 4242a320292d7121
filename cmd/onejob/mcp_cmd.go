package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/onejob/onejob/internal/audit"
	"github.com/onejob/onejob/internal/controlplane"
	"github.com/onejob/onejob/internal/logging"
	"github.com/onejob/onejob/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the task stack as MCP tools over stdio",
	Long: `Runs a Model Context Protocol server on stdin/stdout so assistants can
read and reorder the stack. It opens the database directly; stdout carries
the protocol, so logs go to stderr.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&dbDriver, "driver", "", "Database driver (sqlite or postgres)")
	mcpCmd.Flags().StringVar(&dbDSN, "db", "", "SQLite path or Postgres connection string")
}

func runMCP(cmd *cobra.Command, args []string) error {
	applyDBFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		Level:  "warn",
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	s, err := openStore(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer s.Close()

	service := controlplane.NewService(s, audit.NewRecorder(s, logger), logger, cfg.DB.TxTimeout)
	return mcp.Serve(mcp.NewServer(service, controlplane.Version))
}
