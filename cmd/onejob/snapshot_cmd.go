package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/onejob/onejob/internal/audit"
	"github.com/onejob/onejob/internal/logging"
	"github.com/onejob/onejob/internal/snapshot"
	"github.com/onejob/onejob/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every task as JSON lines",
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load tasks from a JSON lines export",
	Long: `Validates every line, then adds the tasks in one transaction. Tasks whose
id already exists are skipped; imported active tasks keep their order and
land above the current stack. Use - to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var exportOut string

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
	for _, c := range []*cobra.Command{exportCmd, importCmd} {
		c.Flags().StringVar(&dbDriver, "driver", "", "Database driver (sqlite or postgres)")
		c.Flags().StringVar(&dbDSN, "db", "", "SQLite path or Postgres connection string")
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	s, err := openOffline(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var w io.Writer = os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	n, err := snapshot.Export(cmd.Context(), s, w)
	if err != nil {
		return err
	}
	if exportOut != "" {
		fmt.Fprintf(os.Stderr, "Exported %d tasks to %s\n", n, exportOut)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	s, err := openOffline(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	res, err := snapshot.Import(cmd.Context(), s, r, audit.NewRecorder(s, logger), store.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d tasks, skipped %d existing\n", res.Imported, res.Skipped)
	return nil
}

// openOffline opens the store directly for commands that do not need the daemon.
func openOffline(cmd *cobra.Command) (*store.Store, error) {
	applyDBFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return openStore(cmd.Context(), logger)
}
