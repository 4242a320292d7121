package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/onejob/onejob/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "onejob",
	Short: "onejob - one task at a time",
	Long: `onejob keeps a single ordered stack of tasks. The task at rank 1 is the
one you should be doing; deferring sends it to the bottom, completing it
closes the gap, and new work always lands on top.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
		if !cmd.Flags().Changed("api") {
			apiAddr = cfg.API
		}
		return nil
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
	cfg        *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", config.DefaultAPI, "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (yaml or toml); default searches $ONEJOB_HOME")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(substackCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(ranksCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
