package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/onejob/onejob/internal/audit"
	"github.com/onejob/onejob/internal/config"
	"github.com/onejob/onejob/internal/controlplane"
	"github.com/onejob/onejob/internal/logging"
	"github.com/onejob/onejob/internal/monitor"
	"github.com/onejob/onejob/internal/store"
)

var (
	listenAddr string
	dbDriver   string
	dbDSN      string
	logLevel   string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the onejob daemon",
	Long:  `Starts the onejob daemon which serves the HTTP API and runs the background rank monitor.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", config.DefaultListen, "Listen address for the API server")
	daemonCmd.Flags().StringVar(&dbDriver, "driver", config.DefaultDriver, "Database driver (sqlite or postgres)")
	daemonCmd.Flags().StringVar(&dbDSN, "db", "", "SQLite path or Postgres connection string")
	daemonCmd.Flags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
}

// applyDBFlags overlays storage flags that were set explicitly.
func applyDBFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("driver") {
		cfg.DB.Driver = dbDriver
	}
	if cmd.Flags().Changed("db") {
		cfg.DB.DSN = dbDSN
	}
}

// openStore connects to the configured database.
func openStore(ctx context.Context, logger *log.Logger) (*store.Store, error) {
	return store.Open(ctx, store.Options{
		Driver:      cfg.DB.Driver,
		DSN:         cfg.DB.DSN,
		BusyTimeout: cfg.DB.BusyTimeout,
		Logger:      logger,
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("listen") {
		cfg.Listen = listenAddr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	applyDBFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		Level:           cfg.Log.Level,
		Format:          cfg.Log.Format,
		ReportTimestamp: true,
	})
	logger.Info("starting onejob daemon", "version", controlplane.Version, "driver", cfg.DB.Driver)

	// Initialize store
	s, err := openStore(cmd.Context(), logger)
	if err != nil {
		return err
	}

	// Create service and server
	rec := audit.NewRecorder(s, logger)
	service := controlplane.NewService(s, rec, logger, cfg.DB.TxTimeout)
	server := controlplane.NewServer(service, cfg.Listen, logger)

	// Background integrity monitor
	var mon *monitor.Monitor
	if cfg.Monitor.Interval > 0 {
		mon = monitor.New(service, rec, logger, cfg.Monitor.Interval)
		server.SetIntegrity(mon)
		mon.Start()
	}
	stopMonitor := func() {
		if mon != nil {
			mon.Stop()
		}
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "err", err)
			stopMonitor()
			s.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", "err", err)
	}

	stopMonitor()

	logger.Info("closing database connection")
	if err := s.Close(); err != nil {
		logger.Warn("database close error", "err", err)
	}

	logger.Info("shutdown complete")
	return nil
}
