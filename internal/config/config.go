// Package config loads onejob configuration from defaults, a config file,
// environment variables and command-line flags, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Defaults.
const (
	DefaultListen          = "127.0.0.1:7466"
	DefaultAPI             = "http://127.0.0.1:7466"
	DefaultDriver          = "sqlite"
	DefaultTxTimeout       = 5 * time.Second
	DefaultBusyTimeout     = 5 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultMonitorInterval = time.Minute
)

// Config is the full onejob configuration.
type Config struct {
	// Listen is the daemon's HTTP listen address.
	Listen string `yaml:"listen" toml:"listen"`
	// API is the base URL clients use to reach the daemon.
	API     string        `yaml:"api" toml:"api"`
	DB      DBConfig      `yaml:"db" toml:"db"`
	Log     LogConfig     `yaml:"log" toml:"log"`
	Monitor MonitorConfig `yaml:"monitor" toml:"monitor"`
}

// DBConfig selects and tunes the storage backend.
type DBConfig struct {
	Driver      string        `yaml:"driver" toml:"driver"`
	DSN         string        `yaml:"dsn" toml:"dsn"`
	TxTimeout   time.Duration `yaml:"tx_timeout" toml:"tx_timeout"`
	BusyTimeout time.Duration `yaml:"busy_timeout" toml:"busy_timeout"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MonitorConfig controls the background rank integrity monitor.
type MonitorConfig struct {
	// Interval between checks; 0 disables the monitor.
	Interval time.Duration `yaml:"interval" toml:"interval"`
}

// Default returns a config populated with defaults.
func Default() *Config {
	return &Config{
		Listen: DefaultListen,
		API:    DefaultAPI,
		DB: DBConfig{
			Driver:      DefaultDriver,
			DSN:         filepath.Join(Dir(), "onejob.db"),
			TxTimeout:   DefaultTxTimeout,
			BusyTimeout: DefaultBusyTimeout,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Monitor: MonitorConfig{
			Interval: DefaultMonitorInterval,
		},
	}
}

// Dir returns the onejob home directory: $ONEJOB_HOME, else ~/.onejob.
func Dir() string {
	if v := os.Getenv("ONEJOB_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".onejob"
	}
	return filepath.Join(home, ".onejob")
}

// driverAliases maps every accepted db.driver spelling to its backend.
var driverAliases = map[string]string{
	"sqlite":     "sqlite",
	"sqlite3":    "sqlite",
	"postgres":   "postgres",
	"postgresql": "postgres",
	"pgx":        "postgres",
}

// Validate normalises case and driver aliases, then rejects configurations
// the daemon cannot run with.
func (c *Config) Validate() error {
	driver, ok := driverAliases[strings.ToLower(strings.TrimSpace(c.DB.Driver))]
	if !ok {
		return fmt.Errorf("db.driver: unsupported driver %q (want sqlite or postgres)", c.DB.Driver)
	}
	c.DB.Driver = driver
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn: must not be empty")
	}
	if c.DB.TxTimeout <= 0 {
		return fmt.Errorf("db.tx_timeout: must be positive, got %s", c.DB.TxTimeout)
	}
	if c.DB.BusyTimeout < 0 {
		return fmt.Errorf("db.busy_timeout: must not be negative, got %s", c.DB.BusyTimeout)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Monitor.Interval < 0 {
		return fmt.Errorf("monitor.interval: must not be negative, got %s", c.Monitor.Interval)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen: must not be empty")
	}
	return nil
}
