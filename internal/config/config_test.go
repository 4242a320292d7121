package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ONEJOB_HOME", dir)
	for _, k := range []string{
		"ONEJOB_LISTEN", "ONEJOB_API", "ONEJOB_DB_DRIVER", "ONEJOB_DB_DSN", "ONEJOB_TX_TIMEOUT",
		"ONEJOB_BUSY_TIMEOUT", "ONEJOB_LOG_LEVEL", "ONEJOB_LOG_FORMAT", "ONEJOB_MONITOR_INTERVAL",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultAPI, cfg.API)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, filepath.Join(dir, "onejob.db"), cfg.DB.DSN)
	assert.Equal(t, 5*time.Second, cfg.DB.TxTimeout)
	assert.Equal(t, time.Minute, cfg.Monitor.Interval)
}

func TestLoadYAMLFromHome(t *testing.T) {
	dir := isolate(t)
	yamlDoc := `
listen: 127.0.0.1:9000
db:
  driver: postgres
  dsn: postgres://localhost/onejob
  tx_timeout: 2s
log:
  level: debug
  format: json
monitor:
  interval: 30s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlDoc), 0644))

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "postgres://localhost/onejob", cfg.DB.DSN)
	assert.Equal(t, 2*time.Second, cfg.DB.TxTimeout)
	assert.Equal(t, DefaultBusyTimeout, cfg.DB.BusyTimeout, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
}

func TestLoadExplicitTOML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "onejob.toml")
	tomlDoc := `
api = "http://10.0.0.2:7466"

[db]
dsn = "/tmp/other.db"
tx_timeout = "750ms"

[monitor]
interval = "0s"
`
	require.NoError(t, os.WriteFile(path, []byte(tomlDoc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://10.0.0.2:7466", cfg.API)
	assert.Equal(t, "/tmp/other.db", cfg.DB.DSN)
	assert.Equal(t, 750*time.Millisecond, cfg.DB.TxTimeout)
	assert.Zero(t, cfg.Monitor.Interval)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0644))
	_, err := Load(path)
	require.ErrorContains(t, err, "unsupported config format")
}

func TestEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("listen: 127.0.0.1:1\n"), 0644))
	t.Setenv("ONEJOB_LISTEN", "127.0.0.1:2")
	t.Setenv("ONEJOB_TX_TIMEOUT", "3s")
	t.Setenv("ONEJOB_LOG_LEVEL", "WARN")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2", cfg.Listen)
	assert.Equal(t, 3*time.Second, cfg.DB.TxTimeout)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateNormalises(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("log:\n  level: DEBUG\n  format: JSON\n"), 0644))
	t.Setenv("ONEJOB_DB_DRIVER", "postgresql")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	for _, alias := range []string{"sqlite3", "SQLite", "pgx", "Postgres"} {
		cfg := Default()
		cfg.DB.Driver = alias
		assert.NoError(t, cfg.Validate(), alias)
	}
}

func TestEnvBadDuration(t *testing.T) {
	isolate(t)
	t.Setenv("ONEJOB_MONITOR_INTERVAL", "soon")
	_, err := Load("")
	require.ErrorContains(t, err, "ONEJOB_MONITOR_INTERVAL")
}

func TestValidate(t *testing.T) {
	isolate(t)
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.DB.Driver = "mysql" }, "db.driver"},
		{"empty dsn", func(c *Config) { c.DB.DSN = "" }, "db.dsn"},
		{"zero tx timeout", func(c *Config) { c.DB.TxTimeout = 0 }, "db.tx_timeout"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"negative interval", func(c *Config) { c.Monitor.Interval = -time.Second }, "monitor.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
