package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// configFileNames are searched in Dir() when no explicit file is given.
var configFileNames = []string{"config.yaml", "config.yml", "config.toml"}

// Load builds the configuration:
// 1. Defaults
// 2. Config file (path, or the first of config.yaml/yml/toml in Dir())
// 3. Environment variables (ONEJOB_*)
//
// Flags are applied by the caller afterwards; call Validate once they are.
func Load(path string) (*Config, error) {
	cfg := Default()

	file := path
	if file == "" {
		file = findConfigFile()
	} else if _, err := os.Stat(file); err != nil {
		return nil, fmt.Errorf("config file %s: %w", file, err)
	}
	if file != "" {
		if err := loadConfigFile(cfg, file); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", file, err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	dir := Dir()
	for _, name := range configFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadConfigFile decodes YAML or TOML over cfg, chosen by extension.
func loadConfigFile(cfg *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.DecodeFile(path, cfg)
		return err
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(data, cfg)
	default:
		return errors.New("unsupported config format (want .yaml, .yml or .toml)")
	}
}

// loadFromEnv overrides config from environment variables.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("ONEJOB_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("ONEJOB_API"); v != "" {
		cfg.API = v
	}
	if v := os.Getenv("ONEJOB_DB_DRIVER"); v != "" {
		cfg.DB.Driver = v
	}
	if v := os.Getenv("ONEJOB_DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("ONEJOB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ONEJOB_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"ONEJOB_TX_TIMEOUT", &cfg.DB.TxTimeout},
		{"ONEJOB_BUSY_TIMEOUT", &cfg.DB.BusyTimeout},
		{"ONEJOB_MONITOR_INTERVAL", &cfg.Monitor.Interval},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	return nil
}
