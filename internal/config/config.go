package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GH41318103/kvengine/internal/wal"
)

// Config represents engine and server configuration, persisted as
// JSON next to the data directory.
type Config struct {
	DataDir    string `json:"dataDir"`
	ListenAddr string `json:"listenAddr"`

	AutoFlushThreshold int    `json:"autoFlushThreshold"`
	LogLevel           string `json:"logLevel"`
	LogFormat          string `json:"logFormat"`

	MetricsAddr string `json:"metricsAddr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:            "./data",
		ListenAddr:         ":6380",
		AutoFlushThreshold: wal.DefaultAutoFlushThreshold,
		LogLevel:           "info",
		LogFormat:          "text",
		MetricsAddr:        "",
	}
}

// LoadConfig loads configuration from configPath. If the file doesn't
// exist, it creates one populated with default settings.
func LoadConfig(configPath string) (*Config, error) {
	_, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(configPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("config: create directory: %w", err)
		}
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("config: save default config: %w", err)
		}
		normalizePaths(cfg, filepath.Dir(configPath))
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("config: stat config file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse config file: %w", err)
	}
	normalizePaths(&cfg, filepath.Dir(configPath))
	return &cfg, nil
}

// normalizePaths resolves a relative DataDir against the directory
// holding the config file, so the config is independent of cwd.
func normalizePaths(cfg *Config, configDir string) {
	if cfg.DataDir != "" && !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(configDir, cfg.DataDir)
	}
}

// Save writes the configuration to configPath as indented JSON.
func (c *Config) Save(configPath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

// EnsureDataDir creates the configured data directory if missing.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("config: create data directory: %w", err)
	}
	return nil
}
