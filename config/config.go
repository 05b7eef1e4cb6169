// Package config manages rshare's on-disk configuration: relay endpoints,
// transfer buffering, and the ambient logging/metrics surface.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Relay       *RelayConfig    `yaml:"relay" json:"relay"`
	Transfer    *TransferConfig `yaml:"transfer" json:"transfer"`
	KeyStore    *KeyStoreConfig `yaml:"keystore" json:"keystore"`
	Contacts    *ContactsConfig `yaml:"contacts" json:"contacts"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig   `yaml:"health" json:"health"`
}

// RelayConfig describes how to reach the relay server.
type RelayConfig struct {
	HTTPURL    string `yaml:"http_url" json:"http_url"`
	SocketHost string `yaml:"socket_host" json:"socket_host"`
	SocketPort int    `yaml:"socket_port" json:"socket_port"`
	// BufferSize is the TCP send/receive socket buffer size, in bytes.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// TransferConfig controls file chunking and destination paths.
type TransferConfig struct {
	// ChunkSize is the plaintext chunk size read before each encrypt+frame.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// DownloadDir is where the receiver writes incoming files.
	DownloadDir string `yaml:"download_dir" json:"download_dir"`
	// MaxFileSize is loaded and validated (a negative value draws a
	// warning) but no transfer checks it; no size cap is applied.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
	// DoneWaitTimeout is loaded and defaulted to 30s but not passed to the
	// sender; the wait for the receiver's DONE signal has no deadline of
	// its own.
	DoneWaitTimeout time.Duration `yaml:"done_wait_timeout" json:"done_wait_timeout"`
}

// KeyStoreConfig locates the long-lived identity key pair on disk.
type KeyStoreConfig struct {
	Directory string `yaml:"directory" json:"directory"`
}

// ContactsConfig locates the trusted-contacts file.
type ContactsConfig struct {
	Path string `yaml:"path" json:"path"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// MetricsConfig configures the prometheus exposition server.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	Path       string `yaml:"path" json:"path"`
}

// HealthConfig configures the relay health probe.
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
	CacheTTL      time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// LoadFromFile loads configuration from a YAML or JSON file, trying YAML
// first and falling back to JSON on parse failure.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile writes configuration to path, choosing JSON or YAML by
// extension (defaulting to YAML).
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// setDefaults fills unset fields with the values a fresh install needs to
// run against a relay on localhost.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Relay == nil {
		cfg.Relay = &RelayConfig{}
	}
	if cfg.Relay.HTTPURL == "" {
		cfg.Relay.HTTPURL = "http://127.0.0.1:8080"
	}
	if cfg.Relay.SocketHost == "" {
		cfg.Relay.SocketHost = "127.0.0.1"
	}
	if cfg.Relay.SocketPort == 0 {
		cfg.Relay.SocketPort = 10000
	}
	if cfg.Relay.BufferSize == 0 {
		cfg.Relay.BufferSize = 4 * 1024 * 1024
	}

	if cfg.Transfer == nil {
		cfg.Transfer = &TransferConfig{}
	}
	if cfg.Transfer.ChunkSize == 0 {
		cfg.Transfer.ChunkSize = 1024 * 1024
	}
	if cfg.Transfer.DownloadDir == "" {
		home, _ := os.UserHomeDir()
		cfg.Transfer.DownloadDir = filepath.Join(home, "rshare", "downloads")
	}
	if cfg.Transfer.DoneWaitTimeout == 0 {
		cfg.Transfer.DoneWaitTimeout = 30 * time.Second
	}

	if cfg.KeyStore == nil {
		cfg.KeyStore = &KeyStoreConfig{}
	}
	if cfg.KeyStore.Directory == "" {
		home, _ := os.UserHomeDir()
		cfg.KeyStore.Directory = filepath.Join(home, ".config", "rshare", "keys")
	}

	if cfg.Contacts == nil {
		cfg.Contacts = &ContactsConfig{}
	}
	if cfg.Contacts.Path == "" {
		home, _ := os.UserHomeDir()
		cfg.Contacts.Path = filepath.Join(home, ".config", "rshare", "contacts.yaml")
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health == nil {
		cfg.Health = &HealthConfig{}
	}
	if cfg.Health.CheckInterval == 0 {
		cfg.Health.CheckInterval = 30 * time.Second
	}
	if cfg.Health.CacheTTL == 0 {
		cfg.Health.CacheTTL = 5 * time.Second
	}
}
