package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// LoaderOptions configures the configuration loader.
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config).
	ConfigDir string
	// Environment overrides automatic environment detection.
	Environment string
	// EnvFile is an optional .env file layered in before RSHARE_* overrides.
	EnvFile string
	// SkipEnvSubstitution disables ${VAR} substitution inside the file.
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation.
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir: "config",
		EnvFile:   ".env",
	}
}

// Load loads configuration with automatic environment detection: it tries
// "{env}.yaml", then "default.yaml", then "config.yaml" inside ConfigDir,
// and falls back to pure defaults if none exist.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.EnvFile != "" {
		_ = godotenv.Load(options.EnvFile)
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	cfg, err := loadConfigFile(filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env)))
	if err != nil {
		cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "default.yaml"))
		if err != nil {
			cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "config.yaml"))
			if err != nil {
				cfg = &Config{}
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	setDefaults(cfg)

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		for _, e := range ValidateConfiguration(cfg) {
			if e.Level == "error" {
				return nil, fmt.Errorf("configuration validation failed: %s - %s", e.Field, e.Message)
			}
		}
	}

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides overrides config with RSHARE_* environment
// variables, which always win over file and .env values.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("RSHARE_RELAY_HTTP_URL"); v != "" && cfg.Relay != nil {
		cfg.Relay.HTTPURL = v
	}
	if v := os.Getenv("RSHARE_RELAY_SOCKET_HOST"); v != "" && cfg.Relay != nil {
		cfg.Relay.SocketHost = v
	}
	if v := os.Getenv("RSHARE_RELAY_SOCKET_PORT"); v != "" && cfg.Relay != nil {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Relay.SocketPort = port
		}
	}
	if v := os.Getenv("RSHARE_KEYSTORE_DIR"); v != "" && cfg.KeyStore != nil {
		cfg.KeyStore.Directory = v
	}
	if v := os.Getenv("RSHARE_CONTACTS_PATH"); v != "" && cfg.Contacts != nil {
		cfg.Contacts.Path = v
	}
	if v := os.Getenv("RSHARE_DOWNLOAD_DIR"); v != "" && cfg.Transfer != nil {
		cfg.Transfer.DownloadDir = v
	}
	if v := os.Getenv("RSHARE_LOG_LEVEL"); v != "" && cfg.Logging != nil {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RSHARE_LOG_FORMAT"); v != "" && cfg.Logging != nil {
		cfg.Logging.Format = v
	}
	if cfg.Metrics != nil {
		if os.Getenv("RSHARE_METRICS_ENABLED") == "true" {
			cfg.Metrics.Enabled = true
		}
		if os.Getenv("RSHARE_METRICS_ENABLED") == "false" {
			cfg.Metrics.Enabled = false
		}
	}
}

// LoadForEnvironment loads configuration for a specific environment.
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{ConfigDir: "config", Environment: environment})
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// ValidationIssue is a single configuration problem found by
// ValidateConfiguration.
type ValidationIssue struct {
	Field   string
	Message string
	Level   string // "error" or "warning"
}

// ValidateConfiguration checks cfg for values that would make the core
// unable to run; error-level issues abort Load, warning-level ones do not.
func ValidateConfiguration(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Relay != nil {
		if cfg.Relay.HTTPURL != "" {
			if u, err := url.Parse(cfg.Relay.HTTPURL); err != nil || u.Scheme == "" || u.Host == "" {
				issues = append(issues, ValidationIssue{
					Field: "relay.http_url", Message: "must be an absolute URL", Level: "error",
				})
			}
		}
		if cfg.Relay.SocketPort <= 0 || cfg.Relay.SocketPort > 65535 {
			issues = append(issues, ValidationIssue{
				Field: "relay.socket_port", Message: "must be between 1 and 65535", Level: "error",
			})
		}
		if cfg.Relay.BufferSize <= 0 {
			issues = append(issues, ValidationIssue{
				Field: "relay.buffer_size", Message: "must be positive", Level: "error",
			})
		}
	}

	if cfg.Transfer != nil {
		if cfg.Transfer.ChunkSize <= 0 {
			issues = append(issues, ValidationIssue{
				Field: "transfer.chunk_size", Message: "must be positive", Level: "error",
			})
		}
		if cfg.Transfer.MaxFileSize < 0 {
			issues = append(issues, ValidationIssue{
				Field: "transfer.max_file_size", Message: "must not be negative", Level: "warning",
			})
		}
	}

	return issues
}
