// Package config loads engine configuration with precedence:
// defaults → YAML file → environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure. It is read-only after Load()
// returns and safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Backend  BackendConfig  `yaml:"backend"`
	Storage  StorageConfig  `yaml:"storage"`
	Sync     SyncConfig     `yaml:"sync"`
	Media    MediaConfig    `yaml:"media"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains the status HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains local database settings.
type DatabaseConfig struct {
	// Dir is the data directory holding the SQLite database.
	Dir string `yaml:"dir"`
}

// BackendConfig contains remote data backend settings.
type BackendConfig struct {
	URL     string   `yaml:"url"`
	APIKey  string   `yaml:"-"` // env-only, never in YAML
	Timeout Duration `yaml:"timeout"`
}

// StorageConfig contains object storage settings for attachments.
type StorageConfig struct {
	Region          string   `yaml:"region"`
	Endpoint        string   `yaml:"endpoint"`
	AccessKeyID     string   `yaml:"-"` // env-only, never in YAML
	SecretAccessKey string   `yaml:"-"` // env-only, never in YAML
	UsePathStyle    bool     `yaml:"use_path_style"`
	Buckets         []string `yaml:"buckets"`
	PublicBaseURL   string   `yaml:"public_base_url"`
}

// SyncConfig contains background sync settings.
type SyncConfig struct {
	Interval    Duration `yaml:"interval"`
	PassTimeout Duration `yaml:"pass_timeout"`
	// ProbeURL is the endpoint used to detect connectivity.
	ProbeURL string `yaml:"probe_url"`
}

// MediaConfig contains local media cache settings.
type MediaConfig struct {
	CacheDir string `yaml:"cache_dir"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration is a wrapper around time.Duration that supports YAML string
// parsing ("15m", "30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("DOJOSYNC_CONFIG_PATH", "config/dojosync.yaml")
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path. The file must
// exist. Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Dir: "data",
		},
		Backend: BackendConfig{
			Timeout: Duration(30 * time.Second),
		},
		Storage: StorageConfig{
			Region:  "us-east-1",
			Buckets: []string{"dojo-media"},
		},
		Sync: SyncConfig{
			Interval:    Duration(15 * time.Minute),
			PassTimeout: Duration(5 * time.Minute),
		},
		Media: MediaConfig{
			CacheDir: "data/media",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists. A missing
// file is not an error; defaults apply.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Only non-empty
// values override.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOJOSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DOJOSYNC_DB_DIR"); v != "" {
		cfg.Database.Dir = v
	}

	if v := os.Getenv("DOJOSYNC_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("DOJOSYNC_BACKEND_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("DOJOSYNC_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.Timeout = Duration(d)
		}
	}

	if v := os.Getenv("DOJOSYNC_STORAGE_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("DOJOSYNC_STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.SecretAccessKey = v
	}
	if v := os.Getenv("DOJOSYNC_STORAGE_PUBLIC_URL"); v != "" {
		cfg.Storage.PublicBaseURL = v
	}

	if v := os.Getenv("DOJOSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("DOJOSYNC_SYNC_PASS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.PassTimeout = Duration(d)
		}
	}
	if v := os.Getenv("DOJOSYNC_PROBE_URL"); v != "" {
		cfg.Sync.ProbeURL = v
	}

	if v := os.Getenv("DOJOSYNC_MEDIA_DIR"); v != "" {
		cfg.Media.CacheDir = v
	}
	if v := os.Getenv("DOJOSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// validate checks required values. Dev mode (DOJOSYNC_DEV_MODE=true) skips
// the backend requirement so the in-memory client can serve.
func (c *Config) validate() error {
	if os.Getenv("DOJOSYNC_DEV_MODE") == "true" {
		return nil
	}

	if c.Backend.URL == "" {
		return errors.New("DOJOSYNC_BACKEND_URL is required")
	}
	if c.Backend.APIKey == "" {
		return errors.New("DOJOSYNC_BACKEND_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
