// Package config loads nfsgrace's configuration, following the
// teacher's viper-backed load/default/validate split: Load reads a file
// plus environment overrides, ApplyDefaults fills unset fields, and
// Validate enforces struct-tag and cross-field rules before the config
// is handed to the rest of the program.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete nfsgrace configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (NFSGRACE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	Grace       GraceConfig       `mapstructure:"grace"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains daemon-wide settings.
type ServerConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// ObjectStoreConfig selects and configures the object-store backend.
//
// Only the section matching Type is consulted, mirroring the teacher's
// content/metadata store selection pattern.
type ObjectStoreConfig struct {
	// Type selects the backend: memory, badger, or s3.
	Type string `mapstructure:"type" validate:"required,oneof=memory badger s3"`

	Badger map[string]any `mapstructure:"badger"`
	S3     map[string]any `mapstructure:"s3"`
}

// GraceConfig configures the grace engine and host adapter.
type GraceConfig struct {
	// ObjectID is the well-known name of the shared grace object.
	ObjectID string `mapstructure:"object_id" validate:"required"`

	// NodeMapCap bounds the node-map scan (spec's MAX_ITEMS).
	NodeMapCap int `mapstructure:"node_map_cap" validate:"required,gt=0"`

	// NodeID identifies this node to the cluster. Defaults to hostname.
	NodeID string `mapstructure:"node_id" validate:"required"`

	NotifyTimeout time.Duration `mapstructure:"notify_timeout" validate:"required,gt=0"`
	WatchTimeout  time.Duration `mapstructure:"watch_timeout" validate:"required,gt=0"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NFSGRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nfsgrace")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nfsgrace")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
