package config

import (
	"os"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified fields, applied
// after loading from file and environment.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyObjectStoreDefaults(&cfg.ObjectStore)
	applyGraceDefaults(&cfg.Grace)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyObjectStoreDefaults(cfg *ObjectStoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Badger["dir"]; !ok {
		cfg.Badger["dir"] = "/var/lib/nfsgrace/badger"
	}
	if _, ok := cfg.S3["max_retries"]; !ok {
		cfg.S3["max_retries"] = 10
	}
}

func applyGraceDefaults(cfg *GraceConfig) {
	if cfg.ObjectID == "" {
		cfg.ObjectID = "grace"
	}
	if cfg.NodeMapCap == 0 {
		cfg.NodeMapCap = 1024
	}
	if cfg.NodeID == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.NodeID = hostname
		}
	}
	if cfg.NotifyTimeout == 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if cfg.WatchTimeout == 0 {
		cfg.WatchTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config with all default values applied,
// used for sample config generation and tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
