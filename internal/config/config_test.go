package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

object_store:
  type: "memory"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Grace.ObjectID != "grace" {
		t.Errorf("expected default object_id 'grace', got %q", cfg.Grace.ObjectID)
	}
	if cfg.Grace.NodeMapCap != 1024 {
		t.Errorf("expected default node_map_cap 1024, got %d", cfg.Grace.NodeMapCap)
	}
}

func TestLoadRejectsUnknownObjectStoreType(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
object_store:
  type: "filesystem"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected validation error for unknown object_store.type")
	}
}

func TestValidateRequiresBadgerDir(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.ObjectStore.Type = "badger"
	cfg.ObjectStore.Badger = map[string]any{"dir": ""}

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when badger dir is empty")
	}
}

func TestValidateRequiresS3BucketAndRegion(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.ObjectStore.Type = "s3"
	cfg.ObjectStore.S3 = map[string]any{}

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when s3 bucket/region are unset")
	}
}
