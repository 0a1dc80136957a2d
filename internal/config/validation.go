package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus the
// cross-field rules below.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.ObjectStore.Type == "badger" {
		if dir, _ := cfg.ObjectStore.Badger["dir"].(string); dir == "" {
			return fmt.Errorf("object_store.badger: dir is required when type is badger")
		}
	}
	if cfg.ObjectStore.Type == "s3" {
		if bucket, _ := cfg.ObjectStore.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("object_store.s3: bucket is required when type is s3")
		}
		if region, _ := cfg.ObjectStore.S3["region"].(string); region == "" {
			return fmt.Errorf("object_store.s3: region is required when type is s3")
		}
	}
	return nil
}
