// Package storefactory constructs an objectstore.Client from configuration,
// selecting among the badger, memory and s3 backends. It lives outside
// package objectstore to avoid an import cycle, since each backend package
// imports objectstore for the Client interface and shared types.
package storefactory

import (
	"context"
	"fmt"

	"github.com/cubbit/nfsgrace/pkg/objectstore"
	"github.com/cubbit/nfsgrace/pkg/objectstore/badgerstore"
	"github.com/cubbit/nfsgrace/pkg/objectstore/memstore"
	"github.com/cubbit/nfsgrace/pkg/objectstore/s3store"
)

// Config selects and configures one backend. Only the section matching
// Type is consulted; the others are ignored, mirroring the teacher's
// content/metadata store factories.
type Config struct {
	// Type selects the backend: "memory", "badger" or "s3".
	Type string

	Badger BadgerConfig
	S3     S3Config
}

// BadgerConfig configures the badger backend.
type BadgerConfig struct {
	Dir      string
	InMemory bool
}

// S3Config configures the s3 backend.
type S3Config struct {
	Region          string
	Bucket          string
	KeyPrefix       string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	MaxRetries      int
}

// New constructs the Client selected by cfg.Type.
func New(ctx context.Context, cfg Config) (objectstore.Client, error) {
	switch cfg.Type {
	case "", "memory":
		return memstore.New(), nil
	case "badger":
		return badgerstore.Open(badgerstore.Config{Dir: cfg.Badger.Dir, InMemory: cfg.Badger.InMemory})
	case "s3":
		return s3store.Open(ctx, s3store.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			KeyPrefix:       cfg.S3.KeyPrefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			MaxRetries:      cfg.S3.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("objectstore: unknown backend type %q", cfg.Type)
	}
}
