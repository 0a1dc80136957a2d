// graceadm is the administrative CLI for the grace object, implementing
// the "tool [-l] nodeid..." surface: with no nodeids it only ensures the
// object exists and dumps it; with nodeids it starts (or, with -l,
// lifts) grace for them before dumping.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/cubbit/nfsgrace/internal/config"
	"github.com/cubbit/nfsgrace/internal/logger"
	"github.com/cubbit/nfsgrace/pkg/grace"
	"github.com/cubbit/nfsgrace/pkg/objectstore/storefactory"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("graceadm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	lift := fs.Bool("l", false, "lift grace for the given nodeids instead of starting it")
	configPath := fs.String("config", "", "path to config file (default: XDG config dir)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	nodeids, err := parseNodeIDs(fs.Args())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	logger.SetLevel(cfg.Logging.Level)

	ctx := context.Background()
	store, err := storefactory.New(ctx, toObjectStoreConfig(cfg.ObjectStore))
	if err != nil {
		fmt.Fprintf(stderr, "failed to connect to object store: %v\n", err)
		return 1
	}

	engine := grace.New(store, grace.Config{NodeMapCap: cfg.Grace.NodeMapCap})
	oid := cfg.Grace.ObjectID

	if err := ensureAndApply(ctx, engine, oid, *lift, nodeids); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if err := dump(ctx, engine, oid, stdout); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func ensureAndApply(ctx context.Context, engine *grace.Engine, oid string, lift bool, nodeids []string) error {
	if err := engine.Create(ctx, oid); err != nil && !grace.IsCode(err, grace.ErrPrecondition) {
		return fmt.Errorf("failed to ensure grace object exists: %w", err)
	}

	if len(nodeids) == 0 {
		return nil
	}

	if lift {
		if _, err := engine.Lift(ctx, oid, nodeids); err != nil {
			return fmt.Errorf("lift failed: %w", err)
		}
		return nil
	}

	if _, err := engine.Start(ctx, oid, nodeids); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	return nil
}

func dump(ctx context.Context, engine *grace.Engine, oid string, out *os.File) error {
	ep, entries, err := engine.Dump(ctx, oid)
	if err != nil {
		return fmt.Errorf("dump failed: %w", err)
	}

	fmt.Fprintf(out, "epoch current: %d\n", ep.C)
	fmt.Fprintf(out, "epoch recovery: %d\n", ep.R)
	for _, ent := range entries {
		fmt.Fprintf(out, "  %s: member=%t enforcing=%t need_grace=%t\n",
			ent.NodeID, ent.Member, ent.Enforcing, ent.NeedGrace)
	}
	return nil
}

// parseNodeIDs validates each argument as a decimal integer less than
// UINT_MAX, the CLI's numeric nodeid flavor, and returns them unchanged
// as strings (the engine itself treats nodeids as opaque strings).
func parseNodeIDs(args []string) ([]string, error) {
	for _, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || v >= math.MaxUint32 {
			return nil, fmt.Errorf("invalid nodeid %q: must be a decimal integer less than UINT_MAX", arg)
		}
	}
	return args, nil
}

func toObjectStoreConfig(cfg config.ObjectStoreConfig) storefactory.Config {
	osCfg := storefactory.Config{Type: cfg.Type}
	if dir, ok := cfg.Badger["dir"].(string); ok {
		osCfg.Badger.Dir = dir
	}
	if inMemory, ok := cfg.Badger["in_memory"].(bool); ok {
		osCfg.Badger.InMemory = inMemory
	}
	if bucket, ok := cfg.S3["bucket"].(string); ok {
		osCfg.S3.Bucket = bucket
	}
	if region, ok := cfg.S3["region"].(string); ok {
		osCfg.S3.Region = region
	}
	if prefix, ok := cfg.S3["key_prefix"].(string); ok {
		osCfg.S3.KeyPrefix = prefix
	}
	if endpoint, ok := cfg.S3["endpoint"].(string); ok {
		osCfg.S3.Endpoint = endpoint
	}
	if accessKeyID, ok := cfg.S3["access_key_id"].(string); ok {
		osCfg.S3.AccessKeyID = accessKeyID
	}
	if secretAccessKey, ok := cfg.S3["secret_access_key"].(string); ok {
		osCfg.S3.SecretAccessKey = secretAccessKey
	}
	if maxRetries, ok := cfg.S3["max_retries"].(int); ok {
		osCfg.S3.MaxRetries = maxRetries
	}
	return osCfg
}
