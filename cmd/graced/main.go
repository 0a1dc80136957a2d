// graced is a minimal daemon demonstrating the host integration adapter
// wired to a configured object-store backend. It does not implement NFS
// itself: in a real deployment the host server drives hostadapter.Adapter
// directly. Here that caller is represented by stubhost, an in-process
// stand-in purely so this binary is runnable end-to-end without a real
// NFS server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cubbit/nfsgrace/internal/config"
	"github.com/cubbit/nfsgrace/internal/hostadapter"
	"github.com/cubbit/nfsgrace/internal/hostadapter/stubhost"
	"github.com/cubbit/nfsgrace/internal/logger"
	"github.com/cubbit/nfsgrace/internal/metrics"
	"github.com/cubbit/nfsgrace/pkg/grace"
	"github.com/cubbit/nfsgrace/pkg/objectstore/storefactory"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: XDG config dir)")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Logging.Level)

	if *metricsAddr != "" {
		metrics.InitRegistry()
		go serveMetrics(*metricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storefactory.New(ctx, objectStoreConfig(cfg.ObjectStore))
	if err != nil {
		logger.Error("failed to connect to object store: %v", err)
		os.Exit(1)
	}

	engine := grace.New(store, grace.Config{
		NodeMapCap: cfg.Grace.NodeMapCap,
		Metrics:    metrics.NewGraceMetrics(),
	})
	host := stubhost.New()
	adapter := hostadapter.New(engine, store, host, cfg.Grace.ObjectID, cfg.Grace.NodeID)

	if err := adapter.Init(ctx); err != nil {
		logger.Error("failed to initialize host adapter: %v", err)
		os.Exit(1)
	}

	dbs, err := adapter.ReadClids(ctx, false)
	if err != nil {
		logger.Error("failed to join grace: %v", err)
		os.Exit(1)
	}
	logger.Info("joined grace: new recovery db %s (has old: %t)", dbs.New, dbs.HasOld)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("graced running for node %q against object %q. Press Ctrl+C to stop.", cfg.Grace.NodeID, cfg.Grace.ObjectID)
	<-sigChan

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	adapter.Shutdown(shutdownCtx)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed: %v", err)
	}
}

func objectStoreConfig(cfg config.ObjectStoreConfig) storefactory.Config {
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
