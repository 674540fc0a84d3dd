// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

// Command queryguard runs the guardrails engine as an MCP tool server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/queryguard/queryguard/pkg/audit"
	"github.com/queryguard/queryguard/pkg/config"
	"github.com/queryguard/queryguard/pkg/engine"
	"github.com/queryguard/queryguard/pkg/policy"
	"github.com/queryguard/queryguard/pkg/server"
	"github.com/queryguard/queryguard/pkg/splunk"
	"github.com/queryguard/queryguard/pkg/telemetry"
)

const (
	serviceName = "queryguard"
	version     = "0.3.0"
)

func main() {
	configPath := flag.String("config", "", "path to the server configuration file")
	httpAddr := flag.String("http", "", "serve MCP over streamable HTTP on this address instead of stdio")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", serviceName, version)
		return
	}

	if err := run(*configPath, *httpAddr); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath, httpAddr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdownTelemetry, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewGuardMetrics(ctx)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	sink, err := buildAuditSink(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing audit sink: %w", err)
	}
	emitter := audit.NewEmitter(sink,
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithEmitterLogger(logger))

	loader := policy.NewLoader(cfg.Policy.Path)
	store := policy.NewStore(loader, policy.WithStoreLogger(logger))

	eng := engine.New(store,
		engine.WithEmitter(emitter),
		engine.WithMetrics(metrics),
		engine.WithLogger(logger),
		engine.WithEnvironment(cfg.Policy.Environment))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := eng.Close(closeCtx); err != nil {
			logger.Error("engine shutdown failed", "error", err)
		}
	}()

	if cfg.Policy.WatchInterval > 0 {
		paths := []string{cfg.Policy.Path}
		if override := loader.OverridePath(cfg.Policy.Environment); override != "" {
			paths = append(paths, override)
		}
		watcher := config.NewWatcher(paths,
			config.WithWatchInterval(time.Duration(cfg.Policy.WatchInterval)*time.Second),
			config.WithWatchLogger(logger))
		watcher.OnChange(func() {
			if err := eng.Reload(context.Background()); err != nil {
				logger.Error("policy reload failed, fail-safe policy active", "error", err)
			}
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	executor := buildExecutor(cfg, store)
	srv := server.NewServer(serviceName, version, eng, executor)

	logger.Info("queryguard starting",
		"version", version,
		"policy", cfg.Policy.Path,
		"environment", cfg.Policy.Environment,
		"fail_safe", eng.FailSafeActive())

	if httpAddr != "" {
		httpSrv := srv.StreamableHTTPServer()
		errCh := make(chan error, 1)
		go func() { errCh <- httpSrv.Start(httpAddr) }()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		}
	}
	return srv.ServeStdio()
}

func buildAuditSink(cfg *config.Config, logger *slog.Logger) (audit.Sink, error) {
	var sinks audit.MultiSink
	for _, name := range cfg.Audit.Sinks() {
		switch name {
		case "slog":
			sinks = append(sinks, audit.NewSlogSink(logger))
		case "sqlite":
			s, err := audit.OpenSQLiteSink(cfg.Audit.SQLitePath)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		case "hec":
			sinks = append(sinks, audit.NewHECSink(cfg.Audit.HECUrl, cfg.Audit.HECToken,
				audit.WithHECIndex(cfg.Audit.HECIndex)))
		default:
			return nil, fmt.Errorf("unknown audit sink %q", name)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, audit.NewSlogSink(logger))
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

func buildExecutor(cfg *config.Config, store *policy.Store) splunk.Executor {
	if cfg.Splunk.URL == "" {
		return nil
	}
	opts := []splunk.ClientOption{}
	if cfg.Splunk.TimeoutSeconds > 0 {
		opts = append(opts, splunk.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Splunk.TimeoutSeconds) * time.Second,
		}))
	}
	if cfg.Splunk.Token != "" {
		opts = append(opts, splunk.WithToken(cfg.Splunk.Token))
	} else if cfg.Splunk.Username != "" {
		opts = append(opts, splunk.WithBasicAuth(cfg.Splunk.Username, cfg.Splunk.Password))
	}
	if !cfg.Splunk.VerifySSL {
		opts = append(opts, splunk.WithInsecureSkipVerify())
	}
	if p := store.Resolve(cfg.Policy.Environment, ""); p != nil {
		opts = append(opts,
			splunk.WithSearchesPerMinute(p.Execution.SearchesPerMinute),
			splunk.WithMaxConcurrent(p.Execution.MaxConcurrentSearches))
	}
	return splunk.NewResilientExecutor(splunk.NewClient(cfg.Splunk.URL, opts...))
}
