// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the server configuration from defaults, an optional
// YAML file, and QUERYGUARD_-prefixed environment variables, in that order.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Policy    PolicyConfig    `koanf:"policy"`
	Splunk    SplunkConfig    `koanf:"splunk"`
	Audit     AuditConfig     `koanf:"audit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// PolicyConfig locates the guardrails policy document.
type PolicyConfig struct {
	Path        string `koanf:"path"`
	Environment string `koanf:"environment"`
	// WatchInterval polls the policy files for changes, in seconds.
	// Zero disables watching.
	WatchInterval int `koanf:"watch_interval"`
}

// SplunkConfig configures the downstream search platform.
type SplunkConfig struct {
	URL            string `koanf:"url"`
	Username       string `koanf:"username"`
	Password       string `koanf:"password"`
	Token          string `koanf:"token"`
	VerifySSL      bool   `koanf:"verify_ssl"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// AuditConfig selects and configures audit sinks.
type AuditConfig struct {
	// Sink is one of "slog", "sqlite", "hec", or a comma-separated
	// combination.
	Sink       string `koanf:"sink"`
	QueueSize  int    `koanf:"queue_size"`
	SQLitePath string `koanf:"sqlite_path"`
	HECUrl     string `koanf:"hec_url"`
	HECToken   string `koanf:"hec_token"`
	HECIndex   string `koanf:"hec_index"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Sinks returns the configured sink names.
func (a AuditConfig) Sinks() []string {
	var out []string
	for _, s := range strings.Split(a.Sink, ",") {
		if s = strings.TrimSpace(strings.ToLower(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("policy.path", "guardrails.yaml")
	k.Set("policy.environment", "")
	k.Set("policy.watch_interval", 0)

	k.Set("splunk.url", "https://localhost:8089")
	k.Set("splunk.verify_ssl", true)
	k.Set("splunk.timeout_seconds", 60)

	k.Set("audit.sink", "slog")
	k.Set("audit.queue_size", 256)
	k.Set("audit.sqlite_path", "queryguard_audit.db")
	k.Set("audit.hec_index", "main")

	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV. The first underscore separates the section; the
	// rest is the field name and keeps its underscores, so
	// QUERYGUARD_AUDIT_QUEUE_SIZE maps to audit.queue_size.
	if err := k.Load(env.Provider("QUERYGUARD_", ".", envKey), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envKey(raw string) string {
	key := strings.ToLower(strings.TrimPrefix(raw, "QUERYGUARD_"))
	section, field, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + field
}
