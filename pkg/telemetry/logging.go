// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ConfigureSlog installs a trace-correlated slog logger as the default and
// returns it. format is "json" or "text"; unknown levels fall back to info.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	lvl, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var inner slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		inner = slog.NewJSONHandler(output, opts)
	} else {
		inner = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(spanCorrelator{inner})
	slog.SetDefault(logger)
	return logger
}

// spanCorrelator stamps every record carrying an active span with trace_id
// and span_id, so guardrail decisions line up with their request traces.
type spanCorrelator struct {
	inner slog.Handler
}

func (h spanCorrelator) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h spanCorrelator) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.inner.Handle(ctx, record)
}

func (h spanCorrelator) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanCorrelator{h.inner.WithAttrs(attrs)}
}

func (h spanCorrelator) WithGroup(name string) slog.Handler {
	return spanCorrelator{h.inner.WithGroup(name)}
}
