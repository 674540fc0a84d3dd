// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"log/slog"
	"sync"
)

// SlogSink writes audit events as structured log records.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink logging through logger, or slog.Default when
// logger is nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit logs the event at info level.
func (s *SlogSink) Emit(ctx context.Context, event Event) error {
	attrs := []any{
		"audit_id", event.ID,
		"kind", string(event.Kind),
		"role", event.Role,
		"decision", event.Decision,
		"query_hash", event.QueryHash,
		"policy_version", event.PolicyVersion,
	}
	if event.Environment != "" {
		attrs = append(attrs, "environment", event.Environment)
	}
	if len(event.Violations) > 0 {
		attrs = append(attrs, "violations", event.Violations)
	}
	if event.MaskedFields > 0 || event.FilteredFields > 0 {
		attrs = append(attrs, "masked_fields", event.MaskedFields,
			"filtered_fields", event.FilteredFields)
	}
	if event.FailSafe {
		attrs = append(attrs, "fail_safe", true)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit", slog.Group("audit", attrs...))
	return nil
}

// Close is a no-op.
func (s *SlogSink) Close(context.Context) error { return nil }

// MemorySink keeps audit events in memory, mainly for tests and local runs.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit appends the event.
func (s *MemorySink) Emit(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Close is a no-op.
func (s *MemorySink) Close(context.Context) error { return nil }

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// MultiSink fans one event out to several sinks. The first error is
// returned but every sink still sees the event.
type MultiSink []Sink

// Emit delivers the event to every sink.
func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var first error
	for _, s := range m {
		if err := s.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every sink.
func (m MultiSink) Close(ctx context.Context) error {
	var first error
	for _, s := range m {
		if err := s.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
