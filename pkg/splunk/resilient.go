// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package splunk

import (
	"context"

	"github.com/queryguard/queryguard/pkg/resilience"
	"github.com/queryguard/queryguard/pkg/validate"
)

// ResilientExecutor wraps an Executor with a circuit breaker and retry.
// Transient search head failures are retried with backoff; sustained
// failure opens the breaker and sheds load until the platform recovers.
type ResilientExecutor struct {
	inner   Executor
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// ResilientOption configures a ResilientExecutor.
type ResilientOption func(*ResilientExecutor)

// WithRetryConfig replaces the default retry configuration.
func WithRetryConfig(rc resilience.RetryConfig) ResilientOption {
	return func(r *ResilientExecutor) { r.retry = rc }
}

// WithBreakerConfig replaces the default circuit breaker configuration.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) ResilientOption {
	return func(r *ResilientExecutor) { r.breaker = resilience.NewCircuitBreaker(cfg) }
}

// NewResilientExecutor decorates inner with retry and circuit breaking.
func NewResilientExecutor(inner Executor, opts ...ResilientOption) *ResilientExecutor {
	r := &ResilientExecutor{
		inner: inner,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "splunk",
		}),
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs the query through the breaker, retrying recoverable
// failures. The breaker counts each underlying attempt, so a flapping
// search head trips it even when individual calls eventually succeed.
func (r *ResilientExecutor) Execute(ctx context.Context, query string, meta validate.ExecutionMetadata) ([]Record, error) {
	var records []Record
	err := r.retry.Do(ctx, func() error {
		return r.breaker.Call(ctx, func() error {
			var execErr error
			records, execErr = r.inner.Execute(ctx, query, meta)
			return execErr
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Ping forwards to the inner executor when it supports health probes.
func (r *ResilientExecutor) Ping(ctx context.Context) error {
	if pinger, ok := r.inner.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// BreakerState exposes the circuit state for health reporting.
func (r *ResilientExecutor) BreakerState() resilience.CircuitBreakerState {
	return r.breaker.State()
}
