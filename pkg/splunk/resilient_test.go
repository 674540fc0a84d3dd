// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package splunk

import (
	"context"
	"testing"
	"time"

	guarderr "github.com/queryguard/queryguard/pkg/errors"
	"github.com/queryguard/queryguard/pkg/resilience"
	"github.com/queryguard/queryguard/pkg/validate"
)

type flakyExecutor struct {
	failures int
	calls    int
	records  []Record
}

func (f *flakyExecutor) Execute(_ context.Context, _ string, _ validate.ExecutionMetadata) ([]Record, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, guarderr.New(guarderr.CodeExec, "search head busy", nil).WithRecoverable(true)
	}
	return f.records, nil
}

func TestResilientExecutorRetriesTransientFailures(t *testing.T) {
	inner := &flakyExecutor{failures: 2, records: []Record{{"host": "web1"}}}
	exec := NewResilientExecutor(inner,
		WithRetryConfig(resilience.DefaultRetryConfig().
			WithMaxAttempts(3).
			WithInitialDelay(time.Millisecond)))

	records, err := exec.Execute(context.Background(), "index=app", validate.ExecutionMetadata{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(records) != 1 || inner.calls != 3 {
		t.Errorf("records = %v, calls = %d", records, inner.calls)
	}
}

func TestResilientExecutorOpensBreaker(t *testing.T) {
	inner := &flakyExecutor{failures: 100}
	exec := NewResilientExecutor(inner,
		WithRetryConfig(resilience.DefaultRetryConfig().
			WithMaxAttempts(2).
			WithInitialDelay(time.Millisecond)),
		WithBreakerConfig(resilience.CircuitBreakerConfig{
			FailureThreshold: 2,
			Timeout:          time.Hour,
			Name:             "splunk",
		}))

	if _, err := exec.Execute(context.Background(), "index=app", validate.ExecutionMetadata{}); err == nil {
		t.Fatal("expected failure")
	}
	if exec.BreakerState() != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open", exec.BreakerState())
	}

	calls := inner.calls
	if _, err := exec.Execute(context.Background(), "index=app", validate.ExecutionMetadata{}); err == nil {
		t.Fatal("open breaker must fail fast")
	}
	if inner.calls != calls {
		t.Errorf("open breaker must not reach the search head, calls %d -> %d", calls, inner.calls)
	}
}

func TestResilientExecutorDoesNotRetryValidationFaults(t *testing.T) {
	calls := 0
	inner := executorFunc(func(context.Context, string, validate.ExecutionMetadata) ([]Record, error) {
		calls++
		return nil, guarderr.New(guarderr.CodeInvalidInput, "bad query", nil)
	})
	exec := NewResilientExecutor(inner,
		WithRetryConfig(resilience.DefaultRetryConfig().
			WithMaxAttempts(5).
			WithInitialDelay(time.Millisecond)))

	if _, err := exec.Execute(context.Background(), "", validate.ExecutionMetadata{}); err == nil {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

type executorFunc func(context.Context, string, validate.ExecutionMetadata) ([]Record, error)

func (f executorFunc) Execute(ctx context.Context, q string, m validate.ExecutionMetadata) ([]Record, error) {
	return f(ctx, q, m)
}
