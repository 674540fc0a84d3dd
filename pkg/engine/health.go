// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	// HealthHealthy indicates the component is fully operational.
	HealthHealthy HealthStatus = "HEALTHY"

	// HealthDegraded indicates the component is operational but with
	// reduced capacity.
	HealthDegraded HealthStatus = "DEGRADED"

	// HealthUnhealthy indicates the component is not operational.
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult represents the result of a health check.
type HealthResult struct {
	Status    HealthStatus
	Component string
	Message   string
	LastCheck time.Time
	Error     error
}

// HealthChecker checks the health of a component.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// Health reports the engine's own health. Fail-safe mode is degraded, not
// unhealthy: evaluations keep working under the restrictive policy.
func (e *Engine) Health(ctx context.Context) HealthResult {
	result := HealthResult{
		Status:    HealthHealthy,
		Component: "engine",
		Message:   "policy configuration active",
		LastCheck: time.Now().UTC(),
	}
	if e.store.FailSafeActive() {
		result.Status = HealthDegraded
		result.Message = "fail-safe policy active, configuration could not be loaded"
	}
	return result
}

// CheckAll runs the engine's check plus any registered collaborator checks
// and reduces them to an overall status.
func (e *Engine) CheckAll(ctx context.Context, checkers map[string]HealthChecker) ([]HealthResult, HealthStatus) {
	results := []HealthResult{e.Health(ctx)}
	for name, checker := range checkers {
		r := checker.Check(ctx)
		if r.Component == "" {
			r.Component = name
		}
		results = append(results, r)
	}

	overall := HealthHealthy
	for _, r := range results {
		switch r.Status {
		case HealthUnhealthy:
			return results, HealthUnhealthy
		case HealthDegraded:
			overall = HealthDegraded
		}
	}
	return results, overall
}
