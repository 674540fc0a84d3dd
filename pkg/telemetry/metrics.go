// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GuardMetrics tracks guardrail decisions, masking activity, and audit
// delivery for production monitoring.
type GuardMetrics struct {
	// decisionCounter tracks validation decisions by outcome and role.
	decisionCounter metric.Int64Counter

	// decisionDuration tracks validation latency in milliseconds.
	decisionDuration metric.Float64Histogram

	// maskedFieldsCounter tracks fields masked or filtered per record.
	maskedFieldsCounter metric.Int64Counter

	// auditDropCounter tracks audit events dropped on a full queue.
	auditDropCounter metric.Int64Counter

	// failSafeGauge tracks whether the fail-safe policy is active (0/1).
	failSafeGauge metric.Int64Gauge
}

// NewGuardMetrics creates a metrics tracker with OTEL meters.
func NewGuardMetrics(ctx context.Context) (*GuardMetrics, error) {
	meter := otel.Meter("queryguard/engine")

	decisionCounter, err := meter.Int64Counter(
		"queryguard.decisions.total",
		metric.WithDescription("Validation decisions by outcome and role"),
	)
	if err != nil {
		return nil, err
	}

	decisionDuration, err := meter.Float64Histogram(
		"queryguard.decisions.duration",
		metric.WithDescription("Validation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	maskedFieldsCounter, err := meter.Int64Counter(
		"queryguard.mask.fields.total",
		metric.WithDescription("Fields masked or filtered from result records"),
	)
	if err != nil {
		return nil, err
	}

	auditDropCounter, err := meter.Int64Counter(
		"queryguard.audit.dropped.total",
		metric.WithDescription("Audit events dropped because the queue was full"),
	)
	if err != nil {
		return nil, err
	}

	failSafeGauge, err := meter.Int64Gauge(
		"queryguard.policy.failsafe",
		metric.WithDescription("Whether the fail-safe policy is active (0=no, 1=yes)"),
	)
	if err != nil {
		return nil, err
	}

	return &GuardMetrics{
		decisionCounter:     decisionCounter,
		decisionDuration:    decisionDuration,
		maskedFieldsCounter: maskedFieldsCounter,
		auditDropCounter:    auditDropCounter,
		failSafeGauge:       failSafeGauge,
	}, nil
}

// RecordDecision counts one validation decision and its latency.
func (gm *GuardMetrics) RecordDecision(ctx context.Context, decision, role string, durationMs float64) {
	if gm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrDecision, decision),
		attribute.String(AttrDecisionRole, role),
	)
	gm.decisionCounter.Add(ctx, 1, attrs)
	gm.decisionDuration.Record(ctx, durationMs, attrs)
}

// RecordMasking counts fields masked and filtered by one masking pass.
func (gm *GuardMetrics) RecordMasking(ctx context.Context, role string, masked, filtered int) {
	if gm == nil {
		return
	}
	roleAttr := attribute.String(AttrDecisionRole, role)
	if masked > 0 {
		gm.maskedFieldsCounter.Add(ctx, int64(masked), metric.WithAttributes(
			roleAttr, attribute.String("action", "masked")))
	}
	if filtered > 0 {
		gm.maskedFieldsCounter.Add(ctx, int64(filtered), metric.WithAttributes(
			roleAttr, attribute.String("action", "filtered")))
	}
}

// RecordAuditDrops counts audit events lost since the last report.
func (gm *GuardMetrics) RecordAuditDrops(ctx context.Context, dropped int64) {
	if gm == nil || dropped <= 0 {
		return
	}
	gm.auditDropCounter.Add(ctx, dropped)
}

// RecordFailSafe records whether the fail-safe policy is serving lookups.
func (gm *GuardMetrics) RecordFailSafe(ctx context.Context, active bool) {
	if gm == nil {
		return
	}
	var v int64
	if active {
		v = 1
	}
	gm.failSafeGauge.Record(ctx, v)
}
