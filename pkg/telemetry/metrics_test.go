// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"
)

func TestNewGuardMetrics(t *testing.T) {
	gm, err := NewGuardMetrics(context.Background())
	if err != nil {
		t.Fatalf("failed to create guard metrics: %v", err)
	}
	if gm == nil {
		t.Fatal("expected non-nil GuardMetrics")
	}
}

func TestRecordDecision(t *testing.T) {
	gm, _ := NewGuardMetrics(context.Background())
	ctx := context.Background()

	gm.RecordDecision(ctx, "allowed", "standard_user", 0.4)
	gm.RecordDecision(ctx, "blocked", "readonly_user", 1.2)
	gm.RecordDecision(ctx, "allowed_with_warnings", "power_user", 0.9)

	var nilMetrics *GuardMetrics
	nilMetrics.RecordDecision(ctx, "allowed", "standard_user", 0.1)
}

func TestRecordMasking(t *testing.T) {
	gm, _ := NewGuardMetrics(context.Background())
	ctx := context.Background()

	gm.RecordMasking(ctx, "standard_user", 3, 1)
	gm.RecordMasking(ctx, "standard_user", 0, 0)

	var nilMetrics *GuardMetrics
	nilMetrics.RecordMasking(ctx, "standard_user", 1, 1)
}

func TestRecordAuditDropsAndFailSafe(t *testing.T) {
	gm, _ := NewGuardMetrics(context.Background())
	ctx := context.Background()

	gm.RecordAuditDrops(ctx, 5)
	gm.RecordAuditDrops(ctx, 0)
	gm.RecordFailSafe(ctx, true)
	gm.RecordFailSafe(ctx, false)

	var nilMetrics *GuardMetrics
	nilMetrics.RecordAuditDrops(ctx, 1)
	nilMetrics.RecordFailSafe(ctx, true)
}

func TestConcurrentMetrics(t *testing.T) {
	gm, _ := NewGuardMetrics(context.Background())
	ctx := context.Background()

	done := make(chan bool, 2)
	go func() {
		for i := 0; i < 10; i++ {
			gm.RecordDecision(ctx, "allowed", "standard_user", float64(i))
			gm.RecordMasking(ctx, "standard_user", i, i%2)
		}
		done <- true
	}()
	go func() {
		for i := 0; i < 10; i++ {
			gm.RecordAuditDrops(ctx, int64(i))
			gm.RecordFailSafe(ctx, i%2 == 0)
		}
		done <- true
	}()
	<-done
	<-done
}
