// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records guardrail decisions without leaking query content.
//
// Events carry a one-way hash of the original query instead of its text, so
// sensitive search terms never reach log or audit storage. Emission is
// fire-and-forget: a sink failure never fails the operation that produced
// the event.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the operation that produced an event.
type Kind string

const (
	// KindValidation records a query validation decision.
	KindValidation Kind = "validation"
	// KindMasking records a record masking pass.
	KindMasking Kind = "masking"
	// KindPolicyReload records a policy reload attempt.
	KindPolicyReload Kind = "policy_reload"
)

// Event is one audit record. It never contains the raw query.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`

	Environment string `json:"environment,omitempty"`
	Role        string `json:"role,omitempty"`
	Caller      string `json:"caller,omitempty"`
	SessionID   string `json:"session_id,omitempty"`

	// Decision is the validation outcome (allowed, allowed_with_warnings,
	// blocked) for validation events.
	Decision string `json:"decision,omitempty"`
	// QueryHash is a truncated one-way hash of the original query.
	QueryHash   string   `json:"query_hash,omitempty"`
	QueryLength int      `json:"query_length,omitempty"`
	Violations  []string `json:"violations,omitempty"`

	// MaskedFields and FilteredFields count masking activity.
	MaskedFields   int `json:"masked_fields,omitempty"`
	FilteredFields int `json:"filtered_fields,omitempty"`

	PolicyVersion string `json:"policy_version,omitempty"`
	FailSafe      bool   `json:"fail_safe,omitempty"`
	Error         string `json:"error,omitempty"`
}

// NewEvent creates an event with a fresh ID and a UTC timestamp.
func NewEvent(kind Kind) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
	}
}

// HashQuery returns the truncated hex digest used as the audit identity of
// a query. Collisions at this length are acceptable for correlation.
func HashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])[:16]
}

// Sink receives audit events. Implementations must not block indefinitely;
// the emitter already decouples callers from sink latency.
type Sink interface {
	Emit(ctx context.Context, event Event) error
	Close(ctx context.Context) error
}
