// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is the guardrails entry point. It resolves the caller's
// role, fetches the effective policy, validates and rewrites queries, masks
// result records, and emits audit events for every decision.
//
// The engine is stateless per request: the only shared mutable state is the
// policy store, which swaps immutable snapshots on reload. Every method is
// safe for concurrent use.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/queryguard/queryguard/pkg/audit"
	guarderr "github.com/queryguard/queryguard/pkg/errors"
	"github.com/queryguard/queryguard/pkg/mask"
	"github.com/queryguard/queryguard/pkg/policy"
	"github.com/queryguard/queryguard/pkg/role"
	"github.com/queryguard/queryguard/pkg/telemetry"
	"github.com/queryguard/queryguard/pkg/validate"
)

// Caller identifies who is asking for an evaluation.
type Caller struct {
	// Name is the caller's identifier (user id, agent name).
	Name string
	// Roles are the caller's role claims; the most restrictive recognized
	// claim decides the effective policy.
	Roles []string
	// SessionID correlates audit events across one session.
	SessionID string
}

// MaskedResults is the outcome of masking a batch of records.
type MaskedResults struct {
	Records        []mask.Record
	MaskedFields   int
	FilteredFields int
	Role           string
}

// Engine evaluates queries and records against the active policy.
type Engine struct {
	store       *policy.Store
	emitter     *audit.Emitter
	metrics     *telemetry.GuardMetrics
	logger      *slog.Logger
	environment string

	// resolver is rebuilt lazily when the store generation moves.
	resolver    atomic.Pointer[role.Resolver]
	resolverGen atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter sets the audit emitter. Without one, decisions are not
// audited.
func WithEmitter(emitter *audit.Emitter) Option {
	return func(e *Engine) { e.emitter = emitter }
}

// WithMetrics sets the metrics tracker.
func WithMetrics(metrics *telemetry.GuardMetrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEnvironment selects the policy environment for all evaluations.
func WithEnvironment(environment string) Option {
	return func(e *Engine) { e.environment = environment }
}

// New creates an engine reading policies from store.
func New(store *policy.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateQuery evaluates query for caller and returns the decision with
// the final query string. The only error condition is invalid input;
// policy trouble degrades to the fail-safe policy, never to an error.
func (e *Engine) ValidateQuery(ctx context.Context, query string, caller Caller) (validate.Decision, error) {
	if query == "" {
		return validate.Decision{}, guarderr.New(guarderr.CodeInvalidInput, "query is empty", nil)
	}

	start := time.Now()
	roleName := e.resolveRole(caller)
	p := e.store.Resolve(e.environment, roleName)
	decision := validate.Validate(query, p)
	elapsed := time.Since(start)

	e.logger.InfoContext(ctx, "query validated",
		"decision", string(decision.Status),
		"role", decision.Role,
		"violations", len(decision.Violations),
		"query_hash", audit.HashQuery(query),
		"fail_safe", p.FailSafe,
		"duration", elapsed)

	e.metrics.RecordDecision(ctx, string(decision.Status), decision.Role,
		float64(elapsed.Microseconds())/1000)
	e.metrics.RecordFailSafe(ctx, e.store.FailSafeActive())

	e.publish(e.validationEvent(query, caller, decision, p))
	return decision, nil
}

// MaskResults applies the caller's policy to a batch of result records.
func (e *Engine) MaskResults(ctx context.Context, records []mask.Record, caller Caller) (MaskedResults, error) {
	roleName := e.resolveRole(caller)
	p := e.store.Resolve(e.environment, roleName)

	out := MaskedResults{
		Records: make([]mask.Record, len(records)),
		Role:    p.Role,
	}
	for i, r := range mask.MaskAll(records, p) {
		out.Records[i] = r.Record
		out.MaskedFields += len(r.MaskedFields)
		out.FilteredFields += len(r.FilteredFields)
	}

	e.metrics.RecordMasking(ctx, p.Role, out.MaskedFields, out.FilteredFields)

	event := audit.NewEvent(audit.KindMasking)
	event.Environment = e.environment
	event.Role = p.Role
	event.Caller = caller.Name
	event.SessionID = caller.SessionID
	event.MaskedFields = out.MaskedFields
	event.FilteredFields = out.FilteredFields
	event.PolicyVersion = p.Version
	event.FailSafe = p.FailSafe
	e.publish(event)

	return out, nil
}

// Reload re-reads the policy configuration. On failure the store serves the
// fail-safe policy and the error reports the cause; the engine keeps
// working either way.
func (e *Engine) Reload(ctx context.Context) error {
	err := e.store.Reload()

	event := audit.NewEvent(audit.KindPolicyReload)
	event.Environment = e.environment
	event.FailSafe = e.store.FailSafeActive()
	if err != nil {
		event.Error = err.Error()
	}
	e.publish(event)
	e.metrics.RecordFailSafe(ctx, e.store.FailSafeActive())

	return err
}

// FailSafeActive reports whether evaluations are served by the fail-safe
// policy.
func (e *Engine) FailSafeActive() bool {
	return e.store.FailSafeActive()
}

// Close flushes the audit emitter.
func (e *Engine) Close(ctx context.Context) error {
	if e.emitter == nil {
		return nil
	}
	e.metrics.RecordAuditDrops(ctx, int64(e.emitter.Dropped()))
	return e.emitter.Close(ctx)
}

func (e *Engine) resolveRole(caller Caller) string {
	gen := e.store.Generation()
	r := e.resolver.Load()
	if r == nil || e.resolverGen.Load() != gen {
		r = role.NewResolver(e.store.RoleDefinitions())
		e.resolver.Store(r)
		e.resolverGen.Store(gen)
	}
	return r.Resolve(caller.Roles)
}

func (e *Engine) validationEvent(query string, caller Caller, decision validate.Decision, p *policy.Policy) audit.Event {
	event := audit.NewEvent(audit.KindValidation)
	event.Environment = e.environment
	event.Role = decision.Role
	event.Caller = caller.Name
	event.SessionID = caller.SessionID
	event.Decision = string(decision.Status)
	event.QueryHash = audit.HashQuery(query)
	event.QueryLength = len(query)
	event.Violations = decision.Reasons()
	event.PolicyVersion = p.Version
	event.FailSafe = p.FailSafe
	return event
}

func (e *Engine) publish(event audit.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Publish(event)
}
