// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for guardrail telemetry. These follow OpenTelemetry
// naming conventions where applicable.
const (
	// Decision attributes
	AttrDecision       = "queryguard.decision"
	AttrDecisionRole   = "queryguard.decision.role"
	AttrQueryHash      = "queryguard.query.hash"
	AttrQueryLength    = "queryguard.query.length"
	AttrViolationCount = "queryguard.violations.count"
	AttrViolationClass = "queryguard.violations.class"

	// Policy attributes
	AttrPolicyVersion     = "queryguard.policy.version"
	AttrPolicyEnvironment = "queryguard.policy.environment"
	AttrPolicyGeneration  = "queryguard.policy.generation"
	AttrPolicyFailSafe    = "queryguard.policy.fail_safe"

	// Masking attributes
	AttrMaskedFields   = "queryguard.mask.masked_fields"
	AttrFilteredFields = "queryguard.mask.filtered_fields"
	AttrRecordCount    = "queryguard.mask.record_count"

	// Caller attributes
	AttrCallerName    = "queryguard.caller.name"
	AttrCallerSession = "queryguard.caller.session_id"

	// Search execution attributes
	AttrSearchTimeoutMs = "queryguard.search.timeout_ms"
	AttrSearchResults   = "queryguard.search.result_count"
	AttrSearchDuration  = "queryguard.search.duration_ms"
)

// DecisionAttrs builds the attribute set for one validation decision.
func DecisionAttrs(decision, role, environment string, failSafe bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrDecision, decision),
		attribute.String(AttrDecisionRole, role),
		attribute.String(AttrPolicyEnvironment, environment),
		attribute.Bool(AttrPolicyFailSafe, failSafe),
	}
}
