// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy loads, validates, and resolves the layered guardrails
// configuration into immutable per-role policy snapshots.
//
// A configuration document is loaded from YAML (base file plus an optional
// environment override), validated eagerly, and resolved against a role's
// override entry. Resolution never produces a partially applied policy:
// either the document validates as a whole, or the caller receives the
// hardcoded fail-safe policy. Role overrides replace numeric limit groups
// outright and may only add to blocklists, never remove from them.
package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/queryguard/queryguard/pkg/pattern"
)

// PatternRule is one blocklist or warning regular expression with its
// operator-facing reason.
type PatternRule struct {
	Pattern string `koanf:"pattern" yaml:"pattern"`
	Reason  string `koanf:"reason" yaml:"reason"`
}

// TimeLimits bounds the time span a query may cover.
type TimeLimits struct {
	// MaxTimeRangeDays is the widest span a query may request.
	MaxTimeRangeDays int `koanf:"max_time_range_days" yaml:"max_time_range_days"`
	// DefaultTimeRange is injected when a query carries no time bound,
	// in relative notation such as "-1h".
	DefaultTimeRange string `koanf:"default_time_range" yaml:"default_time_range"`
	// MaxLookbackDays bounds how far back any query may reach.
	MaxLookbackDays int `koanf:"max_lookback_days" yaml:"max_lookback_days"`
}

// ResultLimits bounds result counts.
type ResultLimits struct {
	MaxResults     int `koanf:"max_results_per_search" yaml:"max_results_per_search"`
	DefaultResults int `koanf:"default_results_per_search" yaml:"default_results_per_search"`
}

// ExecutionLimits bounds query execution by the downstream collaborator.
type ExecutionLimits struct {
	SearchTimeoutSeconds  int `koanf:"search_timeout_seconds" yaml:"search_timeout_seconds"`
	MaxConcurrentSearches int `koanf:"max_concurrent_searches" yaml:"max_concurrent_searches"`
	SearchesPerMinute     int `koanf:"searches_per_minute" yaml:"searches_per_minute"`
}

// MaskRule replaces values matching a pattern with a fixed template.
// Replacement templates must not themselves match any mask or sensitive
// pattern, so masking is idempotent by construction.
type MaskRule struct {
	Kind        string `koanf:"kind" yaml:"kind"`
	Pattern     string `koanf:"pattern" yaml:"pattern"`
	Replacement string `koanf:"replacement" yaml:"replacement"`
}

// GuardrailsSection carries the master switches.
type GuardrailsSection struct {
	Enabled *bool  `koanf:"enabled" yaml:"enabled"`
	Version string `koanf:"version" yaml:"version"`
}

// SecuritySection lists blocked and warning rules.
type SecuritySection struct {
	BlockedCommands []string      `koanf:"blocked_commands" yaml:"blocked_commands"`
	BlockedPatterns []PatternRule `koanf:"blocked_patterns" yaml:"blocked_patterns"`
	WarningPatterns []PatternRule `koanf:"warning_patterns" yaml:"warning_patterns"`
}

// PerformanceSection groups the numeric limit groups.
type PerformanceSection struct {
	TimeLimits      TimeLimits      `koanf:"time_limits" yaml:"time_limits"`
	ResultLimits    ResultLimits    `koanf:"result_limits" yaml:"result_limits"`
	ExecutionLimits ExecutionLimits `koanf:"execution_limits" yaml:"execution_limits"`
}

// DataMasking carries the privacy master switch and the default token.
type DataMasking struct {
	Enabled     *bool  `koanf:"enabled" yaml:"enabled"`
	DefaultMask string `koanf:"default_mask" yaml:"default_mask"`
}

// PrivacySection configures record masking and filtering.
type PrivacySection struct {
	DataMasking     DataMasking `koanf:"data_masking" yaml:"data_masking"`
	SensitiveFields []string    `koanf:"sensitive_fields" yaml:"sensitive_fields"`
	MaskingPatterns []MaskRule  `koanf:"masking_patterns" yaml:"masking_patterns"`
	FilteredFields  []string    `koanf:"filtered_fields" yaml:"filtered_fields"`
}

// RoleOverride adjusts limits for one role. Limit groups are replaced as a
// whole when present; blocklist entries are appended to the global lists.
type RoleOverride struct {
	Privilege          int              `koanf:"privilege" yaml:"privilege"`
	Aliases            []string         `koanf:"aliases" yaml:"aliases"`
	TimeLimits         *TimeLimits      `koanf:"time_limits" yaml:"time_limits"`
	ResultLimits       *ResultLimits    `koanf:"result_limits" yaml:"result_limits"`
	ExecutionLimits    *ExecutionLimits `koanf:"execution_limits" yaml:"execution_limits"`
	DataMaskingEnabled *bool            `koanf:"data_masking_enabled" yaml:"data_masking_enabled"`
	BlockedCommands    []string         `koanf:"blocked_commands" yaml:"blocked_commands"`
	BlockedPatterns    []PatternRule    `koanf:"blocked_patterns" yaml:"blocked_patterns"`
}

// Document is the on-disk policy schema. Unknown fields are rejected at
// load time.
type Document struct {
	Guardrails  GuardrailsSection       `koanf:"guardrails" yaml:"guardrails"`
	Security    SecuritySection         `koanf:"security" yaml:"security"`
	Performance PerformanceSection      `koanf:"performance" yaml:"performance"`
	Privacy     PrivacySection          `koanf:"privacy" yaml:"privacy"`
	Roles       map[string]RoleOverride `koanf:"roles" yaml:"roles"`
}

// Policy is the fully resolved, immutable configuration for one evaluation.
// Policies are shared read-only across concurrent evaluations; nothing may
// mutate one after Compile.
type Policy struct {
	Enabled     bool
	FailSafe    bool
	Version     string
	Environment string
	Role        string

	BlockedCommands []string
	BlockedPatterns []PatternRule
	WarningPatterns []PatternRule

	Time      TimeLimits
	Results   ResultLimits
	Execution ExecutionLimits

	MaskingEnabled  bool
	DefaultMask     string
	SensitiveFields []string
	MaskRules       []MaskRule
	FilteredFields  []string

	blocked        *pattern.Set
	warning        *pattern.Set
	masks          []CompiledMaskRule
	sensitiveLower []string
	filteredLower  map[string]struct{}
}

// CompiledMaskRule is a MaskRule with its pattern compiled.
type CompiledMaskRule struct {
	Kind        string
	Replacement string
	re          *regexp.Regexp
}

// Matches reports whether the rule's pattern occurs in value.
func (r CompiledMaskRule) Matches(value string) bool {
	return r.re.MatchString(value)
}

// Apply replaces every occurrence of the rule's pattern in value with the
// replacement template.
func (r CompiledMaskRule) Apply(value string) string {
	return r.re.ReplaceAllString(value, r.Replacement)
}

// sensitiveNameRe is the built-in safety net on top of the configured
// sensitive-field list.
var sensitiveNameRe = regexp.MustCompile(`(?i)(pass|pwd|secret|token|key|ssn|credit|card)`)

// Compile validates and compiles the policy's pattern sets. A policy that
// fails to compile must never be used; callers substitute the fail-safe
// policy instead.
func (p *Policy) Compile() error {
	blocked := pattern.NewSet()
	for _, cmd := range p.BlockedCommands {
		if err := blocked.AddCommand(cmd, "blocked command"); err != nil {
			return fmt.Errorf("blocked command: %w", err)
		}
	}
	for _, rule := range p.BlockedPatterns {
		if err := blocked.AddRegex(rule.Pattern, rule.Reason); err != nil {
			return fmt.Errorf("blocked pattern: %w", err)
		}
	}

	warning := pattern.NewSet()
	for _, rule := range p.WarningPatterns {
		if err := warning.AddRegex(rule.Pattern, rule.Reason); err != nil {
			return fmt.Errorf("warning pattern: %w", err)
		}
	}

	masks := make([]CompiledMaskRule, 0, len(p.MaskRules))
	for _, rule := range p.MaskRules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("masking pattern %q: %w", rule.Kind, err)
		}
		masks = append(masks, CompiledMaskRule{Kind: rule.Kind, Replacement: rule.Replacement, re: re})
	}

	p.blocked = blocked
	p.warning = warning
	p.masks = masks

	p.sensitiveLower = make([]string, 0, len(p.SensitiveFields))
	for _, f := range p.SensitiveFields {
		p.sensitiveLower = append(p.sensitiveLower, strings.ToLower(f))
	}
	p.filteredLower = make(map[string]struct{}, len(p.FilteredFields))
	for _, f := range p.FilteredFields {
		p.filteredLower[strings.ToLower(f)] = struct{}{}
	}
	return nil
}

// Blocked returns the compiled blocklist pattern set.
func (p *Policy) Blocked() *pattern.Set { return p.blocked }

// Warnings returns the compiled warning pattern set.
func (p *Policy) Warnings() *pattern.Set { return p.warning }

// CompiledMaskRules returns the compiled value-masking rules in
// policy-declared order.
func (p *Policy) CompiledMaskRules() []CompiledMaskRule { return p.masks }

// IsSensitiveField reports whether a field name matches the sensitive list
// (case-insensitive containment) or the built-in sensitive-name patterns.
func (p *Policy) IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range p.sensitiveLower {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return sensitiveNameRe.MatchString(lower)
}

// IsFilteredField reports whether a field must be dropped from output.
func (p *Policy) IsFilteredField(name string) bool {
	_, ok := p.filteredLower[strings.ToLower(name)]
	return ok
}

// SearchTimeout returns the execution timeout as a duration.
func (p *Policy) SearchTimeout() time.Duration {
	return time.Duration(p.Execution.SearchTimeoutSeconds) * time.Second
}
