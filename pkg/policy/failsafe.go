// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package policy

// Fail-safe values. Used whenever configuration cannot be trusted; failing
// safe narrows capability, never widens it.
const (
	failSafeMaxTimeRangeDays = 1
	failSafeDefaultTimeRange = "-1h"
	failSafeMaxResults       = 100
	failSafeTimeoutSeconds   = 60
	failSafeMaxConcurrent    = 1
	failSafePerMinute        = 6

	// FailSafeRole is the role recorded on fail-safe policies.
	FailSafeRole = "readonly_user"

	// DefaultMaskToken replaces sensitive values when no value pattern
	// applies. It contains no digits and no '@', so it can never match
	// the mask patterns themselves.
	DefaultMaskToken = "[MASKED]"
)

// failSafeBlockedCommands are destructive or exfiltrating operations that
// stay blocked even when no configuration is available.
var failSafeBlockedCommands = []string{
	"|delete",
	"|collect",
	"|outputlookup",
	"|outputcsv",
	"|sendemail",
	"|script",
	"|run",
	"|dump",
}

// failSafeMaskRules cover the fixed value-pattern set. Replacement tokens
// are chosen so a masked value never re-matches any pattern.
var failSafeMaskRules = []MaskRule{
	{Kind: "credit_card", Pattern: `\b[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}\b`, Replacement: "****-****-****-****"},
	{Kind: "ssn", Pattern: `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`, Replacement: "***-**-****"},
	{Kind: "email", Pattern: `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, Replacement: "****@****.***"},
	{Kind: "phone", Pattern: `\b[0-9]{3}[-.][0-9]{3}[-.][0-9]{4}\b`, Replacement: "***-***-****"},
	{Kind: "ip_address", Pattern: `\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`, Replacement: "xxx.xxx.xxx.xxx"},
}

var failSafeSensitiveFields = []string{
	"password", "passwd", "pwd", "secret", "token", "api_key", "apikey",
	"ssn", "social_security", "credit_card", "email", "phone", "mobile",
	"session_id", "cookie", "authorization",
}

// FailSafe builds the hardcoded maximally restrictive policy. The extra
// security section, when non-nil, merges previously known blocklists in:
// failing safe must never relax a blocklist that was in force before the
// configuration went bad.
func FailSafe(environment, roleName string, extra *SecuritySection) *Policy {
	if roleName == "" {
		roleName = FailSafeRole
	}

	p := &Policy{
		Enabled:     true,
		FailSafe:    true,
		Version:     "fail-safe",
		Environment: environment,
		Role:        roleName,

		BlockedCommands: append([]string(nil), failSafeBlockedCommands...),

		Time: TimeLimits{
			MaxTimeRangeDays: failSafeMaxTimeRangeDays,
			DefaultTimeRange: failSafeDefaultTimeRange,
			MaxLookbackDays:  failSafeMaxTimeRangeDays,
		},
		Results: ResultLimits{
			MaxResults:     failSafeMaxResults,
			DefaultResults: failSafeMaxResults,
		},
		Execution: ExecutionLimits{
			SearchTimeoutSeconds:  failSafeTimeoutSeconds,
			MaxConcurrentSearches: failSafeMaxConcurrent,
			SearchesPerMinute:     failSafePerMinute,
		},

		MaskingEnabled:  true,
		DefaultMask:     DefaultMaskToken,
		SensitiveFields: append([]string(nil), failSafeSensitiveFields...),
		MaskRules:       append([]MaskRule(nil), failSafeMaskRules...),
	}

	if extra != nil {
		p.BlockedCommands = mergeCommands(p.BlockedCommands, extra.BlockedCommands)
		p.BlockedPatterns = append(p.BlockedPatterns, extra.BlockedPatterns...)
	}

	if err := p.Compile(); err != nil {
		// Only reachable when the merged extra patterns are bad; drop
		// them and fall back to the built-in constants alone.
		p.BlockedPatterns = nil
		p.BlockedCommands = append([]string(nil), failSafeBlockedCommands...)
		if err := p.Compile(); err != nil {
			panic("policy: fail-safe constants failed to compile: " + err.Error())
		}
	}
	return p
}

func mergeCommands(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, c := range base {
		seen[c] = struct{}{}
	}
	out := append([]string(nil), base...)
	for _, c := range extra {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
