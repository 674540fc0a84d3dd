// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

// Package validate applies a resolved policy to a raw search query.
//
// Validation decides allow/warn/block and rewrites allowed queries to
// inject missing safety constraints: a time bound and a result cap.
// Security matches always win; a blocked query is never rewritten and
// performance checks are skipped, since it will never execute.
//
// Rewriting is idempotent: validating an already compliant query returns
// it unchanged.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/queryguard/queryguard/pkg/pattern"
	"github.com/queryguard/queryguard/pkg/policy"
)

// Status is the validation outcome.
type Status string

const (
	// StatusAllowed permits the query as-is or after rewriting.
	StatusAllowed Status = "allowed"
	// StatusAllowedWithWarnings permits the query but records
	// performance violations.
	StatusAllowedWithWarnings Status = "allowed_with_warnings"
	// StatusBlocked rejects the query outright.
	StatusBlocked Status = "blocked"
)

// ViolationClass tags a violation as a security or performance concern.
type ViolationClass string

const (
	ClassSecurity    ViolationClass = "security"
	ClassPerformance ViolationClass = "performance"
)

// Violation is one recorded reason a query was blocked or warned.
type Violation struct {
	Class ViolationClass
	// Rule is the policy rule that fired (command token, pattern source,
	// or limit name).
	Rule string
	// Message is the human-readable explanation.
	Message string
}

// ExecutionMetadata carries the effective execution limits for the
// downstream search collaborator.
type ExecutionMetadata struct {
	MaxResults     int
	Timeout        time.Duration
	MaskingEnabled bool
}

// Decision is the immutable outcome of one validation. It is constructed
// once per evaluation, consumed by the caller and the audit emitter, and
// never persisted by the engine.
type Decision struct {
	Status Status
	// Query is the possibly rewritten query. Blocked decisions carry the
	// original query untouched.
	Query      string
	Violations []Violation
	Role       string
	Policy     *policy.Policy
	Metadata   ExecutionMetadata
}

// Allowed reports whether the query may execute.
func (d Decision) Allowed() bool {
	return d.Status != StatusBlocked
}

// Reasons returns the violation messages in recorded order.
func (d Decision) Reasons() []string {
	out := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		out = append(out, v.Message)
	}
	return out
}

var (
	earliestRe  = regexp.MustCompile(`(?i)earliest\s*=\s*(\S+)`)
	resultCapRe = regexp.MustCompile(`(?i)\|\s*(head|tail)\s+(\d+)`)
	relTimeRe   = regexp.MustCompile(`^-(\d+)([smhd])$`)
)

// Validate evaluates rawQuery against p and returns the decision with the
// final query string. Safe for concurrent use; p is read-only.
func Validate(rawQuery string, p *policy.Policy) Decision {
	d := Decision{
		Status: StatusAllowed,
		Query:  rawQuery,
		Role:   p.Role,
		Policy: p,
		Metadata: ExecutionMetadata{
			MaxResults:     p.Results.MaxResults,
			Timeout:        p.SearchTimeout(),
			MaskingEnabled: p.MaskingEnabled,
		},
	}

	// Explicit opt-out: no checks, no rewriting. The opt-out itself is
	// logged at policy load, not here.
	if !p.Enabled {
		return d
	}

	// Security first. A match blocks immediately; performance rewriting
	// never applies to a blocked query.
	if matches := p.Blocked().Classify(rawQuery); len(matches) > 0 {
		d.Status = StatusBlocked
		for _, m := range matches {
			d.Violations = append(d.Violations, securityViolation(m))
		}
		return d
	}

	for _, m := range p.Warnings().Classify(rawQuery) {
		msg := fmt.Sprintf("performance warning pattern: %s", m.Rule)
		if m.Reason != "" {
			msg = fmt.Sprintf("performance warning: %s", m.Reason)
		}
		d.Violations = append(d.Violations, Violation{
			Class:   ClassPerformance,
			Rule:    m.Rule,
			Message: msg,
		})
	}

	query := rawQuery
	query, timeViolation := enforceTimeBound(query, p)
	if timeViolation != nil {
		d.Violations = append(d.Violations, *timeViolation)
	}
	query, capViolation := enforceResultCap(query, p)
	if capViolation != nil {
		d.Violations = append(d.Violations, *capViolation)
	}
	d.Query = query

	if len(d.Violations) > 0 {
		d.Status = StatusAllowedWithWarnings
	}
	return d
}

func securityViolation(m pattern.Match) Violation {
	var msg string
	switch m.Kind {
	case pattern.KindCommand:
		msg = fmt.Sprintf("blocked command detected: %s", m.Rule)
	case pattern.KindConstruction:
		msg = fmt.Sprintf("dynamic construction of blocked command detected: %s", m.Rule)
	default:
		msg = fmt.Sprintf("blocked pattern detected: %s", m.Rule)
		if m.Reason != "" {
			msg = fmt.Sprintf("blocked pattern detected: %s (%s)", m.Rule, m.Reason)
		}
	}
	return Violation{Class: ClassSecurity, Rule: m.Rule, Message: msg}
}

// enforceTimeBound injects the default time bound when the query has none
// and clamps an explicit bound that exceeds the policy maximum. Clamping
// records a violation but never blocks: an over-broad time range is a
// resource concern, not a security one.
func enforceTimeBound(query string, p *policy.Policy) (string, *Violation) {
	maxDays := p.Time.MaxTimeRangeDays

	loc := earliestRe.FindStringSubmatchIndex(query)
	if loc == nil {
		return strings.TrimRight(query, " ") + " earliest=" + p.Time.DefaultTimeRange, nil
	}

	value := strings.Trim(query[loc[2]:loc[3]], `"'`)
	if !timeRangeExceeds(value, maxDays) {
		return query, nil
	}

	clamped := fmt.Sprintf("-%dd", maxDays)
	rewritten := query[:loc[0]] + "earliest=" + clamped + query[loc[1]:]
	return rewritten, &Violation{
		Class:   ClassPerformance,
		Rule:    "max_time_range_days",
		Message: fmt.Sprintf("time range limited to maximum %d days", maxDays),
	}
}

// enforceResultCap appends the default result cap when the query has none
// and clamps an explicit cap that exceeds the policy maximum.
func enforceResultCap(query string, p *policy.Policy) (string, *Violation) {
	maxResults := p.Results.MaxResults

	loc := resultCapRe.FindStringSubmatchIndex(query)
	if loc == nil {
		return fmt.Sprintf("%s | head %d", strings.TrimRight(query, " "), p.Results.DefaultResults), nil
	}

	n, err := strconv.Atoi(query[loc[4]:loc[5]])
	if err != nil || n <= maxResults {
		return query, nil
	}

	rewritten := query[:loc[4]] + strconv.Itoa(maxResults) + query[loc[5]:]
	return rewritten, &Violation{
		Class:   ClassPerformance,
		Rule:    "max_results_per_search",
		Message: fmt.Sprintf("result limit reduced to maximum %d events", maxResults),
	}
}

// timeRangeExceeds reports whether a relative time value such as "-30d"
// covers more than maxDays. All-time searches ("0", "@0") always exceed.
// Unparseable values are assumed safe; the engine does not parse the full
// time syntax.
func timeRangeExceeds(value string, maxDays int) bool {
	if value == "0" || value == "@0" {
		return true
	}
	m := relTimeRe.FindStringSubmatch(strings.ToLower(value))
	if m == nil {
		return false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return false
	}
	var days float64
	switch m[2] {
	case "s":
		days = float64(n) / (60 * 60 * 24)
	case "m":
		days = float64(n) / (60 * 24)
	case "h":
		days = float64(n) / 24
	case "d":
		days = float64(n)
	}
	return days > float64(maxDays)
}
