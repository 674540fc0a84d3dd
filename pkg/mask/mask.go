// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

// Package mask transforms result records before they reach the caller.
//
// Three rules apply, in order, at every nesting level:
//
//  1. Filtered field names are dropped from the record entirely.
//  2. Sensitive field names get their value replaced: with the matching
//     value pattern's replacement when one matches, otherwise with the
//     policy's default mask token.
//  3. String values of all remaining fields run through the value
//     patterns; the first matching pattern wins.
//
// Masking is idempotent because replacement tokens are constructed so
// that they never re-match any value pattern.
package mask

import (
	"strings"

	"github.com/queryguard/queryguard/pkg/policy"
)

// Record is one structured search result. Values may be strings, numbers,
// booleans, nil, nested Records, or slices of any of these.
type Record = map[string]any

// Result is the outcome of masking one record. The input record is never
// mutated; Record is a fresh copy with the rules applied.
type Result struct {
	Record Record
	// MaskedFields lists the field names whose values were replaced, in
	// walk order. Nested fields appear under their leaf name.
	MaskedFields []string
	// FilteredFields lists the field names dropped from the record.
	FilteredFields []string
}

// Masked reports whether any field was masked or filtered.
func (r Result) Masked() bool {
	return len(r.MaskedFields) > 0 || len(r.FilteredFields) > 0
}

// Mask applies p's privacy rules to record and returns the transformed
// copy. When masking is disabled by policy the record passes through
// untouched. Safe for concurrent use; p is read-only.
func Mask(record Record, p *policy.Policy) Result {
	if !p.MaskingEnabled || record == nil {
		return Result{Record: record}
	}
	m := masker{policy: p}
	return Result{
		Record:         m.maskRecord(record),
		MaskedFields:   m.masked,
		FilteredFields: m.filtered,
	}
}

// MaskAll masks a batch of records with the same policy.
func MaskAll(records []Record, p *policy.Policy) []Result {
	out := make([]Result, len(records))
	for i, rec := range records {
		out[i] = Mask(rec, p)
	}
	return out
}

type masker struct {
	policy   *policy.Policy
	masked   []string
	filtered []string
}

func (m *masker) maskRecord(record Record) Record {
	out := make(Record, len(record))
	for name, value := range record {
		if m.policy.IsFilteredField(name) {
			m.filtered = append(m.filtered, name)
			continue
		}
		out[name] = m.maskValue(name, value)
	}
	return out
}

func (m *masker) maskValue(name string, value any) any {
	switch v := value.(type) {
	case Record:
		return m.maskRecord(v)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = m.maskValue(name, elem)
		}
		return out
	}

	if m.policy.IsSensitiveField(name) {
		return m.maskSensitive(name, value)
	}

	s, ok := value.(string)
	if !ok {
		return value
	}
	if masked, ok := m.applyPatterns(s); ok {
		m.masked = append(m.masked, name)
		return masked
	}
	return s
}

// maskSensitive replaces a sensitive field's value. A matching value
// pattern keeps the shape-preserving replacement; anything else becomes
// the default mask token. Replacement tokens match no pattern, so a value
// that carries one anywhere (pattern replacement may be embedded in
// surrounding text) is already masked and passes through unchanged.
func (m *masker) maskSensitive(name string, value any) any {
	token := m.policy.DefaultMask

	if s, ok := value.(string); ok {
		if s == token {
			return s
		}
		if masked, ok := m.applyPatterns(s); ok {
			m.masked = append(m.masked, name)
			return masked
		}
		for _, rule := range m.policy.CompiledMaskRules() {
			if rule.Replacement != "" && strings.Contains(s, rule.Replacement) {
				return s
			}
		}
	} else if value == nil {
		return nil
	}

	m.masked = append(m.masked, name)
	return token
}

func (m *masker) applyPatterns(s string) (string, bool) {
	for _, rule := range m.policy.CompiledMaskRules() {
		if rule.Matches(s) {
			return rule.Apply(s), true
		}
	}
	return s, false
}
