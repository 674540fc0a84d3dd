// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"testing"
)

func TestAddCommand(t *testing.T) {
	s := NewSet()
	if err := s.AddCommand("|delete", "destructive"); err != nil {
		t.Fatalf("AddCommand: %v", err)
	}
	if err := s.AddCommand("   ", ""); err == nil {
		t.Error("empty token should be rejected")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 rule, got %d", s.Len())
	}
}

func TestAddRegexCompileFailure(t *testing.T) {
	s := NewSet()
	if err := s.AddRegex(`[unclosed`, ""); err == nil {
		t.Error("invalid regex should be rejected")
	}
	if s.Len() != 0 {
		t.Errorf("failed rule must not be added, got %d rules", s.Len())
	}
}

func TestClassifyCommands(t *testing.T) {
	s := NewSet()
	if err := s.AddCommand("|delete", "destructive operation"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		query string
		match bool
	}{
		{"plain pipe", "search * | delete", true},
		{"no space", "search *|delete", true},
		{"upper case", "search * | DELETE", true},
		{"extra whitespace", "search * |\t  delete", true},
		{"cyrillic e homoglyph", "search * | dеlеte", true},
		{"percent encoded pipe", "search * %7Cdelete", true},
		{"word boundary", "search * | deleted_flag", false},
		{"no pipe", "search delete_me", false},
		{"clean query", "search index=app error", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Matches(tc.query)
			if got != tc.match {
				t.Errorf("query %q: expected match=%v, got %v", tc.query, tc.match, got)
			}
		})
	}
}

func TestClassifyOrderIsDeclarationOrder(t *testing.T) {
	s := NewSet()
	if err := s.AddCommand("|drop", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCommand("|delete", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.AddRegex(`index\s*=\s*\*`, "wildcard index"); err != nil {
		t.Fatal(err)
	}

	matches := s.Classify("search index=* | delete | drop")
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d: %+v", len(matches), matches)
	}
	want := []string{"|drop", "|delete", `index\s*=\s*\*`}
	for i, rule := range want {
		if matches[i].Rule != rule {
			t.Errorf("match %d: expected rule %q, got %q", i, rule, matches[i].Rule)
		}
	}
}

func TestClassifyMatchOffset(t *testing.T) {
	s := NewSet()
	if err := s.AddRegex(`rm\s+-rf`, ""); err != nil {
		t.Fatal(err)
	}
	matches := s.Classify("exec rm -rf /")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Offset != 5 {
		t.Errorf("expected offset 5, got %d", matches[0].Offset)
	}
}

func TestDynamicConstruction(t *testing.T) {
	s := NewSet()
	if err := s.AddCommand("|delete", "destructive"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		query string
		match bool
	}{
		{"string concat in eval", `eval cmd="del" + "ete" | run cmd`, true},
		{"variable substitution", `search | run $cmd$`, true},
		{"eval without concat", `eval total=count+1`, false},
		{"plain search", `search index=app error`, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Matches(tc.query)
			if got != tc.match {
				t.Errorf("query %q: expected match=%v, got %v", tc.query, tc.match, got)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Search INDEX=App", "search index=app"},
		{"whitespace collapse", "search \t index=app \n error", "search index=app error"},
		{"cyrillic fold", "sеarch", "search"},
		{"em dash fold", "earliest=—1d", "earliest=-1d"},
		{"percent decode", "search%20%7C%20delete", "search | delete"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestEvalBytesCap(t *testing.T) {
	s := NewSet(WithMaxEvalBytes(32))
	if err := s.AddRegex(`needle`, ""); err != nil {
		t.Fatal(err)
	}

	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	// Needle placed beyond the cap must not match.
	if s.Matches(string(long) + " needle") {
		t.Error("match beyond evaluation cap should be treated as non-match")
	}
	// Needle within the cap matches.
	if !s.Matches("needle " + string(long)) {
		t.Error("match within evaluation cap should fire")
	}
}

func TestEmptySet(t *testing.T) {
	s := NewSet()
	if s.Matches("anything | delete") {
		t.Error("empty set must never match")
	}
	if got := s.Classify(""); got != nil {
		t.Errorf("empty input should return nil, got %+v", got)
	}
}
