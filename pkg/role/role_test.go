// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package role

import "testing"

func testDefs() []Definition {
	return []Definition{
		{Name: "admin", Privilege: 40},
		{Name: "power_user", Privilege: 30, Aliases: []string{"power"}},
		{Name: "standard_user", Privilege: 20, Aliases: []string{"user"}},
		{Name: "readonly_user", Privilege: 10},
	}
}

func TestResolve(t *testing.T) {
	r := NewResolver(testDefs())

	tests := []struct {
		name   string
		claims []string
		want   string
	}{
		{"single role", []string{"admin"}, "admin"},
		{"alias maps to canonical", []string{"power"}, "power_user"},
		{"most restrictive wins", []string{"admin", "standard_user"}, "standard_user"},
		{"mixed with unknown", []string{"wizard", "power_user"}, "power_user"},
		{"all unknown", []string{"wizard", "sorcerer"}, "readonly_user"},
		{"no claims", nil, "readonly_user"},
		{"case insensitive", []string{"ADMIN"}, "admin"},
		{"whitespace trimmed", []string{"  user  "}, "standard_user"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.Resolve(tc.claims); got != tc.want {
				t.Errorf("Resolve(%v) = %q, want %q", tc.claims, got, tc.want)
			}
		})
	}
}

func TestResolveNoConfiguredRoles(t *testing.T) {
	r := NewResolver(nil)
	if got := r.Resolve([]string{"admin"}); got != "" {
		t.Errorf("expected empty role with no configuration, got %q", got)
	}
	if got := r.Fallback(); got != "" {
		t.Errorf("expected empty fallback, got %q", got)
	}
}

func TestFallback(t *testing.T) {
	r := NewResolver(testDefs())
	if got := r.Fallback(); got != "readonly_user" {
		t.Errorf("Fallback() = %q, want readonly_user", got)
	}
}
