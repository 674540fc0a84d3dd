// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

// Package role maps caller-supplied role claims onto configured policy roles.
//
// Resolution never escalates privilege: when a caller presents several
// recognized roles the least privileged one wins, and a caller with no
// recognizable claim receives the least privileged configured role.
package role

import (
	"sort"
	"strings"
)

// Definition describes one configured role.
type Definition struct {
	// Name is the canonical role identifier, e.g. "standard_user".
	Name string
	// Privilege orders roles; higher means more capable. Used only to
	// select the fail-safe (least privileged) target.
	Privilege int
	// Aliases lists external claim values that map onto this role,
	// e.g. "power" -> "power_user".
	Aliases []string
}

// Resolver resolves claims to a single canonical role. Immutable after
// construction and safe for concurrent use.
type Resolver struct {
	byClaim   map[string]Definition
	fallback  string
	hasRoles  bool
	leastName string
}

// NewResolver builds a resolver from the configured role definitions.
func NewResolver(defs []Definition) *Resolver {
	r := &Resolver{byClaim: make(map[string]Definition)}

	sorted := append([]Definition(nil), defs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Privilege < sorted[j].Privilege })

	for _, d := range sorted {
		r.byClaim[strings.ToLower(d.Name)] = d
		for _, alias := range d.Aliases {
			if alias = strings.ToLower(strings.TrimSpace(alias)); alias != "" {
				r.byClaim[alias] = d
			}
		}
	}
	if len(sorted) > 0 {
		r.hasRoles = true
		r.leastName = sorted[0].Name
	}
	return r
}

// Resolve returns the canonical role for the presented claims. Multiple
// recognized claims resolve to the most restrictive of them; unrecognized
// or absent claims resolve to the least privileged configured role.
func (r *Resolver) Resolve(claims []string) string {
	if !r.hasRoles {
		return ""
	}

	best := Definition{}
	found := false
	for _, claim := range claims {
		d, ok := r.byClaim[strings.ToLower(strings.TrimSpace(claim))]
		if !ok {
			continue
		}
		if !found || d.Privilege < best.Privilege {
			best = d
			found = true
		}
	}
	if !found {
		return r.leastName
	}
	return best.Name
}

// Fallback returns the least privileged configured role, or "" when no
// roles are configured.
func (r *Resolver) Fallback() string {
	return r.leastName
}
