// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/queryguard/queryguard/pkg/role"
)

// Store caches resolved policies per (environment, role) pair and swaps in
// a whole new snapshot on reload. Readers never lock against a reload:
// in-flight evaluations keep the generation they started with.
//
// When the configuration cannot be loaded or validated, every lookup
// resolves to the fail-safe policy. The blocklists of the last good
// configuration stay in force inside the fail-safe policy, so failing safe
// never relaxes a restriction that was already active.
type Store struct {
	loader *Loader
	logger *slog.Logger

	snap atomic.Pointer[snapshot]

	// lastSecurity survives across failed reloads.
	lastSecurity atomic.Pointer[SecuritySection]

	generation atomic.Uint64
}

// snapshot is one immutable policy generation. Documents and resolved
// policies are cached lazily per environment within the generation.
type snapshot struct {
	generation uint64
	baseDoc    *Document // document for the default environment; nil in fail-safe mode
	loadErr    error

	mu       sync.Mutex
	docs     map[string]*Document
	policies map[string]*Policy
	loader   *Loader
	logger   *slog.Logger
	fallback *SecuritySection
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for configuration faults.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a store reading from loader and performs the initial
// load. A load failure does not fail construction: the store starts in
// fail-safe mode and reports it through FailSafeActive.
func NewStore(loader *Loader, opts ...StoreOption) *Store {
	s := &Store{
		loader: loader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Reload()
	return s
}

// Reload re-reads and re-validates the configuration source and installs a
// new snapshot atomically. On failure the store switches to fail-safe mode
// and returns the cause; callers treat the error as informational, since
// lookups keep working against the fail-safe policy.
func (s *Store) Reload() error {
	gen := s.generation.Add(1)
	doc, err := s.loader.Load("")

	snap := &snapshot{
		generation: gen,
		baseDoc:    doc,
		loadErr:    err,
		docs:       make(map[string]*Document),
		policies:   make(map[string]*Policy),
		loader:     s.loader,
		logger:     s.logger,
	}

	if err != nil {
		snap.fallback = s.lastSecurity.Load()
		s.snap.Store(snap)
		s.logger.Error("policy load failed, fail-safe policy active",
			"error", err, "generation", gen)
		return err
	}

	snap.docs[""] = doc
	sec := doc.Security
	s.lastSecurity.Store(&sec)
	s.snap.Store(snap)
	s.logger.Info("policy configuration loaded",
		"generation", gen,
		"version", doc.Guardrails.Version,
		"roles", len(doc.Roles))
	return nil
}

// Resolve returns the resolved policy for (environment, role). It never
// fails: configuration trouble yields the fail-safe policy.
func (s *Store) Resolve(environment, roleName string) *Policy {
	return s.snap.Load().resolve(environment, roleName)
}

// FailSafeActive reports whether lookups in the default environment are
// currently served by the fail-safe policy. Operators surface this as a
// readiness signal.
func (s *Store) FailSafeActive() bool {
	snap := s.snap.Load()
	return snap == nil || snap.baseDoc == nil
}

// Generation returns the current configuration generation, incremented on
// every reload attempt.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// RoleDefinitions returns the configured roles for the default environment,
// ordered as declared privilege dictates at resolution time. Empty in
// fail-safe mode.
func (s *Store) RoleDefinitions() []role.Definition {
	snap := s.snap.Load()
	if snap == nil || snap.baseDoc == nil {
		return nil
	}
	defs := make([]role.Definition, 0, len(snap.baseDoc.Roles))
	for name, ro := range snap.baseDoc.Roles {
		defs = append(defs, role.Definition{
			Name:      name,
			Privilege: ro.Privilege,
			Aliases:   ro.Aliases,
		})
	}
	return defs
}

func (sn *snapshot) resolve(environment, roleName string) *Policy {
	key := environment + "\x00" + roleName

	sn.mu.Lock()
	defer sn.mu.Unlock()

	if p, ok := sn.policies[key]; ok {
		return p
	}

	doc, ok := sn.docs[environment]
	if !ok {
		if sn.baseDoc == nil {
			doc = nil
		} else {
			loaded, err := sn.loader.Load(environment)
			if err != nil {
				sn.logger.Error("environment policy load failed, fail-safe policy active",
					"environment", environment, "error", err)
				loaded = nil
			}
			doc = loaded
		}
		sn.docs[environment] = doc
	}

	var p *Policy
	switch {
	case doc == nil:
		p = FailSafe(environment, roleName, sn.fallbackSecurity())
	case len(doc.Roles) == 0:
		// A document with no roles cannot ground privilege decisions;
		// every caller gets the fail-safe policy.
		p = FailSafe(environment, roleName, &doc.Security)
	default:
		p = resolveDocument(doc, environment, roleName)
		if err := p.Compile(); err != nil {
			sn.logger.Error("resolved policy failed to compile, fail-safe policy active",
				"role", roleName, "error", err)
			p = FailSafe(environment, roleName, &doc.Security)
		}
	}

	sn.policies[key] = p
	return p
}

func (sn *snapshot) fallbackSecurity() *SecuritySection {
	if sn.baseDoc != nil {
		return &sn.baseDoc.Security
	}
	return sn.fallback
}
