// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	guarderr "github.com/queryguard/queryguard/pkg/errors"
	"github.com/queryguard/queryguard/pkg/pattern"
)

// Loader reads and merges policy documents from disk. The base document
// lives at basePath; an environment named "prod" looks for an override
// document next to it named, e.g., guardrails.prod.yaml.
type Loader struct {
	basePath string
}

// NewLoader creates a loader rooted at the base policy document.
func NewLoader(basePath string) *Loader {
	return &Loader{basePath: basePath}
}

// OverridePath returns the environment override file path for environment,
// or "" for the empty environment.
func (l *Loader) OverridePath(environment string) string {
	if environment == "" {
		return ""
	}
	dir := filepath.Dir(l.basePath)
	base := filepath.Base(l.basePath)
	ext := filepath.Ext(base)
	return filepath.Join(dir, base[:len(base)-len(ext)]+"."+environment+ext)
}

// Load reads the base document, layers the environment override on top of
// it, and validates the result. Any failure returns a ConfigurationError;
// callers substitute the fail-safe policy and log, never propagate.
func (l *Loader) Load(environment string) (*Document, error) {
	base, err := readDocument(l.basePath)
	if err != nil {
		return nil, guarderr.New(guarderr.CodeConfig, "load base policy document", err).
			WithContext("path", l.basePath)
	}

	if path := l.OverridePath(environment); path != "" {
		override, err := readDocument(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// No override for this environment; the base applies.
		case err != nil:
			return nil, guarderr.New(guarderr.CodeConfig, "load environment override", err).
				WithContext("path", path).
				WithContext("environment", environment)
		default:
			mergeOverride(base, override)
		}
	}

	if err := validateDocument(base); err != nil {
		return nil, guarderr.New(guarderr.CodeConfig, "validate policy document", err)
	}
	return base, nil
}

// readDocument parses one YAML policy file. A strict decode pass rejects
// unknown or malformed fields before koanf unmarshals the known ones.
func readDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var strict Document
	if err := dec.Decode(&strict); err != nil && err != io.EOF {
		return nil, fmt.Errorf("strict decode %s: %w", path, err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc Document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return &doc, nil
}

// mergeOverride layers an environment override onto the base document.
// Blocklists are additive; numeric limit groups and scalar switches are
// replaced outright when the override sets them.
func mergeOverride(base, override *Document) {
	if override.Guardrails.Enabled != nil {
		base.Guardrails.Enabled = override.Guardrails.Enabled
	}
	if override.Guardrails.Version != "" {
		base.Guardrails.Version = override.Guardrails.Version
	}

	base.Security.BlockedCommands = mergeCommands(base.Security.BlockedCommands, override.Security.BlockedCommands)
	base.Security.BlockedPatterns = append(base.Security.BlockedPatterns, override.Security.BlockedPatterns...)
	base.Security.WarningPatterns = append(base.Security.WarningPatterns, override.Security.WarningPatterns...)

	if override.Performance.TimeLimits != (TimeLimits{}) {
		base.Performance.TimeLimits = override.Performance.TimeLimits
	}
	if override.Performance.ResultLimits != (ResultLimits{}) {
		base.Performance.ResultLimits = override.Performance.ResultLimits
	}
	if override.Performance.ExecutionLimits != (ExecutionLimits{}) {
		base.Performance.ExecutionLimits = override.Performance.ExecutionLimits
	}

	if override.Privacy.DataMasking.Enabled != nil {
		base.Privacy.DataMasking.Enabled = override.Privacy.DataMasking.Enabled
	}
	if override.Privacy.DataMasking.DefaultMask != "" {
		base.Privacy.DataMasking.DefaultMask = override.Privacy.DataMasking.DefaultMask
	}
	base.Privacy.SensitiveFields = mergeCommands(base.Privacy.SensitiveFields, override.Privacy.SensitiveFields)
	base.Privacy.FilteredFields = mergeCommands(base.Privacy.FilteredFields, override.Privacy.FilteredFields)
	if len(override.Privacy.MaskingPatterns) > 0 {
		base.Privacy.MaskingPatterns = override.Privacy.MaskingPatterns
	}

	for name, ro := range override.Roles {
		if base.Roles == nil {
			base.Roles = make(map[string]RoleOverride)
		}
		base.Roles[name] = ro
	}
}

// validateDocument checks required sections, limit sanity, and that every
// regular expression compiles. Validation happens once at load time, never
// per request.
func validateDocument(doc *Document) error {
	if len(doc.Security.BlockedCommands) == 0 && len(doc.Security.BlockedPatterns) == 0 {
		return errors.New("security section missing or empty")
	}
	tl := doc.Performance.TimeLimits
	if tl.MaxTimeRangeDays <= 0 {
		return fmt.Errorf("time_limits.max_time_range_days must be positive, got %d", tl.MaxTimeRangeDays)
	}
	if tl.DefaultTimeRange == "" {
		return errors.New("time_limits.default_time_range is required")
	}
	rl := doc.Performance.ResultLimits
	if rl.MaxResults <= 0 {
		return fmt.Errorf("result_limits.max_results_per_search must be positive, got %d", rl.MaxResults)
	}
	if doc.Privacy.DataMasking.Enabled == nil && len(doc.Privacy.SensitiveFields) == 0 {
		return errors.New("privacy section missing")
	}

	probe := resolveDocument(doc, "", "")
	if err := probe.Compile(); err != nil {
		return err
	}
	for name, ro := range doc.Roles {
		for _, rule := range ro.BlockedPatterns {
			if err := pattern.NewSet().AddRegex(rule.Pattern, rule.Reason); err != nil {
				return fmt.Errorf("role %s: %w", name, err)
			}
		}
	}
	return nil
}

// resolveDocument builds the resolved policy for one role. The caller has
// already validated the document.
func resolveDocument(doc *Document, environment, roleName string) *Policy {
	enabled := true
	if doc.Guardrails.Enabled != nil {
		enabled = *doc.Guardrails.Enabled
	}
	maskingEnabled := true
	if doc.Privacy.DataMasking.Enabled != nil {
		maskingEnabled = *doc.Privacy.DataMasking.Enabled
	}
	defaultMask := doc.Privacy.DataMasking.DefaultMask
	if defaultMask == "" {
		defaultMask = DefaultMaskToken
	}

	p := &Policy{
		Enabled:     enabled,
		Version:     doc.Guardrails.Version,
		Environment: environment,
		Role:        roleName,

		BlockedCommands: append([]string(nil), doc.Security.BlockedCommands...),
		BlockedPatterns: append([]PatternRule(nil), doc.Security.BlockedPatterns...),
		WarningPatterns: append([]PatternRule(nil), doc.Security.WarningPatterns...),

		Time:      doc.Performance.TimeLimits,
		Results:   doc.Performance.ResultLimits,
		Execution: doc.Performance.ExecutionLimits,

		MaskingEnabled:  maskingEnabled,
		DefaultMask:     defaultMask,
		SensitiveFields: append([]string(nil), doc.Privacy.SensitiveFields...),
		MaskRules:       append([]MaskRule(nil), doc.Privacy.MaskingPatterns...),
		FilteredFields:  append([]string(nil), doc.Privacy.FilteredFields...),
	}

	ro, ok := doc.Roles[roleName]
	if !ok {
		// Roles without an explicit entry fall back to the standard
		// role's limits.
		ro, ok = doc.Roles["standard_user"]
	}
	if ok {
		if ro.TimeLimits != nil {
			p.Time = *ro.TimeLimits
		}
		if ro.ResultLimits != nil {
			p.Results = *ro.ResultLimits
		}
		if ro.ExecutionLimits != nil {
			p.Execution = *ro.ExecutionLimits
		}
		if ro.DataMaskingEnabled != nil {
			p.MaskingEnabled = p.MaskingEnabled && *ro.DataMaskingEnabled
		}
		p.BlockedCommands = mergeCommands(p.BlockedCommands, ro.BlockedCommands)
		p.BlockedPatterns = append(p.BlockedPatterns, ro.BlockedPatterns...)
	}

	// Defaults never exceed their caps.
	if p.Results.DefaultResults <= 0 || p.Results.DefaultResults > p.Results.MaxResults {
		p.Results.DefaultResults = p.Results.MaxResults
	}
	return p
}
