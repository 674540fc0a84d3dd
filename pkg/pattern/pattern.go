// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

// Package pattern evaluates query text against policy pattern sets.
//
// A Set holds two classes of rules: exact command tokens (pipe-delimited
// destructive operations such as "|delete") and regular expressions. Rules
// are evaluated in declaration order and matches are returned in that order,
// so downstream violation messages stay stable across runs.
//
// Command tokens are matched against a normalized form of the input to
// defeat encoding and homoglyph bypasses. Regular expressions are matched
// against both the raw and the normalized input.
package pattern

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// MatchKind distinguishes the rule class that produced a match.
type MatchKind string

const (
	// KindCommand is an exact blocked-command token match.
	KindCommand MatchKind = "command"
	// KindRegex is a regular-expression match.
	KindRegex MatchKind = "regex"
	// KindConstruction is a dynamically assembled blocked command.
	KindConstruction MatchKind = "construction"
)

// Match names the rule that fired and where in the text it fired.
type Match struct {
	Kind MatchKind
	// Rule is the rule as declared in policy (the command token or the
	// regular expression source).
	Rule string
	// Reason is the policy-supplied explanation, if any.
	Reason string
	// Offset is the byte offset of the match in the evaluated text.
	Offset int
}

const (
	// defaultMaxEvalBytes caps how much input a single rule evaluates.
	// Text beyond the cap is treated as a non-match.
	defaultMaxEvalBytes = 64 * 1024

	// defaultBudget is the per-rule evaluation time budget. Go's regexp
	// engine runs in linear time, so the budget is a tripwire: a rule that
	// exceeds it has its matches dropped and a warning logged.
	defaultBudget = 50 * time.Millisecond
)

type commandRule struct {
	token  string // as declared, e.g. "|delete"
	word   string // normalized command word, e.g. "delete"
	re     *regexp.Regexp
	reason string
}

type regexRule struct {
	source string
	re     *regexp.Regexp
	reason string
}

// Set is a compiled, immutable pattern set. It is safe for concurrent use;
// compile once at policy resolution time and share across evaluations.
type Set struct {
	commands     []commandRule
	regexes      []regexRule
	maxEvalBytes int
	budget       time.Duration
	logger       *slog.Logger
}

// Option configures a Set.
type Option func(*Set)

// WithMaxEvalBytes sets the per-rule input size cap.
func WithMaxEvalBytes(n int) Option {
	return func(s *Set) {
		if n > 0 {
			s.maxEvalBytes = n
		}
	}
}

// WithBudget sets the per-rule evaluation time budget.
func WithBudget(d time.Duration) Option {
	return func(s *Set) {
		if d > 0 {
			s.budget = d
		}
	}
}

// WithLogger sets the logger used for rule faults.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Set) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSet creates an empty pattern set.
func NewSet(opts ...Option) *Set {
	s := &Set{
		maxEvalBytes: defaultMaxEvalBytes,
		budget:       defaultBudget,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddCommand registers a blocked-command token such as "|delete".
// The token is matched case-insensitively after normalization, allowing
// arbitrary whitespace between the pipe and the command word.
func (s *Set) AddCommand(token, reason string) error {
	word := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "|")))
	if word == "" {
		return fmt.Errorf("empty command token %q", token)
	}
	re, err := regexp.Compile(`\|\s*` + regexp.QuoteMeta(word) + `\b`)
	if err != nil {
		return fmt.Errorf("compile command token %q: %w", token, err)
	}
	s.commands = append(s.commands, commandRule{token: token, word: word, re: re, reason: reason})
	return nil
}

// AddRegex registers a regular-expression rule. Expressions compile
// case-insensitively. A compile failure is returned to the caller so the
// policy loader can reject the document at load time.
func (s *Set) AddRegex(expr, reason string) error {
	re, err := regexp.Compile(`(?i)` + expr)
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	s.regexes = append(s.regexes, regexRule{source: expr, re: re, reason: reason})
	return nil
}

// Len reports the number of rules in the set.
func (s *Set) Len() int {
	return len(s.commands) + len(s.regexes)
}

// Classify evaluates every rule against text and returns all matches in
// rule declaration order. A rule that exceeds the evaluation budget is
// treated as a non-match and logged; evaluation continues with the rest.
func (s *Set) Classify(text string) []Match {
	if s == nil || s.Len() == 0 || text == "" {
		return nil
	}

	raw := text
	if len(raw) > s.maxEvalBytes {
		s.logger.Warn("query exceeds pattern evaluation cap, truncating",
			"len", len(raw), "cap", s.maxEvalBytes)
		raw = raw[:s.maxEvalBytes]
	}
	normalized := Normalize(raw)

	var matches []Match
	for _, cmd := range s.commands {
		start := time.Now()
		var m []Match
		if loc := cmd.re.FindStringIndex(normalized); loc != nil {
			m = append(m, Match{Kind: KindCommand, Rule: cmd.token, Reason: cmd.reason, Offset: loc[0]})
		} else if detectConstruction(cmd.word, normalized) {
			m = append(m, Match{Kind: KindConstruction, Rule: cmd.token, Reason: cmd.reason})
		}
		if s.overBudget(start, cmd.token) {
			continue
		}
		matches = append(matches, m...)
	}

	for _, rx := range s.regexes {
		start := time.Now()
		var m []Match
		if loc := rx.re.FindStringIndex(raw); loc != nil {
			m = append(m, Match{Kind: KindRegex, Rule: rx.source, Reason: rx.reason, Offset: loc[0]})
		} else if loc := rx.re.FindStringIndex(normalized); loc != nil {
			m = append(m, Match{Kind: KindRegex, Rule: rx.source, Reason: rx.reason, Offset: loc[0]})
		}
		if s.overBudget(start, rx.source) {
			continue
		}
		matches = append(matches, m...)
	}

	return matches
}

// Matches reports whether any rule in the set matches text.
func (s *Set) Matches(text string) bool {
	return len(s.Classify(text)) > 0
}

func (s *Set) overBudget(start time.Time, rule string) bool {
	elapsed := time.Since(start)
	if elapsed <= s.budget {
		return false
	}
	s.logger.Warn("pattern rule exceeded evaluation budget, treating as non-match",
		"rule", rule, "elapsed", elapsed, "budget", s.budget)
	return true
}

// confusables maps characters that are visually close to ASCII and have
// been used to smuggle blocked commands past substring checks.
var confusables = map[rune]rune{
	// Cyrillic lookalikes
	'а': 'a', 'А': 'A',
	'е': 'e', 'Е': 'E',
	'о': 'o', 'О': 'O',
	'р': 'p', 'Р': 'P',
	'с': 'c', 'С': 'C',
	'х': 'x', 'Х': 'X',
	'у': 'y', 'У': 'Y',
	'і': 'i', 'І': 'I',
	'ѕ': 's', 'Ѕ': 'S',

	// Greek lookalikes
	'α': 'a', 'Α': 'A',
	'ο': 'o', 'Ο': 'O',
	'ρ': 'p', 'Ρ': 'P',

	// Unicode dashes
	'‐': '-',
	'‑': '-',
	'‒': '-',
	'–': '-',
	'—': '-',
}

// Normalize rewrites query text into the canonical form used for command
// matching: confusable characters folded to ASCII, percent-encoding decoded,
// whitespace collapsed to single spaces, lowercased.
func Normalize(text string) string {
	folded := strings.Map(func(r rune) rune {
		if repl, ok := confusables[r]; ok {
			return repl
		}
		return r
	}, text)

	// PathUnescape rather than QueryUnescape: '+' must survive so that
	// concatenation-based construction attempts stay visible.
	if decoded, err := url.PathUnescape(folded); err == nil {
		folded = decoded
	}

	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}

var (
	evalConcatRe  = regexp.MustCompile(`eval[^|]*"[^"]*"\s*\+\s*"[^"]*"`)
	evalConcatSq  = regexp.MustCompile(`eval[^|]*'[^']*'\s*\+\s*'[^']*'`)
	varSubstRe    = regexp.MustCompile(`\$\w+\$`)
	concatThenRun = regexp.MustCompile(`\+.*["']\s*\|\s*run`)
)

// detectConstruction looks for a blocked command being assembled at runtime,
// e.g. eval cmd="del"+"ete" | run $cmd$. Only fires when concatenation or
// variable substitution appears alongside a fragment of the command word.
func detectConstruction(word, normalized string) bool {
	if varSubstRe.MatchString(normalized) {
		return true
	}
	if !strings.Contains(normalized, "eval") {
		return false
	}
	if !evalConcatRe.MatchString(normalized) && !evalConcatSq.MatchString(normalized) &&
		!concatThenRun.MatchString(normalized) {
		return false
	}
	// Require a meaningful fragment of the command word near the
	// concatenation before flagging.
	if len(word) < 4 {
		return false
	}
	for i := 3; i <= len(word); i++ {
		if strings.Contains(normalized, word[:i]) {
			return true
		}
	}
	return false
}
