// SPDX-License-Identifier: Apache-2.0

package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	cause := stderrors.New("file not found")
	err := New(CodeConfig, "load base policy document", cause)

	msg := err.Error()
	if !strings.Contains(msg, "CONFIG_ERROR") {
		t.Errorf("error string should carry the code, got %q", msg)
	}
	if !strings.Contains(msg, "file not found") {
		t.Errorf("error string should carry the cause, got %q", msg)
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := New(CodeExec, "search failed", cause)
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestWithContext(t *testing.T) {
	err := New(CodeConfig, "bad document", nil).
		WithContext("path", "/etc/guardrails.yaml").
		WithRecoverable(true)

	if err.Context["path"] != "/etc/guardrails.yaml" {
		t.Errorf("context not stored: %+v", err.Context)
	}
	if !err.Recoverable {
		t.Error("recoverable flag not set")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(CodeRateLimit, "slow down", nil)); got != CodeRateLimit {
		t.Errorf("CodeOf typed error = %q", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeInternal {
		t.Errorf("CodeOf untyped error = %q, want CodeInternal", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestAsGuardError(t *testing.T) {
	typed := New(CodeAuditSink, "sink down", nil)
	if got := AsGuardError(typed); got != typed {
		t.Error("typed error should round-trip unchanged")
	}
	wrapped := AsGuardError(stderrors.New("plain"))
	if wrapped.Code != CodeInternal {
		t.Errorf("untyped error should wrap as internal, got %q", wrapped.Code)
	}
	if AsGuardError(nil) != nil {
		t.Error("nil should stay nil")
	}
}
