// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/queryguard/queryguard/pkg/engine"
	"github.com/queryguard/queryguard/pkg/policy"
	"github.com/queryguard/queryguard/pkg/splunk"
	"github.com/queryguard/queryguard/pkg/validate"
)

const testDoc = `guardrails:
  enabled: true
  version: "1.0"
security:
  blocked_commands: ["|delete"]
performance:
  time_limits:
    max_time_range_days: 30
    default_time_range: "-1h"
    max_lookback_days: 90
  result_limits:
    max_results_per_search: 1000
    default_results_per_search: 100
  execution_limits:
    search_timeout_seconds: 300
    max_concurrent_searches: 4
    searches_per_minute: 30
privacy:
  data_masking:
    enabled: true
    default_mask: "[MASKED]"
  sensitive_fields: [email]
  masking_patterns:
    - kind: email
      pattern: '[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}'
      replacement: "****@****.***"
roles:
  standard_user:
    privilege: 20
`

type fakeExecutor struct {
	records []splunk.Record
	err     error
	gotMeta validate.ExecutionMetadata
	gotQ    string
}

func (f *fakeExecutor) Execute(_ context.Context, query string, meta validate.ExecutionMetadata) ([]splunk.Record, error) {
	f.gotQ = query
	f.gotMeta = meta
	return f.records, f.err
}

func newTestServer(t *testing.T, exec splunk.Executor) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardrails.yaml")
	if err := os.WriteFile(path, []byte(testDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	eng := engine.New(policy.NewStore(policy.NewLoader(path)))
	return NewServer("queryguard-test", "v0.0.1", eng, exec)
}

func TestSearchToolGuardedFlow(t *testing.T) {
	exec := &fakeExecutor{records: []splunk.Record{
		{"email": "a@b.com", "host": "web1"},
	}}
	s := newTestServer(t, exec)

	result, err := s.handleSearch(context.Background(), map[string]interface{}{
		"query": "index=app error",
		"roles": []interface{}{"standard_user"},
		"user":  "agent-1",
	})
	if err != nil {
		t.Fatalf("handleSearch: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result)
	}

	content := result.StructuredContent.(map[string]interface{})
	if content["decision"] != "allowed" {
		t.Errorf("decision = %v", content["decision"])
	}
	if !strings.Contains(exec.gotQ, "earliest=-1h") || !strings.Contains(exec.gotQ, "| head 100") {
		t.Errorf("executor must receive the rewritten query: %q", exec.gotQ)
	}
	if exec.gotMeta.MaxResults != 1000 {
		t.Errorf("execution metadata not carried: %+v", exec.gotMeta)
	}
	if content["count"] != 1 {
		t.Errorf("count = %v", content["count"])
	}
}

func TestSearchToolMasksResults(t *testing.T) {
	exec := &fakeExecutor{records: []splunk.Record{
		{"email": "a@b.com", "host": "web1"},
	}}
	s := newTestServer(t, exec)

	result, _ := s.handleSearch(context.Background(), map[string]interface{}{
		"query": "index=app",
		"roles": "standard_user",
	})
	content := result.StructuredContent.(map[string]interface{})

	records := content["results"].([]map[string]interface{})
	if records[0]["email"] != "****@****.***" {
		t.Errorf("results not masked: %v", records[0])
	}
	if content["masked_fields"] != 1 {
		t.Errorf("masked_fields = %v", content["masked_fields"])
	}
}

func TestSearchToolBlocked(t *testing.T) {
	exec := &fakeExecutor{}
	s := newTestServer(t, exec)

	result, _ := s.handleSearch(context.Background(), map[string]interface{}{
		"query": "search * | delete",
		"roles": "standard_user",
	})
	content := result.StructuredContent.(map[string]interface{})
	if content["blocked"] != true {
		t.Fatalf("expected blocked, got %v", content)
	}
	if exec.gotQ != "" {
		t.Error("blocked query must never reach the executor")
	}
	violations := content["violations"].([]string)
	if len(violations) == 0 {
		t.Error("blocked result must list violations")
	}
}

func TestSearchToolMissingQuery(t *testing.T) {
	s := newTestServer(t, nil)
	result, _ := s.handleSearch(context.Background(), map[string]interface{}{})
	if !result.IsError {
		t.Error("missing query must be a tool error")
	}
}

func TestSearchToolExecutionFailure(t *testing.T) {
	s := newTestServer(t, &fakeExecutor{err: errors.New("connection refused")})
	result, _ := s.handleSearch(context.Background(), map[string]interface{}{
		"query": "index=app",
	})
	if !result.IsError {
		t.Error("execution failure must surface as a tool error")
	}
}

func TestReloadTool(t *testing.T) {
	s := newTestServer(t, nil)
	result, err := s.handleReload(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	content := result.StructuredContent.(map[string]interface{})
	if content["reloaded"] != true || content["fail_safe_active"] != false {
		t.Errorf("reload content = %v", content)
	}
}

func TestHealthTool(t *testing.T) {
	s := newTestServer(t, nil)
	result, err := s.handleHealth(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	content := result.StructuredContent.(map[string]interface{})
	if content["status"] != "HEALTHY" {
		t.Errorf("status = %v", content["status"])
	}
}
