// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestHashQuery(t *testing.T) {
	h := HashQuery("search index=app error")
	if len(h) != 16 {
		t.Fatalf("hash length = %d, want 16", len(h))
	}
	if h != HashQuery("search index=app error") {
		t.Error("hash must be deterministic")
	}
	if h == HashQuery("search index=app warning") {
		t.Error("different queries must hash differently")
	}
}

func TestEventNeverCarriesRawQuery(t *testing.T) {
	query := `search index=secrets password="hunter2"`
	event := NewEvent(KindValidation)
	event.QueryHash = HashQuery(query)
	event.QueryLength = len(query)
	event.Violations = []string{"blocked command detected: |delete"}

	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "hunter2") || strings.Contains(string(raw), "index=secrets") {
		t.Errorf("serialized event leaks query content: %s", raw)
	}
}

func TestEmitterDelivers(t *testing.T) {
	sink := NewMemorySink()
	emitter := NewEmitter(sink)

	for i := 0; i < 5; i++ {
		emitter.Publish(NewEvent(KindValidation))
	}
	if err := emitter.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := len(sink.Events()); got != 5 {
		t.Errorf("delivered %d events, want 5", got)
	}
	if emitter.Dropped() != 0 {
		t.Errorf("dropped = %d", emitter.Dropped())
	}
}

// blockingSink holds every Emit until released.
type blockingSink struct {
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) Emit(ctx context.Context, _ Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func (s *blockingSink) Close(context.Context) error {
	s.once.Do(func() { close(s.release) })
	return nil
}

func TestEmitterDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	emitter := NewEmitter(sink, WithQueueSize(1))

	// First event is taken by the worker and blocks, second fills the
	// queue, the rest must be dropped without blocking Publish.
	for i := 0; i < 10; i++ {
		emitter.Publish(NewEvent(KindValidation))
	}
	if emitter.Dropped() == 0 {
		t.Error("expected drops on a full queue")
	}

	sink.Close(context.Background())
	if err := emitter.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestEmitterPublishAfterClose(t *testing.T) {
	sink := NewMemorySink()
	emitter := NewEmitter(sink)

	if err := emitter.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A late publish must be dropped and counted, never panic.
	emitter.Publish(NewEvent(KindValidation))
	if emitter.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", emitter.Dropped())
	}
	if got := len(sink.Events()); got != 0 {
		t.Errorf("delivered %d events after close", got)
	}

	// Close is idempotent.
	if err := emitter.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSlogSinkRedaction(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	event := NewEvent(KindValidation)
	event.Role = "standard_user"
	event.Decision = "blocked"
	event.QueryHash = HashQuery("search index=hr salary")
	event.Violations = []string{"blocked command detected: |delete"}
	if err := sink.Emit(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, event.QueryHash) {
		t.Error("log line must carry the query hash")
	}
	if strings.Contains(out, "salary") {
		t.Error("log line must not carry query content")
	}
}

func TestSQLiteSink(t *testing.T) {
	db, err := sql.Open("sqlite", "file:guardrail_audit_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	sink, err := NewSQLiteSink(db)
	if err != nil {
		t.Fatalf("new sqlite sink: %v", err)
	}

	event := NewEvent(KindValidation)
	event.Role = "standard_user"
	event.Decision = "allowed_with_warnings"
	event.QueryHash = HashQuery("search index=app earliest=-60d")
	event.QueryLength = 30
	event.Violations = []string{"time range limited to maximum 30 days"}
	event.PolicyVersion = "2.1"
	if err := sink.Emit(context.Background(), event); err != nil {
		t.Fatalf("emit: %v", err)
	}

	events, err := sink.List(context.Background(), Filter{Role: "standard_user", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.ID != event.ID || got.Decision != event.Decision {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if len(got.Violations) != 1 || got.Violations[0] != event.Violations[0] {
		t.Errorf("violations not preserved: %v", got.Violations)
	}

	if evts, err := sink.List(context.Background(), Filter{Decision: "blocked"}); err != nil || len(evts) != 0 {
		t.Errorf("filter should exclude non-matching events, got %d (%v)", len(evts), err)
	}
}

func TestHECSink(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/collector" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		mu.Lock()
		bodies = append(bodies, buf.String())
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHECSink(srv.URL, "test-token", WithHECIndex("audit"), WithHECBatch(2, time.Hour))

	first := NewEvent(KindValidation)
	first.Decision = "allowed"
	if err := sink.Emit(context.Background(), first); err != nil {
		t.Fatalf("emit: %v", err)
	}
	second := NewEvent(KindMasking)
	if err := sink.Emit(context.Background(), second); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Splunk test-token" {
		t.Errorf("authorization header = %q", auth)
	}
	if len(bodies) == 0 {
		t.Fatal("no batches received")
	}
	payload := strings.Join(bodies, "")
	lines := strings.Split(strings.TrimSpace(payload), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 envelope lines, got %d: %q", len(lines), payload)
	}
	var env struct {
		Index      string `json:"index"`
		SourceType string `json:"sourcetype"`
		Event      Event  `json:"event"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Index != "audit" || env.SourceType != "queryguard:audit" {
		t.Errorf("envelope metadata = %q %q", env.Index, env.SourceType)
	}
	if env.Event.ID != first.ID {
		t.Errorf("event id = %q, want %q", env.Event.ID, first.ID)
	}
}

func TestMultiSink(t *testing.T) {
	a := NewMemorySink()
	b := NewMemorySink()
	multi := MultiSink{a, b}

	if err := multi.Emit(context.Background(), NewEvent(KindValidation)); err != nil {
		t.Fatal(err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Error("every sink must receive the event")
	}
}
