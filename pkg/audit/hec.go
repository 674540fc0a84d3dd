// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HECSink forwards audit events to a Splunk HTTP Event Collector. Events
// are batched and flushed on an interval or when the batch fills; the
// collector endpoint accepts newline-delimited JSON objects.
type HECSink struct {
	url        string
	token      string
	index      string
	source     string
	host       string
	client     *http.Client
	sourcetype string

	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending []hecEnvelope

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type hecEnvelope struct {
	Time       float64 `json:"time"`
	Source     string  `json:"source"`
	SourceType string  `json:"sourcetype"`
	Host       string  `json:"host"`
	Index      string  `json:"index"`
	Event      Event   `json:"event"`
}

// HECOption configures the sink.
type HECOption func(*HECSink)

// WithHECIndex sets the destination index.
func WithHECIndex(index string) HECOption {
	return func(s *HECSink) { s.index = index }
}

// WithHECSource sets the event source field.
func WithHECSource(source string) HECOption {
	return func(s *HECSink) { s.source = source }
}

// WithHECHost sets the event host field.
func WithHECHost(host string) HECOption {
	return func(s *HECSink) { s.host = host }
}

// WithHECBatch sets the batch size and flush interval.
func WithHECBatch(size int, interval time.Duration) HECOption {
	return func(s *HECSink) {
		if size > 0 {
			s.batchSize = size
		}
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithHECInsecureSkipVerify disables TLS certificate verification, for
// collectors fronted by self-signed certificates.
func WithHECInsecureSkipVerify() HECOption {
	return func(s *HECSink) {
		s.client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
}

// NewHECSink creates a sink posting to url with the given collector token
// and starts the background flusher.
func NewHECSink(url, token string, opts ...HECOption) *HECSink {
	s := &HECSink{
		url:           strings.TrimRight(url, "/"),
		token:         token,
		index:         "main",
		source:        "queryguard",
		host:          "queryguard",
		sourcetype:    "queryguard:audit",
		client:        &http.Client{Timeout: 30 * time.Second},
		batchSize:     50,
		flushInterval: 5 * time.Second,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.flushLoop()
	return s
}

// Emit queues the event; a full batch triggers an immediate flush.
func (s *HECSink) Emit(ctx context.Context, event Event) error {
	env := hecEnvelope{
		Time:       float64(event.Timestamp.UnixNano()) / float64(time.Second),
		Source:     s.source,
		SourceType: s.sourcetype,
		Host:       s.host,
		Index:      s.index,
		Event:      event,
	}

	s.mu.Lock()
	s.pending = append(s.pending, env)
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush sends every pending event. Failed batches are abandoned; the
// emitter already counts delivery failures.
func (s *HECSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, env := range batch {
		if err := enc.Encode(env); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.url+"/services/collector", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Splunk "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hec send failed: status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the flusher and sends the final batch.
func (s *HECSink) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Flush(ctx)
}

func (s *HECSink) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			s.Flush(ctx)
			cancel()
		case <-s.stop:
			return
		}
	}
}
