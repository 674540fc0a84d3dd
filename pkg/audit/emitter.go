// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 256

// Emitter decouples the evaluation path from audit sinks. Publish never
// blocks: when the queue is full the event is dropped and counted, because
// a slow audit sink must not slow down or fail query validation.
type Emitter struct {
	sink   Sink
	logger *slog.Logger

	queue   chan Event
	dropped atomic.Uint64

	// mu guards closed so Publish never sends on a closed queue.
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// EmitterOption configures an Emitter.
type EmitterOption func(*emitterConfig)

type emitterConfig struct {
	queueSize int
	logger    *slog.Logger
}

// WithQueueSize sets the publish queue capacity.
func WithQueueSize(n int) EmitterOption {
	return func(c *emitterConfig) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithEmitterLogger sets the logger used for sink failures.
func WithEmitterLogger(logger *slog.Logger) EmitterOption {
	return func(c *emitterConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewEmitter starts an emitter delivering to sink in the background.
func NewEmitter(sink Sink, opts ...EmitterOption) *Emitter {
	cfg := emitterConfig{
		queueSize: defaultQueueSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Emitter{
		sink:   sink,
		logger: cfg.logger,
		queue:  make(chan Event, cfg.queueSize),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Publish enqueues an event for delivery. It never blocks and never fails
// the caller; a full queue or a closed emitter drops the event.
func (e *Emitter) Publish(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.drop(event, "audit emitter closed, event dropped")
		return
	}
	select {
	case e.queue <- event:
	default:
		e.drop(event, "audit queue full, event dropped")
	}
}

func (e *Emitter) drop(event Event, msg string) {
	e.dropped.Add(1)
	e.logger.Warn(msg, "audit_id", event.ID, "kind", string(event.Kind))
}

// Dropped returns the number of events dropped because the queue was full.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close stops the emitter and flushes queued events to the sink. Events
// published after Close are dropped and counted.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.sink.Close(ctx)
}

func (e *Emitter) run() {
	defer close(e.done)
	for event := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.sink.Emit(ctx, event); err != nil {
			// Swallowed: the audit trail is incomplete, the operation
			// that produced the event already succeeded.
			e.logger.Error("audit sink emit failed",
				"audit_id", event.ID, "error", err)
		}
		cancel()
	}
}
