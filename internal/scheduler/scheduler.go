// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler implements the fair-batching request scheduler: a
// single cooperative processor loop drains pending requests per model,
// minimizing load/unload churn, while a heartbeat ticker keeps
// native-dialect streaming clients connected during the wait.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aleutian-oss/llmgateway/internal/lifecycle"
)

var tracer = otel.Tracer("llmgateway/scheduler")

// heartbeatInterval is the period between native-dialect heartbeat
// frames while a request waits in queue.
const heartbeatInterval = 3 * time.Second

// =============================================================================
// Interfaces
// =============================================================================

// Sink is the response-writer side of a pending request.
//
// # Description
//
// Disconnected lets the processor prune dead requests;
// BeginHeartbeat/Heartbeat implement the dialect-specific wait-time
// keepalive: native dialects write real frames, OpenAI dialects are
// no-ops.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; heartbeat writes
// may race with Disconnected checks from the processor goroutine.
type Sink interface {
	Disconnected() bool
	BeginHeartbeat() error
	Heartbeat() error
}

// =============================================================================
// Pending Requests
// =============================================================================

// PendingRequest is one queued unit of work.
//
// # Description
//
// Carries the work closure, its sink, and a one-shot completion
// channel the scheduler resolves exactly once: on work completion, on
// disconnect prune, or on load failure. The heartbeat ticker fields
// are managed by startHeartbeat/stopHeartbeat.
type PendingRequest struct {
	Model     string
	Work      func(ctx context.Context) error
	Sink      Sink
	Streaming bool
	QueuedAt  time.Time

	done chan error
	once sync.Once

	hbMu   sync.Mutex
	hbStop chan struct{}
	hbDone chan struct{}
}

func newPendingRequest(model string, work func(ctx context.Context) error, sink Sink, streaming bool) *PendingRequest {
	return &PendingRequest{
		Model:     model,
		Work:      work,
		Sink:      sink,
		Streaming: streaming,
		QueuedAt:  time.Now(),
		done:      make(chan error, 1),
	}
}

func (p *PendingRequest) resolve(err error) {
	p.once.Do(func() {
		p.done <- err
		close(p.done)
	})
}

// startHeartbeat begins a background ticker that writes heartbeat
// frames to the sink every heartbeatInterval. Any write error is
// treated as "client gone" and stops the ticker.
func (p *PendingRequest) startHeartbeat(logger *slog.Logger) {
	p.hbMu.Lock()
	if p.hbStop != nil {
		p.hbMu.Unlock()
		return
	}
	stop := make(chan struct{})
	doneCh := make(chan struct{})
	p.hbStop = stop
	p.hbDone = doneCh
	p.hbMu.Unlock()

	if err := p.Sink.BeginHeartbeat(); err != nil {
		logger.Warn("scheduler: begin heartbeat failed", "model", p.Model, "error", err)
		close(doneCh)
		return
	}

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := p.Sink.Heartbeat(); err != nil {
					logger.Warn("scheduler: heartbeat write failed, client gone", "model", p.Model, "error", err)
					return
				}
			}
		}
	}()
}

// stopHeartbeat stops the ticker, if running, and waits for it to
// fully exit so its writes never interleave with the work closure's
// writes on the same sink.
func (p *PendingRequest) stopHeartbeat() {
	p.hbMu.Lock()
	stop, done := p.hbStop, p.hbDone
	p.hbMu.Unlock()
	if stop == nil {
		return
	}
	select {
	case <-done:
	default:
		close(stop)
		<-done
	}
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler is the single fair-batching request queue and its
// cooperative processor loop.
//
// # Description
//
// Handlers call Submit and await the returned channel; a single
// processor goroutine drains the queue, batching all pending requests
// for one model before switching to another so resident models are
// not thrashed by interleaved loads.
//
// # Thread Safety
//
// Safe for concurrent use. mu guards queue and processing; the
// processor loop itself is guaranteed never to run concurrently with
// itself.
type Scheduler struct {
	mu         sync.Mutex
	queue      []*PendingRequest
	processing bool

	lifecycle *lifecycle.Manager
	logger    *slog.Logger
}

// NewScheduler constructs a Scheduler bound to lc.
func NewScheduler(lc *lifecycle.Manager, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{lifecycle: lc, logger: logger}
}

// Submit enqueues work against model via sink and kicks the processor.
//
// # Description
//
// Appends a new pending request, starts a heartbeat ticker for
// streaming requests if the processor is already busy (so the client
// knows to keep waiting), then triggers the processor.
//
// # Inputs
//
//   - model: Configured model name the work runs against.
//   - work: The closure executed with the model resident and its
//     active-context counter held.
//   - sink: The response-writer side; also the disconnect probe.
//   - streaming: True enables the wait-time heartbeat.
//
// # Outputs
//
//   - <-chan error: Receives exactly one completion signal; nil on
//     success or silent prune, the work or load error otherwise.
func (s *Scheduler) Submit(model string, work func(ctx context.Context) error, sink Sink, streaming bool) <-chan error {
	req := newPendingRequest(model, work, sink, streaming)

	s.mu.Lock()
	s.queue = append(s.queue, req)
	busy := s.processing
	s.mu.Unlock()

	if streaming && busy {
		req.startHeartbeat(s.logger)
	}

	s.kick()

	return req.done
}

// kick starts the processor loop if it is not already running.
func (s *Scheduler) kick() {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return
	}
	s.processing = true
	s.mu.Unlock()

	go s.run()
}

// run is the cooperative processor loop. It is never
// invoked concurrently with itself: kick only starts it when
// s.processing transitions false->true under the lock.
func (s *Scheduler) run() {
	for {
		if !s.runOnePass() {
			// runOnePass already cleared s.processing when it found
			// nothing pickable.
			return
		}
		s.mu.Lock()
		empty := len(s.queue) == 0
		if empty {
			s.processing = false
		}
		s.mu.Unlock()
		if empty {
			return
		}
	}
}

// runOnePass prunes disconnected requests, picks a model via fair
// batching, ensures it loaded, and drains the batch. Returns false,
// after clearing s.processing, if no model could be picked; every
// queued entry is a candidate, so that happens only when the queue is
// empty after pruning.
func (s *Scheduler) runOnePass() bool {
	ctx := context.Background()
	s.pruneDisconnected()

	model, ok := s.pickModel()
	if !ok {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
		return false
	}

	ctx, span := tracer.Start(ctx, "scheduler.ensure_loaded", trace.WithAttributes(attribute.String("model", model)))
	_, err := s.lifecycle.EnsureLoaded(ctx, model)
	span.End()
	if err != nil {
		s.drainReject(model, err)
		return true
	}

	for {
		batch := s.drainForModel(model)
		if len(batch) == 0 {
			break
		}
		for _, req := range batch {
			s.runOne(ctx, model, req)
		}
	}

	return true
}

// pruneDisconnected removes requests whose sink has already ended,
// resolving them silently.
func (s *Scheduler) pruneDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.queue[:0]
	for _, req := range s.queue {
		if req.Sink.Disconnected() {
			req.stopHeartbeat()
			req.resolve(nil)
			continue
		}
		kept = append(kept, req)
	}
	s.queue = kept
}

type modelStat struct {
	model    string
	count    int
	earliest time.Time
	loaded   bool
}

// pickModel implements the fair-batching policy:
// prefer the best loaded candidate (highest count, earliest queued_at
// tie-break), else the best unloaded candidate.
func (s *Scheduler) pickModel() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]*modelStat)
	var order []string
	for _, req := range s.queue {
		st, ok := stats[req.Model]
		if !ok {
			st = &modelStat{model: req.Model, earliest: req.QueuedAt, loaded: s.lifecycle.IsLoaded(req.Model)}
			stats[req.Model] = st
			order = append(order, req.Model)
		}
		st.count++
		if req.QueuedAt.Before(st.earliest) {
			st.earliest = req.QueuedAt
		}
	}

	var bestLoaded, bestUnloaded *modelStat
	for _, name := range order {
		st := stats[name]
		if st.loaded {
			if better(st, bestLoaded) {
				bestLoaded = st
			}
		} else if better(st, bestUnloaded) {
			bestUnloaded = st
		}
	}

	if bestLoaded != nil {
		return bestLoaded.model, true
	}
	if bestUnloaded != nil {
		return bestUnloaded.model, true
	}
	return "", false
}

// better reports whether candidate should replace current as the best
// pick within its loaded/unloaded group: higher count wins, ties break
// by earliest queued_at.
func better(candidate, current *modelStat) bool {
	if current == nil {
		return true
	}
	if candidate.count != current.count {
		return candidate.count > current.count
	}
	return candidate.earliest.Before(current.earliest)
}

// drainForModel removes and returns every currently queued request for
// model.
func (s *Scheduler) drainForModel(model string) []*PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []*PendingRequest
	kept := s.queue[:0]
	for _, req := range s.queue {
		if req.Model == model {
			batch = append(batch, req)
		} else {
			kept = append(kept, req)
		}
	}
	s.queue = kept
	return batch
}

// drainReject removes every queued request for model and rejects each
// with err.
func (s *Scheduler) drainReject(model string, err error) {
	for _, req := range s.drainForModel(model) {
		req.stopHeartbeat()
		req.resolve(err)
	}
}

// runOne executes one request's work closure with the model's active
// context held, guaranteeing release on every exit path.
func (s *Scheduler) runOne(ctx context.Context, model string, req *PendingRequest) {
	req.stopHeartbeat()

	s.lifecycle.AcquireContext(model)
	defer s.lifecycle.ReleaseContext(model)

	ctx, span := tracer.Start(ctx, "scheduler.run_one", trace.WithAttributes(attribute.String("model", model)))
	defer span.End()

	err := req.Work(ctx)
	req.resolve(err)
}
