// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
)

// =============================================================================
// Native NDJSON Sink
// =============================================================================

// nativeSink implements scheduler.Sink for the native streaming
// dialect.
//
// # Description
//
// Writes real NDJSON headers and periodic empty-content heartbeat
// frames while the request waits in queue, then content chunks and a
// terminal done frame once the work closure runs. Headers are written
// lazily on the first frame (or heartbeat), so error paths can still
// reply with a JSON error envelope if nothing has been streamed yet.
//
// # Thread Safety
//
// Safe for concurrent use. Every write to the underlying
// http.ResponseWriter goes through writeFrame under mu, so heartbeat
// writes and application writes never interleave.
//
// # Limitations
//
//   - Requires an http.Flusher-compatible ResponseWriter.
//   - Once Started reports true, errors must silently end the stream;
//     the status line is already on the wire.
type nativeSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	req     *http.Request
	model   string
	started bool
}

func newNativeSink(w http.ResponseWriter, req *http.Request, model string) (*nativeSink, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &nativeSink{w: w, flusher: flusher, req: req, model: model}, true
}

func (s *nativeSink) Disconnected() bool {
	select {
	case <-s.req.Context().Done():
		return true
	default:
		return false
	}
}

func (s *nativeSink) BeginHeartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	return nil
}

// startLocked writes the NDJSON response headers once. Callers hold mu.
func (s *nativeSink) startLocked() {
	if s.started {
		return
	}
	setCORSHeaders(s.w.Header())
	s.w.Header().Set("Content-Type", "application/x-ndjson")
	s.w.Header().Set("Transfer-Encoding", "chunked")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
	s.started = true
}

// Started reports whether response headers have been written; once
// true, error paths must silently end the stream instead of replying
// with an error envelope.
func (s *nativeSink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *nativeSink) Heartbeat() error {
	return s.writeFrame(datatypes.ChatFrame{
		Model:     s.model,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Message:   datatypes.Message{Role: "assistant", Content: ""},
		Done:      false,
	})
}

// writeFrame marshals and writes one NDJSON frame, flushing
// immediately. Every writer of this sink's underlying
// http.ResponseWriter must go through here so heartbeat writes and
// application writes never interleave.
func (s *nativeSink) writeFrame(frame interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteChunk writes one non-final content chunk.
func (s *nativeSink) WriteChunk(content string) error {
	return s.writeFrame(datatypes.ChatFrame{
		Model:     s.model,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Message:   datatypes.Message{Role: "assistant", Content: content},
		Done:      false,
	})
}

// WriteFinal writes the terminal frame: done:true, done_reason "stop",
// and the zero-valued timing fields.
func (s *nativeSink) WriteFinal(message datatypes.Message) error {
	return s.writeFrame(datatypes.FinalChatFrame{
		ChatFrame: datatypes.ChatFrame{
			Model:      s.model,
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
			Message:    message,
			Done:       true,
			DoneReason: "stop",
		},
	})
}

// =============================================================================
// No-op Sink
// =============================================================================

// noopSink implements scheduler.Sink for every non-streaming request,
// in either dialect (streaming OpenAI requests use sseStream instead):
// BeginHeartbeat/Heartbeat are no-ops.
type noopSink struct {
	req *http.Request
}

func (s *noopSink) Disconnected() bool {
	select {
	case <-s.req.Context().Done():
		return true
	default:
		return false
	}
}

func (s *noopSink) BeginHeartbeat() error { return nil }
func (s *noopSink) Heartbeat() error      { return nil }

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}
