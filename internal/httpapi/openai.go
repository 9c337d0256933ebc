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
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
	"github.com/aleutian-oss/llmgateway/internal/scheduler"
	"github.com/aleutian-oss/llmgateway/internal/toolloop"
)

func (s *Server) handleOpenAIChat(c *gin.Context) {
	var req datatypes.OpenAIChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "messages are required"})
		return
	}
	if !s.checkModel(c, req.Model) {
		return
	}

	completionID := "chatcmpl-" + uuid.NewString()

	var stream *sseStream
	var sink scheduler.Sink
	if req.Stream {
		var ok bool
		stream, ok = newSSEStream(c.Writer, c.Request)
		if !ok {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming unsupported"})
			return
		}
		sink = stream
	} else {
		sink = &noopSink{req: c.Request}
	}

	var result toolloop.Result
	work := func(ctx context.Context) error {
		rec, err := s.lifecycle.EnsureLoaded(ctx, req.Model)
		if err != nil {
			return err
		}
		result, err = toolloop.Run(ctx, rec, req.Messages, req.Tools)
		if err != nil {
			return err
		}
		s.recordToolOutcomes(result)
		if !req.Stream {
			return nil
		}
		created := time.Now().Unix()
		for _, word := range chunkWords(result.Content) {
			chunk := datatypes.OpenAIChunk{
				ID:      completionID,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   req.Model,
				Choices: []datatypes.OpenAIChunkChoice{{
					Delta: datatypes.OpenAIChunkDelta{Content: word},
				}},
			}
			if err := stream.writeChunk(chunk); err != nil {
				return err
			}
		}
		stop := "stop"
		final := datatypes.OpenAIChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []datatypes.OpenAIChunkChoice{{FinishReason: &stop}},
		}
		if err := stream.writeChunk(final); err != nil {
			return err
		}
		return stream.writeDone()
	}

	s.trackQueueDepth(1)
	err := <-s.sched.Submit(req.Model, work, sink, req.Stream)
	s.trackQueueDepth(-1)
	s.observeLoaded()

	if err != nil {
		s.writeWorkError(c, err, stream != nil && stream.Started())
		return
	}
	if req.Stream {
		return
	}

	c.JSON(http.StatusOK, datatypes.OpenAICompletion{
		ID:      completionID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []datatypes.OpenAICompletionChoice{{
			Message: datatypes.Message{
				Role:      "assistant",
				Content:   result.Content,
				ToolCalls: result.ToolCalls,
			},
			FinishReason: "stop",
		}},
	})
}

// =============================================================================
// SSE Stream
// =============================================================================

// sseStream writes the OpenAI-style streaming body.
//
// # Description
//
// Emits "data: <json>\n\n" chunks terminated by "data: [DONE]\n\n".
// It satisfies scheduler.Sink with no-op heartbeats: the OpenAI
// dialect has no wait-time keepalive frame. Headers are written
// lazily on the first chunk.
//
// # Thread Safety
//
// Safe for concurrent use; all writes are serialized through mu.
//
// # Limitations
//
//   - Requires an http.Flusher-compatible ResponseWriter.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	req     *http.Request
	started bool
}

func newSSEStream(w http.ResponseWriter, req *http.Request) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseStream{w: w, flusher: flusher, req: req}, true
}

func (s *sseStream) Disconnected() bool {
	select {
	case <-s.req.Context().Done():
		return true
	default:
		return false
	}
}

func (s *sseStream) BeginHeartbeat() error { return nil }
func (s *sseStream) Heartbeat() error      { return nil }

func (s *sseStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *sseStream) startLocked() {
	if s.started {
		return
	}
	setCORSHeaders(s.w.Header())
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
	s.started = true
}

func (s *sseStream) writeChunk(chunk datatypes.OpenAIChunk) error {
	b, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return s.writeRaw("data: " + string(b) + "\n\n")
}

func (s *sseStream) writeDone() error {
	return s.writeRaw("data: [DONE]\n\n")
}

func (s *sseStream) writeRaw(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	if _, err := s.w.Write([]byte(line)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
