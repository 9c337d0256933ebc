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
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
	"github.com/aleutian-oss/llmgateway/internal/lifecycle"
	"github.com/aleutian-oss/llmgateway/internal/scheduler"
	"github.com/aleutian-oss/llmgateway/internal/toolloop"
)

func (s *Server) handleChat(c *gin.Context) {
	var req datatypes.ChatRequest
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
	s.runNativeChat(c, req.Model, req.Messages, req.Tools, req.WantsStream())
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req datatypes.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "prompt is required"})
		return
	}
	if !s.checkModel(c, req.Model) {
		return
	}
	messages := []datatypes.Message{{Role: "user", Content: req.Prompt}}
	s.runNativeChat(c, req.Model, messages, nil, req.WantsStream())
}

// runNativeChat submits one native-dialect chat to the scheduler and
// frames the result.
//
// # Description
//
// Builds the dialect-appropriate sink (real NDJSON sink when
// streaming, no-op otherwise), submits a work closure that runs the
// tool-execution loop, and awaits completion. Streaming responses are
// framed inside the closure as whitespace-split word chunks plus a
// terminal done frame; non-streaming responses are written here as a
// single envelope after the closure resolves.
//
// # Inputs
//
//   - c: The request context; also the error-response writer.
//   - model: Validated, allowed model name.
//   - messages: Conversation turns, last must be a user turn.
//   - tools: Optional per-request tool override, either wire shape.
//   - streaming: Selects the framing mode.
func (s *Server) runNativeChat(c *gin.Context, model string, messages []datatypes.Message, tools []interface{}, streaming bool) {
	var sink scheduler.Sink
	var ns *nativeSink
	if streaming {
		var ok bool
		ns, ok = newNativeSink(c.Writer, c.Request, model)
		if !ok {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming unsupported"})
			return
		}
		sink = ns
	} else {
		sink = &noopSink{req: c.Request}
	}

	var result toolloop.Result
	work := func(ctx context.Context) error {
		rec, err := s.lifecycle.EnsureLoaded(ctx, model)
		if err != nil {
			return err
		}
		result, err = toolloop.Run(ctx, rec, messages, tools)
		if err != nil {
			return err
		}
		s.recordToolOutcomes(result)
		if !streaming {
			return nil
		}
		for _, word := range chunkWords(result.Content) {
			if err := ns.WriteChunk(word); err != nil {
				return err
			}
		}
		return ns.WriteFinal(datatypes.Message{Role: "assistant", Content: ""})
	}

	s.trackQueueDepth(1)
	err := <-s.sched.Submit(model, work, sink, streaming)
	s.trackQueueDepth(-1)
	s.observeLoaded()

	if err != nil {
		s.writeWorkError(c, err, ns != nil && ns.Started())
		return
	}
	if streaming {
		return
	}

	c.JSON(http.StatusOK, datatypes.FinalChatFrame{
		ChatFrame: datatypes.ChatFrame{
			Model:     model,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
			Message: datatypes.Message{
				Role:      "assistant",
				Content:   result.Content,
				ToolCalls: result.ToolCalls,
			},
			Done:       true,
			DoneReason: "stop",
		},
	})
}

// chunkWords splits content on whitespace into streamable chunks,
// re-attaching a trailing space to every word except the last.
func chunkWords(content string) []string {
	words := strings.Fields(content)
	for i := 0; i < len(words)-1; i++ {
		words[i] += " "
	}
	return words
}

// writeWorkError maps a work-closure error onto the response. Paths
// that have already streamed headers silently end instead.
func (s *Server) writeWorkError(c *gin.Context, err error, headersSent bool) {
	if headersSent {
		return
	}
	status := http.StatusInternalServerError
	switch err.(type) {
	case *toolloop.ErrBadRequest:
		status = http.StatusBadRequest
	case *lifecycle.ErrUnknownModel:
		status = http.StatusNotFound
	}
	c.JSON(status, datatypes.ErrorResponse{Error: err.Error()})
}

func (s *Server) recordToolOutcomes(result toolloop.Result) {
	if s.metrics == nil {
		return
	}
	for _, r := range result.Results {
		outcome := "success"
		if !r.Success {
			outcome = "failure"
		}
		s.metrics.ToolInvocations.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) trackQueueDepth(delta float64) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueueDepth.Add(delta)
}

func (s *Server) observeLoaded() {
	if s.metrics == nil {
		return
	}
	s.metrics.LoadedModels.Set(float64(len(s.lifecycle.GetRunningModelInfo(nil))))
}
