// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPGenerator is the default Generator implementation.
//
// # Description
//
// Talks to a single external completion server (e.g. a llama.cpp
// server) over HTTP. It never implements the actual model math; that
// lives entirely in the external process.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying http.Client handles
// connection pooling.
//
// # Limitations
//
//   - Model selection on a shared completion server is not performed;
//     the server is assumed to already serve the requested model.
//   - Sessions resend the full accumulated transcript on every
//     prompt, since the completion endpoint is stateless.
type HTTPGenerator struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPGenerator constructs an HTTPGenerator pointed at baseURL (the
// completion server's root, e.g. "http://127.0.0.1:8080").
func NewHTTPGenerator(baseURL string) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Open is a no-op: the HTTP adapter has no process-wide state to
// initialize beyond the http.Client already built in the constructor.
func (g *HTTPGenerator) Open(ctx context.Context) error {
	return nil
}

// OpenModelHandle returns a handle bound to spec; the external server is
// assumed to already be serving the requested model (model selection on
// a shared completion server is itself out of scope).
func (g *HTTPGenerator) OpenModelHandle(ctx context.Context, spec ModelHandleSpec) (ModelHandle, error) {
	return &httpModelHandle{generator: g, spec: spec}, nil
}

// Close is a no-op: there is no persistent connection to tear down
// beyond what http.Client already manages.
func (g *HTTPGenerator) Close(ctx context.Context) error {
	return nil
}

type httpModelHandle struct {
	generator *HTTPGenerator
	spec      ModelHandleSpec
}

func (h *httpModelHandle) NewContext(ctx context.Context, contextSize int) (InferenceContext, error) {
	return &httpInferenceContext{generator: h.generator, contextSize: contextSize}, nil
}

func (h *httpModelHandle) Close(ctx context.Context) error {
	return nil
}

type httpInferenceContext struct {
	generator   *HTTPGenerator
	contextSize int
}

func (c *httpInferenceContext) NewChatSession(systemPrompt string) ChatSession {
	return &httpChatSession{
		generator:  c.generator,
		transcript: systemPrompt,
	}
}

func (c *httpInferenceContext) Dispose(ctx context.Context) error {
	return nil
}

// httpChatSession accumulates a flat transcript and resends it in full
// on every Prompt call, since the external completion server is
// stateless per request (mirrors LocalLlamaCppClient.Generate, which
// has no notion of multi-turn session state of its own).
type httpChatSession struct {
	generator  *HTTPGenerator
	transcript string
}

type completionPayload struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float32  `json:"temperature"`
	TopK        int      `json:"top_k"`
	TopP        float32  `json:"top_p"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Content string `json:"content"`
}

func (s *httpChatSession) Prompt(ctx context.Context, input string) (string, error) {
	s.transcript += "\n" + input

	payload := completionPayload{
		Prompt:      s.transcript,
		NPredict:    2048,
		Temperature: 0.2,
		TopK:        20,
		TopP:        0.9,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("generator: marshal completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.generator.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("generator: build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.generator.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generator: completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("generator: read completion response: %w", err)
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("generator: parse completion response: %w", err)
	}

	s.transcript += parsed.Content
	return parsed.Content, nil
}
