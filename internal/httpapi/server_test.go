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
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-oss/llmgateway/internal/access"
	"github.com/aleutian-oss/llmgateway/internal/datatypes"
	"github.com/aleutian-oss/llmgateway/internal/generator"
	"github.com/aleutian-oss/llmgateway/internal/lifecycle"
	"github.com/aleutian-oss/llmgateway/internal/scheduler"
)

// scriptedSession always replies with reply.
type scriptedSession struct {
	reply string
}

func (s *scriptedSession) Prompt(ctx context.Context, input string) (string, error) {
	return s.reply, nil
}

type scriptedCtx struct{ reply string }

func (c *scriptedCtx) NewChatSession(systemPrompt string) generator.ChatSession {
	return &scriptedSession{reply: c.reply}
}
func (c *scriptedCtx) Dispose(ctx context.Context) error { return nil }

type scriptedHandle struct{ reply string }

func (h *scriptedHandle) NewContext(ctx context.Context, contextSize int) (generator.InferenceContext, error) {
	return &scriptedCtx{reply: h.reply}, nil
}
func (h *scriptedHandle) Close(ctx context.Context) error { return nil }

type scriptedGen struct{ reply string }

func (g *scriptedGen) Open(ctx context.Context) error { return nil }
func (g *scriptedGen) OpenModelHandle(ctx context.Context, spec generator.ModelHandleSpec) (generator.ModelHandle, error) {
	return &scriptedHandle{reply: g.reply}, nil
}
func (g *scriptedGen) Close(ctx context.Context) error { return nil }

type fixedProbe struct{}

func (p *fixedProbe) Inspect(ctx context.Context, path string, contextSize int) (generator.ModelInsights, error) {
	return generator.ModelInsights{}, nil
}
func (p *fixedProbe) FreeVRAM(ctx context.Context) (uint64, error) { return 16 << 30, nil }

func newTestServer(t *testing.T, strict bool, reply string, models ...string) (*Server, *access.TokenStore) {
	t.Helper()
	configs := make(map[string]datatypes.ModelConfig, len(models))
	for _, name := range models {
		configs[name] = datatypes.ModelConfig{
			Name:         name,
			Dialect:      "dialect-a",
			SystemPrompt: "you are " + name,
			ContextSize:  1024,
		}
	}

	manager, err := lifecycle.NewManager(context.Background(), configs, models, &scriptedGen{reply: reply}, &fixedProbe{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	store, err := access.LoadTokenStore(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)

	sched := scheduler.NewScheduler(manager, nil)
	filter := access.NewFilter(store, strict)
	return NewServer("0.1.0", manager, sched, filter, nil, nil), store
}

func do(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestRootAndVersion(t *testing.T) {
	s, _ := newTestServer(t, false, "hi", "baseball")

	w := do(t, s, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ollama is running", w.Body.String())

	w = do(t, s, http.MethodGet, "/api/version", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var v datatypes.VersionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "0.1.0", v.Version)
}

func TestTrailingSlashNormalized(t *testing.T) {
	s, _ := newTestServer(t, false, "hi", "baseball")
	w := do(t, s, http.MethodGet, "/api/version/", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRouteReturns404(t *testing.T) {
	s, _ := newTestServer(t, false, "hi", "baseball")
	w := do(t, s, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var e datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, "Not found", e.Error)
}

func TestOptionsIsAlwaysExempt(t *testing.T) {
	s, _ := newTestServer(t, true, "hi", "baseball")
	w := do(t, s, http.MethodOptions, "/api/chat", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// TestStrictModeAccessFilter walks a token whose allowed set covers
// only one of the two configured models through the gateway's access
// rules.
func TestStrictModeAccessFilter(t *testing.T) {
	s, store := newTestServer(t, true, "hi", "assistant", "baseball")
	token, err := store.Create("test", []string{"baseball"})
	require.NoError(t, err)

	// Tags with the token list only the allowed model.
	w := do(t, s, http.MethodGet, "/api/tags", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	var tags datatypes.TagsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tags))
	require.Len(t, tags.Models, 1)
	assert.Equal(t, "baseball", tags.Models[0].Name)

	// Chat against a model outside the allowed set is forbidden.
	w = do(t, s, http.MethodPost, "/api/chat", token,
		`{"model":"assistant","messages":[{"role":"user","content":"hi"}],"stream":false}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// No token at all is rejected by the global gate.
	w = do(t, s, http.MethodPost, "/api/chat", "",
		`{"model":"baseball","messages":[{"role":"user","content":"hi"}],"stream":false}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var e datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, "Forbidden: valid bearer token required", e.Error)

	// A token with no overlap against the configured models is also
	// rejected by the gate, even on health/version.
	orphan, err := store.Create("orphan", []string{"ghost"})
	require.NoError(t, err)
	w = do(t, s, http.MethodGet, "/api/version", orphan, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestChatNonStreaming(t *testing.T) {
	s, _ := newTestServer(t, false, "the answer is 4", "baseball")
	w := do(t, s, http.MethodPost, "/api/chat", "",
		`{"model":"baseball","messages":[{"role":"user","content":"2+2?"}],"stream":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	var frame datatypes.ChatFrame
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &frame))
	assert.Equal(t, "baseball", frame.Model)
	assert.Equal(t, "assistant", frame.Message.Role)
	assert.Equal(t, "the answer is 4", frame.Message.Content)
	assert.True(t, frame.Done)
	assert.Equal(t, "stop", frame.DoneReason)
}

func TestChatStreamingFrames(t *testing.T) {
	s, _ := newTestServer(t, false, "one two three", "baseball")
	w := do(t, s, http.MethodPost, "/api/chat", "",
		`{"model":"baseball","messages":[{"role":"user","content":"count"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 4)

	var content strings.Builder
	for _, line := range lines[:3] {
		var frame datatypes.ChatFrame
		require.NoError(t, json.Unmarshal([]byte(line), &frame))
		assert.False(t, frame.Done)
		content.WriteString(frame.Message.Content)
	}
	assert.Equal(t, "one two three", content.String())

	var last datatypes.ChatFrame
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &last))
	assert.True(t, last.Done)
	assert.Equal(t, "stop", last.DoneReason)
}

func TestGenerateWrapsPrompt(t *testing.T) {
	s, _ := newTestServer(t, false, "wrapped", "baseball")
	w := do(t, s, http.MethodPost, "/api/generate", "",
		`{"model":"baseball","prompt":"hello","stream":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	var frame datatypes.ChatFrame
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &frame))
	assert.Equal(t, "wrapped", frame.Message.Content)
}

func TestChatUnknownModelReturns404(t *testing.T) {
	s, _ := newTestServer(t, false, "hi", "baseball")
	w := do(t, s, http.MethodPost, "/api/chat", "",
		`{"model":"ghost","messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatLastMessageMustBeUser(t *testing.T) {
	s, _ := newTestServer(t, false, "hi", "baseball")
	w := do(t, s, http.MethodPost, "/api/chat", "",
		`{"model":"baseball","messages":[{"role":"assistant","content":"hi"}],"stream":false}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOpenAINonStreaming(t *testing.T) {
	s, _ := newTestServer(t, false, "fine thanks", "baseball")
	w := do(t, s, http.MethodPost, "/v1/chat/completions", "",
		`{"model":"baseball","messages":[{"role":"user","content":"how are you?"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.OpenAICompletion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "chat.completion", resp.Object)
	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "fine thanks", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 0, resp.Usage.TotalTokens)
}

func TestOpenAIStreaming(t *testing.T) {
	s, _ := newTestServer(t, false, "alpha beta", "baseball")
	w := do(t, s, http.MethodPost, "/v1/chat/completions", "",
		`{"model":"baseball","messages":[{"role":"user","content":"go"}],"stream":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	var content strings.Builder
	var sawStop bool
	for _, line := range strings.Split(body, "\n\n") {
		line = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		if line == "" || line == "[DONE]" {
			continue
		}
		var chunk datatypes.OpenAIChunk
		require.NoError(t, json.Unmarshal([]byte(line), &chunk))
		require.Len(t, chunk.Choices, 1)
		content.WriteString(chunk.Choices[0].Delta.Content)
		if chunk.Choices[0].FinishReason != nil && *chunk.Choices[0].FinishReason == "stop" {
			sawStop = true
		}
	}
	assert.Equal(t, "alpha beta", content.String())
	assert.True(t, sawStop)
}

func TestOpenAIModelsList(t *testing.T) {
	s, _ := newTestServer(t, false, "hi", "assistant", "baseball")
	w := do(t, s, http.MethodGet, "/v1/models", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.OpenAIModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 2)
}

func TestShowModelDetails(t *testing.T) {
	s, _ := newTestServer(t, false, "hi", "baseball")

	w := do(t, s, http.MethodPost, "/api/show", "", `{"name":"baseball"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var info datatypes.ModelInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "baseball", info.Name)

	w = do(t, s, http.MethodPost, "/api/show", "", `{"model":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPsListsLoadedModelsOnly(t *testing.T) {
	s, _ := newTestServer(t, false, "hi", "assistant", "baseball")

	w := do(t, s, http.MethodGet, "/api/ps", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ps datatypes.PsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ps))
	assert.Empty(t, ps.Models)

	do(t, s, http.MethodPost, "/api/chat", "",
		`{"model":"baseball","messages":[{"role":"user","content":"hi"}],"stream":false}`)

	w = do(t, s, http.MethodGet, "/api/ps", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ps))
	require.Len(t, ps.Models, 1)
	assert.Equal(t, "baseball", ps.Models[0].Name)
}
