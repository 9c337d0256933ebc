// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// TransportKind identifies how a tool provider is reached.
type TransportKind string

const (
	// TransportChildProcess spawns a local stdio child process.
	TransportChildProcess TransportKind = "child_process"
	// TransportRemoteHTTP dials a remote streamable-HTTP endpoint.
	TransportRemoteHTTP TransportKind = "remote_http"
)

// ToolProviderSpec describes one tool provider attached to a model.
//
// Exactly one of the transport-kind-specific field groups is populated,
// selected by Transport: Command/Args/WorkingDir/Env for
// TransportChildProcess, URL for TransportRemoteHTTP.
type ToolProviderSpec struct {
	Name       string            `json:"name"`
	Transport  TransportKind     `json:"transport"`
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
}

// ModelConfig is an immutable-after-load model configuration entry.
//
// # Fields
//
//   - Name: logical name used in every API surface and config key.
//   - Path: filesystem path to the model artifact (out-of-scope reader
//     resolves this; a missing artifact is deferred to load time).
//   - Dialect: one of "dialect-a", "dialect-b", "dialect-c".
//   - SystemPrompt: base system prompt text (loaded from SystemPromptFile
//     at config-load time; a missing file is a hard error at startup).
//   - SystemPromptFile: source path for SystemPrompt, relative paths
//     resolved against the config file's directory.
//   - GPULayers: optional hardware-offload hint passed to the generator.
//   - ContextSize: context window size in tokens.
//   - KeepAlive: Ollama-style keep-alive directive (e.g. "5m", "-1"),
//     read from the config file and kept on the entry. It is not
//     passed to the generator: neither ModelHandleSpec nor the HTTP
//     adapter's completion payload carries it.
//   - NumCtx: generation-time context-size override; falls back to
//     ContextSize when zero.
//   - Tools: tool-provider specs attached to this model.
type ModelConfig struct {
	Name             string             `json:"-"`
	Path             string             `json:"path"`
	Dialect          string             `json:"dialect"`
	SystemPrompt     string             `json:"-"`
	SystemPromptFile string             `json:"system_prompt_file"`
	GPULayers        int                `json:"gpu_layers,omitempty"`
	ContextSize      int                `json:"context_size"`
	KeepAlive        string             `json:"keep_alive,omitempty"`
	NumCtx           int                `json:"num_ctx,omitempty"`
	Tools            []ToolProviderSpec `json:"tools,omitempty"`
}

// EffectiveNumCtx returns NumCtx if set, otherwise ContextSize.
func (m ModelConfig) EffectiveNumCtx() int {
	if m.NumCtx > 0 {
		return m.NumCtx
	}
	return m.ContextSize
}

// ParameterSpec describes one tool-call argument in a descriptor's
// parameter schema: {type, description}.
type ParameterSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ToolDescriptor is the normalized shape of one callable tool, regardless
// of the provider transport or the wire shape it arrived in (native
// {name,description,inputSchema} or OpenAI {type:"function",function:{...}}
// both normalize to this).
//
// A descriptor is registered under two lookup keys by the tool-provider
// manager: PlainName and the qualified form "<ProviderName>__<PlainName>".
type ToolDescriptor struct {
	ProviderName string                   `json:"-"`
	PlainName    string                   `json:"name"`
	Description  string                   `json:"description,omitempty"`
	Properties   map[string]ParameterSpec `json:"-"`
	Required     []string                 `json:"-"`
}

// QualifiedName returns "<provider>__<name>".
func (d ToolDescriptor) QualifiedName() string {
	return d.ProviderName + "__" + d.PlainName
}

// ToolCall is one parsed {name, arguments} pair, dialect-agnostic.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
}

// ToolCallResult is the outcome of executing one ToolCall.
type ToolCallResult struct {
	Name    string
	Result  string
	Success bool
}
