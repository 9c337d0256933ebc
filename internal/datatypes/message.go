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

// Message is one role/content turn in a conversation. Role is one of
// "system", "user", or "assistant". ToolCalls is populated only on
// assistant messages produced at the end of a tool-execution loop that
// made at least one tool call.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ToolCallEcho `json:"tool_calls,omitempty"`
}

// ToolCallEcho is the client-visible echo of one tool call attempted
// during a tool-execution loop, used in both wire dialects' final
// assistant message.
type ToolCallEcho struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallEchoFunc `json:"function"`
}

// ToolCallEchoFunc carries the function name and its JSON-stringified
// arguments, matching the OpenAI tool_calls shape; the native dialect
// reuses the same struct for its own tool_calls list.
type ToolCallEchoFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolInputSchema is the normalized {properties, required} shape a codec
// formats into its prompt block, after OpenAI-shape tool definitions
// ({type:"function", function:{name, description, parameters}}) have been
// flattened to {name, description, inputSchema}.
type ToolInputSchema struct {
	Name        string
	Description string
	Properties  map[string]ParameterSpec
	Required    []string
}
