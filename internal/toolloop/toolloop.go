// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolloop drives the model<->tool round-trips of one chat
// invocation: building the effective system prompt, replaying prior
// turns, parsing tool-call markup via the model's codec, executing
// calls against the provider manager, loop detection, parameter
// guidance, and the iteration cap. It returns a final
// Result; wire-format framing (NDJSON/SSE, word-splitting) is the
// concern of internal/httpapi, which is dialect-aware in a way this
// package deliberately is not.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
	"github.com/aleutian-oss/llmgateway/internal/lifecycle"
)

// MaxToolIterations bounds the number of model<->tool rounds a single
// invocation may run.
const MaxToolIterations = 10

// LoopSignatureThreshold is the repeat count of an identical call
// signature that triggers the bailout message.
const LoopSignatureThreshold = 3

// ErrBadRequest reports a malformed invocation, e.g. a message list
// whose last entry is not a user turn.
type ErrBadRequest struct {
	Message string
}

func (e *ErrBadRequest) Error() string { return e.Message }

// Result is the loop's final output. ToolCalls is the client-visible
// echo of every call attempted; Results carries the per-call outcome
// for observability.
type Result struct {
	Content   string
	ToolCalls []datatypes.ToolCallEcho
	Results   []datatypes.ToolCallResult
}

// Run drives rec's model through messages, normalizing
// rawToolsOverride (or falling back to rec's own tool list) into the
// prompt's tool block, until a final text answer is produced or a
// safety limit stops the loop.
func Run(ctx context.Context, rec *lifecycle.Record, messages []datatypes.Message, rawToolsOverride []interface{}) (Result, error) {
	if len(messages) == 0 || messages[len(messages)-1].Role != "user" {
		return Result{}, &ErrBadRequest{Message: "last message must have role \"user\""}
	}

	tools := normalizeTools(rawToolsOverride, rec.ToolList)

	systemPrompt := rec.Config.SystemPrompt
	systemPrompt += "\nCurrent date and time: " + time.Now().Format(time.RFC1123)
	if block := rec.Codec.FormatToolsForPrompt(tools); block != "" {
		systemPrompt += "\n\n" + block
	}
	for _, msg := range messages {
		if msg.Role == "system" {
			systemPrompt += "\n" + msg.Content
		}
	}

	handle := rec.Handle
	inferCtx, err := handle.NewContext(ctx, rec.Config.EffectiveNumCtx())
	if err != nil {
		return Result{}, fmt.Errorf("toolloop: new inference context: %w", err)
	}
	defer inferCtx.Dispose(ctx)

	session := inferCtx.NewChatSession(systemPrompt)

	for i := 0; i < len(messages)-1; i++ {
		if messages[i].Role != "user" {
			continue
		}
		if _, err := session.Prompt(ctx, messages[i].Content); err != nil {
			return Result{}, fmt.Errorf("toolloop: replay prior turn: %w", err)
		}
	}

	currentInput := messages[len(messages)-1].Content
	var accumulated []datatypes.ToolCallEcho
	var outcomes []datatypes.ToolCallResult
	signatureCounts := make(map[string]int)

	var finalText string
	reachedCap := true

	for round := 0; round < MaxToolIterations; round++ {
		response, err := session.Prompt(ctx, currentInput)
		if err != nil {
			return Result{}, fmt.Errorf("toolloop: prompt: %w", err)
		}

		if !rec.Codec.HasToolCalls(response) {
			finalText = rec.Codec.GetTextContent(response)
			reachedCap = false
			break
		}

		calls := rec.Codec.ParseToolCalls(response)
		if len(calls) == 0 {
			finalText = rec.Codec.GetTextContent(response)
			reachedCap = false
			break
		}

		sig := signature(calls)
		signatureCounts[sig]++
		if signatureCounts[sig] >= LoopSignatureThreshold {
			names := make([]string, 0, len(calls))
			for _, c := range calls {
				names = append(names, c.Name)
			}
			finalText = fmt.Sprintf(
				"I wasn't able to get the right information — I kept trying to call %s with the same arguments without success.",
				strings.Join(names, ", "),
			)
			reachedCap = false
			break
		}

		var parts []string
		for _, call := range calls {
			result, callErr := rec.Tools.CallTool(ctx, call.Name, call.Arguments)
			success := callErr == nil
			var resultValue interface{} = result
			if callErr != nil {
				resultValue = callErr.Error()
			}

			argsJSON, _ := json.Marshal(call.Arguments)
			accumulated = append(accumulated, datatypes.ToolCallEcho{
				ID:   "call_" + uuid.NewString(),
				Type: "function",
				Function: datatypes.ToolCallEchoFunc{
					Name:      call.Name,
					Arguments: string(argsJSON),
				},
			})

			outcomes = append(outcomes, datatypes.ToolCallResult{
				Name:    call.Name,
				Result:  stringify(resultValue),
				Success: success,
			})

			formatted := rec.Codec.FormatToolResult(call.Name, resultValue)
			if !success || isEmptyToolResult(resultValue) {
				if desc, ok := findDescriptor(tools, call.Name); ok {
					formatted += "\n" + parameterGuidance(desc)
				}
			}
			parts = append(parts, formatted)
		}
		currentInput = strings.Join(parts, "\n\n")
	}

	if reachedCap {
		finalText = "I was unable to complete this request — too many tool calls were needed."
	}

	return Result{Content: finalText, ToolCalls: accumulated, Results: outcomes}, nil
}

// stringify renders a tool result value for the outcome record.
func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// signature is a deterministic serialization of a call list used for
// loop detection.
func signature(calls []datatypes.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, c := range calls {
		keys := make([]string, 0, len(c.Arguments))
		for k := range c.Arguments {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(c.Name)
		b.WriteString("(")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(k)
			b.WriteString("=")
			v, _ := json.Marshal(c.Arguments[k])
			b.Write(v)
		}
		b.WriteString(")")
		parts = append(parts, b.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// isEmptyToolResult reports whether result counts as "empty" for
// parameter-guidance purposes: null, "[]", "{}", "null", a
// whitespace-only string, or a zero-length array.
func isEmptyToolResult(result interface{}) bool {
	switch v := result.(type) {
	case nil:
		return true
	case string:
		t := strings.TrimSpace(v)
		return t == "" || t == "[]" || t == "{}" || t == "null"
	case []interface{}:
		return len(v) == 0
	default:
		rv := reflect.ValueOf(v)
		return (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Len() == 0
	}
}

func findDescriptor(tools []datatypes.ToolInputSchema, name string) (datatypes.ToolInputSchema, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return datatypes.ToolInputSchema{}, false
}

// parameterGuidance renders a block listing each parameter's type,
// required/optional marker, and description, instructing the model
// not to retry with identical arguments.
func parameterGuidance(desc datatypes.ToolInputSchema) string {
	if len(desc.Properties) == 0 {
		return fmt.Sprintf("Tool %q takes no parameters. Do not call it again with the same arguments.", desc.Name)
	}

	names := make([]string, 0, len(desc.Properties))
	for name := range desc.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Parameters for %q:\n", desc.Name)
	for _, name := range names {
		p := desc.Properties[name]
		marker := "optional"
		if containsStr(desc.Required, name) {
			marker = "required"
		}
		fmt.Fprintf(&b, "- %s (%s, %s)", name, p.Type, marker)
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("Do not call this tool again with the same arguments.")
	return b.String()
}

func containsStr(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// normalizeTools flattens rawToolsOverride (whichever of the two
// accepted shapes the request body used) into ToolInputSchema, or
// falls back to the loaded record's own descriptors if no override
// was given.
func normalizeTools(rawToolsOverride []interface{}, fallback []datatypes.ToolDescriptor) []datatypes.ToolInputSchema {
	if len(rawToolsOverride) == 0 {
		out := make([]datatypes.ToolInputSchema, 0, len(fallback))
		for _, d := range fallback {
			out = append(out, datatypes.ToolInputSchema{
				Name:        d.PlainName,
				Description: d.Description,
				Properties:  d.Properties,
				Required:    d.Required,
			})
		}
		return out
	}

	out := make([]datatypes.ToolInputSchema, 0, len(rawToolsOverride))
	for _, raw := range rawToolsOverride {
		if schema, ok := normalizeOneTool(raw); ok {
			out = append(out, schema)
		}
	}
	return out
}

type rawFunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	} `json:"parameters"`
}

type rawOpenAITool struct {
	Type     string         `json:"type"`
	Function rawFunctionDef `json:"function"`
}

type rawNativeTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	} `json:"inputSchema"`
}

// normalizeOneTool accepts either OpenAI-shape
// {type:"function",function:{...}} or native-shape
// {name,description,inputSchema} tool definitions.
func normalizeOneTool(raw interface{}) (datatypes.ToolInputSchema, bool) {
	b, err := json.Marshal(raw)
	if err != nil {
		return datatypes.ToolInputSchema{}, false
	}

	var oa rawOpenAITool
	if err := json.Unmarshal(b, &oa); err == nil && oa.Type == "function" && oa.Function.Name != "" {
		return toolInputSchemaFromFunc(oa.Function), true
	}

	var native rawNativeTool
	if err := json.Unmarshal(b, &native); err == nil && native.Name != "" {
		props := make(map[string]datatypes.ParameterSpec, len(native.InputSchema.Properties))
		for name, p := range native.InputSchema.Properties {
			props[name] = datatypes.ParameterSpec{Type: p.Type, Description: p.Description}
		}
		return datatypes.ToolInputSchema{
			Name:        native.Name,
			Description: native.Description,
			Properties:  props,
			Required:    native.InputSchema.Required,
		}, true
	}

	return datatypes.ToolInputSchema{}, false
}

func toolInputSchemaFromFunc(fn rawFunctionDef) datatypes.ToolInputSchema {
	props := make(map[string]datatypes.ParameterSpec, len(fn.Parameters.Properties))
	for name, p := range fn.Parameters.Properties {
		props[name] = datatypes.ParameterSpec{Type: p.Type, Description: p.Description}
	}
	return datatypes.ToolInputSchema{
		Name:        fn.Name,
		Description: fn.Description,
		Properties:  props,
		Required:    fn.Parameters.Required,
	}
}
