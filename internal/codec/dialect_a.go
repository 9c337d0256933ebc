// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
)

// promptVariant selects the instruction text embedded alongside the
// on-wire-identical tag-delimited format; dialect-A and dialect-C share
// every other behavior.
type promptVariant int

const (
	promptVariantA promptVariant = iota
	promptVariantC
)

var toolCallBlockRe = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)

// tagDelimitedCodec implements dialect-A and dialect-C: calls wrapped in
// <tool_call>...</tool_call> tags containing a JSON object or array of
// objects; results wrapped in <tool_response>...</tool_response> tags.
type tagDelimitedCodec struct {
	promptVariant promptVariant
}

type rawToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (c *tagDelimitedCodec) FormatToolsForPrompt(tools []datatypes.ToolInputSchema) string {
	if len(tools) == 0 {
		return ""
	}

	var b strings.Builder
	if c.promptVariant == promptVariantC {
		b.WriteString("You have access to the following tools. When you need to use a tool, ")
		b.WriteString("respond with a <tool_call> block containing a JSON object with \"name\" and ")
		b.WriteString("\"arguments\" keys. You may emit multiple <tool_call> blocks, or a single ")
		b.WriteString("block containing a JSON array of call objects.\n\n")
	} else {
		b.WriteString("# Tools\n\nYou may call one or more functions to assist with the user query.\n")
		b.WriteString("Wrap each call in <tool_call></tool_call> XML tags with the function name ")
		b.WriteString("and arguments as JSON, e.g. <tool_call>{\"name\": <name>, \"arguments\": ")
		b.WriteString("<args-json-object>}</tool_call>\n\n")
	}
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		b.WriteString("- ")
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		b.WriteString("\n")
		for name, p := range t.Properties {
			req := ""
			if containsStr(t.Required, name) {
				req = ", required"
			}
			b.WriteString("    - ")
			b.WriteString(name)
			b.WriteString(" (")
			b.WriteString(p.Type)
			b.WriteString(req)
			b.WriteString(")")
			if p.Description != "" {
				b.WriteString(": ")
				b.WriteString(p.Description)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (c *tagDelimitedCodec) HasToolCalls(text string) bool {
	return toolCallBlockRe.MatchString(text)
}

func (c *tagDelimitedCodec) ParseToolCalls(text string) []datatypes.ToolCall {
	calls := make([]datatypes.ToolCall, 0)
	matches := toolCallBlockRe.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		body := strings.TrimSpace(m[1])
		if body == "" {
			continue
		}
		if body[0] == '[' {
			var raws []rawToolCall
			if err := json.Unmarshal([]byte(body), &raws); err != nil {
				continue
			}
			for _, r := range raws {
				if tc, ok := toolCallFromRaw(r); ok {
					calls = append(calls, tc)
				}
			}
			continue
		}
		var r rawToolCall
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			continue
		}
		if tc, ok := toolCallFromRaw(r); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

func toolCallFromRaw(r rawToolCall) (datatypes.ToolCall, bool) {
	if strings.TrimSpace(r.Name) == "" {
		return datatypes.ToolCall{}, false
	}
	args := r.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	return datatypes.ToolCall{Name: r.Name, Arguments: args}, true
}

func (c *tagDelimitedCodec) FormatToolResult(name string, result interface{}) string {
	payload := map[string]interface{}{
		"name":   name,
		"result": stringifyResult(result),
	}
	b, _ := json.Marshal(payload)
	return "<tool_response>" + string(b) + "</tool_response>"
}

func (c *tagDelimitedCodec) GetTextContent(text string) string {
	return strings.TrimSpace(toolCallBlockRe.ReplaceAllString(text, ""))
}

func (c *tagDelimitedCodec) BuildMessage(role, content string) datatypes.Message {
	return buildMessage(role, content)
}

// stringifyResult renders a tool result as the string carried inside a
// tool-response marker: strings pass through, everything else marshals
// to structured-text JSON.
func stringifyResult(result interface{}) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(b)
}

func containsStr(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
