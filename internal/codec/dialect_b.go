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
	"regexp"
	"strconv"
	"strings"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
)

// bracketCodec implements dialect-B: calls are [func(param='value')],
// multiple calls comma-separated within the same bracket pair. Results
// are returned as a plain sentence, not a marker.
type bracketCodec struct{}

var bracketSpanRe = regexp.MustCompile(`(?s)\[([^\[\]]*)\]`)
var funcCallRe = regexp.MustCompile(`(\w+)\(([^()]*)\)`)
var decimalRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
var bareIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c *bracketCodec) FormatToolsForPrompt(tools []datatypes.ToolInputSchema) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You can call functions using the syntax [function_name(param='value', other=123)]. ")
	b.WriteString("Multiple calls may appear comma-separated inside the same brackets. ")
	b.WriteString("String values use quotes, numbers are bare, booleans are True/False, and the ")
	b.WriteString("absence of a value is None.\n\nAvailable functions:\n")
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

func (c *bracketCodec) HasToolCalls(text string) bool {
	for _, span := range bracketSpanRe.FindAllStringSubmatch(text, -1) {
		if funcCallRe.MatchString(span[1]) {
			return true
		}
	}
	return false
}

func (c *bracketCodec) ParseToolCalls(text string) []datatypes.ToolCall {
	calls := make([]datatypes.ToolCall, 0)
	for _, span := range bracketSpanRe.FindAllStringSubmatch(text, -1) {
		for _, fn := range funcCallRe.FindAllStringSubmatch(span[1], -1) {
			name := fn[1]
			if name == "" {
				continue
			}
			calls = append(calls, datatypes.ToolCall{
				Name:      name,
				Arguments: parseBracketArgs(fn[2]),
			})
		}
	}
	return calls
}

func (c *bracketCodec) FormatToolResult(name string, result interface{}) string {
	return "Function " + name + " returned: " + stringifyResult(result)
}

func (c *bracketCodec) GetTextContent(text string) string {
	out := bracketSpanRe.ReplaceAllStringFunc(text, func(span string) string {
		m := bracketSpanRe.FindStringSubmatch(span)
		if m != nil && funcCallRe.MatchString(m[1]) {
			return ""
		}
		return span
	})
	return strings.TrimSpace(out)
}

func (c *bracketCodec) BuildMessage(role, content string) datatypes.Message {
	return buildMessage(role, content)
}

// parseBracketArgs splits a comma-separated "key=value, ..." argument list
// (respecting quoted strings that may themselves contain commas) and
// applies the dialect-B value-type discriminator to each value.
func parseBracketArgs(raw string) map[string]interface{} {
	args := map[string]interface{}{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return args
	}
	for _, pair := range splitTopLevelCommas(raw) {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(pair[:eq])
		valRaw := strings.TrimSpace(pair[eq+1:])
		if key == "" {
			continue
		}
		args[key] = discriminateValue(valRaw)
	}
	return args
}

// discriminateValue applies the bracket-call value grammar:
// quoted -> string; decimal numeral -> number; True/False/None ->
// bool/null; any other bare identifier -> string.
func discriminateValue(v string) interface{} {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return v[1 : len(v)-1]
		}
	}
	if decimalRe.MatchString(v) {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	switch v {
	case "True":
		return true
	case "False":
		return false
	case "None":
		return nil
	}
	return v
}

// splitTopLevelCommas splits on commas that are not inside a matching
// pair of single or double quotes.
func splitTopLevelCommas(s string) []string {
	var parts []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(ch)
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
			cur.WriteByte(ch)
		case ch == ',':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	parts = append(parts, cur.String())
	return parts
}
