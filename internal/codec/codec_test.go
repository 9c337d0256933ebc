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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
)

func TestNewUnknownDialect(t *testing.T) {
	_, err := New("dialect-z")
	require.Error(t, err)
	var target *ErrUnknownDialect
	require.ErrorAs(t, err, &target)
}

func TestDialectA_RoundTripScenario(t *testing.T) {
	c, err := New(DialectA)
	require.NoError(t, err)

	text := `<tool_call>{"name":"a","arguments":{"x":1}}</tool_call><tool_call>{"name":"b"}</tool_call>`
	calls := c.ParseToolCalls(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].Name)
	assert.Equal(t, float64(1), calls[0].Arguments["x"])
	assert.Equal(t, "b", calls[1].Name)
	assert.Empty(t, calls[1].Arguments)

	assert.True(t, c.HasToolCalls(text))
	assert.Equal(t, "", c.GetTextContent(text))
}

func TestDialectA_ArrayBlock(t *testing.T) {
	c, _ := New(DialectA)
	text := `<tool_call>[{"name":"a","arguments":{"x":1}},{"name":"b"}]</tool_call>`
	calls := c.ParseToolCalls(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].Name)
	assert.Equal(t, "b", calls[1].Name)
}

func TestDialectA_MalformedSkipped(t *testing.T) {
	c, _ := New(DialectA)
	text := `before <tool_call>not json</tool_call> <tool_call>{"arguments":{}}</tool_call> after`
	calls := c.ParseToolCalls(text)
	assert.Empty(t, calls)
	stripped := c.GetTextContent(text)
	assert.NotContains(t, stripped, "tool_call")
	assert.True(t, len(stripped) > 0)
}

func TestDialectA_NoCallsIdempotent(t *testing.T) {
	c, _ := New(DialectA)
	assert.False(t, c.HasToolCalls("just plain text"))
	assert.Empty(t, c.ParseToolCalls("just plain text"))
}

func TestDialectA_FormatToolResult(t *testing.T) {
	c, _ := New(DialectA)
	out := c.FormatToolResult("lookup", "42")
	assert.Contains(t, out, "<tool_response>")
	assert.Contains(t, out, `"name":"lookup"`)
	assert.Contains(t, out, `"result":"42"`)
}

func TestDialectB_ValueDiscriminatorScenario(t *testing.T) {
	c, err := New(DialectB)
	require.NoError(t, err)

	text := `[f(a='x', b="y", c=3, d=3.5, e=True, g=False, h=None, i=bare)]`
	calls := c.ParseToolCalls(text)
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, "f", call.Name)
	assert.Equal(t, "x", call.Arguments["a"])
	assert.Equal(t, "y", call.Arguments["b"])
	assert.Equal(t, float64(3), call.Arguments["c"])
	assert.Equal(t, 3.5, call.Arguments["d"])
	assert.Equal(t, true, call.Arguments["e"])
	assert.Equal(t, false, call.Arguments["g"])
	assert.Nil(t, call.Arguments["h"])
	assert.Equal(t, "bare", call.Arguments["i"])
}

func TestDialectB_BareBracketIsNotACall(t *testing.T) {
	c, _ := New(DialectB)
	assert.False(t, c.HasToolCalls("[just some text]"))
	assert.Empty(t, c.ParseToolCalls("[just some text]"))
}

func TestDialectB_MultipleCallsCommaSeparated(t *testing.T) {
	c, _ := New(DialectB)
	text := `[weather(city='Boston'), time(zone='UTC')]`
	calls := c.ParseToolCalls(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "weather", calls[0].Name)
	assert.Equal(t, "Boston", calls[0].Arguments["city"])
	assert.Equal(t, "time", calls[1].Name)
	assert.Equal(t, "UTC", calls[1].Arguments["zone"])
}

func TestDialectB_FormatToolResult(t *testing.T) {
	c, _ := New(DialectB)
	assert.Equal(t, "Function f returned: ok", c.FormatToolResult("f", "ok"))
}

func TestFormatToolsForPromptEmpty(t *testing.T) {
	for _, d := range []string{DialectA, DialectB, DialectC} {
		c, err := New(d)
		require.NoError(t, err)
		assert.Equal(t, "", c.FormatToolsForPrompt(nil))
		assert.Equal(t, "", c.FormatToolsForPrompt([]datatypes.ToolInputSchema{}))
	}
}

func TestDialectC_SameWireAsA(t *testing.T) {
	a, _ := New(DialectA)
	cc, _ := New(DialectC)
	text := `<tool_call>{"name":"x","arguments":{"q":1}}</tool_call>`
	assert.Equal(t, a.ParseToolCalls(text), cc.ParseToolCalls(text))
	assert.NotEqual(t, a.FormatToolsForPrompt([]datatypes.ToolInputSchema{{Name: "x"}}),
		cc.FormatToolsForPrompt([]datatypes.ToolInputSchema{{Name: "x"}}))
}
