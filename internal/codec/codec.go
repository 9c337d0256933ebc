// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codec implements the per-dialect tool-call encode/decode
// contract: how a model's text embeds tool invocations and how tool
// results are formatted back into the conversation.
//
// Every dialect satisfies the same Codec interface with identical
// semantics; only the on-wire syntax differs. The factory, New, maps a
// dialect tag to its codec or reports ErrUnknownDialect.
package codec

import (
	"fmt"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
)

// Dialect tags, the closed set of supported tool-call conventions.
const (
	DialectA = "dialect-a"
	DialectB = "dialect-b"
	DialectC = "dialect-c"
)

// ErrUnknownDialect is returned by New for any tag outside the closed set.
type ErrUnknownDialect struct {
	Dialect string
}

func (e *ErrUnknownDialect) Error() string {
	return fmt.Sprintf("codec: unknown dialect %q", e.Dialect)
}

// Codec implements the six tool-call operations for one dialect.
//
// # Thread Safety
//
// All implementations are stateless and safe for concurrent use.
type Codec interface {
	// FormatToolsForPrompt returns the text block to append to the base
	// system prompt describing the available tools. Returns "" for a nil
	// or empty tool list.
	FormatToolsForPrompt(tools []datatypes.ToolInputSchema) string

	// HasToolCalls is a cheap syntactic probe for tool-call markup.
	HasToolCalls(text string) bool

	// ParseToolCalls extracts the ordered sequence of tool calls embedded
	// in text. Malformed entries are skipped; a call with no arguments
	// defaults to an empty map. Returns an empty (non-nil) slice, never
	// nil, when no calls are found.
	ParseToolCalls(text string) []datatypes.ToolCall

	// FormatToolResult wraps one tool's return value in a
	// dialect-appropriate marker for the next prompt. Non-string results
	// are stringified as JSON.
	FormatToolResult(name string, result interface{}) string

	// GetTextContent strips all tool-call markup from text and trims the
	// remainder. The output never satisfies HasToolCalls.
	GetTextContent(text string) string

	// BuildMessage constructs a role/content message. Pure shape.
	BuildMessage(role, content string) datatypes.Message
}

// New returns the Codec for the given dialect tag, or ErrUnknownDialect.
func New(dialect string) (Codec, error) {
	switch dialect {
	case DialectA:
		return &tagDelimitedCodec{promptVariant: promptVariantA}, nil
	case DialectC:
		return &tagDelimitedCodec{promptVariant: promptVariantC}, nil
	case DialectB:
		return &bracketCodec{}, nil
	default:
		return nil, &ErrUnknownDialect{Dialect: dialect}
	}
}

// buildMessage is shared by every codec: pure {role, content} shape.
func buildMessage(role, content string) datatypes.Message {
	return datatypes.Message{Role: role, Content: content}
}
