// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generator defines the external inference runtime that
// actually produces tokens from a loaded model. This package holds
// interfaces plus one concrete HTTP adapter used as the default/test
// double; the real model math always lives in an external process.
package generator

import "context"

// Generator is the inference runtime: it opens and disposes model
// handles.
//
// # Description
//
// The lifecycle manager owns exactly one Generator for the process's
// entire lifetime: Open once at startup, OpenModelHandle per resident
// model, Close once at shutdown after every handle is closed.
type Generator interface {
	// Open prepares the runtime for use (e.g. dials a backend process,
	// allocates a device context). Called once at startup.
	Open(ctx context.Context) error

	// OpenModelHandle loads a model's weights with the given filesystem
	// path, layer-offload hint, and logical name, returning a handle the
	// lifecycle manager holds for as long as the model stays resident.
	OpenModelHandle(ctx context.Context, spec ModelHandleSpec) (ModelHandle, error)

	// Close disposes the runtime entirely. Called once at shutdown,
	// after every model handle has already been closed.
	Close(ctx context.Context) error
}

// ModelHandleSpec carries the fields OpenModelHandle needs from a model
// configuration entry, without generator importing the datatypes
// package's broader ModelConfig (keeping the out-of-scope boundary
// narrow).
type ModelHandleSpec struct {
	Name        string
	Path        string
	GPULayers   int
	ContextSize int
}

// ModelHandle is an open model in the generator. It creates inference
// contexts and is disposed on unload.
type ModelHandle interface {
	// NewContext creates a fresh inference context sized to contextSize
	// tokens.
	NewContext(ctx context.Context, contextSize int) (InferenceContext, error)

	// Close disposes the model handle and frees its resources.
	Close(ctx context.Context) error
}

// InferenceContext is one generation context bound to a model handle.
// The tool-execution loop creates exactly one per chat invocation and
// disposes it on every exit path.
type InferenceContext interface {
	// NewChatSession starts a session with the given effective system
	// prompt.
	NewChatSession(systemPrompt string) ChatSession

	// Dispose releases the context.
	Dispose(ctx context.Context) error
}

// ChatSession is a single conversational session within an
// InferenceContext. Prompt is the only suspension point the
// tool-execution loop drives repeatedly.
type ChatSession interface {
	// Prompt sends input (a user turn or formatted tool-result text) and
	// returns the model's complete response text. The core never streams
	// token-by-token from the generator; it
	// streams whitespace-split words from this complete text itself.
	Prompt(ctx context.Context, input string) (string, error)
}
