// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolprovider connects to tool providers over the Model Context
// Protocol, lists their tools, and invokes them on behalf of a loaded
// model. One Manager is owned exclusively by one loaded-model record.
package toolprovider

import "fmt"

// ErrUnknownTool is returned by CallTool when name has no registered
// provider.
type ErrUnknownTool struct {
	Name string
}

func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("toolprovider: unknown tool %q", e.Name)
}

// ErrProviderDisconnected is returned by CallTool when the tool's
// provider was looked up but is no longer connected (torn down between
// lookup and use).
type ErrProviderDisconnected struct {
	Provider string
}

func (e *ErrProviderDisconnected) Error() string {
	return fmt.Sprintf("toolprovider: provider %q is disconnected", e.Provider)
}

// ErrToolCallFailed wraps an error returned by the provider itself
// during call_tool.
type ErrToolCallFailed struct {
	Name    string
	Message string
}

func (e *ErrToolCallFailed) Error() string {
	return fmt.Sprintf("toolprovider: tool call failed: %s", e.Message)
}
