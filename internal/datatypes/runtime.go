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

import "time"

// ModelInfo is the read-only projection returned by the lifecycle
// manager's info accessors (get_all_model_info, get_running_model_info,
// get_model_details).
type ModelInfo struct {
	Name        string    `json:"name"`
	Dialect     string    `json:"dialect,omitempty"`
	ContextSize int       `json:"context_size,omitempty"`
	IsLoaded    bool      `json:"is_loaded"`
	LoadedAt    time.Time `json:"loaded_at,omitempty"`
	LastUsedAt  time.Time `json:"last_used_at,omitempty"`
	ActiveCtx   int       `json:"active_contexts"`
}

// AccessTokenRecord is one entry in the token store: an opaque 32-byte
// hex string mapping to a descriptive note, a set of allowed model names,
// and the creation timestamp.
type AccessTokenRecord struct {
	Note      string    `json:"note"`
	Models    []string  `json:"models"`
	CreatedAt time.Time `json:"created_at"`
}

// AllowsModel reports whether this token grants access to the named model.
func (t AccessTokenRecord) AllowsModel(name string) bool {
	for _, m := range t.Models {
		if m == name {
			return true
		}
	}
	return false
}

// TokenStoreFile is the on-disk shape of the token store:
// {"tokens": {"<hex>": {"note":..., "models":[...], "created_at":...}}}.
type TokenStoreFile struct {
	Tokens map[string]AccessTokenRecord `json:"tokens"`
}

// ModelConfigFile is the on-disk shape of the model configuration file:
// {"models": {"<name>": <entry>}}.
type ModelConfigFile struct {
	Models map[string]ModelConfig `json:"models"`
}
