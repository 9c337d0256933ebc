// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompt.txt"), []byte("be helpful"), 0o600))

	path := writeConfig(t, dir, `{
		"models": {
			"assistant": {
				"path": "models/assistant.gguf",
				"dialect": "dialect-a",
				"system_prompt_file": "prompt.txt",
				"context_size": 4096
			}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Models, "assistant")

	entry := cfg.Models["assistant"]
	assert.Equal(t, "assistant", entry.Name)
	assert.Equal(t, "be helpful", entry.SystemPrompt)
	assert.Equal(t, filepath.Join(dir, "models/assistant.gguf"), entry.Path)
	assert.Equal(t, []string{"assistant"}, cfg.Order)
}

func TestLoadMissingSystemPromptFileIsHardError(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"models": {
			"assistant": {
				"path": "m.gguf",
				"dialect": "dialect-a",
				"system_prompt_file": "missing.txt",
				"context_size": 4096
			}
		}
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.txt")
}

func TestLoadMissingModelArtifactIsDeferred(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompt.txt"), []byte("p"), 0o600))
	path := writeConfig(t, dir, `{
		"models": {
			"assistant": {
				"path": "does-not-exist.gguf",
				"dialect": "dialect-a",
				"system_prompt_file": "prompt.txt",
				"context_size": 4096
			}
		}
	}`)

	_, err := Load(path)
	assert.NoError(t, err, "missing artifact is a load-time concern, not a config error")
}

func TestLoadUnreadableFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
