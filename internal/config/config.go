// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the model configuration file:
// reading system-prompt files, resolving relative paths against the
// config file's own directory, and producing the ordered model list
// the lifecycle manager is built from.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
)

// Config is the fully-resolved, load-ready model configuration.
type Config struct {
	Models map[string]datatypes.ModelConfig
	Order  []string
}

// Load reads the model configuration file at path. Relative
// system_prompt_file paths resolve against path's directory. A missing
// system_prompt_file is a hard error; a missing model artifact is
// deferred to load time.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var file datatypes.ModelConfigFile
	if err := json.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)

	names := make([]string, 0, len(file.Models))
	for name := range file.Models {
		names = append(names, name)
	}
	sort.Strings(names)

	models := make(map[string]datatypes.ModelConfig, len(file.Models))
	for _, name := range names {
		entry := file.Models[name]
		entry.Name = name

		if entry.SystemPromptFile == "" {
			return nil, fmt.Errorf("config: model %q: system_prompt_file is required", name)
		}
		promptPath := entry.SystemPromptFile
		if !filepath.IsAbs(promptPath) {
			promptPath = filepath.Join(baseDir, promptPath)
		}
		promptBytes, err := os.ReadFile(promptPath)
		if err != nil {
			return nil, fmt.Errorf("config: model %q: read system_prompt_file %s: %w", name, promptPath, err)
		}
		entry.SystemPrompt = string(promptBytes)

		if entry.Path != "" && !filepath.IsAbs(entry.Path) {
			entry.Path = filepath.Join(baseDir, entry.Path)
		}

		models[name] = entry
	}

	return &Config{Models: models, Order: names}, nil
}
