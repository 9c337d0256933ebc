// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"context"
	"os"
)

// ModelInsights is the per-model memory accounting the lifecycle
// manager's init step computes: total layers, model size
// on disk, and the estimators the eviction policy needs.
type ModelInsights struct {
	TotalLayers         int
	ModelSizeBytes      int64
	ModelVRAMBytes      uint64
	ContextVRAMPerToken uint64
}

// ContextVRAMEstimate returns the estimated VRAM, in bytes, a context of
// contextSize tokens requires.
func (m ModelInsights) ContextVRAMEstimate(contextSize int) uint64 {
	if contextSize <= 0 {
		return 0
	}
	return m.ContextVRAMPerToken * uint64(contextSize)
}

// MemoryProbe is the out-of-scope collaborator that inspects a model
// file and queries free VRAM. The lifecycle manager treats probe
// failures as log-and-continue.
type MemoryProbe interface {
	// Inspect computes ModelInsights for the model artifact at path.
	Inspect(ctx context.Context, path string, contextSize int) (ModelInsights, error)

	// FreeVRAM returns currently-free device memory in bytes.
	FreeVRAM(ctx context.Context) (uint64, error)
}

// StaticMemoryProbe is the default/test-double MemoryProbe.
//
// # Description
//
// Derives a model's VRAM estimate from the on-disk artifact size (a
// common rough heuristic for quantized GGUF-style weights) and
// reports a fixed, generously large free-VRAM figure, since querying
// the real device requires a runtime this package does not own.
type StaticMemoryProbe struct {
	// AssumedFreeVRAMBytes is returned by FreeVRAM. Defaults to 16 GiB
	// when zero.
	AssumedFreeVRAMBytes uint64
	// BytesPerContextToken scales ContextVRAMPerToken. Defaults to 128
	// KiB/token when zero, a conservative stand-in for KV-cache growth.
	BytesPerContextToken uint64
}

const (
	defaultAssumedFreeVRAMBytes = 16 << 30
	defaultBytesPerContextToken = 128 << 10
)

func (p *StaticMemoryProbe) Inspect(ctx context.Context, path string, contextSize int) (ModelInsights, error) {
	var sizeBytes int64
	if info, err := os.Stat(path); err == nil {
		sizeBytes = info.Size()
	}

	perToken := p.BytesPerContextToken
	if perToken == 0 {
		perToken = defaultBytesPerContextToken
	}

	return ModelInsights{
		ModelSizeBytes:      sizeBytes,
		ModelVRAMBytes:      uint64(sizeBytes),
		ContextVRAMPerToken: perToken,
	}, nil
}

func (p *StaticMemoryProbe) FreeVRAM(ctx context.Context) (uint64, error) {
	if p.AssumedFreeVRAMBytes != 0 {
		return p.AssumedFreeVRAMBytes, nil
	}
	return defaultAssumedFreeVRAMBytes, nil
}
