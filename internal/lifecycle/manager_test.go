// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
	"github.com/aleutian-oss/llmgateway/internal/generator"
)

// fakeHandle/fakeGen let tests open and close models without a real
// inference runtime.
type fakeHandle struct{ name string }

func (h *fakeHandle) NewContext(ctx context.Context, contextSize int) (generator.InferenceContext, error) {
	return nil, nil
}
func (h *fakeHandle) Close(ctx context.Context) error { return nil }

type fakeGen struct {
	mu     sync.Mutex
	opened []string
	closed []string
}

func (g *fakeGen) Open(ctx context.Context) error { return nil }
func (g *fakeGen) OpenModelHandle(ctx context.Context, spec generator.ModelHandleSpec) (generator.ModelHandle, error) {
	g.mu.Lock()
	g.opened = append(g.opened, spec.Name)
	g.mu.Unlock()
	return &fakeHandle{name: spec.Name}, nil
}
func (g *fakeGen) Close(ctx context.Context) error { return nil }

// fakeProbe reports a fixed free-VRAM figure large enough that memory
// eviction never triggers unless a test overrides it.
type fakeProbe struct {
	free uint64
}

func (p *fakeProbe) Inspect(ctx context.Context, path string, contextSize int) (generator.ModelInsights, error) {
	return generator.ModelInsights{ModelVRAMBytes: 1 << 20, ContextVRAMPerToken: 1}, nil
}
func (p *fakeProbe) FreeVRAM(ctx context.Context) (uint64, error) {
	if p.free == 0 {
		return 16 << 30, nil
	}
	return p.free, nil
}

func testConfigs(names ...string) (map[string]datatypes.ModelConfig, []string) {
	configs := make(map[string]datatypes.ModelConfig, len(names))
	for _, n := range names {
		configs[n] = datatypes.ModelConfig{Name: n, Dialect: "dialect-a", ContextSize: 2048}
	}
	return configs, names
}

func TestEnsureLoadedCreatesRecord(t *testing.T) {
	configs, order := testConfigs("a")
	gen := &fakeGen{}
	m, err := NewManager(context.Background(), configs, order, gen, &fakeProbe{}, nil)
	require.NoError(t, err)

	rec, err := m.EnsureLoaded(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Name)
	assert.True(t, m.IsLoaded("a"))

	rec2, err := m.EnsureLoaded(context.Background(), "a")
	require.NoError(t, err)
	assert.Same(t, rec, rec2)
	assert.Len(t, gen.opened, 1, "second ensure_loaded must not reload")
}

func TestEnsureLoadedUnknownModel(t *testing.T) {
	configs, order := testConfigs("a")
	m, err := NewManager(context.Background(), configs, order, &fakeGen{}, &fakeProbe{}, nil)
	require.NoError(t, err)

	_, err = m.EnsureLoaded(context.Background(), "missing")
	require.Error(t, err)
	assert.IsType(t, &ErrUnknownModel{}, err)
}

func TestCapEvictionPicksOldestLastUsed(t *testing.T) {
	configs, order := testConfigs("a", "b", "c", "d")
	gen := &fakeGen{}
	m, err := NewManager(context.Background(), configs, order, gen, &fakeProbe{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	recA, err := m.EnsureLoaded(ctx, "a")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = m.EnsureLoaded(ctx, "b")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = m.EnsureLoaded(ctx, "c")
	require.NoError(t, err)

	// a is the oldest by last_used_at and has no active contexts.
	_, err = m.EnsureLoaded(ctx, "d")
	require.NoError(t, err)

	assert.False(t, m.IsLoaded("a"), "oldest last-used record must be evicted")
	assert.True(t, m.IsLoaded("b"))
	assert.True(t, m.IsLoaded("c"))
	assert.True(t, m.IsLoaded("d"))
	_ = recA
}

func TestCapEvictionSkipsActiveContexts(t *testing.T) {
	configs, order := testConfigs("a", "b", "c", "d")
	m, err := NewManager(context.Background(), configs, order, &fakeGen{}, &fakeProbe{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.EnsureLoaded(ctx, "a")
	require.NoError(t, err)
	m.AcquireContext("a")
	_, err = m.EnsureLoaded(ctx, "b")
	require.NoError(t, err)
	_, err = m.EnsureLoaded(ctx, "c")
	require.NoError(t, err)

	_, err = m.EnsureLoaded(ctx, "d")
	require.NoError(t, err)

	assert.True(t, m.IsLoaded("a"), "active-context record must never be evicted")
	assert.False(t, m.IsLoaded("b"), "oldest inactive record after a must be evicted")
}

func TestLoadProceedsWhenAllResidentsBusy(t *testing.T) {
	configs, order := testConfigs("a", "b", "c", "d")
	m, err := NewManager(context.Background(), configs, order, &fakeGen{}, &fakeProbe{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, err = m.EnsureLoaded(ctx, name)
		require.NoError(t, err)
		m.AcquireContext(name)
	}

	// No eviction candidate exists; the load is attempted anyway and
	// whatever the generator says is surfaced.
	_, err = m.EnsureLoaded(ctx, "d")
	require.NoError(t, err)

	assert.True(t, m.IsLoaded("a"))
	assert.True(t, m.IsLoaded("b"))
	assert.True(t, m.IsLoaded("c"))
	assert.True(t, m.IsLoaded("d"))
}

func TestAcquireReleaseContextRoundTrip(t *testing.T) {
	configs, order := testConfigs("a")
	m, err := NewManager(context.Background(), configs, order, &fakeGen{}, &fakeProbe{}, nil)
	require.NoError(t, err)

	rec, err := m.EnsureLoaded(context.Background(), "a")
	require.NoError(t, err)

	m.AcquireContext("a")
	assert.Equal(t, 1, rec.ActiveContexts())
	m.ReleaseContext("a")
	assert.Equal(t, 0, rec.ActiveContexts())
	m.ReleaseContext("a")
	assert.Equal(t, 0, rec.ActiveContexts(), "release below zero must not go negative")
}

func TestGetAllModelInfoFiltersAllowed(t *testing.T) {
	configs, order := testConfigs("a", "b")
	m, err := NewManager(context.Background(), configs, order, &fakeGen{}, &fakeProbe{}, nil)
	require.NoError(t, err)

	infos := m.GetAllModelInfo([]string{"b"})
	require.Len(t, infos, 1)
	assert.Equal(t, "b", infos[0].Name)

	all := m.GetAllModelInfo(nil)
	assert.Len(t, all, 2)
}

func TestShutdownUnloadsEverything(t *testing.T) {
	configs, order := testConfigs("a", "b")
	gen := &fakeGen{}
	m, err := NewManager(context.Background(), configs, order, gen, &fakeProbe{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.EnsureLoaded(ctx, "a")
	require.NoError(t, err)
	_, err = m.EnsureLoaded(ctx, "b")
	require.NoError(t, err)

	m.Shutdown(ctx)

	assert.False(t, m.IsLoaded("a"))
	assert.False(t, m.IsLoaded("b"))
}
