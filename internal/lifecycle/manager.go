// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle loads, unloads, and tracks resident models with a
// combined cap-and-VRAM-aware LRU eviction policy, guarding in-flight
// requests with per-record active-context counters.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aleutian-oss/llmgateway/internal/codec"
	"github.com/aleutian-oss/llmgateway/internal/datatypes"
	"github.com/aleutian-oss/llmgateway/internal/generator"
	"github.com/aleutian-oss/llmgateway/internal/toolprovider"
)

var tracer = otel.Tracer("llmgateway/lifecycle")

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxLoaded is the cap on simultaneously resident models.
	MaxLoaded = 3
	// MemoryReserveBytes is subtracted from free VRAM before computing
	// whether a candidate load fits.
	MemoryReserveBytes = 512 << 20
)

// ErrUnknownModel is returned by operations given a name with no
// configuration entry.
type ErrUnknownModel struct {
	Name string
}

func (e *ErrUnknownModel) Error() string {
	return fmt.Sprintf("lifecycle: unknown model %q", e.Name)
}

// =============================================================================
// Loaded-Model Records
// =============================================================================

// Record is one loaded-model record.
//
// # Description
//
// Tracks a resident model: the generator handle, the tool-provider
// manager owned exclusively by this record, the dialect codec, and the
// tool list snapshot taken at load time. Records are created by
// EnsureLoaded and destroyed by eviction or Shutdown; the counters
// protect a record from eviction while requests are in flight.
//
// # Thread Safety
//
// The exported fields are immutable after load. The last-used and
// active-context counters are guarded by mu; read them through
// LastUsedAt and ActiveContexts.
type Record struct {
	// Name is the model's logical name, the key in every API surface.
	Name string

	// Config is the immutable configuration entry this record was
	// loaded from.
	Config datatypes.ModelConfig

	// Handle is the generator's open model handle.
	Handle generator.ModelHandle

	// Tools is the tool-provider manager bound to this record, torn
	// down with it.
	Tools *toolprovider.Manager

	// Codec is the dialect codec selected by Config.Dialect.
	Codec codec.Codec

	// ToolList is the tool snapshot taken when the providers connected.
	ToolList []datatypes.ToolDescriptor

	// LoadedAt is when the load completed.
	LoadedAt time.Time

	mu             sync.Mutex
	lastUsedAt     time.Time
	activeContexts int
}

func (r *Record) touch() {
	r.mu.Lock()
	r.lastUsedAt = time.Now()
	r.mu.Unlock()
}

func (r *Record) acquire() {
	r.mu.Lock()
	r.activeContexts++
	r.lastUsedAt = time.Now()
	r.mu.Unlock()
}

func (r *Record) release() {
	r.mu.Lock()
	if r.activeContexts > 0 {
		r.activeContexts--
	}
	r.lastUsedAt = time.Now()
	r.mu.Unlock()
}

// LastUsedAt returns the record's last-used timestamp.
func (r *Record) LastUsedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsedAt
}

// ActiveContexts returns the record's active-context counter.
func (r *Record) ActiveContexts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeContexts
}

// =============================================================================
// Manager
// =============================================================================

// Manager owns every configured model and every currently resident
// loaded-model record.
//
// # Description
//
// One Manager exists per process. It loads models on demand, tracks
// residency with last-used timestamps and active-context counters, and
// applies a combined cap (MaxLoaded) and free-VRAM eviction policy
// with LRU victim selection before each load.
//
// # Thread Safety
//
// Safe for concurrent use. mu guards the loaded map; loadMu is the
// single global load lock: at most one load sequence is active at any
// time.
//
// # Example
//
//	m, err := lifecycle.NewManager(ctx, cfg.Models, cfg.Order, gen, probe, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Shutdown(ctx)
//	rec, err := m.EnsureLoaded(ctx, "assistant")
type Manager struct {
	mu     sync.RWMutex
	loadMu sync.Mutex

	configs  map[string]datatypes.ModelConfig
	order    []string
	loaded   map[string]*Record
	insights map[string]generator.ModelInsights

	gen    generator.Generator
	probe  generator.MemoryProbe
	logger *slog.Logger
}

// NewManager creates a Manager over the configured models.
//
// # Description
//
// Opens the generator runtime, then computes memory insights (model
// VRAM estimate, context VRAM estimator) for every configured model.
// Per-model insight failures are logged and the manager still starts;
// models without insights simply skip memory-based eviction.
//
// # Inputs
//
//   - ctx: Context for the generator open and probe calls.
//   - configs: Configuration entries keyed by model name.
//   - order: Model names in presentation order.
//   - gen: The inference runtime; opened here, closed by Shutdown.
//   - probe: Memory insight source. Failures are log-and-continue.
//   - logger: May be nil; slog.Default() is used then.
//
// # Outputs
//
//   - *Manager: Ready for EnsureLoaded calls.
//   - error: Non-nil only if the generator itself fails to open.
func NewManager(ctx context.Context, configs map[string]datatypes.ModelConfig, order []string, gen generator.Generator, probe generator.MemoryProbe, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := gen.Open(ctx); err != nil {
		return nil, fmt.Errorf("lifecycle: open generator: %w", err)
	}

	m := &Manager{
		configs:  configs,
		order:    append([]string(nil), order...),
		loaded:   make(map[string]*Record),
		insights: make(map[string]generator.ModelInsights),
		gen:      gen,
		probe:    probe,
		logger:   logger,
	}

	for _, name := range order {
		cfg := configs[name]
		insights, err := probe.Inspect(ctx, cfg.Path, cfg.EffectiveNumCtx())
		if err != nil {
			logger.Warn("lifecycle: memory insight failed", "model", name, "error", err)
			continue
		}
		m.insights[name] = insights
	}

	return m, nil
}

// EnsureLoaded returns the loaded-model record for name, loading it
// if absent.
//
// # Description
//
// Concurrent callers are serialized through the global load lock; the
// presence check is re-done after acquiring it since another caller
// may have already completed the load. If the model is still absent,
// the eviction policy runs (cap first, then memory) and the load is
// performed.
//
// # Inputs
//
//   - ctx: Context threaded through eviction, load, and provider
//     connection.
//   - name: Configured model name.
//
// # Outputs
//
//   - *Record: The resident record, never nil on success.
//   - error: ErrUnknownModel for an unconfigured name, or whatever the
//     generator reports on load failure.
//
// # Limitations
//
//   - If every resident record is in use, eviction aborts and the load
//     proceeds anyway; an out-of-memory error from the runtime is
//     surfaced as-is.
func (m *Manager) EnsureLoaded(ctx context.Context, name string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.ensure_loaded", trace.WithAttributes(attribute.String("model", name)))
	defer span.End()

	cfg, ok := m.configs[name]
	if !ok {
		return nil, &ErrUnknownModel{Name: name}
	}

	if rec, ok := m.getLoaded(name); ok {
		return rec, nil
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if rec, ok := m.getLoaded(name); ok {
		return rec, nil
	}

	if err := m.evictForLoad(ctx, cfg); err != nil {
		m.logger.Warn("lifecycle: eviction failed before load, proceeding anyway", "model", name, "error", err)
	}

	rec, err := m.load(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.loaded[name] = rec
	m.mu.Unlock()

	return rec, nil
}

func (m *Manager) getLoaded(name string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.loaded[name]
	return rec, ok
}

// =============================================================================
// Eviction
// =============================================================================

// evictForLoad applies the cap policy then the memory policy, evicting
// victims as needed before a new model is loaded.
func (m *Manager) evictForLoad(ctx context.Context, cfg datatypes.ModelConfig) error {
	m.mu.RLock()
	loadedCount := len(m.loaded)
	m.mu.RUnlock()

	if over := (loadedCount + 1) - MaxLoaded; over > 0 {
		for i := 0; i < over; i++ {
			if !m.evictOne(ctx) {
				break
			}
		}
	}

	insights, ok := m.insights[cfg.Name]
	if !ok {
		return nil
	}

	for {
		free, err := m.probe.FreeVRAM(ctx)
		if err != nil {
			m.logger.Warn("lifecycle: free VRAM query failed, skipping memory eviction", "error", err)
			return nil
		}
		needed := insights.ModelVRAMBytes + insights.ContextVRAMEstimate(cfg.EffectiveNumCtx())
		var available uint64
		if free > MemoryReserveBytes {
			available = free - MemoryReserveBytes
		}
		if needed <= available {
			return nil
		}
		if !m.evictOne(ctx) {
			return fmt.Errorf("lifecycle: cannot free enough memory for %q, all resident models are in use", cfg.Name)
		}
	}
}

// evictOne unloads the resident record with active_contexts == 0 and
// the oldest last_used_at. Returns false if every resident record is
// in use, which aborts the eviction loop.
func (m *Manager) evictOne(ctx context.Context) bool {
	m.mu.RLock()
	var victim *Record
	for _, rec := range m.loaded {
		if rec.ActiveContexts() != 0 {
			continue
		}
		if victim == nil || rec.LastUsedAt().Before(victim.LastUsedAt()) {
			victim = rec
		}
	}
	m.mu.RUnlock()

	if victim == nil {
		return false
	}

	m.unload(ctx, victim.Name)
	return true
}

// load opens a fresh generator handle, connects the model's tool
// providers, and snapshots its tool list. Any step failure disposes
// whatever was already opened.
func (m *Manager) load(ctx context.Context, cfg datatypes.ModelConfig) (*Record, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.load", trace.WithAttributes(attribute.String("model", cfg.Name)))
	defer span.End()

	handle, err := m.gen.OpenModelHandle(ctx, generator.ModelHandleSpec{
		Name:        cfg.Name,
		Path:        cfg.Path,
		GPULayers:   cfg.GPULayers,
		ContextSize: cfg.EffectiveNumCtx(),
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: open model handle %q: %w", cfg.Name, err)
	}

	c, err := codec.New(cfg.Dialect)
	if err != nil {
		_ = handle.Close(ctx)
		return nil, err
	}

	tools := toolprovider.NewManager(m.logger)
	tools.ConnectAll(ctx, cfg.Tools)

	now := time.Now()
	rec := &Record{
		Name:       cfg.Name,
		Config:     cfg,
		Handle:     handle,
		Tools:      tools,
		Codec:      c,
		ToolList:   tools.GetAllTools(),
		LoadedAt:   now,
		lastUsedAt: now,
	}
	return rec, nil
}

// unload removes the record from the map before disposing it, so a
// racing caller cannot observe a half-torn-down model.
func (m *Manager) unload(ctx context.Context, name string) {
	m.mu.Lock()
	rec, ok := m.loaded[name]
	if ok {
		delete(m.loaded, name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := rec.Handle.Close(ctx); err != nil {
		m.logger.Warn("lifecycle: model handle close failed", "model", name, "error", err)
	}
	rec.Tools.DisconnectAll(ctx)
}

// =============================================================================
// Active-Context Accounting
// =============================================================================

// AcquireContext increments name's active-context counter, noop if
// name is not resident.
//
// # Description
//
// Callers MUST pair AcquireContext with ReleaseContext around a unit
// of work that holds the model resident; the scheduler is the only
// caller and guarantees the pairing on every exit path. A record with
// a non-zero counter is never selected as an eviction victim.
func (m *Manager) AcquireContext(name string) {
	if rec, ok := m.getLoaded(name); ok {
		rec.acquire()
	}
}

// ReleaseContext decrements name's active-context counter, noop if
// name is not resident.
func (m *Manager) ReleaseContext(name string) {
	if rec, ok := m.getLoaded(name); ok {
		rec.release()
	}
}

// =============================================================================
// Info Accessors
// =============================================================================

// GetModelNames returns every configured model name, in config order.
func (m *Manager) GetModelNames() []string {
	return append([]string(nil), m.order...)
}

// HasModel reports whether name has a configuration entry.
func (m *Manager) HasModel(name string) bool {
	_, ok := m.configs[name]
	return ok
}

// GetModelConfig returns name's configuration entry.
func (m *Manager) GetModelConfig(name string) (datatypes.ModelConfig, bool) {
	cfg, ok := m.configs[name]
	return cfg, ok
}

// IsLoaded reports whether name is currently resident.
func (m *Manager) IsLoaded(name string) bool {
	_, ok := m.getLoaded(name)
	return ok
}

func toSet(allowed []string) map[string]bool {
	if allowed == nil {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	return set
}

func (m *Manager) modelInfo(name string) datatypes.ModelInfo {
	cfg := m.configs[name]
	info := datatypes.ModelInfo{Name: name, Dialect: cfg.Dialect, ContextSize: cfg.EffectiveNumCtx()}
	if rec, ok := m.getLoaded(name); ok {
		info.IsLoaded = true
		info.LoadedAt = rec.LoadedAt
		info.LastUsedAt = rec.LastUsedAt()
		info.ActiveCtx = rec.ActiveContexts()
	}
	return info
}

// GetAllModelInfo returns every configured model's info, optionally
// filtered to allowed.
func (m *Manager) GetAllModelInfo(allowed []string) []datatypes.ModelInfo {
	set := toSet(allowed)
	out := make([]datatypes.ModelInfo, 0, len(m.order))
	for _, name := range m.order {
		if set != nil && !set[name] {
			continue
		}
		out = append(out, m.modelInfo(name))
	}
	return out
}

// GetRunningModelInfo returns every currently resident model's info,
// optionally filtered to allowed.
func (m *Manager) GetRunningModelInfo(allowed []string) []datatypes.ModelInfo {
	set := toSet(allowed)
	m.mu.RLock()
	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make([]datatypes.ModelInfo, 0, len(names))
	for _, name := range m.order {
		found := false
		for _, n := range names {
			if n == name {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		if set != nil && !set[name] {
			continue
		}
		out = append(out, m.modelInfo(name))
	}
	return out
}

// GetModelDetails returns name's info, optionally filtered to allowed
// (ok is false if name is unknown or not allowed).
func (m *Manager) GetModelDetails(name string, allowed []string) (datatypes.ModelInfo, bool) {
	if !m.HasModel(name) {
		return datatypes.ModelInfo{}, false
	}
	set := toSet(allowed)
	if set != nil && !set[name] {
		return datatypes.ModelInfo{}, false
	}
	return m.modelInfo(name), true
}

// Shutdown unloads every resident record serially then disposes the
// generator runtime.
//
// # Description
//
// Called once at process exit. Unload and close failures are logged
// and swallowed so teardown always completes.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.unload(ctx, name)
	}

	if err := m.gen.Close(ctx); err != nil {
		m.logger.Warn("lifecycle: generator close failed", "error", err)
	}
}
