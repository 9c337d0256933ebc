// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolprovider

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
)

var tracer = otel.Tracer("llmgateway/toolprovider")

// providerConn is one connected provider's client and live session.
type providerConn struct {
	spec    datatypes.ToolProviderSpec
	client  *mcp.Client
	session *mcp.ClientSession
}

// Manager owns every tool-provider connection for one loaded model. It
// is created fresh per model load and torn down on unload; it is never
// shared across loaded-model records.
//
// # Thread Safety
//
// Safe for concurrent use; all map access is guarded by mu.
type Manager struct {
	mu             sync.RWMutex
	providers      map[string]*providerConn
	toolIndex      map[string]datatypes.ToolDescriptor
	toolToProvider map[string]string
	logger         *slog.Logger
}

// NewManager constructs an empty Manager bound to logger.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers:      make(map[string]*providerConn),
		toolIndex:      make(map[string]datatypes.ToolDescriptor),
		toolToProvider: make(map[string]string),
		logger:         logger,
	}
}

// ConnectAll connects every spec. A failing spec is logged and skipped
// so one bad provider cannot prevent the others, or the owning model
// load, from succeeding.
func (m *Manager) ConnectAll(ctx context.Context, specs []datatypes.ToolProviderSpec) {
	ctx, span := tracer.Start(ctx, "toolprovider.connect_all")
	defer span.End()

	for _, spec := range specs {
		if err := m.Connect(ctx, spec); err != nil {
			m.logger.Warn("tool provider connect failed", "provider", spec.Name, "error", err)
		}
	}
}

// Connect instantiates the transport for spec, opens a client session,
// and registers every tool the provider reports. list_tools failures are
// logged and swallowed: the provider stays connected with zero tools.
func (m *Manager) Connect(ctx context.Context, spec datatypes.ToolProviderSpec) error {
	ctx, span := tracer.Start(ctx, "toolprovider.connect")
	defer span.End()

	transport, err := buildTransport(spec)
	if err != nil {
		return err
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "llmgateway", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return err
	}

	conn := &providerConn{spec: spec, client: client, session: session}

	m.mu.Lock()
	m.providers[spec.Name] = conn
	m.mu.Unlock()

	descriptors, err := m.listTools(ctx, spec.Name, session)
	if err != nil {
		m.logger.Warn("tool provider list_tools failed", "provider", spec.Name, "error", err)
		return nil
	}

	m.mu.Lock()
	for _, d := range descriptors {
		qualified := d.QualifiedName()
		m.toolIndex[qualified] = d
		m.toolToProvider[qualified] = spec.Name
		if _, exists := m.toolIndex[d.PlainName]; !exists {
			m.toolIndex[d.PlainName] = d
			m.toolToProvider[d.PlainName] = spec.Name
		}
	}
	m.mu.Unlock()

	return nil
}

func (m *Manager) listTools(ctx context.Context, providerName string, session *mcp.ClientSession) ([]datatypes.ToolDescriptor, error) {
	result, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, err
	}

	descriptors := make([]datatypes.ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		descriptors = append(descriptors, datatypes.ToolDescriptor{
			ProviderName: providerName,
			PlainName:    t.Name,
			Description:  t.Description,
			Properties:   decodeSchemaProperties(t.InputSchema),
			Required:     decodeSchemaRequired(t.InputSchema),
		})
	}
	return descriptors, nil
}

// rawSchema is the minimal subset of JSON Schema this gateway cares
// about; it is decoded generically from whatever concrete schema type
// the SDK attaches to a tool, so this package does not need to track
// that type's exact shape across SDK versions.
type rawSchema struct {
	Properties map[string]struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"properties"`
	Required []string `json:"required"`
}

func decodeSchema(schema interface{}) rawSchema {
	var out rawSchema
	if schema == nil {
		return out
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

func decodeSchemaProperties(schema interface{}) map[string]datatypes.ParameterSpec {
	raw := decodeSchema(schema)
	props := make(map[string]datatypes.ParameterSpec, len(raw.Properties))
	for name, p := range raw.Properties {
		props[name] = datatypes.ParameterSpec{Type: p.Type, Description: p.Description}
	}
	return props
}

func decodeSchemaRequired(schema interface{}) []string {
	return decodeSchema(schema).Required
}

// GetAllTools returns every unique registered tool descriptor. Every
// connected tool has exactly one qualified-key entry regardless of
// plain-name collisions, so iterating qualified keys alone yields each
// tool once; a plain/qualified pair for the same tool is never a
// distinct descriptor, only two lookup paths to the identical one.
func (m *Manager) GetAllTools() []datatypes.ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]datatypes.ToolDescriptor, 0, len(m.toolIndex))
	for name, d := range m.toolIndex {
		if name == d.QualifiedName() {
			out = append(out, d)
		}
	}
	return out
}

// contentItem mirrors the wire shape of one MCP tool-result content
// block: {"type": "...", "text": "..."}. Decoded generically for the
// same reason as rawSchema.
type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallTool executes name with args against its provider and returns the
// tool's textual result (joined text content blocks) or the raw
// structured value when no text content is present.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	ctx, span := tracer.Start(ctx, "toolprovider.call_tool")
	defer span.End()

	m.mu.RLock()
	providerName, ok := m.toolToProvider[name]
	if !ok {
		m.mu.RUnlock()
		return nil, &ErrUnknownTool{Name: name}
	}
	conn, ok := m.providers[providerName]
	m.mu.RUnlock()
	if !ok {
		return nil, &ErrProviderDisconnected{Provider: providerName}
	}

	actualName := name
	if d, ok := m.lookupDescriptor(name); ok {
		actualName = d.PlainName
	}

	result, err := conn.session.CallTool(ctx, &mcp.CallToolParams{Name: actualName, Arguments: args})
	if err != nil {
		return nil, &ErrToolCallFailed{Name: name, Message: err.Error()}
	}

	var texts []string
	for _, item := range result.Content {
		b, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var ci contentItem
		if err := json.Unmarshal(b, &ci); err != nil {
			continue
		}
		if ci.Type == "text" && ci.Text != "" {
			texts = append(texts, ci.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n"), nil
	}
	return result.Content, nil
}

func (m *Manager) lookupDescriptor(name string) (datatypes.ToolDescriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.toolIndex[name]
	return d, ok
}

// DisconnectAll closes every provider client. Close errors are logged
// and swallowed. Clears all internal maps.
func (m *Manager) DisconnectAll(ctx context.Context) {
	_, span := tracer.Start(ctx, "toolprovider.disconnect_all")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, conn := range m.providers {
		if err := conn.session.Close(); err != nil {
			m.logger.Warn("tool provider close failed", "provider", name, "error", err)
		}
	}
	m.providers = make(map[string]*providerConn)
	m.toolIndex = make(map[string]datatypes.ToolDescriptor)
	m.toolToProvider = make(map[string]string)
}
