// Package server implements the capability handshake, tool registry and
// progress/notification fan-out built on top of the protocol engine.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/scrypster/mcprt/internal/mcp/protocol"
)

// resourceHandler reads one resource by URI.
type resourceHandler func(ctx context.Context, uri string) (*protocol.ContentItem, error)

// promptHandler renders one named prompt.
type promptHandler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Builder accumulates server name/version, capabilities, handlers, and a
// tool registry before Build seals everything into a Server.
type Builder struct {
	engine *protocol.Builder

	name    string
	version string
	caps    protocol.ServerCapabilities

	tools     *toolRegistry
	resources map[string]resourceHandler
	prompts   map[string]promptHandler
}

// NewBuilder starts a Builder over an already-constructed protocol.Builder
// (itself built over a Transport).
func NewBuilder(engineBuilder *protocol.Builder) *Builder {
	return &Builder{
		engine:    engineBuilder,
		name:      "mcprt",
		version:   "0.1.0",
		tools:     newToolRegistry(),
		resources: make(map[string]resourceHandler),
		prompts:   make(map[string]promptHandler),
	}
}

// Name sets the server's advertised implementation name.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Version sets the server's advertised implementation version.
func (b *Builder) Version(version string) *Builder {
	b.version = version
	return b
}

// WithRequestHandler registers a typed request handler directly on the
// underlying engine, bypassing the tool registry (for app-specific
// methods beyond tools/list and tools/call).
func (b *Builder) WithRequestHandler(method string, h protocol.RequestHandler) *Builder {
	b.engine.RequestHandler(method, h)
	return b
}

// WithNotificationHandler registers a typed notification handler directly
// on the underlying engine.
func (b *Builder) WithNotificationHandler(method string, h protocol.NotificationHandler) *Builder {
	b.engine.NotificationHandler(method, h)
	return b
}

// RegisterTool adds a tool to the registry backing the default tools/list
// and tools/call handlers. Flips ServerCapabilities.Tools non-nil.
func (b *Builder) RegisterTool(tool protocol.Tool, fn ToolFunc) *Builder {
	b.tools.register(tool, fn)
	if b.caps.Tools == nil {
		b.caps.Tools = &protocol.ToolsCapability{}
	}
	return b
}

// RegisterResource adds a fixed-URI resource. Flips
// ServerCapabilities.Resources non-nil on first registration.
func (b *Builder) RegisterResource(uri string, fn resourceHandler) *Builder {
	if len(b.resources) == 0 {
		b.caps.Resources = &protocol.ResourcesCapability{}
	}
	b.resources[uri] = fn
	return b
}

// RegisterPrompt adds a named prompt. Flips ServerCapabilities.Prompts
// non-nil on first registration.
func (b *Builder) RegisterPrompt(name string, fn promptHandler) *Builder {
	if len(b.prompts) == 0 {
		b.caps.Prompts = &protocol.PromptsCapability{}
	}
	b.prompts[name] = fn
	return b
}

// Server implements the MCP handshake (initialize/initialized), the
// default tools/list and tools/call dispatch, progress notifications, and
// (when registered) resources/prompts request handlers, over a single
// protocol.Engine.
type Server struct {
	engine          *protocol.Engine
	name            string
	version         string
	capsAtBuild     protocol.ServerCapabilities
	progressCounter uint64

	stateMu            sync.RWMutex
	clientCapabilities *protocol.ClientCapabilities
	clientInfo         *protocol.Implementation
	initialized        bool
}

// Build seals the builder into a Server: installs the initialize and
// notifications/initialized handlers, and — unless the caller already
// registered tools/list itself — the default tools/list/tools/call
// handlers backed by the tool registry. Also installs resources/prompts
// handlers when any were registered.
func (b *Builder) Build() *Server {
	srv := &Server{
		name:        b.name,
		version:     b.version,
		capsAtBuild: b.caps,
	}

	b.engine.RequestHandler("initialize", srv.handleInitialize)
	b.engine.NotificationHandler("notifications/initialized", srv.handleInitialized)

	if !b.engine.HasRequestHandler("tools/list") {
		tools := b.tools
		b.engine.RequestHandler("tools/list", func(ctx context.Context, params json.RawMessage) (any, error) {
			return protocol.ToolsListResult{Tools: tools.list()}, nil
		})
		b.engine.RequestHandler("tools/call", func(ctx context.Context, params json.RawMessage) (any, error) {
			var req protocol.CallToolParams
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, fmt.Errorf("invalid tools/call params: %w", err)
			}
			return tools.call(ctx, req.Name, req.Arguments)
		})
	}

	if len(b.resources) > 0 {
		resources := b.resources
		b.engine.RequestHandler("resources/read", func(ctx context.Context, params json.RawMessage) (any, error) {
			var req struct {
				URI string `json:"uri"`
			}
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, fmt.Errorf("invalid resources/read params: %w", err)
			}
			fn, ok := resources[req.URI]
			if !ok {
				return nil, fmt.Errorf("resource not found: %s", req.URI)
			}
			return fn(ctx, req.URI)
		})
		b.engine.RequestHandler("resources/list", func(ctx context.Context, params json.RawMessage) (any, error) {
			uris := make([]string, 0, len(resources))
			for uri := range resources {
				uris = append(uris, uri)
			}
			return uris, nil
		})
	}

	if len(b.prompts) > 0 {
		prompts := b.prompts
		b.engine.RequestHandler("prompts/get", func(ctx context.Context, params json.RawMessage) (any, error) {
			var req struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			}
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, fmt.Errorf("invalid prompts/get params: %w", err)
			}
			fn, ok := prompts[req.Name]
			if !ok {
				return nil, fmt.Errorf("prompt not found: %s", req.Name)
			}
			return fn(ctx, req.Arguments)
		})
		b.engine.RequestHandler("prompts/list", func(ctx context.Context, params json.RawMessage) (any, error) {
			names := make([]string, 0, len(prompts))
			for name := range prompts {
				names = append(names, name)
			}
			return names, nil
		})
	}

	srv.engine = b.engine.Build()
	return srv
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (any, error) {
	var req protocol.InitializeParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid initialize params: %w", err)
	}

	s.stateMu.Lock()
	s.clientCapabilities = &req.Capabilities
	s.clientInfo = &req.ClientInfo
	s.stateMu.Unlock()

	return protocol.InitializeResult{
		ProtocolVersion: protocol.LatestProtocolVersion,
		Capabilities:    s.capsAtBuild,
		ServerInfo:      protocol.Implementation{Name: s.name, Version: s.version},
	}, nil
}

func (s *Server) handleInitialized(ctx context.Context, params json.RawMessage) error {
	s.stateMu.Lock()
	s.initialized = true
	s.stateMu.Unlock()
	return nil
}

// GetClientCapabilities returns the capabilities captured during
// initialize, or nil before that.
func (s *Server) GetClientCapabilities() *protocol.ClientCapabilities {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.clientCapabilities
}

// GetClientInfo returns the client implementation info captured during
// initialize, or nil before that.
func (s *Server) GetClientInfo() *protocol.Implementation {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.clientInfo
}

// IsInitialized reports whether notifications/initialized has been
// received. This runtime does not gate request dispatch on it — see
// DESIGN.md's Open Question decision — it is exposed purely as a read for
// callers that want their own gating discipline.
func (s *Server) IsInitialized() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.initialized
}

// CreateProgress allocates a fresh "progress-<N>" token from the
// server-instance-wide monotonic counter and emits an initial $/progress
// notification. Never blocks.
func (s *Server) CreateProgress(ctx context.Context, value float64) (string, error) {
	n := atomic.AddUint64(&s.progressCounter, 1) - 1
	token := fmt.Sprintf("progress-%d", n)
	if err := s.emitProgress(ctx, token, value); err != nil {
		return "", err
	}
	return token, nil
}

// UpdateProgress emits another $/progress notification for an
// already-allocated token.
func (s *Server) UpdateProgress(ctx context.Context, token string, value float64) error {
	return s.emitProgress(ctx, token, value)
}

func (s *Server) emitProgress(ctx context.Context, token string, value float64) error {
	payload, err := json.Marshal(protocol.Progress{Token: token, Value: value})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return s.engine.Notify(ctx, "$/progress", payload)
}

// Listen delegates to the underlying engine's receive loop.
func (s *Server) Listen(ctx context.Context) error {
	return s.engine.Listen(ctx)
}

// Close closes the underlying transport.
func (s *Server) Close() error {
	return s.engine.Close()
}

// Engine exposes the underlying protocol engine, e.g. so a caller can issue
// its own outbound requests over the same transport (a server may act as a
// peer that also originates requests, per the symmetric JSON-RPC model).
func (s *Server) Engine() *protocol.Engine {
	return s.engine
}
