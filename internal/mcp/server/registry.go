package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scrypster/mcprt/internal/mcp/protocol"
)

// ToolFunc invokes a registered tool against the raw arguments of a
// tools/call request.
type ToolFunc func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error)

type toolEntry struct {
	tool protocol.Tool
	fn   ToolFunc
}

// toolRegistry is a keyed mapping from tool name to handler. Builder-time
// registration is single-threaded (Register is only ever called before
// Build); once built it is immutable and shared by reference, so no lock
// is required at call time.
type toolRegistry struct {
	tools map[string]toolEntry
}

func newToolRegistry() *toolRegistry {
	return &toolRegistry{tools: make(map[string]toolEntry)}
}

// register inserts or replaces the handler for tool.Name. Last registration
// within a builder wins.
func (r *toolRegistry) register(tool protocol.Tool, fn ToolFunc) {
	r.tools[tool.Name] = toolEntry{tool: tool, fn: fn}
}

func (r *toolRegistry) list() []protocol.Tool {
	out := make([]protocol.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	return out
}

// call looks up name and invokes its handler. An unknown tool name is NOT
// a protocol-level error: it returns a success-shaped CallToolResult with
// IsError set, per the runtime's tools/call contract.
func (r *toolRegistry) call(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	entry, ok := r.tools[name]
	if !ok {
		return &protocol.CallToolResult{
			IsError: true,
			Content: []protocol.ContentItem{protocol.TextContent(fmt.Sprintf("tool not found: %s", name))},
		}, nil
	}
	return entry.fn(ctx, args)
}

