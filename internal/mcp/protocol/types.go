package protocol

import "encoding/json"

// LatestProtocolVersion is advertised by the server in InitializeResult.
const LatestProtocolVersion = "2024-11-05"

// Implementation identifies a client or server peer.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities is what a client advertises during initialize.
type ClientCapabilities struct {
	Roots    *RootsCapability `json:"roots,omitempty"`
	Sampling *struct{}        `json:"sampling,omitempty"`
}

// RootsCapability indicates whether the client will emit list-changed
// notifications for its filesystem roots.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is what a server advertises during initialize. Each
// field is a pointer; nil means "not advertised". A field is set non-nil
// the first time the corresponding kind (tool/resource/prompt/...) is
// registered on the server builder.
type ServerCapabilities struct {
	Tools      *ToolsCapability      `json:"tools,omitempty"`
	Resources  *ResourcesCapability  `json:"resources,omitempty"`
	Prompts    *PromptsCapability    `json:"prompts,omitempty"`
	Completion *struct{}             `json:"completion,omitempty"`
	Sampling   *struct{}             `json:"sampling,omitempty"`
	Roots      *RootsCapability      `json:"roots,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams is the payload of an initialize request.
type InitializeParams struct {
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    ClientCapabilities  `json:"capabilities"`
	ClientInfo      Implementation      `json:"clientInfo"`
}

// InitializeResult is the payload of an initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
}

// ContentItem is one piece of tool/resource content. Only the text kind is
// implemented; image/resource kinds are named as a documented extension
// point.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent builds a text ContentItem.
func TextContent(text string) ContentItem {
	return ContentItem{Type: "text", Text: text}
}

// Tool describes a named callable exposed by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolsListResult is the payload of a tools/list response.
type ToolsListResult struct {
	Tools      []Tool  `json:"tools"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// CallToolParams is the payload of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the payload of a tools/call response.
type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Progress ties a sequence of $/progress notifications to a long-running
// request via an opaque token.
type Progress struct {
	Token string  `json:"token"`
	Value float64 `json:"value"`
	Total float64 `json:"total,omitempty"`
}
