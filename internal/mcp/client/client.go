// Package client implements a thin convenience layer over the protocol
// engine: issue a request, get back a typed result or an error.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scrypster/mcprt/internal/mcp/protocol"
)

// Client wraps a protocol.Engine to provide typed request/response
// convenience. It does not add any buffering or retry behavior of its
// own; every call is a direct pass-through to the engine.
type Client struct {
	engine *protocol.Engine
}

// New wraps an already-built engine.
func New(engine *protocol.Engine) *Client {
	return &Client{engine: engine}
}

// Request issues method with params, unmarshals the engine's result into
// out (if out is non-nil and the response carries a result), and returns
// the response's Error as a Go error if present.
func (c *Client) Request(ctx context.Context, method string, params any, out any, opts *protocol.RequestOptions) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("client: marshal params for %s: %w", method, err)
		}
		raw = data
	}

	resp, err := c.engine.Request(ctx, method, raw, opts)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("client: unmarshal result for %s: %w", method, err)
		}
	}
	return nil
}

// Notify sends a fire-and-forget notification.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("client: marshal params for %s: %w", method, err)
		}
		raw = data
	}
	return c.engine.Notify(ctx, method, raw)
}

// Listen runs the engine's receive loop, dispatching any inbound
// requests/notifications the client itself has registered handlers for
// (a client is a symmetric JSON-RPC peer and may receive requests too,
// e.g. sampling or roots/list).
func (c *Client) Listen(ctx context.Context) error {
	return c.engine.Listen(ctx)
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.engine.Close()
}

// Initialize performs the MCP handshake: sends initialize, then emits
// notifications/initialized once the server responds.
func (c *Client) Initialize(ctx context.Context, clientInfo protocol.Implementation, caps protocol.ClientCapabilities) (*protocol.InitializeResult, error) {
	var result protocol.InitializeResult
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.LatestProtocolVersion,
		Capabilities:    caps,
		ClientInfo:      clientInfo,
	}
	if err := c.Request(ctx, "initialize", params, &result, nil); err != nil {
		return nil, fmt.Errorf("client: initialize: %w", err)
	}
	if err := c.Notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, fmt.Errorf("client: notifications/initialized: %w", err)
	}
	return &result, nil
}
