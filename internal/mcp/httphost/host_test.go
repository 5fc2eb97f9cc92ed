package httphost_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/mcprt/internal/mcp/client"
	"github.com/scrypster/mcprt/internal/mcp/httphost"
	"github.com/scrypster/mcprt/internal/mcp/protocol"
	"github.com/scrypster/mcprt/internal/mcp/server"
	"github.com/scrypster/mcprt/internal/mcp/transport"
)

func echoServerBuilder(t transport.Transport) *server.Server {
	b := server.NewBuilder(protocol.NewBuilder(t)).Name("mcprt-http-test").Version("0.0.1")
	tool := protocol.Tool{Name: "echo"}
	b.RegisterTool(tool, func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
		return &protocol.CallToolResult{Content: []protocol.ContentItem{protocol.TextContent(string(args))}}, nil
	})
	return b.Build()
}

func TestSSESessionHandshakeAndToolCall(t *testing.T) {
	h := httphost.New(echoServerBuilder)
	ts := httptest.NewServer(h.Mux())
	defer ts.Close()

	ct := transport.NewClientSSE(ts.URL, nil)
	require.NoError(t, ct.Open(context.Background()))
	defer ct.Close()

	engine := protocol.NewBuilder(ct).Build()
	go func() { _ = engine.Listen(context.Background()) }()
	c := client.New(engine)

	var result protocol.CallToolResult
	params := protocol.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"x":1}`)}

	err := c.Request(context.Background(), "tools/call", params, &result, &protocol.RequestOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, result.Content[0].Text)

	assert.Equal(t, 1, h.SessionCount())
}

func TestMessageRouteMissingSessionIDReturns400(t *testing.T) {
	h := httphost.New(echoServerBuilder)
	ts := httptest.NewServer(h.Mux())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/message", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageRouteUnknownSessionReturns404(t *testing.T) {
	h := httphost.New(echoServerBuilder)
	ts := httptest.NewServer(h.Mux())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/message?sessionId=does-not-exist", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimitExceededReturns429(t *testing.T) {
	h := httphost.New(echoServerBuilder, httphost.WithRateLimit(1, 1))
	ts := httptest.NewServer(h.Mux())
	defer ts.Close()

	// Burst of 1: first request consumes the token, second should be
	// rejected before even reaching session lookup.
	resp1, err := http.Post(ts.URL+"/message", "application/json", nil)
	require.NoError(t, err)
	resp1.Body.Close()

	resp2, err := http.Post(ts.URL+"/message", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp2.StatusCode)
}

func TestAuthHookRejectsUnauthorizedRequests(t *testing.T) {
	h := httphost.New(echoServerBuilder, httphost.WithAuthHook(func(r *http.Request) error {
		return assert.AnError
	}))
	ts := httptest.NewServer(h.Mux())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/message", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
