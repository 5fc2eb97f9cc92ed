package server_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/mcprt/internal/mcp/client"
	"github.com/scrypster/mcprt/internal/mcp/protocol"
	"github.com/scrypster/mcprt/internal/mcp/server"
	"github.com/scrypster/mcprt/internal/mcp/transport"
)

func newEchoTool() (protocol.Tool, server.ToolFunc) {
	tool := protocol.Tool{Name: "echo", Description: "echoes its input back"}
	fn := func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
		var v struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &v); err != nil {
			return nil, err
		}
		return &protocol.CallToolResult{Content: []protocol.ContentItem{protocol.TextContent(v.Text)}}, nil
	}
	return tool, fn
}

// newTestServer spawns a server built by configure over an in-memory
// transport pair and returns a client wired to the other end.
func newTestServer(t *testing.T, configure func(*server.Builder)) (*client.Client, func()) {
	t.Helper()

	factory := func(srv *transport.ServerInMemory, done func()) {
		go func() {
			defer done()
			b := server.NewBuilder(protocol.NewBuilder(srv)).Name("mcprt-test").Version("0.0.1-test")
			if configure != nil {
				configure(b)
			}
			_ = b.Build().Listen(context.Background())
		}()
	}

	ct := transport.NewClientInMemory(factory)
	require.NoError(t, ct.Open(context.Background()))

	engine := protocol.NewBuilder(ct).Build()
	go func() { _ = engine.Listen(context.Background()) }()

	c := client.New(engine)
	return c, func() { _ = c.Close() }
}

func TestInitializeHandshakeReturnsServerInfoAndCapabilities(t *testing.T) {
	c, closeAll := newTestServer(t, func(b *server.Builder) {
		tool, fn := newEchoTool()
		b.RegisterTool(tool, fn)
	})
	defer closeAll()

	result, err := c.Initialize(context.Background(), protocol.Implementation{Name: "tester", Version: "1.0"}, protocol.ClientCapabilities{})
	require.NoError(t, err)
	assert.Equal(t, "mcprt-test", result.ServerInfo.Name)
	assert.Equal(t, "0.0.1-test", result.ServerInfo.Version)
	assert.Equal(t, protocol.LatestProtocolVersion, result.ProtocolVersion)
	require.NotNil(t, result.Capabilities.Tools)
	assert.Nil(t, result.Capabilities.Resources)
	assert.Nil(t, result.Capabilities.Prompts)
}

func TestDefaultToolsListReturnsRegisteredTools(t *testing.T) {
	c, closeAll := newTestServer(t, func(b *server.Builder) {
		tool, fn := newEchoTool()
		b.RegisterTool(tool, fn)
	})
	defer closeAll()

	var result protocol.ToolsListResult
	err := c.Request(context.Background(), "tools/list", nil, &result, nil)
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
}

func TestDefaultToolsCallDispatchesToRegisteredHandler(t *testing.T) {
	c, closeAll := newTestServer(t, func(b *server.Builder) {
		tool, fn := newEchoTool()
		b.RegisterTool(tool, fn)
	})
	defer closeAll()

	var result protocol.CallToolResult
	params := protocol.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)}
	err := c.Request(context.Background(), "tools/call", params, &result, nil)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hi", result.Content[0].Text)
}

func TestUnknownToolNameReturnsSuccessEnvelopeWithIsError(t *testing.T) {
	c, closeAll := newTestServer(t, func(b *server.Builder) {
		tool, fn := newEchoTool()
		b.RegisterTool(tool, fn)
	})
	defer closeAll()

	var result protocol.CallToolResult
	params := protocol.CallToolParams{Name: "no-such-tool"}
	err := c.Request(context.Background(), "tools/call", params, &result, nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "no-such-tool")
}

func TestResourcesCapabilityFlippedOnlyWhenRegistered(t *testing.T) {
	c, closeAll := newTestServer(t, func(b *server.Builder) {
		b.RegisterResource("file:///readme.txt", func(ctx context.Context, uri string) (*protocol.ContentItem, error) {
			item := protocol.TextContent("hello")
			return &item, nil
		})
	})
	defer closeAll()

	result, err := c.Initialize(context.Background(), protocol.Implementation{Name: "tester", Version: "1.0"}, protocol.ClientCapabilities{})
	require.NoError(t, err)
	require.NotNil(t, result.Capabilities.Resources)
	assert.Nil(t, result.Capabilities.Tools)

	var content protocol.ContentItem
	err = c.Request(context.Background(), "resources/read", map[string]string{"uri": "file:///readme.txt"}, &content, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", content.Text)
}

func TestPromptsListAndGet(t *testing.T) {
	c, closeAll := newTestServer(t, func(b *server.Builder) {
		b.RegisterPrompt("greeting", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"text":"hello there"}`), nil
		})
	})
	defer closeAll()

	var names []string
	err := c.Request(context.Background(), "prompts/list", nil, &names, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"greeting"}, names)

	var rendered struct {
		Text string `json:"text"`
	}
	err = c.Request(context.Background(), "prompts/get", map[string]string{"name": "greeting"}, &rendered, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", rendered.Text)
}

func TestProgressTokensAreSequentialAndEmitNotifications(t *testing.T) {
	var mu sync.Mutex
	var received []protocol.Progress
	notified := make(chan struct{}, 2)

	factory := func(srv *transport.ServerInMemory, done func()) {
		go func() {
			defer done()
			b := server.NewBuilder(protocol.NewBuilder(srv)).Name("mcprt-test").Version("0.0.1-test")
			tool, fn := newEchoTool()
			b.RegisterTool(tool, fn)
			built := b.Build()

			ctx := context.Background()
			token, err := built.CreateProgress(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, "progress-0", token)
			require.NoError(t, built.UpdateProgress(ctx, token, 1))

			_ = built.Listen(ctx)
		}()
	}

	ct := transport.NewClientInMemory(factory)
	require.NoError(t, ct.Open(context.Background()))

	b := protocol.NewBuilder(ct)
	b.NotificationHandler("$/progress", func(ctx context.Context, params json.RawMessage) error {
		var p protocol.Progress
		if err := json.Unmarshal(params, &p); err != nil {
			return err
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		notified <- struct{}{}
		return nil
	})
	engine := b.Build()
	go func() { _ = engine.Listen(context.Background()) }()
	defer engine.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-notified:
		case <-time.After(time.Second):
			t.Fatal("did not observe expected $/progress notification")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, "progress-0", received[0].Token)
	assert.Equal(t, "progress-0", received[1].Token)
	assert.Equal(t, float64(0), received[0].Value)
	assert.Equal(t, float64(1), received[1].Value)
}
