// cmd/mcp-stdio-demo is a minimal entry point wiring the MCP runtime's
// protocol engine and server dispatch layer over stdio, the way a real
// tool server would. It registers a single "echo" tool so the wiring can
// be exercised end to end.
//
// CRITICAL: all logging goes to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 frames corrupt the protocol.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/mcprt/internal/mcp/protocol"
	"github.com/scrypster/mcprt/internal/mcp/server"
	"github.com/scrypster/mcprt/internal/mcp/transport"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("mcp-stdio-demo: ")
	log.SetFlags(log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	t := transport.NewServerStdio(os.Stdin, os.Stdout, nil)
	engineBuilder := protocol.NewBuilder(t)
	srv := server.NewBuilder(engineBuilder).
		Name("mcp-stdio-demo").
		Version("0.1.0").
		RegisterTool(protocol.Tool{
			Name:        "echo",
			Description: "returns its arguments unchanged",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		}, func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			return &protocol.CallToolResult{
				Content: []protocol.ContentItem{protocol.TextContent(string(args))},
			}, nil
		}).
		Build()

	log.Println("ready — serving JSON-RPC 2.0 on stdin/stdout")
	if err := srv.Listen(ctx); err != nil {
		log.Printf("listen stopped: %v", err)
	}
}
