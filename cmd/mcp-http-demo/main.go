// cmd/mcp-http-demo wires the HTTP session host (SSE + WebSocket) with a
// single "echo" tool, reading its listen address and rate limit from
// environment variables.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/scrypster/mcprt/internal/config"
	"github.com/scrypster/mcprt/internal/mcp/httphost"
	"github.com/scrypster/mcprt/internal/mcp/protocol"
	"github.com/scrypster/mcprt/internal/mcp/server"
	"github.com/scrypster/mcprt/internal/mcp/transport"
)

func buildServer(t transport.Transport) *server.Server {
	engineBuilder := protocol.NewBuilder(t)
	return server.NewBuilder(engineBuilder).
		Name("mcp-http-demo").
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
}

// bearerAuthHook builds an AuthHook comparing the request's bearer token
// against secret in constant time. Mirrors the ambient stack's
// RequireAuth pattern; the runtime itself still defines no authentication
// policy, it only exposes this hook shape.
func bearerAuthHook(secret string) httphost.AuthHook {
	return func(r *http.Request) error {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return errUnauthorized
		}
		return nil
	}
}

var errUnauthorized = httpError("unauthorized")

type httpError string

func (e httpError) Error() string { return string(e) }

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("mcp-http-demo: ")
	log.SetFlags(log.LstdFlags)

	cfg := config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	opts := []httphost.Option{
		httphost.WithRateLimit(cfg.Security.RateLimitPerSec, cfg.Security.RateLimitBurst),
	}
	if cfg.Security.SharedSecret != "" {
		opts = append(opts, httphost.WithAuthHook(bearerAuthHook(cfg.Security.SharedSecret)))
	}
	host := httphost.New(buildServer, opts...)

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	log.Printf("ready — serving MCP over HTTP on %s", addr)
	if err := httphost.ListenAndServe(ctx, addr, host); err != nil {
		log.Printf("listen stopped: %v", err)
	}
}
