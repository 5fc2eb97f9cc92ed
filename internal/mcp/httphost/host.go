// Package httphost implements the HTTP session host: a per-connection
// session table with SSE and WebSocket route advertisement, routing
// inbound POSTs to the right session's transport.
package httphost

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/scrypster/mcprt/internal/mcp/protocol"
	"github.com/scrypster/mcprt/internal/mcp/server"
	"github.com/scrypster/mcprt/internal/mcp/transport"
)

// sessionKind discriminates which transport backs a session table entry,
// since /message must reject a POST aimed at a WebSocket session.
type sessionKind int

const (
	kindSSE sessionKind = iota
	kindWS
)

type sessionEntry struct {
	kind sessionKind
	sse  *transport.ServerSSE
}

// ServerBuilder produces a fully configured *server.Server for a freshly
// accepted connection's transport, and is invoked once per session.
type ServerBuilder func(t transport.Transport) *server.Server

// AuthHook optionally gates every request; a nil hook is a no-op (every
// request passes), matching the runtime's "only exposes a hook" policy on
// authentication.
type AuthHook func(r *http.Request) error

// Host is a process-wide session table mapping session ids to the
// transport used by one engine, with three routes: GET /sse, POST
// /message, GET /ws.
type Host struct {
	buildServer ServerBuilder
	auth        AuthHook
	logger      *log.Logger
	limiter     *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// Option configures a Host at construction time.
type Option func(*Host)

// WithAuthHook installs a hook gating all three routes.
func WithAuthHook(hook AuthHook) Option {
	return func(h *Host) { h.auth = hook }
}

// WithLogger overrides the default stderr logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithRateLimit overrides the default per-process request rate limit
// (default: 10 req/s, burst 20, mirroring the ambient stack's convention).
func WithRateLimit(reqPerSec float64, burst int) Option {
	return func(h *Host) { h.limiter = rate.NewLimiter(rate.Limit(reqPerSec), burst) }
}

// New builds a Host. buildServer is invoked once per accepted SSE or WS
// connection to produce the server that will listen on that session's
// transport.
func New(buildServer ServerBuilder, opts ...Option) *Host {
	h := &Host{
		buildServer: buildServer,
		logger:      log.New(os.Stderr, "mcp-host: ", log.LstdFlags),
		limiter:     rate.NewLimiter(10.0, 20),
		sessions:    make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mux builds the *http.ServeMux wiring GET /sse, POST /message, GET /ws.
func (h *Host) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", h.withMiddleware(h.handleSSE))
	mux.HandleFunc("/message", h.withMiddleware(h.handleMessage))
	mux.HandleFunc("/ws", h.withMiddleware(h.handleWS))
	return mux
}

func (h *Host) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.auth != nil {
			if err := h.auth(r); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		if !h.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (h *Host) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := uuid.NewString()
	sseTransport := transport.NewServerSSE()

	h.mu.Lock()
	h.sessions[sessionID] = &sessionEntry{kind: kindSSE, sse: sseTransport}
	h.mu.Unlock()
	defer h.removeSession(sessionID)
	defer sseTransport.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-Id", sessionID)
	w.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("%s/message?sessionId=%s", baseURL(r), sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	flusher.Flush()

	srv := h.buildServer(sseTransport)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		if err := srv.Listen(ctx); err != nil {
			h.logger.Printf("session %s: listen error: %v", sessionID, err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sseTransport.Done():
			return
		case msg, ok := <-sseTransport.Outbound():
			if !ok {
				return
			}
			data, err := protocol.Marshal(msg)
			if err != nil {
				h.logger.Printf("session %s: marshal outbound: %v", sessionID, err)
				continue
			}
			if err := writeSSEEvent(w, "message", data); err != nil {
				h.logger.Printf("session %s: write sse event: %v", sessionID, err)
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Host) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	entry, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if entry.kind != kindSSE {
		http.Error(w, "cannot send message to websocket connection through http endpoint", http.StatusBadRequest)
		return
	}

	msg, err := protocol.UnmarshalReader(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid message body: %v", err), http.StatusBadRequest)
		return
	}
	if err := entry.sse.Deliver(msg); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Host) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{transport.WSSubprotocol},
	})
	if err != nil {
		h.logger.Printf("websocket accept: %v", err)
		return
	}

	sessionID := uuid.NewString()
	wsTransport := transport.NewWS(conn)

	h.mu.Lock()
	h.sessions[sessionID] = &sessionEntry{kind: kindWS}
	h.mu.Unlock()
	defer h.removeSession(sessionID)

	srv := h.buildServer(wsTransport)
	if err := srv.Listen(r.Context()); err != nil {
		h.logger.Printf("session %s: listen error: %v", sessionID, err)
	}
	conn.Close(websocket.StatusNormalClosure, "closing")
}

func (h *Host) removeSession(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// SessionCount reports the number of currently open sessions, for tests
// and diagnostics.
func (h *Host) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func writeSSEEvent(w http.ResponseWriter, event string, payload []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	for _, chunk := range transport.SplitSSEData(payload) {
		if _, err := fmt.Fprintf(w, "data: %s\n", chunk); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// ListenAndServe runs the host's mux with the ambient server timeouts
// (15s read, 30s write, 60s idle), shutting down gracefully when ctx is
// done.
func ListenAndServe(ctx context.Context, addr string, h *Host) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h.Mux(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
