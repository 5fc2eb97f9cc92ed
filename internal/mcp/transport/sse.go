package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/mcprt/internal/mcp/protocol"
)

// sseChunkSize is the threshold above which an outbound message is split
// across multiple "data:" lines within one SSE event.
const sseChunkSize = 16 * 1024

// sseBufSize bounds both the inbound (POST) and outbound (broadcast)
// channels backing a session's SSE transport.
const sseBufSize = 100

// splitSSEData splits a serialized message into chunks no larger than
// sseChunkSize, preferring to break after a comma or space so that a naive
// textual inspection of an individual line still looks like valid partial
// JSON; falls back to a hard cut at sseChunkSize when no such boundary
// exists in range. The split point is never transmitted: reconstruction on
// the receive side concatenates every "data:" line in the event verbatim,
// so any split strategy is safe here.
// SplitSSEData is the exported form of splitSSEData, used by the HTTP
// session host to render outbound SSE events.
func SplitSSEData(data []byte) [][]byte {
	return splitSSEData(data)
}

func splitSSEData(data []byte) [][]byte {
	if len(data) <= sseChunkSize {
		return [][]byte{data}
	}
	var chunks [][]byte
	for len(data) > sseChunkSize {
		cut := sseChunkSize
		window := data[:sseChunkSize]
		if i := bytes.LastIndexByte(window, ','); i > 0 {
			cut = i + 1
		} else if i := bytes.LastIndexByte(window, ' '); i > 0 {
			cut = i + 1
		}
		chunks = append(chunks, data[:cut])
		data = data[cut:]
	}
	if len(data) > 0 {
		chunks = append(chunks, data)
	}
	return chunks
}

// sseEvent is a fully reconstructed (event-type, data) pair read off an SSE
// byte stream.
type sseEvent struct {
	event string
	data  string
}

// sseReader incrementally parses an SSE byte stream, buffering "data:"
// lines across reads and yielding one sseEvent per blank-line terminator,
// regardless of how many data: lines (or where they were split) made it up.
type sseReader struct {
	br *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{br: bufio.NewReader(r)}
}

func (r *sseReader) next() (*sseEvent, error) {
	var event string
	var data strings.Builder
	sawData := false
	for {
		line, err := r.br.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF && (sawData || event != "") {
				return &sseEvent{event: event, data: data.String()}, nil
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if sawData || event != "" {
				return &sseEvent{event: event, data: data.String()}, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // keep-alive comment
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			sawData = true
		}
	}
}

// ServerSSE is the server-side half of an SSE+HTTP transport pair: inbound
// messages arrive via HTTP POST (see httphost), outbound messages are
// broadcast to the connected SSE stream.
type ServerSSE struct {
	inbox     chan *protocol.Message
	broadcast chan *protocol.Message

	mu     sync.Mutex
	closed bool
	done   chan struct{} // closed by Close; never inbox/broadcast themselves
}

// NewServerSSE builds a fresh server-side SSE transport, ready to be
// registered in a session table and streamed by an HTTP handler.
func NewServerSSE() *ServerSSE {
	return &ServerSSE{
		inbox:     make(chan *protocol.Message, sseBufSize),
		broadcast: make(chan *protocol.Message, sseBufSize),
		done:      make(chan struct{}),
	}
}

func (t *ServerSSE) Open(ctx context.Context) error { return nil }

// Send enqueues msg for delivery over the SSE stream. While the broadcast
// buffer is full, Send blocks until there is room, ctx is done, or Close is
// called; it never drops a message. broadcast is never closed by Close, so
// this is always safe to attempt even if Close races with this call.
func (t *ServerSSE) Send(ctx context.Context, msg *protocol.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}
	select {
	case t.broadcast <- msg:
		return nil
	case <-t.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return Wrap(CodeSendFailed, ctx.Err())
	}
}

// Receive yields the next message POSTed to this session's /message
// endpoint.
func (t *ServerSSE) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg, ok := <-t.inbox:
		if !ok {
			return nil, nil
		}
		return msg, nil
	case <-t.done:
		return nil, nil
	case <-ctx.Done():
		return nil, Wrap(CodeReceiveFailed, ctx.Err())
	}
}

func (t *ServerSSE) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

// Done reports when Close has been called, so a caller draining Outbound
// (which is never closed, since a concurrent Send might be parked on it)
// can detect shutdown without relying on channel-closed semantics.
func (t *ServerSSE) Done() <-chan struct{} {
	return t.done
}

// Deliver is called by the HTTP session host when a message is POSTed to
// /message for this session.
func (t *ServerSSE) Deliver(msg *protocol.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}
	select {
	case t.inbox <- msg:
		return nil
	default:
		return Wrap(CodeSendFailed, fmt.Errorf("session inbox full"))
	}
}

// Outbound exposes the broadcast channel for the HTTP session host's SSE
// stream loop to drain and write to the response.
func (t *ServerSSE) Outbound() <-chan *protocol.Message {
	return t.broadcast
}

// ClientSSE connects to a remote HTTP session host: it issues GET /sse to
// receive the endpoint bootstrap and subsequent messages, and POSTs to the
// captured URL to send.
type ClientSSE struct {
	serverURL string
	client    *http.Client
	headers   map[string]string

	mu        sync.Mutex
	postURL   string
	sessionID string
	inbound   chan *protocol.Message
	cancel    context.CancelFunc
	closed    bool
}

// NewClientSSE builds a client SSE transport targeting serverURL (e.g.
// "http://host:port").
func NewClientSSE(serverURL string, headers map[string]string) *ClientSSE {
	return &ClientSSE{
		serverURL: serverURL,
		client:    &http.Client{},
		headers:   headers,
		inbound:   make(chan *protocol.Message, sseBufSize),
	}
}

// Open issues GET /sse, waits for the endpoint bootstrap event carrying the
// POST URL and session id, then streams the remainder in a background
// goroutine.
func (t *ClientSSE) Open(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.serverURL+"/sse", nil)
	if err != nil {
		cancel()
		return Wrap(CodeConnectionFailed, err)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return Wrap(CodeConnectionFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return Wrap(CodeConnectionFailed, fmt.Errorf("sse handshake status %d", resp.StatusCode))
	}

	reader := newSSEReader(resp.Body)

	first, err := reader.next()
	if err != nil {
		resp.Body.Close()
		cancel()
		return Wrap(CodeConnectionFailed, fmt.Errorf("reading initial sse event: %w", err))
	}
	if first.event != "endpoint" {
		resp.Body.Close()
		cancel()
		return Wrap(CodeProtocolError, fmt.Errorf("expected endpoint event, got %q", first.event))
	}
	postURL := first.data
	sessionID := ""
	if idx := strings.Index(postURL, "sessionId="); idx >= 0 {
		sessionID = postURL[idx+len("sessionId="):]
	}

	t.mu.Lock()
	t.postURL = postURL
	t.sessionID = sessionID
	t.cancel = cancel
	t.mu.Unlock()

	go t.pump(resp.Body, reader)
	return nil
}

func (t *ClientSSE) pump(body io.ReadCloser, reader *sseReader) {
	defer body.Close()
	defer close(t.inbound)
	for {
		ev, err := reader.next()
		if err != nil {
			return
		}
		if ev.event != "" && ev.event != "message" {
			continue
		}
		msg, err := protocol.Unmarshal([]byte(ev.data))
		if err != nil {
			continue
		}
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		t.inbound <- msg
	}
}

func (t *ClientSSE) Send(ctx context.Context, msg *protocol.Message) error {
	t.mu.Lock()
	postURL := t.postURL
	t.mu.Unlock()
	if postURL == "" {
		return Wrap(CodeInvalidState, fmt.Errorf("sse client not opened"))
	}
	data, err := protocol.Marshal(msg)
	if err != nil {
		return Wrap(CodeInvalidMessage, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(data))
	if err != nil {
		return Wrap(CodeSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Wrap(CodeSendFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Wrap(CodeSendFailed, fmt.Errorf("post /message status %d", resp.StatusCode))
	}
	return nil
}

func (t *ClientSSE) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg, ok := <-t.inbound:
		if !ok {
			return nil, nil
		}
		return msg, nil
	case <-ctx.Done():
		return nil, Wrap(CodeReceiveFailed, ctx.Err())
	}
}

func (t *ClientSSE) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// waitForSession polls until the bootstrap session id is available or the
// deadline elapses; exposed for tests that need to assert on session id
// capture without racing the pump goroutine.
func (t *ClientSSE) waitForSession(timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		id := t.sessionID
		t.mu.Unlock()
		if id != "" {
			return id, true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return "", false
}
