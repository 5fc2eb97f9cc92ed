package transport

import (
	"context"
	"fmt"

	"nhooyr.io/websocket"

	"github.com/scrypster/mcprt/internal/mcp/protocol"
)

// WSSubprotocol is advertised by both peers during the WebSocket handshake.
const WSSubprotocol = "mcp"

// WS wraps a single nhooyr.io/websocket connection as a duplex Transport.
// It is symmetric: the same type backs both the server side (accepted
// inside the HTTP session host) and the client side (dialed by a caller).
type WS struct {
	conn   *websocket.Conn
	closed bool
}

// NewWS wraps an already-established WebSocket connection.
func NewWS(conn *websocket.Conn) *WS {
	return &WS{conn: conn}
}

func (t *WS) Open(ctx context.Context) error { return nil }

func (t *WS) Send(ctx context.Context, msg *protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return Wrap(CodeInvalidMessage, err)
	}
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if t.closed {
			return ErrConnectionClosed
		}
		return Wrap(CodeSendFailed, err)
	}
	return nil
}

func (t *WS) Receive(ctx context.Context) (*protocol.Message, error) {
	kind, data, err := t.conn.Read(ctx)
	if err != nil {
		if t.closed {
			return nil, nil
		}
		status := websocket.CloseStatus(err)
		if status != -1 {
			t.closed = true
			return nil, nil
		}
		return nil, Wrap(CodeReceiveFailed, err)
	}
	if kind != websocket.MessageText {
		return nil, Wrap(CodeInvalidMessage, fmt.Errorf("unexpected websocket frame kind %v", kind))
	}
	msg, err := protocol.Unmarshal(data)
	if err != nil {
		return nil, Wrap(CodeInvalidMessage, err)
	}
	return msg, nil
}

func (t *WS) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close(websocket.StatusNormalClosure, "closing")
}

// DialWS connects to a remote WebSocket endpoint (e.g. "ws://host:port/ws")
// advertising WSSubprotocol, and returns it as a Transport.
func DialWS(ctx context.Context, url string) (*WS, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{WSSubprotocol},
	})
	if err != nil {
		return nil, Wrap(CodeConnectionFailed, err)
	}
	return NewWS(conn), nil
}
