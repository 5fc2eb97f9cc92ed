// Package transport implements the duplex byte-carrier abstraction that the
// protocol engine runs over: stdio, in-memory, SSE+HTTP and WebSocket.
package transport

import (
	"context"
	"fmt"

	"github.com/scrypster/mcprt/internal/mcp/protocol"
)

// Transport is a duplex channel of framed JSON-RPC messages. Implementations
// must satisfy:
//
//   - Open is a no-op on the server-side transports and on WS. On
//     ClientInMemory and ClientSSE every Open starts a fresh channel pair
//     or session. On the stdio client transport a second Open call is an
//     error (a child process cannot be re-spawned onto the same handle).
//   - Send serializes and hands the message to the underlying carrier; it
//     returns once the handoff completes, not once the remote peer has
//     received it.
//   - Receive blocks until the next framed message arrives, or returns
//     (nil, nil) exactly once the peer has closed and any buffered inbound
//     messages are drained. Every call after that also returns (nil, nil).
//   - Close releases resources and causes pending and future Receive calls
//     to observe (nil, nil). It must be safe to call concurrently with an
//     in-flight Send or Receive, and must be idempotent.
type Transport interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, msg *protocol.Message) error
	Receive(ctx context.Context) (*protocol.Message, error)
	Close() error
}

// Code identifies the class of a transport-level failure.
type Code int

const (
	CodeConnectionFailed Code = -1000 - iota
	CodeConnectionClosed
	CodeTimeout
	CodeMessageTooLarge
	CodeInvalidMessage
	CodeSendFailed
	CodeReceiveFailed
	CodeProtocolError
	CodeInvalidState
)

func (c Code) String() string {
	switch c {
	case CodeConnectionFailed:
		return "connection-failed"
	case CodeConnectionClosed:
		return "connection-closed"
	case CodeTimeout:
		return "timeout"
	case CodeMessageTooLarge:
		return "message-too-large"
	case CodeInvalidMessage:
		return "invalid-message"
	case CodeSendFailed:
		return "send-failed"
	case CodeReceiveFailed:
		return "receive-failed"
	case CodeProtocolError:
		return "protocol-error"
	case CodeInvalidState:
		return "invalid-state"
	default:
		return "unknown"
	}
}

// Error is a tagged transport-level failure. Transport operations never
// retry internally; errors always propagate to the engine.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an *Error tagging err with code.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// ErrConnectionClosed is returned by Send once Close has been called.
var ErrConnectionClosed = Wrap(CodeConnectionClosed, fmt.Errorf("transport is closed"))
