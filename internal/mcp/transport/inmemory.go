package transport

import (
	"context"
	"sync"

	"github.com/scrypster/mcprt/internal/mcp/protocol"
)

// inMemoryBufSize is the bound on both paired channels.
const inMemoryBufSize = 100

// ServerInMemory is the server-side half of an in-memory transport pair.
// Messages sent by the client arrive on in; messages sent by the server
// are placed on out.
type ServerInMemory struct {
	in  <-chan *protocol.Message
	out chan<- *protocol.Message

	mu     sync.Mutex
	closed bool
	done   chan struct{} // closed by Close; never the in/out channels themselves
}

func newServerInMemory(in <-chan *protocol.Message, out chan<- *protocol.Message) *ServerInMemory {
	return &ServerInMemory{in: in, out: out, done: make(chan struct{})}
}

func (t *ServerInMemory) Open(ctx context.Context) error { return nil }

// Send never closes t.out, so it is always safe to attempt even if Close
// races with this call: the worst case is the select picks the done case
// instead of delivering, never a send on a closed channel.
func (t *ServerInMemory) Send(ctx context.Context, msg *protocol.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}
	select {
	case t.out <- msg:
		return nil
	case <-t.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return Wrap(CodeSendFailed, ctx.Err())
	}
}

func (t *ServerInMemory) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg, ok := <-t.in:
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

func (t *ServerInMemory) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

// ServerFactory spawns the server-side cooperative task against a freshly
// paired ServerInMemory transport. done is informational only — a factory
// may call it when its goroutine exits, but Close never waits on it; the
// server task is abandoned, not joined, the Go analogue of an aborted
// (not joined) handle.
type ServerFactory func(srv *ServerInMemory, done func())

// ClientInMemory is the client-side half of an in-memory transport pair.
// Open spawns a fresh channel pair and invokes the factory to start the
// paired server task.
type ClientInMemory struct {
	factory ServerFactory

	mu      sync.Mutex
	toSrv   chan *protocol.Message
	fromSrv chan *protocol.Message
	srv     *ServerInMemory
	closed  bool
	done    chan struct{} // closed by Close; never the toSrv/fromSrv channels themselves
}

// NewClientInMemory builds a client transport paired with a server spawned
// by factory on Open.
func NewClientInMemory(factory ServerFactory) *ClientInMemory {
	return &ClientInMemory{factory: factory}
}

func (t *ClientInMemory) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	toSrv := make(chan *protocol.Message, inMemoryBufSize)
	fromSrv := make(chan *protocol.Message, inMemoryBufSize)
	srv := newServerInMemory(toSrv, fromSrv)

	t.toSrv = toSrv
	t.fromSrv = fromSrv
	t.srv = srv
	t.done = make(chan struct{})

	t.factory(srv, func() {})
	return nil
}

// Send never closes toSrv, so it is always safe to attempt even if Close
// races with this call: the worst case is the select picks the done case
// instead of delivering, never a send on a closed channel.
func (t *ClientInMemory) Send(ctx context.Context, msg *protocol.Message) error {
	t.mu.Lock()
	toSrv := t.toSrv
	done := t.done
	closed := t.closed
	t.mu.Unlock()
	if closed || toSrv == nil {
		return ErrConnectionClosed
	}
	select {
	case toSrv <- msg:
		return nil
	case <-done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return Wrap(CodeSendFailed, ctx.Err())
	}
}

func (t *ClientInMemory) Receive(ctx context.Context) (*protocol.Message, error) {
	t.mu.Lock()
	fromSrv := t.fromSrv
	done := t.done
	closed := t.closed
	t.mu.Unlock()
	if closed || fromSrv == nil {
		return nil, nil
	}
	select {
	case msg, ok := <-fromSrv:
		if !ok {
			return nil, nil
		}
		return msg, nil
	case <-done:
		return nil, nil
	case <-ctx.Done():
		return nil, Wrap(CodeReceiveFailed, ctx.Err())
	}
}

// Close tears down the client side and returns immediately — it does not
// wait for the spawned server task to finish. It never closes toSrv or
// fromSrv, since a concurrent Send/Receive may be parked on either; instead
// it closes done, which every in-flight select also watches, and closes
// srv so the server-side task observes the same signal on its own Send/
// Receive calls.
func (t *ClientInMemory) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	srv := t.srv
	done := t.done
	t.mu.Unlock()

	if srv != nil {
		srv.Close()
	}
	if done != nil {
		close(done)
	}
	return nil
}
