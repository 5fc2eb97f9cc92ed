package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRequestTimeout is used by Request when no timeout is supplied.
const DefaultRequestTimeout = 60000 * time.Millisecond

// Transport is the minimal capability set the engine needs from a byte
// carrier. Defined here (rather than imported from package transport) to
// keep the engine free of a dependency on any concrete transport
// implementation; transport.Transport satisfies it structurally.
type Transport interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, msg *Message) error
	Receive(ctx context.Context) (*Message, error)
	Close() error
}

// RequestHandler answers a typed inbound request with a result or an
// error. params is the raw JSON params of the request, already validated
// to be present (falls back to a JSON null when absent).
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler handles a typed inbound notification. Errors are
// logged; no reply is ever produced.
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// RequestOptions configures a single outbound request.
type RequestOptions struct {
	Timeout time.Duration
}

// Engine multiplexes outbound requests (correlated by monotonic id, with
// timeouts) and inbound requests/notifications (dispatched to registered
// handlers) over a single Transport.
type Engine struct {
	transport Transport
	logger    *log.Logger

	nextID uint64 // atomic

	pendingMu sync.Mutex
	pending   map[uint64]chan *Message

	handlersMu    sync.RWMutex
	requestHandlers map[string]RequestHandler
	notifyHandlers  map[string]NotificationHandler
}

// Builder accumulates handler registrations before Build seals them into an
// Engine.
type Builder struct {
	transport       Transport
	logger          *log.Logger
	requestHandlers map[string]RequestHandler
	notifyHandlers  map[string]NotificationHandler
}

// NewBuilder starts a Builder over the given transport.
func NewBuilder(t Transport) *Builder {
	return &Builder{
		transport:       t,
		requestHandlers: make(map[string]RequestHandler),
		notifyHandlers:  make(map[string]NotificationHandler),
	}
}

// WithLogger overrides the default stderr logger.
func (b *Builder) WithLogger(logger *log.Logger) *Builder {
	b.logger = logger
	return b
}

// RequestHandler registers a handler for an inbound request method. A
// second registration for the same method replaces the first.
func (b *Builder) RequestHandler(method string, h RequestHandler) *Builder {
	b.requestHandlers[method] = h
	return b
}

// NotificationHandler registers a handler for an inbound notification
// method.
func (b *Builder) NotificationHandler(method string, h NotificationHandler) *Builder {
	b.notifyHandlers[method] = h
	return b
}

// HasRequestHandler reports whether method already has a registered
// handler, so callers (the server dispatch layer) can avoid clobbering a
// user-supplied handler with a default one.
func (b *Builder) HasRequestHandler(method string) bool {
	_, ok := b.requestHandlers[method]
	return ok
}

// Build seals the accumulated registrations into an Engine.
func (b *Builder) Build() *Engine {
	logger := b.logger
	if logger == nil {
		logger = log.New(os.Stderr, "mcp-engine: ", log.LstdFlags)
	}
	return &Engine{
		transport:       b.transport,
		logger:          logger,
		pending:         make(map[uint64]chan *Message),
		requestHandlers: b.requestHandlers,
		notifyHandlers:  b.notifyHandlers,
	}
}

// Notify enqueues a notification on the transport. No waiting, no id.
func (e *Engine) Notify(ctx context.Context, method string, params json.RawMessage) error {
	return e.transport.Send(ctx, NewNotification(method, params))
}

// Request allocates the next monotonic id, registers a delivery slot,
// sends the request, and awaits either a matching response, the options
// timeout, or transport close. On timeout the slot is removed and the
// caller receives a RequestTimeout error. On transport close before a
// reply the slot is dropped and the caller observes cancellation.
func (e *Engine) Request(ctx context.Context, method string, params json.RawMessage, opts *RequestOptions) (*Message, error) {
	timeout := DefaultRequestTimeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	id := atomic.AddUint64(&e.nextID, 1)
	slot := make(chan *Message, 1)

	e.pendingMu.Lock()
	e.pending[id] = slot
	e.pendingMu.Unlock()

	cleanup := func() {
		e.pendingMu.Lock()
		delete(e.pending, id)
		e.pendingMu.Unlock()
	}

	if err := e.transport.Send(ctx, NewRequest(id, method, params)); err != nil {
		cleanup()
		return nil, fmt.Errorf("protocol: send request %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-slot:
		if !ok {
			return nil, NewError(CodeConnectionClosed, "connection closed before response")
		}
		return resp, nil
	case <-timer.C:
		cleanup()
		return nil, NewError(CodeRequestTimeout, fmt.Sprintf("request %q timed out after %s", method, timeout))
	case <-ctx.Done():
		cleanup()
		return nil, fmt.Errorf("protocol: request %s: %w", method, ctx.Err())
	}
}

// Listen runs the receive loop until the transport yields (nil, nil) — a
// clean EOF, which returns nil — or a Receive fails after ctx is done,
// which returns ctx.Err(). Other receive errors are logged and the loop
// continues. Messages are dispatched sequentially:
// requests to the request-handler table, responses to the matching
// pending slot, notifications to the notification-handler table.
func (e *Engine) Listen(ctx context.Context) error {
	for {
		msg, err := e.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Printf("receive error: %v", err)
			continue
		}
		if msg == nil {
			e.releasePending()
			return nil
		}
		switch msg.Kind() {
		case KindRequest:
			e.handleRequest(ctx, msg)
		case KindResponse:
			e.handleResponse(msg)
		case KindNotification:
			e.handleNotification(ctx, msg)
		}
	}
}

func (e *Engine) releasePending() {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	for id, slot := range e.pending {
		close(slot)
		delete(e.pending, id)
	}
}

func (e *Engine) handleRequest(ctx context.Context, msg *Message) {
	e.handlersMu.RLock()
	handler, ok := e.requestHandlers[msg.Method]
	e.handlersMu.RUnlock()

	if !ok {
		e.sendResponse(ctx, *msg.ID, nil, NewError(CodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method)))
		return
	}

	params := msg.Params
	if params == nil {
		params = json.RawMessage("null")
	}

	result, err := e.safeCall(ctx, handler, params)
	if err != nil {
		e.sendResponse(ctx, *msg.ID, nil, NewError(CodeInternalError, err.Error()))
		return
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		e.sendResponse(ctx, *msg.ID, nil, NewError(CodeInternalError, err.Error()))
		return
	}
	e.sendResponse(ctx, *msg.ID, resultJSON, nil)
}

// safeCall converts a handler panic into an error so that one misbehaving
// handler never takes down the shared Listen loop.
func (e *Engine) safeCall(ctx context.Context, h RequestHandler, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, params)
}

func (e *Engine) sendResponse(ctx context.Context, id uint64, result json.RawMessage, rpcErr *Error) {
	var resp *Message
	if rpcErr != nil {
		resp = NewErrorResponse(id, rpcErr)
	} else {
		resp = NewSuccessResponse(id, result)
	}
	if err := e.transport.Send(ctx, resp); err != nil {
		e.logger.Printf("failed to send response for id %d: %v", id, err)
	}
}

func (e *Engine) handleResponse(msg *Message) {
	if msg.ID == nil {
		e.logger.Printf("dropping response with no id")
		return
	}
	e.pendingMu.Lock()
	slot, ok := e.pending[*msg.ID]
	if ok {
		delete(e.pending, *msg.ID)
	}
	e.pendingMu.Unlock()

	if !ok {
		e.logger.Printf("dropping response for unknown id %d", *msg.ID)
		return
	}
	slot <- msg
}

func (e *Engine) handleNotification(ctx context.Context, msg *Message) {
	e.handlersMu.RLock()
	handler, ok := e.notifyHandlers[msg.Method]
	e.handlersMu.RUnlock()
	if !ok {
		e.logger.Printf("dropping notification for unknown method %q", msg.Method)
		return
	}
	params := msg.Params
	if params == nil {
		params = json.RawMessage("null")
	}
	if err := handler(ctx, params); err != nil {
		e.logger.Printf("notification handler for %q failed: %v", msg.Method, err)
	}
}

// RegisterRequestHandler installs an additional request handler after the
// engine has been built, replacing any handler already registered for
// method.
func (e *Engine) RegisterRequestHandler(method string, h RequestHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.requestHandlers[method] = h
}

// HasRequestHandler reports whether method has a registered handler.
func (e *Engine) HasRequestHandler(method string) bool {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	_, ok := e.requestHandlers[method]
	return ok
}

// RegisterNotificationHandler installs an additional notification handler
// after the engine has been built.
func (e *Engine) RegisterNotificationHandler(method string, h NotificationHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.notifyHandlers[method] = h
}

// Close closes the underlying transport.
func (e *Engine) Close() error {
	return e.transport.Close()
}
