package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/scrypster/mcprt/internal/mcp/protocol"
)

// maxLineBuf bounds a single line of framed JSON read from a stdio peer.
const maxLineBuf = 4 * 1024 * 1024

// Three-phase graceful shutdown timings for ClientStdio.Close.
const (
	gracefulTimeout = 1000 * time.Millisecond
	sigtermTimeout  = 500 * time.Millisecond
)

// ServerStdio reads line-delimited JSON from in and writes line-delimited
// JSON to out. Framing: exactly one JSON object per line, terminated by
// '\n'. An empty line (EOF) yields (nil, nil) from Receive.
type ServerStdio struct {
	in     *bufio.Scanner
	out    io.Writer
	outMu  sync.Mutex
	logger *log.Logger
	closed bool
	mu     sync.Mutex
}

// NewServerStdio builds a stdio server transport over the given streams.
// Diagnostics go to logger, or to a stderr-backed default logger if nil —
// never to out, which carries the wire protocol.
func NewServerStdio(in io.Reader, out io.Writer, logger *log.Logger) *ServerStdio {
	if logger == nil {
		logger = log.New(os.Stderr, "mcp-stdio: ", log.LstdFlags)
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBuf)
	return &ServerStdio{in: scanner, out: out, logger: logger}
}

func (t *ServerStdio) Open(ctx context.Context) error { return nil }

func (t *ServerStdio) Send(ctx context.Context, msg *protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return Wrap(CodeInvalidMessage, err)
	}
	t.outMu.Lock()
	defer t.outMu.Unlock()
	if _, err := t.out.Write(append(data, '\n')); err != nil {
		return Wrap(CodeSendFailed, err)
	}
	return nil
}

func (t *ServerStdio) Receive(ctx context.Context) (*protocol.Message, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, nil
	}
	if !t.in.Scan() {
		if err := t.in.Err(); err != nil {
			return nil, Wrap(CodeReceiveFailed, err)
		}
		return nil, nil
	}
	line := t.in.Bytes()
	if len(line) == 0 {
		return nil, nil
	}
	msg, err := protocol.Unmarshal(line)
	if err != nil {
		t.logger.Printf("discarding unparsable line: %v", err)
		return nil, Wrap(CodeInvalidMessage, err)
	}
	return msg, nil
}

// Close makes later Receive calls return (nil, nil). A Receive already
// blocked reading from in is not interrupted; it returns only when in
// yields a line or EOF.
func (t *ServerStdio) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// ClientStdio owns a child process, communicating with it over its
// stdin/stdout. Open is NOT idempotent: it spawns the child exactly once.
type ClientStdio struct {
	program string
	args    []string
	logger  *log.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	opened bool
	closed bool
}

// NewClientStdio builds a client transport that will spawn program with
// args when Open is called.
func NewClientStdio(program string, args []string, logger *log.Logger) *ClientStdio {
	if logger == nil {
		logger = log.New(os.Stderr, "mcp-stdio-client: ", log.LstdFlags)
	}
	return &ClientStdio{program: program, args: args, logger: logger}
}

func (t *ClientStdio) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opened {
		return Wrap(CodeInvalidState, fmt.Errorf("stdio client already opened"))
	}
	cmd := exec.CommandContext(ctx, t.program, t.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Wrap(CodeConnectionFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Wrap(CodeConnectionFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return Wrap(CodeConnectionFailed, err)
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBuf)

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = scanner
	t.opened = true
	return nil
}

func (t *ClientStdio) Send(ctx context.Context, msg *protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.stdin == nil {
		return ErrConnectionClosed
	}
	data, err := protocol.Marshal(msg)
	if err != nil {
		return Wrap(CodeInvalidMessage, err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return Wrap(CodeSendFailed, err)
	}
	return nil
}

func (t *ClientStdio) Receive(ctx context.Context) (*protocol.Message, error) {
	t.mu.Lock()
	scanner := t.stdout
	closed := t.closed
	t.mu.Unlock()
	if closed || scanner == nil {
		return nil, nil
	}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, Wrap(CodeReceiveFailed, err)
		}
		return nil, nil
	}
	line := scanner.Bytes()
	if len(line) == 0 {
		return nil, nil
	}
	msg, err := protocol.Unmarshal(line)
	if err != nil {
		return nil, Wrap(CodeInvalidMessage, err)
	}
	return msg, nil
}

// Close implements the three-phase graceful shutdown: flush and drop stdin
// to signal EOF, wait up to gracefulTimeout for natural exit, send SIGTERM
// and wait up to sigtermTimeout, then force-kill. Safe to call more than
// once; the second call observes t.closed and returns immediately.
func (t *ClientStdio) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	stdin := t.stdin
	cmd := t.cmd
	t.stdin = nil
	t.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(gracefulTimeout):
	}

	t.logger.Printf("child did not exit within %s, sending terminate signal", gracefulTimeout)
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
		return nil
	case <-time.After(sigtermTimeout):
	}

	t.logger.Printf("child did not respond to terminate, forcing kill")
	_ = cmd.Process.Kill()
	<-done
	return nil
}
