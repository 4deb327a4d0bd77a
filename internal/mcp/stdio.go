package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrTransportClosed is returned for requests that were pending or
// issued after the subprocess exited.
var ErrTransportClosed = errors.New("mcp transport closed")

// StdioConfig configures a transport that runs the MCP server as a
// subprocess and exchanges newline-delimited JSON-RPC on stdin/stdout.
type StdioConfig struct {
	Command string
	Args    []string

	// Env entries ("KEY=VALUE") are appended to the current environment.
	Env []string

	Logger *slog.Logger
}

// StdioTransport talks to an MCP server subprocess. A single reader
// goroutine routes responses to waiting callers by request id, so a
// caller whose context is cancelled stops waiting without disturbing
// the subprocess or other in-flight calls.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	mu    sync.Mutex // guards process state and stdin writes
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{} // closed when the reader goroutine exits

	pendMu  sync.Mutex
	pending map[int64]chan *Response
}

// NewStdioTransport creates a stdio transport. The subprocess starts on
// the first Send or Notify and is restarted if it has exited.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config:  cfg,
		logger:  logger,
		pending: make(map[int64]chan *Response),
	}
}

// running reports whether the subprocess reader is alive. Caller must hold t.mu.
func (t *StdioTransport) running() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// start launches the subprocess if it is not running. Caller must hold t.mu.
func (t *StdioTransport) start() error {
	if t.running() {
		return nil
	}
	t.reap()

	t.logger.Info("starting MCP subprocess",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start subprocess %s: %w", t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.done = make(chan struct{})

	go t.drainStderr(stderr)
	go t.readLoop(stdout, t.done)

	t.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)
	return nil
}

func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
}

// readLoop dispatches each stdout line to the caller waiting on its id.
// When stdout closes every pending caller is released.
func (t *StdioTransport) readLoop(stdout io.Reader, done chan struct{}) {
	defer close(done)
	defer t.failPending()

	reader := bufio.NewReaderSize(stdout, 1<<20)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			t.dispatch(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Warn("MCP subprocess read failed", "error", err)
			}
			return
		}
	}
}

func (t *StdioTransport) dispatch(line []byte) {
	resp, ok, err := decodeResponse(line)
	if err != nil {
		t.logger.Debug("skipping non-JSON line from MCP subprocess", "line", string(line))
		return
	}
	if !ok {
		return
	}

	t.pendMu.Lock()
	ch, found := t.pending[resp.ID]
	delete(t.pending, resp.ID)
	t.pendMu.Unlock()

	if !found {
		t.logger.Debug("discarding MCP response with no waiting caller", "id", resp.ID)
		return
	}
	ch <- resp
}

func (t *StdioTransport) failPending() {
	t.pendMu.Lock()
	defer t.pendMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

func (t *StdioTransport) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to subprocess stdin: %w", err)
	}
	return nil
}

// Send writes req to the subprocess and waits for the response with the
// same id, or for ctx to end.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	ch := make(chan *Response, 1)

	t.mu.Lock()
	if err := t.start(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.pendMu.Lock()
	t.pending[req.ID] = ch
	t.pendMu.Unlock()
	if err := t.write(req); err != nil {
		t.forget(req.ID)
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		t.forget(req.ID)
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", req.Method, ErrTransportClosed)
		}
		return resp, nil
	}
}

func (t *StdioTransport) forget(id int64) {
	t.pendMu.Lock()
	delete(t.pending, id)
	t.pendMu.Unlock()
}

// Notify writes a notification to the subprocess.
func (t *StdioTransport) Notify(ctx context.Context, notif *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.start(); err != nil {
		return err
	}
	return t.write(notif)
}

// Close terminates the subprocess.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop()
}

// stop closes stdin, waits briefly for a clean exit, then kills.
// Caller must hold t.mu.
func (t *StdioTransport) stop() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	t.logger.Info("stopping MCP subprocess", "pid", t.cmd.Process.Pid)

	if t.stdin != nil {
		t.stdin.Close()
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- t.cmd.Wait() }()

	var err error
	select {
	case err = <-waitDone:
	case <-time.After(5 * time.Second):
		t.logger.Warn("MCP subprocess did not exit gracefully, killing", "pid", t.cmd.Process.Pid)
		_ = t.cmd.Process.Kill()
		<-waitDone
	}
	t.cmd = nil
	t.stdin = nil
	return err
}

// reap collects an exited subprocess before a restart. Caller must hold t.mu.
func (t *StdioTransport) reap() {
	if t.cmd == nil {
		return
	}
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	_ = t.cmd.Wait()
	t.cmd = nil
	t.stdin = nil
}
