// Package helperclient implements the Helper Client (spec §4.C): a framed,
// length-prefixed duplex channel to the External Helper subprocess, with
// request/response correlation, streaming progress frames, heartbeat, and
// reconnect behind a circuit breaker.
package helperclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/observability"
)

// TransportError indicates the underlying connection to the helper failed
// or was lost; callers may treat it as retryable.
type TransportError struct{ Err error }

func (e *TransportError) Error() string { return fmt.Sprintf("helper transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError indicates a request did not receive a terminal response
// within its budget.
type TimeoutError struct{ Command string }

func (e *TimeoutError) Error() string { return fmt.Sprintf("helper request timed out: %s", e.Command) }

// CommandError wraps an `{error}` terminal frame reported by the helper
// itself for a specific command.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string { return fmt.Sprintf("helper command %q failed: %s", e.Command, e.Message) }

type pendingRequest struct {
	command  string
	terminal chan Message
	progress func(Message)
}

// Client is the process-wide connection to the External Helper subprocess.
type Client struct {
	cfg     config.HelperConfig
	logger  *slog.Logger
	breaker *CircuitBreaker

	writeMu sync.Mutex
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	pending map[int64]*pendingRequest
	nextID  int64
	closed  bool

	readerDone chan struct{}
}

// New creates a Client. Call Start to spawn the helper and begin serving.
func New(cfg config.HelperConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		logger:  observability.WithComponent(logger, "helperclient"),
		breaker: NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		pending: make(map[int64]*pendingRequest),
	}
}

// Start spawns the helper subprocess, begins the reader loop, and starts
// the heartbeat loop, which runs until ctx is done. It makes a single
// spawn attempt and returns that attempt's error without retrying.
func (c *Client) Start(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return err
	}
	go c.heartbeatLoop(ctx)
	return nil
}

// connect launches the subprocess and (re)starts the reader goroutine.
func (c *Client) connect() error {
	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening helper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening helper stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting helper process: %w", err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout
	c.closed = false
	c.readerDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Info("helper connected", slog.String("command", c.cfg.Command))
	return nil
}

// readLoop continuously decodes frames from the helper's stdout and
// dispatches them to the correlated pending request.
func (c *Client) readLoop() {
	c.mu.Lock()
	stdout := c.stdout
	done := c.readerDone
	c.mu.Unlock()

	defer close(done)

	for {
		msg, err := readFrame(stdout)
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	id := msg.ID()
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok && msg.IsTerminal() {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	if !msg.IsTerminal() {
		if req.progress != nil {
			req.progress(msg)
		}
		return
	}

	req.terminal <- msg
}

// handleDisconnect fails all in-flight requests with a TransportError and
// schedules a reconnect (spec §4.C: "reject all in-flight requests... and
// schedule reconnect after 2s, capped retry").
func (c *Client) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	transportErr := &TransportError{Err: cause}
	for _, req := range pending {
		req.terminal <- Message{"error": transportErr.Error(), "transportError": true}
	}

	c.breaker.RecordFailure()
	c.logger.Warn("helper connection lost", slog.Any("error", cause))
	go c.reconnectLoop(context.Background())
}

// reconnectLoop retries connect with exponential backoff starting at
// cfg.ReconnectDelay, capped at cfg.ReconnectMaxDelay (spec §4.C).
func (c *Client) reconnectLoop(ctx context.Context) {
	delay := c.cfg.ReconnectDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	maxDelay := c.cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	attempt := 0
	for {
		attempt++
		if c.cfg.ReconnectMaxAttempts > 0 && attempt > c.cfg.ReconnectMaxAttempts {
			c.logger.Error("giving up reconnecting to helper", slog.Int("attempts", attempt-1))
			return
		}
		if !c.breaker.Allow() {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		if err := c.connect(); err != nil {
			c.breaker.RecordFailure()
			c.logger.Warn("helper reconnect attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))
			delay = minDuration(delay*2, maxDelay)
			continue
		}

		c.breaker.RecordSuccess()
		c.logger.Info("helper reconnected", slog.Int("attempt", attempt))
		return
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Call sends a request and blocks for its terminal response, using the
// default per-request timeout (60s) unless command is "download", which
// uses the download timeout (1h), per spec §4.C.
func (c *Client) Call(ctx context.Context, command string, payload map[string]any) (Message, error) {
	return c.call(ctx, command, payload, nil)
}

// CallStreaming is like Call but invokes onProgress for every intermediate
// `command: "progress"` frame before the terminal response arrives.
func (c *Client) CallStreaming(ctx context.Context, command string, payload map[string]any, onProgress func(Message)) (Message, error) {
	return c.call(ctx, command, payload, onProgress)
}

func (c *Client) call(ctx context.Context, command string, payload map[string]any, onProgress func(Message)) (Message, error) {
	if !c.breaker.Allow() {
		return nil, &TransportError{Err: ErrCircuitOpen}
	}

	id := atomic.AddInt64(&c.nextID, 1)
	req := &pendingRequest{command: command, terminal: make(chan Message, 1), progress: onProgress}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &TransportError{Err: fmt.Errorf("client closed")}
	}
	c.pending[id] = req
	c.mu.Unlock()

	if err := c.writeRequest(id, command, payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, &TransportError{Err: err}
	}

	timeout := c.cfg.RequestTimeout
	if command == "download" {
		timeout = c.cfg.DownloadTimeout
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-req.terminal:
		if msg.HasError() {
			c.breaker.RecordFailure()
			if transport, _ := msg["transportError"].(bool); transport {
				return msg, &TransportError{Err: fmt.Errorf("%s", msg.Error())}
			}
			return msg, &CommandError{Command: command, Message: msg.Error()}
		}
		c.breaker.RecordSuccess()
		return msg, nil
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.breaker.RecordFailure()
		return nil, &TimeoutError{Command: command}
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Client) writeRequest(id int64, command string, payload map[string]any) error {
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("helper not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(stdin, newRequest(id, command, payload))
}

// heartbeatLoop sends `{command: heartbeat}` every HeartbeatInterval; a
// missing or non-alive response within one heartbeat interval forces a
// disconnect to trigger reconnect (spec §4.C).
func (c *Client) heartbeatLoop(ctx context.Context) {
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, interval)
			msg, err := c.Call(hbCtx, "heartbeat", nil)
			cancel()
			if err != nil || !msg.Alive() {
				c.logger.Warn("heartbeat failed, forcing reconnect", slog.Any("error", err))
				c.forceDisconnect()
			}
		}
	}
}

// forceDisconnect closes the current transport, triggering the reader
// loop's disconnect handling and reconnect.
func (c *Client) forceDisconnect() {
	c.mu.Lock()
	stdin := c.stdin
	cmd := c.cmd
	c.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Close shuts down the client and its subprocess permanently.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	stdin := c.stdin
	cmd := c.cmd
	c.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	return nil
}

// State reports the Helper Client's circuit breaker state, used by the
// health endpoint to surface helper reachability without making a call.
func (c *Client) State() CircuitState {
	return c.breaker.State()
}
