package lsp

import (
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

// State is the lifecycle state of a Client.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// ClientOptions configure a Client.
type ClientOptions struct {
	// Command and Args start the server process in Start.
	Command string
	Args    []string
	// Timeout bounds the initialize handshake and shutdown. Zero means 10s.
	Timeout time.Duration
	// RootURI is sent in the initialize request.
	RootURI string
	// ClientName is sent as clientInfo.name.
	ClientName string
}

// Client is the language client that talks to the companion server.
// Notifications are only sent once the client is Running.
type Client struct {
	opts   ClientOptions
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	transport *transport
	cmd       *exec.Cmd
	handlers  map[string]NotificationHandler
	listeners map[int]func(State)
	nextSub   int
}

// NewClient creates a stopped client. If logger is nil, a discard logger
// is used.
func NewClient(opts ClientOptions, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		opts:      opts,
		logger:    logger,
		handlers:  make(map[string]NotificationHandler),
		listeners: make(map[int]func(State)),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsRunning reports whether the handshake has completed.
func (c *Client) IsRunning() bool {
	return c.State() == StateRunning
}

// OnStateChange subscribes fn to state transitions. The returned function
// removes the subscription.
func (c *Client) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// OnNotification registers a handler for a server notification. Handlers
// run on the read loop and must not block on calls to the server.
func (c *Client) OnNotification(method string, handler NotificationHandler) {
	c.mu.Lock()
	c.handlers[method] = handler
	t := c.transport
	c.mu.Unlock()
	if t != nil {
		t.onNotification(method, handler)
	}
}

// Notify sends a fire-and-forget notification. It returns ErrNotRunning
// unless the client is Running.
func (c *Client) Notify(method string, params any) error {
	c.mu.Lock()
	t, state := c.transport, c.state
	c.mu.Unlock()
	if state != StateRunning || t == nil {
		return ErrNotRunning
	}
	return t.notify(method, params)
}

// Call sends a request and waits for the response. It returns
// ErrNotRunning unless the client is Running.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	t, state := c.transport, c.state
	c.mu.Unlock()
	if state != StateRunning || t == nil {
		return ErrNotRunning
	}
	return t.call(ctx, method, params, result)
}

// Start launches the configured server command and connects to it.
func (c *Client) Start(ctx context.Context) error {
	if c.opts.Command == "" {
		return errors.New("no language server command configured")
	}

	cmd := exec.Command(c.opts.Command, c.opts.Args...) //nolint:gosec // command comes from configuration
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start language server: %w", err)
	}
	c.logger.Info("language server process started",
		slog.String("command", c.opts.Command),
		slog.Int("pid", cmd.Process.Pid))

	c.mu.Lock()
	c.cmd = cmd
	c.mu.Unlock()

	return c.Connect(ctx, &pipeConn{Reader: stdout, WriteCloser: stdin})
}

// Connect performs the initialize handshake over rwc and moves the client
// to Running.
func (c *Client) Connect(ctx context.Context, rwc io.ReadWriteCloser) error {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return fmt.Errorf("client is %s", c.state)
	}
	t := newTransport(rwc, c.logger)
	for method, h := range c.handlers {
		t.onNotification(method, h)
	}
	c.transport = t
	c.mu.Unlock()

	c.setState(StateStarting)
	t.start(func() { c.disconnected(t) })

	hctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var result InitializeResult
	params := InitializeParams{
		ProcessID:  os.Getpid(),
		RootURI:    c.opts.RootURI,
		ClientInfo: &ClientInfo{Name: c.opts.ClientName},
	}
	if err := t.call(hctx, MethodInitialize, params, &result); err != nil {
		_ = t.close()
		c.setState(StateStopped)
		return fmt.Errorf("initialize: %w", err)
	}
	if err := t.notify(MethodInitialized, struct{}{}); err != nil {
		_ = t.close()
		c.setState(StateStopped)
		return fmt.Errorf("initialized: %w", err)
	}

	name := ""
	if result.ServerInfo != nil {
		name = result.ServerInfo.Name
	}
	c.logger.Info("language server running", slog.String("server", name))
	c.setState(StateRunning)
	return nil
}

// Stop shuts the server down and releases the connection.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	t, cmd, state := c.transport, c.cmd, c.state
	c.mu.Unlock()
	if t == nil || state == StateStopped {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	if err := t.call(sctx, MethodShutdown, nil, nil); err != nil {
		c.logger.Warn("shutdown request failed", slog.String("error", err.Error()))
	}
	_ = t.notify(MethodExit, nil)
	err := t.close()
	c.setState(StateStopped)

	if cmd != nil {
		if werr := cmd.Wait(); werr != nil {
			c.logger.Debug("language server exited", slog.String("error", werr.Error()))
		}
	}
	return err
}

func (c *Client) disconnected(t *transport) {
	c.mu.Lock()
	current := c.transport == t
	c.mu.Unlock()
	if !current {
		return
	}
	_ = t.close()
	if c.State() != StateStopped {
		c.logger.Warn("language server connection closed")
		c.setState(StateStopped)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	listeners := make([]func(State), 0, len(c.listeners))
	for id := 0; id < c.nextSub; id++ {
		if fn, ok := c.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	c.mu.Unlock()

	c.logger.Debug("language client state", slog.String("state", s.String()))
	for _, fn := range listeners {
		fn(s)
	}
}

// pipeConn joins a process's stdout and stdin.
type pipeConn struct {
	io.Reader
	io.WriteCloser
}

// DecodeParams unmarshals notification params into v.
func DecodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing params")
	}
	return json.Unmarshal(raw, v)
}
