package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
)

// NotificationHandler handles incoming notifications from the server.
type NotificationHandler func(method string, params json.RawMessage)

// transport is the client side of a JSON-RPC connection: it correlates
// responses with calls and routes server notifications to handlers.
type transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   atomic.Int64
	pending  map[int64]chan *Message
	handlers map[string]NotificationHandler

	closed atomic.Bool
	done   chan struct{}
}

func newTransport(rwc io.ReadWriteCloser, logger *slog.Logger) *transport {
	return &transport{
		reader:   bufio.NewReaderSize(rwc, 64*1024),
		writer:   rwc,
		closer:   rwc,
		logger:   logger,
		pending:  make(map[int64]chan *Message),
		handlers: make(map[string]NotificationHandler),
		done:     make(chan struct{}),
	}
}

// start begins reading messages. onExit runs once the read loop ends.
func (t *transport) start(onExit func()) {
	go func() {
		t.readLoop()
		if onExit != nil {
			onExit()
		}
	}()
}

func (t *transport) close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.done)

	// Waiters observe t.done; channels are not closed to avoid racing
	// with handleResponse.
	t.mu.Lock()
	t.pending = make(map[int64]chan *Message)
	t.mu.Unlock()

	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// call sends a request and waits for its response.
func (t *transport) call(ctx context.Context, method string, params any, result any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	id := t.nextID.Add(1)
	ch := make(chan *Message, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	body, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	rawID := json.RawMessage(strconv.FormatInt(id, 10))
	if err := t.send(&Message{ID: &rawID, Method: method, Params: body}); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrShutdown
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// notify sends a notification (no response expected).
func (t *transport) notify(method string, params any) error {
	if t.closed.Load() {
		return ErrShutdown
	}
	body, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	return t.send(&Message{Method: method, Params: body})
}

func (t *transport) onNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.handlers[method] = handler
	t.mu.Unlock()
}

func (t *transport) send(msg *Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeMessage(t.writer, msg)
}

func (t *transport) readLoop() {
	for {
		msg, err := readMessage(t.reader)
		if err != nil {
			if t.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("dropping malformed message", slog.String("error", err.Error()))
			continue
		}
		t.dispatch(msg)
	}
}

func (t *transport) dispatch(msg *Message) {
	if msg.IsResponse() {
		id, err := strconv.ParseInt(string(*msg.ID), 10, 64)
		if err != nil {
			return
		}
		t.mu.Lock()
		ch, ok := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
		return
	}

	if msg.Method == "" {
		return
	}

	t.mu.Lock()
	handler, ok := t.handlers[msg.Method]
	if !ok {
		handler, ok = t.handlers["*"]
	}
	t.mu.Unlock()

	if ok && handler != nil {
		handler(msg.Method, msg.Params)
	} else if msg.ID != nil {
		// Server-to-client requests are not supported.
		_ = t.send(&Message{ID: msg.ID, Error: &RPCError{Code: CodeMethodNotFound, Message: "Method not found: " + msg.Method}})
	}
}
