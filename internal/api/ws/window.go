package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/gosuda/taskbridge/internal/channel"
)

// maxMessageSize bounds a single channel message read from a frame.
const maxMessageSize = 1 << 20

// Window is a channel.Window over one websocket connection. Inbound messages
// are attributed to the origin the connection was opened from.
type Window struct {
	conn   *websocket.Conn
	origin string

	mu        sync.Mutex
	listeners map[int]func([]byte, string)
	nextID    int
	closed    bool
}

var _ channel.Window = (*Window)(nil)

// NewWindow wraps conn. Call Run to start delivering inbound messages.
func NewWindow(conn *websocket.Conn, origin string) *Window {
	conn.SetReadLimit(maxMessageSize)
	return &Window{
		conn:      conn,
		origin:    origin,
		listeners: make(map[int]func([]byte, string)),
	}
}

func (w *Window) PostMessage(ctx context.Context, data []byte) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return channel.ErrWindowClosed
	}

	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("ws.Window.PostMessage: %w", err)
	}
	return nil
}

func (w *Window) Listen(fn func(data []byte, origin string)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

// Run reads messages until the connection ends and returns the reason. A
// normal closure by the peer returns nil.
func (w *Window) Run(ctx context.Context) error {
	defer func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
	}()

	for {
		typ, data, err := w.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("ws.Window.Run: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}

		w.mu.Lock()
		fns := make([]func([]byte, string), 0, len(w.listeners))
		for _, fn := range w.listeners {
			fns = append(fns, fn)
		}
		w.mu.Unlock()

		for _, fn := range fns {
			fn(data, w.origin)
		}
	}
}
