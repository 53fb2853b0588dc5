// Package channel implements scoped, transactional RPC channels over a
// message Window. The wire format and handshake are compatible with jschannel,
// so a Go host can talk to task documents built on that library.
//
// A Channel becomes ready once both sides have exchanged the "__ready"
// ping/pong. Outbound calls issued before that are queued and flushed in order.
// Every write to the window happens on the channel's own sender goroutine, so
// a peer that stops reading never blocks the caller.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AnyOrigin accepts messages from every origin.
const AnyOrigin = "*"

// Handler serves an inbound request. The returned value completes the
// transaction unless tx.DelayReturn(true) was called, in which case the
// handler (or something it started) must call tx.Complete or tx.Error.
type Handler func(tx *Transaction, params json.RawMessage) (any, error)

// Options configures Build.
type Options struct {
	Window  Window
	Origin  string
	Scope   string
	OnReady func()
}

// CallOptions describes one outbound call. Success receives the raw result,
// which is nil when the remote completed without a value.
type CallOptions struct {
	Method  string
	Params  any
	Timeout time.Duration
	Success func(result json.RawMessage)
	Error   func(err error)
}

type pendingCall struct {
	opts  CallOptions
	timer *time.Timer
}

// outbound is one datagram waiting for the sender. fail runs on the sender
// goroutine when the window rejects it.
type outbound struct {
	data []byte
	fail func(error)
}

// Channel is one logical duplex pipe identified by its scope.
type Channel struct {
	window  Window
	origin  string
	scope   string
	onReady func()

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}

	mu        sync.Mutex
	ready     bool
	destroyed bool
	stop      func()
	nextID    uint64
	handlers  map[string]Handler
	pending   map[uint64]*pendingCall
	inflight  map[uint64]*Transaction
	outbox    []outbound // held until ready
	sendq     []outbound // handed to the sender
}

// Build starts listening on the window and initiates the ready handshake.
// It never writes to the window itself.
func Build(opts Options) *Channel {
	origin := opts.Origin
	if origin == "" {
		origin = AnyOrigin
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		window:   opts.Window,
		origin:   origin,
		scope:    opts.Scope,
		onReady:  opts.OnReady,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		nextID:   uint64(rand.IntN(1000000)) + 1, //nolint:gosec // transaction ids need not be unpredictable
		handlers: make(map[string]Handler),
		pending:  make(map[uint64]*pendingCall),
		inflight: make(map[uint64]*Transaction),
	}

	c.mu.Lock()
	c.stop = opts.Window.Listen(c.receive)
	c.mu.Unlock()

	go c.sendLoop()

	if err := c.Notify(readyMethod, readyPing); err != nil {
		log.Debug().Err(err).Str("scope", c.scope).Msg("channel: queue ready ping")
	}

	return c
}

// Scope returns the scope identifier the channel was built with.
func (c *Channel) Scope() string { return c.scope }

// Ready reports whether the handshake has completed.
func (c *Channel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Bind registers the handler for method. Bindings are permanent for the
// lifetime of the channel.
func (c *Channel) Bind(method string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return fmt.Errorf("channel.Channel.Bind(%q): %w", method, ErrDestroyed)
	}
	if method == readyMethod {
		return fmt.Errorf("channel.Channel.Bind(%q): reserved method name", method)
	}
	if _, exists := c.handlers[method]; exists {
		return fmt.Errorf("channel.Channel.Bind(%q): %w", method, ErrAlreadyBound)
	}

	c.handlers[method] = h
	return nil
}

// Call issues an asynchronous request. Exactly one of Success or Error fires,
// unless the channel is destroyed first, in which case neither does.
func (c *Channel) Call(opts CallOptions) {
	msg := message{Method: scopeMethod(c.scope, opts.Method)}
	if opts.Params != nil {
		raw, err := json.Marshal(opts.Params)
		if err != nil {
			c.failAsync(opts, fmt.Errorf("channel.Channel.Call(%q): marshal params: %w", opts.Method, err))
			return
		}
		msg.Params = raw
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		c.failAsync(opts, fmt.Errorf("channel.Channel.Call(%q): %w", opts.Method, ErrDestroyed))
		return
	}

	id := c.nextID
	c.nextID++
	msg.ID = id

	pc := &pendingCall{opts: opts}
	if opts.Timeout > 0 {
		pc.timer = time.AfterFunc(opts.Timeout, func() { c.expire(id) })
	}
	c.pending[id] = pc

	data, err := json.Marshal(msg)
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		pc.stopTimer()
		c.failAsync(opts, fmt.Errorf("channel.Channel.Call(%q): %w", opts.Method, err))
		return
	}

	out := outbound{data: data, fail: func(postErr error) {
		c.abort(id, fmt.Errorf("channel.Channel.Call(%q): %w", opts.Method, postErr))
	}}
	if c.ready {
		c.enqueueLocked(out)
	} else {
		c.outbox = append(c.outbox, out)
	}
	c.mu.Unlock()
}

// Notify queues a request that expects no response. Like calls, it is held
// until the channel is ready, except for the "__ready" handshake itself.
// Delivery failures are logged, not returned.
func (c *Channel) Notify(method string, params any) error {
	data, err := c.encodeNotification(method, params)
	if err != nil {
		return fmt.Errorf("channel.Channel.Notify(%q): %w", method, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return fmt.Errorf("channel.Channel.Notify(%q): %w", method, ErrDestroyed)
	}
	out := outbound{data: data, fail: c.logFailure("post notification "+method)}
	if c.ready || method == readyMethod {
		c.enqueueLocked(out)
	} else {
		c.outbox = append(c.outbox, out)
	}
	return nil
}

// Destroy stops listening, drops every binding and orphans pending calls.
// Safe to call more than once.
func (c *Channel) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	stop := c.stop
	for _, pc := range c.pending {
		pc.stopTimer()
	}
	c.pending = make(map[uint64]*pendingCall)
	c.inflight = make(map[uint64]*Transaction)
	c.handlers = make(map[string]Handler)
	c.outbox = nil
	c.sendq = nil
	c.mu.Unlock()

	c.cancel()
	if stop != nil {
		stop()
	}
}

func (c *Channel) receive(data []byte, origin string) {
	if c.origin != AnyOrigin && origin != c.origin {
		log.Debug().Str("scope", c.scope).Str("origin", origin).Msg("channel: dropped message from foreign origin")
		return
	}

	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().Err(err).Str("scope", c.scope).Msg("channel: dropped malformed message")
		return
	}

	switch {
	case msg.Method != "":
		method, ok := unscopeMethod(c.scope, msg.Method)
		if !ok {
			return
		}
		if method == readyMethod {
			c.handleReady(msg.Params)
			return
		}
		c.handleRequest(method, &msg)
	case msg.isResponse():
		c.handleResponse(&msg)
	}
}

func (c *Channel) handleReady(params json.RawMessage) {
	var kind string
	_ = json.Unmarshal(params, &kind)

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	// A ping after ready means the peer rebuilt its side of the channel.
	if kind == readyPing {
		c.enqueuePongLocked()
	}
	if c.ready {
		c.mu.Unlock()
		return
	}
	c.ready = true
	for _, out := range c.outbox {
		c.enqueueLocked(out)
	}
	c.outbox = nil
	c.mu.Unlock()

	if c.onReady != nil {
		c.onReady()
	}
}

func (c *Channel) enqueuePongLocked() {
	data, err := c.encodeNotification(readyMethod, readyPong)
	if err != nil {
		log.Error().Err(err).Str("scope", c.scope).Msg("channel: marshal pong")
		return
	}
	c.enqueueLocked(outbound{data: data, fail: c.logFailure("post pong")})
}

func (c *Channel) handleRequest(method string, msg *message) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	h, ok := c.handlers[method]
	if !ok {
		c.mu.Unlock()
		if msg.isRequest() {
			c.respond(message{
				ID:      msg.ID,
				Error:   CodeMethodNotFound,
				Message: fmt.Sprintf("No method '%s' was (yet) bound by the provider", method),
			})
		}
		return
	}

	tx := &Transaction{ch: c, id: msg.ID, method: method}
	if msg.isRequest() {
		c.inflight[msg.ID] = tx
	}
	c.mu.Unlock()

	go c.invoke(tx, h, msg.Params)
}

func (c *Channel) invoke(tx *Transaction, h Handler, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("method", tx.Method()).Uint64("tx_id", tx.ID()).Interface("panic", r).Msg("channel: handler panicked")
			tx.Error(CodeRuntime, fmt.Sprint(r))
		}
	}()

	v, err := h(tx, params)
	if tx.delayed() {
		return
	}
	if err != nil {
		tx.fail(err)
		return
	}
	tx.Complete(v)
}

func (c *Channel) handleResponse(msg *message) {
	c.mu.Lock()
	pc, ok := c.pending[msg.ID]
	if !ok || c.destroyed {
		c.mu.Unlock()
		return
	}
	delete(c.pending, msg.ID)
	c.mu.Unlock()

	pc.stopTimer()

	if msg.Error != "" {
		if pc.opts.Error != nil {
			pc.opts.Error(&CallError{Method: pc.opts.Method, Code: msg.Error, Message: msg.Message})
		}
		return
	}
	if pc.opts.Success != nil {
		pc.opts.Success(msg.Result)
	}
}

func (c *Channel) expire(id uint64) {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if !ok || c.destroyed {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()

	if pc.opts.Error != nil {
		pc.opts.Error(&CallError{
			Method:  pc.opts.Method,
			Code:    CodeTimeout,
			Message: fmt.Sprintf("timeout (%dms) exceeded on method '%s'", pc.opts.Timeout.Milliseconds(), pc.opts.Method),
		})
	}
}

// abort fails a pending call whose request could not be posted.
func (c *Channel) abort(id uint64, err error) {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()

	pc.stopTimer()
	if pc.opts.Error != nil {
		pc.opts.Error(err)
	}
}

// respond queues a response for an inbound transaction. Responses are not
// held for the handshake.
func (c *Channel) respond(msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("scope", c.scope).Msg("channel: marshal response")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return
	}
	delete(c.inflight, msg.ID)
	c.enqueueLocked(outbound{data: data, fail: c.logFailure("post response")})
}

func (c *Channel) encodeNotification(method string, params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(message{Method: scopeMethod(c.scope, method), Params: raw})
}

func (c *Channel) enqueueLocked(out outbound) {
	c.sendq = append(c.sendq, out)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// sendLoop writes queued datagrams in order until the channel is destroyed.
// A stalled write only delays later datagrams; pending calls still expire on
// their own timers.
func (c *Channel) sendLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}

		c.mu.Lock()
		batch := c.sendq
		c.sendq = nil
		c.mu.Unlock()

		for _, out := range batch {
			if c.ctx.Err() != nil {
				return
			}
			if err := c.window.PostMessage(c.ctx, out.data); err != nil {
				out.fail(err)
			}
		}
	}
}

func (c *Channel) logFailure(what string) func(error) {
	return func(err error) {
		log.Debug().Err(err).Str("scope", c.scope).Msg("channel: " + what)
	}
}

func (c *Channel) failAsync(opts CallOptions, err error) {
	if opts.Error == nil {
		return
	}
	go opts.Error(err)
}

func (pc *pendingCall) stopTimer() {
	if pc.timer != nil {
		pc.timer.Stop()
	}
}
