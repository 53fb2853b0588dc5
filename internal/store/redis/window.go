package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskbridge/internal/channel"
)

// Broker is the pub/sub surface a Window needs. *PubSub implements it.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

var _ Broker = (*PubSub)(nil)

// Side selects which end of a remote frame a Window represents.
type Side int

const (
	SideHost Side = iota
	SideTask
)

// envelope carries the sender's origin next to the channel message. It is
// CBOR-encoded with integer keys; Data stays the raw channel JSON.
type envelope struct {
	Origin string `cbor:"0,keyasint"`
	Data   []byte `cbor:"1,keyasint"`
}

// Window is a channel.Window over a pair of Redis channels, one per
// direction.
type Window struct {
	broker  Broker
	origin  string
	listen  string
	publish string

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup func()
	done    chan struct{}

	mu        sync.Mutex
	listeners map[int]func([]byte, string)
	nextID    int
}

var _ channel.Window = (*Window)(nil)

// NewWindow subscribes to the inbound channel of frameID for side. origin is
// stamped on every outgoing message.
func NewWindow(ctx context.Context, broker Broker, frameID string, side Side, origin string) (*Window, error) {
	listen, publish := HostChannel(frameID), TaskChannel(frameID)
	if side == SideTask {
		listen, publish = publish, listen
	}

	ctx, cancel := context.WithCancel(ctx)
	msgs, cleanup, err := broker.Subscribe(ctx, listen)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("redis.NewWindow: %w", err)
	}

	w := &Window{
		broker:    broker,
		origin:    origin,
		listen:    listen,
		publish:   publish,
		ctx:       ctx,
		cancel:    cancel,
		cleanup:   cleanup,
		done:      make(chan struct{}),
		listeners: make(map[int]func([]byte, string)),
	}
	go w.pump(msgs)

	return w, nil
}

func (w *Window) PostMessage(ctx context.Context, data []byte) error {
	if w.ctx.Err() != nil {
		return channel.ErrWindowClosed
	}

	payload, err := cbor.Marshal(envelope{Origin: w.origin, Data: data})
	if err != nil {
		return fmt.Errorf("redis.Window.PostMessage: %w", err)
	}
	if err := w.broker.Publish(ctx, w.publish, payload); err != nil {
		return fmt.Errorf("redis.Window.PostMessage: %w", err)
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

// Done is closed once the subscription has ended.
func (w *Window) Done() <-chan struct{} { return w.done }

// Close ends the subscription. Later posts fail with channel.ErrWindowClosed.
func (w *Window) Close() error {
	w.cancel()
	w.cleanup()
	return nil
}

func (w *Window) pump(msgs <-chan []byte) {
	defer close(w.done)

	for payload := range msgs {
		var env envelope
		if err := cbor.Unmarshal(payload, &env); err != nil {
			log.Debug().Err(err).Str("channel", w.listen).Msg("redis window: dropped malformed envelope")
			continue
		}

		w.mu.Lock()
		fns := make([]func([]byte, string), 0, len(w.listeners))
		for _, fn := range w.listeners {
			fns = append(fns, fn)
		}
		w.mu.Unlock()

		for _, fn := range fns {
			fn(env.Data, env.Origin)
		}
	}

	if err := w.ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("channel", w.listen).Msg("redis window: subscription ended")
	}
}
