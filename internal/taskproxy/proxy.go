// Package taskproxy drives task documents embedded in frames. A Proxy owns
// the channel to one frame: it performs the ready handshake, exposes the
// task.* methods as asynchronous calls and serves platform.* callbacks from
// the attached platform.Adapter. The Registry keeps at most one Proxy per
// frame id.
package taskproxy

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gosuda/taskbridge/internal/channel"
	"github.com/gosuda/taskbridge/internal/frame"
	"github.com/gosuda/taskbridge/internal/platform"
)

const (
	defaultHandshakeTick = time.Second

	// handshakeMaxTicks is the number of ticks tolerated without a ready
	// signal; the handshake fails on the next one.
	handshakeMaxTicks = 15
)

var (
	// ErrHandshakeTimeout is reported when a frame never signals ready.
	ErrHandshakeTimeout = errors.New("taskproxy: handshake timed out") //nolint:gochecknoglobals // sentinel error

	// ErrFrameNotFound is reported when no frame is attached under the id.
	ErrFrameNotFound = errors.New("taskproxy: frame not found") //nolint:gochecknoglobals // sentinel error

	// ErrProxyClosed is reported to callers waiting on a proxy that was
	// deleted before its handshake finished.
	ErrProxyClosed = errors.New("taskproxy: proxy closed") //nolint:gochecknoglobals // sentinel error

	// ErrNotConnected is reported by calls issued before the channel exists.
	ErrNotConnected = errors.New("taskproxy: channel not built yet") //nolint:gochecknoglobals // sentinel error
)

// State is the handshake state of a Proxy.
type State int

const (
	StateConnecting State = iota
	StateReady
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Channel is the subset of *channel.Channel a Proxy relies on.
type Channel interface {
	Bind(method string, h channel.Handler) error
	Call(opts channel.CallOptions)
	Destroy()
}

// ChannelBuilder constructs the channel for a new proxy. Builders must not
// block on the window and must deliver OnReady asynchronously, never from
// inside the builder call.
type ChannelBuilder func(opts channel.Options) Channel

func buildChannel(opts channel.Options) Channel {
	return channel.Build(opts)
}

type proxyConfig struct {
	build    ChannelBuilder
	tick     time.Duration
	observer Observer
}

// Proxy is the host-side handle of one embedded task document.
type Proxy struct {
	frame    *frame.Frame
	observer Observer
	started  time.Time

	mu            sync.Mutex
	ch            Channel
	state         State
	ticker        *time.Ticker
	stopTicker    chan struct{}
	ticks         int
	readyEarly    bool // OnReady fired before the builder returned
	destroyed     bool
	platformBound bool
	platform      platform.Adapter
}

var _ platform.Resizer = (*Proxy)(nil)

func newProxy(f *frame.Frame, observer Observer) *Proxy {
	return &Proxy{
		frame:    f,
		observer: observer,
		started:  time.Now(),
		state:    StateConnecting,
	}
}

// start arms the handshake watchdog, then builds the channel without holding
// p.mu. Exactly one of onReady or onError fires, unless the proxy is
// destroyed first.
func (p *Proxy) start(cfg proxyConfig, onReady func(), onError func(error)) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.ticker = time.NewTicker(cfg.tick)
	p.stopTicker = make(chan struct{})
	go p.watchHandshake(p.ticker, p.stopTicker, onError)
	p.mu.Unlock()

	ch := cfg.build(channel.Options{
		Window:  p.frame.Window(),
		Origin:  channel.AnyOrigin,
		Scope:   ScopeFromSource(p.frame.Src()),
		OnReady: func() { p.markReady(onReady) },
	})

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		ch.Destroy()
		return
	}
	p.ch = ch
	bind := p.platform != nil && !p.platformBound
	p.platformBound = p.platformBound || bind
	early := p.readyEarly
	p.mu.Unlock()

	if bind {
		p.bindPlatform(ch)
	}
	if early {
		p.markReady(onReady)
	}
}

// ScopeFromSource extracts the channelId query parameter of a frame source
// URL. Unparseable URLs yield an empty scope.
func ScopeFromSource(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	return u.Query().Get("channelId")
}

func (p *Proxy) FrameID() string     { return p.frame.ID() }
func (p *Proxy) Frame() *frame.Frame { return p.frame }

// State returns the current handshake state.
func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Platform returns the adapter currently serving platform.* calls.
func (p *Proxy) Platform() platform.Adapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.platform
}

// Resize sets the presentation height of the proxied frame.
func (p *Proxy) Resize(px int) {
	p.frame.SetHeight(px)
}

// SetPlatform attaches adapter. The platform.* handlers are bound once, as
// soon as both an adapter and the channel exist; later calls swap the adapter
// the bound handlers use.
func (p *Proxy) SetPlatform(adapter platform.Adapter) {
	p.mu.Lock()
	p.platform = adapter
	if p.platformBound || p.destroyed || p.ch == nil {
		p.mu.Unlock()
		return
	}
	p.platformBound = true
	ch := p.ch
	p.mu.Unlock()

	p.bindPlatform(ch)
}

func (p *Proxy) channel() Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch
}

func (p *Proxy) watchHandshake(t *time.Ticker, stop <-chan struct{}, onError func(error)) {
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if p.tick(onError) {
				return
			}
		}
	}
}

// tick advances the handshake watchdog and reports whether it has finished.
func (p *Proxy) tick(onError func(error)) bool {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return true
	}
	p.ticks++
	if p.ticks <= handshakeMaxTicks {
		p.mu.Unlock()
		return false
	}
	p.cancelTickerLocked()
	p.state = StateTimedOut
	p.mu.Unlock()

	p.observer.HandshakeFinished(ErrHandshakeTimeout, time.Since(p.started))
	onError(fmt.Errorf("taskproxy: frame %q: %w", p.frame.ID(), ErrHandshakeTimeout))
	return true
}

func (p *Proxy) markReady(onReady func()) {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return
	}
	if p.ch == nil {
		p.readyEarly = true
		p.mu.Unlock()
		return
	}
	p.cancelTickerLocked()
	p.state = StateReady
	p.mu.Unlock()

	p.observer.HandshakeFinished(nil, time.Since(p.started))
	onReady()
}

func (p *Proxy) cancelTickerLocked() {
	p.ticker.Stop()
	close(p.stopTicker)
	p.ticker = nil
}

// destroy tears down the channel. Pending calls are orphaned and a running
// handshake is abandoned without firing either continuation.
func (p *Proxy) destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	if p.ticker != nil {
		p.cancelTickerLocked()
	}
	ch := p.ch
	p.mu.Unlock()

	if ch != nil {
		ch.Destroy()
	}
}
