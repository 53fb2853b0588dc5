package taskproxy

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskbridge/internal/frame"
	"github.com/gosuda/taskbridge/internal/platform"
)

// FrameLocator resolves frame ids to attached frames.
type FrameLocator interface {
	Lookup(id string) (*frame.Frame, bool)
}

type entry struct {
	proxy *Proxy
	ready *Call[*Proxy]
}

// Registry keeps at most one Proxy per frame id, plus the platform adapters
// registered for those frames.
type Registry struct {
	frames FrameLocator
	cfg    proxyConfig

	mu        sync.Mutex
	entries   map[string]*entry
	platforms map[string]platform.Adapter
}

// Option configures a Registry.
type Option func(*Registry)

// WithChannelBuilder replaces the channel constructor used for new proxies.
func WithChannelBuilder(b ChannelBuilder) Option {
	return func(r *Registry) { r.cfg.build = b }
}

// WithHandshakeTick sets the handshake watchdog interval.
func WithHandshakeTick(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.cfg.tick = d
		}
	}
}

// WithObserver reports proxy events to o.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.cfg.observer = o
		}
	}
}

// NewRegistry creates an empty registry resolving frames through frames.
func NewRegistry(frames FrameLocator, opts ...Option) *Registry {
	r := &Registry{
		frames: frames,
		cfg: proxyConfig{
			build:    buildChannel,
			tick:     defaultHandshakeTick,
			observer: nopObserver{},
		},
		entries:   make(map[string]*entry),
		platforms: make(map[string]platform.Adapter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the proxy of frameID, creating it and waiting for its
// handshake when none exists. With force, an existing proxy is destroyed
// first. Continuations run asynchronously and may be nil; a nil failure
// continuation logs the error.
func (r *Registry) GetOrCreate(frameID string, force bool, success func(*Proxy), failure func(error)) *Call[*Proxy] {
	result := newCall[*Proxy]()
	if failure == nil {
		failure = func(err error) {
			log.Error().Err(err).Str("frame_id", frameID).Msg("task proxy unavailable")
		}
	}
	deliver := func(p *Proxy, err error) {
		if !result.resolve(p, err) {
			return
		}
		if err != nil {
			failure(err)
			return
		}
		if success != nil {
			success(p)
		}
	}

	if force {
		r.Reset(frameID)
	}

	r.mu.Lock()
	if e, ok := r.entries[frameID]; ok {
		r.mu.Unlock()
		e.ready.whenDone(deliver)
		return result
	}

	f, ok := r.frames.Lookup(frameID)
	if !ok {
		r.mu.Unlock()
		go deliver(nil, fmt.Errorf("taskproxy.Registry.GetOrCreate(%q): %w", frameID, ErrFrameNotFound))
		return result
	}

	e := &entry{proxy: newProxy(f, r.cfg.observer), ready: newCall[*Proxy]()}
	r.entries[frameID] = e
	n := len(r.entries)
	r.mu.Unlock()

	r.cfg.observer.ProxiesChanged(n)
	log.Debug().Str("frame_id", frameID).Str("scope", ScopeFromSource(f.Src())).Msg("task proxy created")

	e.ready.whenDone(deliver)
	e.proxy.start(r.cfg,
		func() { r.handshakeDone(frameID, e, nil) },
		func(err error) { r.handshakeDone(frameID, e, err) },
	)
	return result
}

func (r *Registry) handshakeDone(frameID string, e *entry, err error) {
	if err != nil {
		r.mu.Lock()
		removed := r.entries[frameID] == e
		if removed {
			delete(r.entries, frameID)
		}
		n := len(r.entries)
		r.mu.Unlock()

		e.proxy.destroy()
		if removed {
			r.cfg.observer.ProxiesChanged(n)
		}
		log.Warn().Err(err).Str("frame_id", frameID).Msg("task handshake failed")
		e.ready.resolve(nil, err)
		return
	}

	r.mu.Lock()
	current := r.entries[frameID] == e
	adapter, hasPlatform := r.platforms[frameID]
	r.mu.Unlock()

	if !current {
		return
	}
	if hasPlatform {
		e.proxy.SetPlatform(adapter)
	}
	e.ready.resolve(e.proxy, nil)
}

// RegisterPlatform stores adapter for frameID and attaches it to the live
// proxy, if any. Proxies created later pick it up once ready.
func (r *Registry) RegisterPlatform(frameID string, adapter platform.Adapter) {
	r.mu.Lock()
	r.platforms[frameID] = adapter
	e := r.entries[frameID]
	r.mu.Unlock()

	if e != nil {
		e.proxy.SetPlatform(adapter)
	}
}

// Delete destroys the proxy of frameID and forgets its platform. Deleting an
// unknown frame is a no-op.
func (r *Registry) Delete(frameID string) {
	r.remove(frameID, true)
}

// Reset destroys the proxy of frameID but keeps its platform registration,
// for frames that reconnect under the same id.
func (r *Registry) Reset(frameID string) {
	r.remove(frameID, false)
}

func (r *Registry) remove(frameID string, dropPlatform bool) {
	r.mu.Lock()
	e, ok := r.entries[frameID]
	delete(r.entries, frameID)
	if dropPlatform {
		delete(r.platforms, frameID)
	}
	n := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return
	}

	e.proxy.destroy()
	e.ready.resolve(nil, fmt.Errorf("taskproxy.Registry.Delete(%q): %w", frameID, ErrProxyClosed))
	r.cfg.observer.ProxiesChanged(n)
	log.Debug().Str("frame_id", frameID).Msg("task proxy deleted")
}

// Get returns the proxy of frameID in whatever state it is.
func (r *Registry) Get(frameID string) (*Proxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[frameID]
	if !ok {
		return nil, false
	}
	return e.proxy, true
}

// Len returns the number of live proxies.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close deletes every proxy.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Delete(id)
	}
}
