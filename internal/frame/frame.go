// Package frame models embedded task documents attached to the host. A Frame
// is the Go counterpart of an iframe element: it has an id, the source URL the
// document was loaded from, a Window to exchange messages with it, and a
// presentation height the host lays it out with.
package frame

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskbridge/internal/channel"
)

// Frame is one attached embedded document.
type Frame struct {
	id     string
	src    string
	window channel.Window

	mu     sync.RWMutex
	height int
}

// New creates a frame for an embedded document reachable through w.
func New(id, src string, w channel.Window) *Frame {
	return &Frame{id: id, src: src, window: w}
}

func (f *Frame) ID() string             { return f.id }
func (f *Frame) Src() string            { return f.src }
func (f *Frame) Window() channel.Window { return f.window }

// Height returns the last presentation height in pixels; 0 when never set.
func (f *Frame) Height() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.height
}

// SetHeight updates the presentation height.
func (f *Frame) SetHeight(px int) {
	f.mu.Lock()
	f.height = px
	f.mu.Unlock()

	log.Debug().Str("frame_id", f.id).Int("height", px).Msg("frame resized")
}

// Directory indexes attached frames by id.
type Directory struct {
	mu       sync.RWMutex
	frames   map[string]*Frame
	onChange func(attached int)
}

func NewDirectory() *Directory {
	return &Directory{frames: make(map[string]*Frame)}
}

// Attach registers f, replacing any frame with the same id. The replaced
// frame is returned.
func (d *Directory) Attach(f *Frame) (*Frame, bool) {
	d.mu.Lock()
	prev, ok := d.frames[f.id]
	d.frames[f.id] = f
	n, hook := len(d.frames), d.onChange
	d.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return prev, ok
}

// Detach removes f only if it is still the frame registered under its id,
// so a late disconnect of a replaced frame leaves its successor alone.
func (d *Directory) Detach(f *Frame) bool {
	d.mu.Lock()
	cur, ok := d.frames[f.id]
	if !ok || cur != f {
		d.mu.Unlock()
		return false
	}
	delete(d.frames, f.id)
	n, hook := len(d.frames), d.onChange
	d.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return true
}

// OnChange installs fn, called with the number of attached frames after
// every attach or detach.
func (d *Directory) OnChange(fn func(attached int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

// Lookup finds the frame with the given id.
func (d *Directory) Lookup(id string) (*Frame, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.frames[id]
	return f, ok
}

// Len returns the number of attached frames.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.frames)
}
