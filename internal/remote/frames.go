// Package remote attaches task documents running in other processes. Their
// messages travel over a pair of Redis pub/sub channels per frame.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskbridge/internal/frame"
	redisstore "github.com/gosuda/taskbridge/internal/store/redis"
)

var errEmptyFrameID = errors.New("remote: empty frame id") //nolint:gochecknoglobals // sentinel error

// ProxyResetter drops the task proxy of a frame whose window changed.
// *taskproxy.Registry satisfies this interface.
type ProxyResetter interface {
	Reset(frameID string)
	Delete(frameID string)
}

type attached struct {
	frame  *frame.Frame
	window *redisstore.Window
}

// Frames keeps the remote frames this host attached.
type Frames struct {
	ctx     context.Context
	broker  redisstore.Broker
	frames  *frame.Directory
	proxies ProxyResetter
	origin  string

	mu       sync.Mutex
	attached map[string]attached
}

// NewFrames creates an empty set. Subscriptions live until ctx ends or the
// frame is detached. origin is stamped on messages sent to remote frames.
func NewFrames(ctx context.Context, broker redisstore.Broker, frames *frame.Directory, proxies ProxyResetter, origin string) *Frames {
	return &Frames{
		ctx:      ctx,
		broker:   broker,
		frames:   frames,
		proxies:  proxies,
		origin:   origin,
		attached: make(map[string]attached),
	}
}

// Attach subscribes to the host channel of frameID and registers the frame in
// the directory under src. Attaching an id twice replaces the previous frame.
func (r *Frames) Attach(frameID, src string) (*frame.Frame, error) {
	if frameID == "" {
		return nil, fmt.Errorf("remote.Frames.Attach: %w", errEmptyFrameID)
	}

	win, err := redisstore.NewWindow(r.ctx, r.broker, frameID, redisstore.SideHost, r.origin)
	if err != nil {
		return nil, fmt.Errorf("remote.Frames.Attach(%q): %w", frameID, err)
	}
	f := frame.New(frameID, src, win)

	r.mu.Lock()
	prev, hadPrev := r.attached[frameID]
	r.attached[frameID] = attached{frame: f, window: win}
	r.mu.Unlock()

	if hadPrev {
		_ = prev.window.Close()
	}
	if _, replaced := r.frames.Attach(f); replaced {
		r.proxies.Reset(frameID)
	}
	log.Info().Str("frame_id", frameID).Str("src", src).Msg("remote frame attached")

	go func() {
		<-win.Done()
		r.detach(f)
	}()

	return f, nil
}

// Detach closes the subscription of frameID and removes it from the
// directory. It reports whether the frame was attached.
func (r *Frames) Detach(frameID string) bool {
	r.mu.Lock()
	a, ok := r.attached[frameID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.detach(a.frame)
	return true
}

func (r *Frames) detach(f *frame.Frame) {
	r.mu.Lock()
	a, ok := r.attached[f.ID()]
	current := ok && a.frame == f
	if current {
		delete(r.attached, f.ID())
	}
	r.mu.Unlock()

	if !current {
		return
	}

	_ = a.window.Close()
	if r.frames.Detach(f) {
		r.proxies.Delete(f.ID())
	}
	log.Info().Str("frame_id", f.ID()).Msg("remote frame detached")
}

// Len returns the number of attached remote frames.
func (r *Frames) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attached)
}

// Close detaches every remote frame.
func (r *Frames) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.attached))
	for id := range r.attached {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Detach(id)
	}
}
