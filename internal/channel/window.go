package channel

import (
	"context"
	"sync"
)

// Window is the messaging substrate a Channel runs over. It mirrors the
// postMessage/message-event pair of a browser window: PostMessage delivers a
// datagram to the peer, Listen registers a receiver for datagrams coming from
// the peer together with the origin they were sent from.
type Window interface {
	PostMessage(ctx context.Context, data []byte) error
	Listen(fn func(data []byte, origin string)) (stop func())
}

type envelope struct {
	data   []byte
	origin string
}

// PipeEnd is one side of an in-memory Window pair. Messages are delivered in
// order by a single pump goroutine per end.
type PipeEnd struct {
	origin string
	peer   *PipeEnd
	inbox  chan envelope
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	listeners map[int]func([]byte, string)
	nextID    int
}

// NewPipe returns two connected windows. originA is the origin the peer sees
// on messages posted by a, originB likewise for b.
func NewPipe(originA, originB string) (*PipeEnd, *PipeEnd) {
	a := newPipeEnd(originA)
	b := newPipeEnd(originB)
	a.peer = b
	b.peer = a

	go a.pump()
	go b.pump()

	return a, b
}

func newPipeEnd(origin string) *PipeEnd {
	return &PipeEnd{
		origin:    origin,
		inbox:     make(chan envelope, 256),
		done:      make(chan struct{}),
		listeners: make(map[int]func([]byte, string)),
	}
}

// PostMessage queues data for the peer's listeners.
func (p *PipeEnd) PostMessage(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return ErrWindowClosed
	case <-p.peer.done:
		return ErrWindowClosed
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case p.peer.inbox <- envelope{data: buf, origin: p.origin}:
		return nil
	case <-p.peer.done:
		return ErrWindowClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen registers fn for messages arriving at this end.
func (p *PipeEnd) Listen(fn func(data []byte, origin string)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Close stops delivery on this end. Further posts from either side fail.
func (p *PipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *PipeEnd) pump() {
	for {
		select {
		case <-p.done:
			return
		case env := <-p.inbox:
			p.mu.Lock()
			fns := make([]func([]byte, string), 0, len(p.listeners))
			for _, fn := range p.listeners {
				fns = append(fns, fn)
			}
			p.mu.Unlock()

			for _, fn := range fns {
				fn(env.data, env.origin)
			}
		}
	}
}
