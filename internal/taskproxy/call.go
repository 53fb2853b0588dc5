package taskproxy

import (
	"context"
	"sync"
)

// Call is the pending result of an asynchronous operation. It resolves
// exactly once; later resolutions are ignored.
type Call[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newCall[T any]() *Call[T] {
	return &Call[T]{done: make(chan struct{})}
}

// Done is closed when the call has resolved.
func (c *Call[T]) Done() <-chan struct{} { return c.done }

// Wait blocks until the call resolves or ctx ends.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// resolve reports whether this was the first resolution.
func (c *Call[T]) resolve(v T, err error) bool {
	first := false
	c.once.Do(func() {
		c.value = v
		c.err = err
		close(c.done)
		first = true
	})
	return first
}

// whenDone runs fn on its own goroutine once the call resolves.
func (c *Call[T]) whenDone(fn func(T, error)) {
	go func() {
		<-c.done
		fn(c.value, c.err)
	}()
}
