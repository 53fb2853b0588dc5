package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Transaction is the server side of one inbound request.
type Transaction struct {
	ch     *Channel
	id     uint64
	method string

	mu       sync.Mutex
	deferred bool
	done     bool
}

// ID is the transaction id chosen by the caller. Zero for notifications.
func (t *Transaction) ID() uint64 { return t.id }

// Method is the unscoped method name.
func (t *Transaction) Method() string { return t.method }

// Context is cancelled when the channel is destroyed.
func (t *Transaction) Context() context.Context { return t.ch.ctx }

// DelayReturn marks the transaction as completed asynchronously, so the
// handler's return value is ignored.
func (t *Transaction) DelayReturn(delay bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deferred = delay
	return t.deferred
}

// Complete sends a successful response. A nil value sends no result field.
func (t *Transaction) Complete(v any) {
	msg := message{ID: t.id}
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Error(CodeRuntime, err.Error())
			return
		}
		msg.Result = raw
	}
	t.finish(msg)
}

// Error sends an error response.
func (t *Transaction) Error(code, text string) {
	t.finish(message{ID: t.id, Error: code, Message: text})
}

func (t *Transaction) fail(err error) {
	var callErr *CallError
	if errors.As(err, &callErr) {
		t.Error(callErr.Code, callErr.Message)
		return
	}
	t.Error(CodeRuntime, err.Error())
}

func (t *Transaction) delayed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deferred
}

func (t *Transaction) finish(msg message) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.mu.Unlock()

	if t.id == 0 {
		return
	}
	t.ch.respond(msg)
}
