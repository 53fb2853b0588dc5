package taskproxy

import "time"

// Observer receives proxy lifecycle events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	CallFinished(method string, err error, elapsed time.Duration)
	HandshakeFinished(err error, elapsed time.Duration)
	InboundHandled(method string, err error)
	ProxiesChanged(n int)
}

type nopObserver struct{}

func (nopObserver) CallFinished(string, error, time.Duration) {}
func (nopObserver) HandshakeFinished(error, time.Duration)    {}
func (nopObserver) InboundHandled(string, error)              {}
func (nopObserver) ProxiesChanged(int)                        {}
