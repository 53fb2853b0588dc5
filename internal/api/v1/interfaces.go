package v1

import (
	"github.com/gosuda/taskbridge/internal/frame"
	"github.com/gosuda/taskbridge/internal/platform"
	"github.com/gosuda/taskbridge/internal/taskproxy"
)

// FrameLocator resolves attached frames. *frame.Directory satisfies this
// interface.
type FrameLocator interface {
	Lookup(id string) (*frame.Frame, bool)
}

// ProxyManager abstracts the proxy registry for handler testing.
// *taskproxy.Registry satisfies this interface.
type ProxyManager interface {
	GetOrCreate(frameID string, force bool, success func(*taskproxy.Proxy), failure func(error)) *taskproxy.Call[*taskproxy.Proxy]
	Get(frameID string) (*taskproxy.Proxy, bool)
	Delete(frameID string)
	RegisterPlatform(frameID string, adapter platform.Adapter)
}

// RemoteFrames attaches frames served by other processes.
// *remote.Frames satisfies this interface.
type RemoteFrames interface {
	Attach(frameID, src string) (*frame.Frame, error)
	Detach(frameID string) bool
}
