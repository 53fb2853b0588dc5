// Package platform defines the host-side callbacks an embedded task document
// may invoke, and the default behavior used when a host does not provide one.
//
// Hosts customize behavior by embedding *Default in their own type and
// overriding individual methods:
//
//	type contestPlatform struct {
//		*platform.Default
//	}
//
//	func (p *contestPlatform) Validate(ctx context.Context, mode string) (any, error) { ... }
package platform

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotImplemented matches every NotDefinedError.
var ErrNotImplemented = errors.New("platform: method not implemented") //nolint:gochecknoglobals // sentinel error

// NotDefinedError is returned by Default for callbacks the host has not
// provided. Its text is what the task document receives as the error code.
type NotDefinedError struct {
	Method string
}

func (e *NotDefinedError) Error() string { return e.Method + " is not defined" }

func (e *NotDefinedError) Is(target error) bool { return target == ErrNotImplemented }

// Adapter is the capability set exposed to task documents as platform.*.
type Adapter interface {
	// Validate is called when the task asks the platform to validate the
	// current answer (mode is e.g. "done", "next", "nextImmediate").
	Validate(ctx context.Context, mode string) (any, error)

	// GetTaskParams returns the whole parameter bag when key is empty,
	// otherwise the named value or defaultValue.
	GetTaskParams(ctx context.Context, key string, defaultValue any) (any, error)

	ShowView(ctx context.Context, view json.RawMessage) (any, error)
	AskHint(ctx context.Context, hintToken string) (any, error)

	// UpdateHeight is sent by the task whenever its content height changes.
	UpdateHeight(ctx context.Context, height json.RawMessage) error

	OpenURL(ctx context.Context, url string) error
}

// Resizer is implemented by the task proxy owning an adapter.
type Resizer interface {
	Resize(px int)
}
