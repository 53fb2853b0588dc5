package channel

import (
	"errors"
	"fmt"
)

// Error codes carried in the "error" field of a response.
const (
	CodeTimeout        = "timeout_error"
	CodeMethodNotFound = "method_not_found"
	CodeRuntime        = "runtime_error"
)

var (
	// ErrTimeout matches any CallError produced by a per-call timeout.
	ErrTimeout = errors.New("channel: call timed out") //nolint:gochecknoglobals // sentinel error

	// ErrDestroyed is returned for operations on a destroyed channel.
	ErrDestroyed = errors.New("channel: destroyed") //nolint:gochecknoglobals // sentinel error

	// ErrAlreadyBound is returned when a method name is bound twice.
	ErrAlreadyBound = errors.New("channel: method already bound") //nolint:gochecknoglobals // sentinel error

	// ErrWindowClosed is returned by windows whose peer is gone.
	ErrWindowClosed = errors.New("channel: window closed") //nolint:gochecknoglobals // sentinel error
)

// CallError is an error response received for an outbound call, or a
// locally generated timeout.
type CallError struct {
	Method  string
	Code    string
	Message string
}

func (e *CallError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Method, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
}

// Is reports timeouts as ErrTimeout.
func (e *CallError) Is(target error) bool {
	return target == ErrTimeout && e.Code == CodeTimeout
}
