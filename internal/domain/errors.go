package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("domain: not found")    //nolint:gochecknoglobals // sentinel error
	ErrUnauthorized = errors.New("domain: unauthorized") //nolint:gochecknoglobals // sentinel error
	ErrForbidden    = errors.New("domain: forbidden")    //nolint:gochecknoglobals // sentinel error
)
