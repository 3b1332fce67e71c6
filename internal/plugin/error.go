package plugin

import "errors"

var (
	// ErrNotFound is returned when a plugin id is not known to the runtime.
	ErrNotFound = errors.New("plugin not found")

	// ErrIncompatible is returned when a plugin's requirements are not met.
	ErrIncompatible = errors.New("plugin is not compatible with this system")

	// ErrUnsupported is returned by interfaces for operations they do not provide.
	ErrUnsupported = errors.New("operation not supported by plugin")

	// ErrBusy is returned when an instance is asked to evaluate concurrently.
	ErrBusy = errors.New("instance is busy")

	// ErrMissingInput is returned when a required input slot is absent.
	ErrMissingInput = errors.New("required input slot missing")
)
