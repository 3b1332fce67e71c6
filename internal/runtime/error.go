package runtime

import "errors"

var (
	// ErrRuntimeUnavailable is returned by Open when the plugin runtime cannot start.
	ErrRuntimeUnavailable = errors.New("plugin runtime unavailable")

	// ErrNotLoaded is returned when unloading an interface that is not loaded.
	ErrNotLoaded = errors.New("plugin interface not loaded")

	// ErrShutdown is returned by operations on a host that was shut down.
	ErrShutdown = errors.New("plugin runtime shut down")
)
