package backend

import "errors"

// Error definitions for the backend package.
var (
	ErrNotFound          = errors.New("backend not found in registry")
	ErrAlreadyRegistered = errors.New("backend is already registered in the registry")
	ErrCapabilityQuery   = errors.New("backend capability query failed")
	ErrServerNotRunning  = errors.New("backend server is not running")
)
