package model

import "errors"

// Error definitions for the model package.
var (
	ErrIndexOutOfRange = errors.New("model index out of range")
	ErrNoSelection     = errors.New("no model selected")
	ErrNotSelectable   = errors.New("model is not available")
)
