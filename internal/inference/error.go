package inference

import "errors"

var (
	// ErrNotReady is returned when a run is requested for a domain without a ready instance.
	ErrNotReady = errors.New("domain is not ready")

	// ErrBusy is returned when a run is requested while one is in progress.
	ErrBusy = errors.New("domain is already running")

	// ErrTurnFailed is returned when a turn ends in a state other than done.
	ErrTurnFailed = errors.New("inference turn failed")
)
