package lifecycle

import "errors"

var (
	// ErrInstanceCreation is returned when a backend fails to create an instance.
	ErrInstanceCreation = errors.New("instance creation failed")

	// ErrRollbackFailed is returned when a failed swap could not restore the previous model.
	ErrRollbackFailed = errors.New("rollback to previous model failed")
)
