package params

import "errors"

var (
	// ErrAuthMissing is returned when a known cloud provider has no token in the environment.
	ErrAuthMissing = errors.New("cloud authentication token missing")

	// ErrModelUnavailable is returned for entries whose weights are not present.
	ErrModelUnavailable = errors.New("model is not available locally")

	// ErrUnknownDomain is returned for domains without a catalog.
	ErrUnknownDomain = errors.New("unknown domain")
)
