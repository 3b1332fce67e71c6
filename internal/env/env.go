package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/igichat/internal/envvar"
)

// Environment is the deployment environment the process runs in.
type Environment string

const (
	// Development enables verbose colored console logging.
	Development Environment = "development"

	// Production enables JSON logging and backend signature checks.
	Production Environment = "production"
)

// FromEnv reads the environment from IGICHAT_ENV, defaulting to Development.
func FromEnv() Environment {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envvar.IgichatEnv))) {
	case "prod", "production":
		return Production
	default:
		return Development
	}
}

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool {
	return e == Production
}
