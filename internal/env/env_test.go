package env

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekisa-team/igichat/internal/envvar"
)

func TestFromEnv(t *testing.T) {
	t.Setenv(envvar.IgichatEnv, "")
	assert.Equal(t, Development, FromEnv())

	t.Setenv(envvar.IgichatEnv, "Production")
	assert.Equal(t, Production, FromEnv())
	assert.True(t, FromEnv().IsProduction())

	t.Setenv(envvar.IgichatEnv, "staging")
	assert.Equal(t, Development, FromEnv())
}
