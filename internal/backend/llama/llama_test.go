package llama

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/igichat/internal/backend"
	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/plugin"
)

const guid = "{8E31808B-C182-4016-9ED8-64804FF5B40D}"

func modelsRoot(t *testing.T, withWeights bool) string {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, ModelDir, guid)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), []byte(`{"name":"llama-3.2-3b"}`), 0o600))
	if withWeights {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "llama.gguf"), []byte("gguf"), 0o600))
	}
	return root
}

func TestInterface_Capabilities(t *testing.T) {
	p := New(Options{Servers: backend.NewServerManager(9100), GPU: true})
	root := modelsRoot(t, true)

	c := chain.New(nil).Append(&chain.Common{ModelRoot: root})
	caps, err := p.CapabilitiesAndRequirements(c)
	require.NoError(t, err)
	require.Len(t, caps.Models, 1)
	assert.Equal(t, "llama-3.2-3b", caps.Models[0].Name)
	assert.Zero(t, caps.Models[0].Flags)

	common, _ := chain.Find[*chain.Common](c)
	common.ModelGUID = "{5CAD3A03-1272-4D43-9F3D-655417526170}"
	caps, err = p.CapabilitiesAndRequirements(c)
	require.NoError(t, err)
	assert.Empty(t, caps.Models)

	_, err = p.CapabilitiesAndRequirements(chain.New(nil))
	assert.ErrorIs(t, err, plugin.ErrMissingInput)
}

func TestInterface_CreateInstanceFailures(t *testing.T) {
	p := New(Options{BinPath: filepath.Join(t.TempDir(), "llama-server"), Servers: backend.NewServerManager(9100)})

	_, err := p.CreateInstance(chain.New(nil).Append(&chain.Common{}))
	assert.ErrorIs(t, err, plugin.ErrMissingInput)

	noWeights := chain.New(nil).
		Append(&chain.TextGeneration{ContextSize: 4096}).
		Append(&chain.Common{ModelRoot: modelsRoot(t, false), ModelGUID: guid})
	_, err = p.CreateInstance(noWeights)
	assert.ErrorIs(t, err, os.ErrNotExist)

	missingBinary := chain.New(nil).
		Append(&chain.TextGeneration{ContextSize: 4096}).
		Append(&chain.Common{ModelRoot: modelsRoot(t, true), ModelGUID: guid})
	_, err = p.CreateInstance(missingBinary)
	assert.ErrorContains(t, err, "failed to start llama-server server")
}

func TestInterface_Args(t *testing.T) {
	gpu := New(Options{GPU: true})
	args := gpu.args("/m/llama.gguf", 8081, &chain.Common{NumThreads: 1}, &chain.TextGeneration{ContextSize: 4096})

	assert.Equal(t, []string{
		"--model", "/m/llama.gguf",
		"--host", "127.0.0.1",
		"--port", "8081",
		"--ctx-size", "4096",
		"--threads", "1",
		"--n-gpu-layers", "999",
	}, args)

	cpu := New(Options{})
	args = cpu.args("/m/llama.gguf", 8082, &chain.Common{}, &chain.TextGeneration{ContextSize: 2048})
	assert.Equal(t, "0", args[len(args)-1])
	assert.NotContains(t, args, "--threads")
}

func TestInterface_DestroyForeignInstance(t *testing.T) {
	p := New(Options{Servers: backend.NewServerManager(9100)})

	assert.Error(t, p.DestroyInstance(nil))
	assert.Error(t, p.DestroyInstance(&Instance{name: "ghost"}))
}
