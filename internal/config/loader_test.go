package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/igichat/internal/envvar"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAndValidate_YAMLOverDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
version: "1"
text_generation:
  max_tokens: 512
runtime:
  shared_compute_context: false
cloud:
  models:
    - guid: "{8E31808B-C182-4016-9ED8-64804FF5B40D}"
      name: llama-3.1-8b
      url: https://integrate.api.nvidia.com/v1/chat/completions
      remote: meta/llama-3.1-8b-instruct
backends:
  onnxgenai:
    allow_async: true
`)

	cfg, err := LoadAndValidate(path, "")
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.TextGeneration.MaxTokens)
	assert.Equal(t, 4096, cfg.TextGeneration.ContextSize)
	assert.Equal(t, 1, cfg.TextGeneration.Threads)
	assert.Equal(t, 4, cfg.SpeechRecognition.Threads)
	assert.False(t, cfg.Runtime.SharedComputeContext)
	assert.Len(t, cfg.Cloud.Providers, 2)
	require.Len(t, cfg.Cloud.Models, 1)
	assert.Equal(t, "meta/llama-3.1-8b-instruct", cfg.Cloud.Models[0].RemoteModel())
	assert.Equal(t, true, cfg.Backend("onnxgenai")["allow_async"])
	assert.Empty(t, cfg.Backend("missing"))
}

func TestLoadAndValidate_TOMLAndJSON(t *testing.T) {
	tomlPath := writeFile(t, "config.toml", `
version = "1"

[speech_recognition]
threads = 8
language = "en"
`)
	cfg, err := LoadAndValidate(tomlPath, "")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.SpeechRecognition.Threads)
	assert.Equal(t, "en", cfg.SpeechRecognition.Language)

	jsonPath := writeFile(t, "config.json", `{"version":"1","text_generation":{"seed":42}}`)
	cfg, err = LoadAndValidate(jsonPath, "")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.TextGeneration.Seed)
}

func TestLoadAndValidate_Rejects(t *testing.T) {
	_, err := LoadAndValidate(writeFile(t, "config.yaml", "text_generation:\n  threads: 0\n"), "")
	assert.ErrorContains(t, err, "validation failed")

	_, err = LoadAndValidate(writeFile(t, "config.yaml", "unknown: true\n"), "")
	assert.ErrorContains(t, err, "validation failed")

	_, err = LoadAndValidate(writeFile(t, "config.ini", "a=b"), "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = LoadAndValidate(writeFile(t, "config.yaml", "version: [unterminated"), "")
	assert.ErrorContains(t, err, "invalid YAML")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"), "")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestResolveModelsPath(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.ModelsDir = "/srv/models"

	t.Setenv(envvar.IgichatModelsPath, "")
	assert.Equal(t, "/srv/models", ResolveModelsPath(cfg, ""))

	t.Setenv(envvar.IgichatModelsPath, "/env/models")
	assert.Equal(t, "/env/models", ResolveModelsPath(cfg, ""))
	assert.Equal(t, "/flag/models", ResolveModelsPath(cfg, "/flag/models"))

	t.Setenv(envvar.IgichatModelsPath, "")
	assert.Equal(t, DefaultModelsPath(), ResolveModelsPath(Defaults(), ""))
}
