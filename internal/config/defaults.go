package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/ekisa-team/igichat/internal/envvar"
	"github.com/ekisa-team/igichat/internal/xfs"
)

const (
	// DefaultSystemPrompt opens every conversation.
	DefaultSystemPrompt = "You are a helpful AI assistant answering user questions.\n"

	// DefaultGreeting is shown as the first answer of a conversation.
	DefaultGreeting = "I'm here to chat - type a query or record audio to interact!"

	// DefaultReversePrompt stops generation when the model starts the next user turn.
	DefaultReversePrompt = "User: "
)

// Defaults returns the configuration used when no file is present.
// Loaded files are decoded on top of it.
func Defaults() *Config {
	return &Config{
		Version: "1",
		Runtime: RuntimeConfig{
			SharedComputeContext: true,
			PreferredVendor:      "nvidia",
			LlamaServer:          "llama-server",
			WhisperServer:        "whisper-server",
			BasePort:             8081,
			ReadyTimeoutSeconds:  60,
		},
		TextGeneration: TextGenerationConfig{
			Threads:       1,
			VRAMBudgetMB:  1024 * 8,
			ContextSize:   4096,
			MaxTokens:     200,
			Seed:          -1,
			SystemPrompt:  DefaultSystemPrompt,
			ReversePrompt: DefaultReversePrompt,
			Greeting:      DefaultGreeting,
		},
		SpeechRecognition: SpeechRecognitionConfig{
			Threads:      4,
			VRAMBudgetMB: 1024 * 3,
		},
		Cloud: CloudConfig{
			Providers: []CloudProviderConfig{
				{Domain: "integrate.api.nvidia.com", Env: envvar.NvidiaIntegrateKey},
				{Domain: "openai.com", Env: envvar.OpenAIKey},
			},
		},
		Backends: map[string]map[string]any{
			"onnxgenai": {
				"background_mode": false,
				"allow_async":     false,
			},
		},
	}
}

// DefaultConfigPath returns the default path for the igichat config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "igichat", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "igichat")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "igichat")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "igichat")
		}
		return filepath.Join(home, ".config", "igichat")
	}
}

// DefaultModelsPath returns the default path for the shipped models.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "igichat", "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "igichat", "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "igichat", "models")
	default:
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "igichat", "models")
		}
		return filepath.Join(home, ".cache", "igichat", "models")
	}
}

// DefaultHTTPPort returns the status server port, 0 disables it.
func DefaultHTTPPort() int {
	return portFromEnv(envvar.IgichatServerHTTPPort)
}

// DefaultGRPCPort returns the health server port, 0 disables it.
func DefaultGRPCPort() int {
	return portFromEnv(envvar.IgichatServerGRPCPort)
}

// ResolveModelsPath returns the path to the shipped models directory.
// Precedence:
// 1. Explicit override (the -models flag).
// 2. IGICHAT_MODELS_PATH environment variable.
// 3. ModelsDir field in the config.
// 4. Default models path.
func ResolveModelsPath(cfg *Config, override string) string {
	if override != "" {
		return xfs.ExpandTilde(override)
	}
	if p := os.Getenv(envvar.IgichatModelsPath); p != "" {
		return xfs.ExpandTilde(p)
	}
	if cfg != nil && cfg.Storage.ModelsDir != "" {
		return xfs.ExpandTilde(cfg.Storage.ModelsDir)
	}
	return xfs.ExpandTilde(DefaultModelsPath())
}
