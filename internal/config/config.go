package config

// Config holds the main configuration for the application.
type Config struct {
	Version           string                    `json:"version"                      toml:"version"                      yaml:"version"`
	Storage           StorageConfig             `json:"storage,omitempty"            toml:"storage,omitempty"            yaml:"storage,omitempty"`
	Runtime           RuntimeConfig             `json:"runtime,omitempty"            toml:"runtime,omitempty"            yaml:"runtime,omitempty"`
	TextGeneration    TextGenerationConfig      `json:"text_generation,omitempty"    toml:"text_generation,omitempty"    yaml:"text_generation,omitempty"`
	SpeechRecognition SpeechRecognitionConfig   `json:"speech_recognition,omitempty" toml:"speech_recognition,omitempty" yaml:"speech_recognition,omitempty"`
	Cloud             CloudConfig               `json:"cloud,omitempty"              toml:"cloud,omitempty"              yaml:"cloud,omitempty"`
	Backends          map[string]map[string]any `json:"backends,omitempty"           toml:"backends,omitempty"           yaml:"backends,omitempty"`
}

// StorageConfig holds the location of the shipped models.
type StorageConfig struct {
	ModelsDir string `json:"models_dir,omitempty" toml:"models_dir,omitempty" yaml:"models_dir,omitempty"`
}

// RuntimeConfig controls plugin discovery and the shared compute context.
type RuntimeConfig struct {
	CheckSignature       bool              `json:"check_signature"                toml:"check_signature"                yaml:"check_signature"`
	SharedComputeContext bool              `json:"shared_compute_context"         toml:"shared_compute_context"         yaml:"shared_compute_context"`
	PreferredVendor      string            `json:"preferred_vendor,omitempty"     toml:"preferred_vendor,omitempty"     yaml:"preferred_vendor,omitempty"`
	Adapters             []AdapterConfig   `json:"adapters,omitempty"             toml:"adapters,omitempty"             yaml:"adapters,omitempty"`
	Checksums            map[string]string `json:"checksums,omitempty"            toml:"checksums,omitempty"            yaml:"checksums,omitempty"`
	LlamaServer          string            `json:"llama_server,omitempty"         toml:"llama_server,omitempty"         yaml:"llama_server,omitempty"`
	WhisperServer        string            `json:"whisper_server,omitempty"       toml:"whisper_server,omitempty"       yaml:"whisper_server,omitempty"`
	BasePort             int               `json:"base_port,omitempty"            toml:"base_port,omitempty"            yaml:"base_port,omitempty"`
	ReadyTimeoutSeconds  int               `json:"ready_timeout_seconds,omitempty" toml:"ready_timeout_seconds,omitempty" yaml:"ready_timeout_seconds,omitempty"`
}

// AdapterConfig describes a GPU adapter, overriding detection when set.
type AdapterConfig struct {
	Vendor       string `json:"vendor"        toml:"vendor"        yaml:"vendor"`
	Name         string `json:"name,omitempty" toml:"name,omitempty" yaml:"name,omitempty"`
	Architecture uint32 `json:"architecture"  toml:"architecture"  yaml:"architecture"`
	Driver       string `json:"driver"        toml:"driver"        yaml:"driver"`
	VRAMMB       int    `json:"vram_mb,omitempty" toml:"vram_mb,omitempty" yaml:"vram_mb,omitempty"`
}

// TextGenerationConfig holds tunables for the text-generation domain.
type TextGenerationConfig struct {
	Threads       int    `json:"threads"                  toml:"threads"                  yaml:"threads"`
	VRAMBudgetMB  int    `json:"vram_budget_mb"           toml:"vram_budget_mb"           yaml:"vram_budget_mb"`
	ContextSize   int    `json:"context_size"             toml:"context_size"             yaml:"context_size"`
	MaxTokens     int    `json:"max_tokens"               toml:"max_tokens"               yaml:"max_tokens"`
	Seed          int    `json:"seed"                     toml:"seed"                     yaml:"seed"`
	SystemPrompt  string `json:"system_prompt,omitempty"  toml:"system_prompt,omitempty"  yaml:"system_prompt,omitempty"`
	ReversePrompt string `json:"reverse_prompt,omitempty" toml:"reverse_prompt,omitempty" yaml:"reverse_prompt,omitempty"`
	Greeting      string `json:"greeting,omitempty"       toml:"greeting,omitempty"       yaml:"greeting,omitempty"`
}

// SpeechRecognitionConfig holds tunables for the speech-recognition domain.
type SpeechRecognitionConfig struct {
	Threads      int    `json:"threads"            toml:"threads"            yaml:"threads"`
	VRAMBudgetMB int    `json:"vram_budget_mb"     toml:"vram_budget_mb"     yaml:"vram_budget_mb"`
	Language     string `json:"language,omitempty" toml:"language,omitempty" yaml:"language,omitempty"`
}

// CloudConfig lists the REST providers and the models they serve.
type CloudConfig struct {
	Verbose   bool                  `json:"verbose"             toml:"verbose"             yaml:"verbose"`
	Providers []CloudProviderConfig `json:"providers,omitempty" toml:"providers,omitempty" yaml:"providers,omitempty"`
	Models    []CloudModelConfig    `json:"models,omitempty"    toml:"models,omitempty"    yaml:"models,omitempty"`
}

// CloudProviderConfig maps a URL domain to the environment variable holding its token.
type CloudProviderConfig struct {
	Domain string `json:"domain" toml:"domain" yaml:"domain"`
	Env    string `json:"env"    toml:"env"    yaml:"env"`
}

// CloudModelConfig is a model served by a REST endpoint.
type CloudModelConfig struct {
	GUID   string `json:"guid"              toml:"guid"              yaml:"guid"`
	Name   string `json:"name"              toml:"name"              yaml:"name"`
	URL    string `json:"url"               toml:"url"               yaml:"url"`
	Remote string `json:"remote,omitempty"  toml:"remote,omitempty"  yaml:"remote,omitempty"`
}

// RemoteModel returns the model identifier sent to the endpoint.
func (m CloudModelConfig) RemoteModel() string {
	if m.Remote != "" {
		return m.Remote
	}
	return m.Name
}

// Backend returns the option map of the named backend, never nil.
func (c *Config) Backend(name string) map[string]any {
	if opts, ok := c.Backends[name]; ok && opts != nil {
		return opts
	}
	return map[string]any{}
}
