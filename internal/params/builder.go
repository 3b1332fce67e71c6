// Package params builds the parameter chains used to query backends and to
// create model instances.
package params

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync/atomic"

	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/config"
	"github.com/ekisa-team/igichat/internal/mapsafe"
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/plugin"
)

const onnxBackend = "onnxgenai"

// Builder assembles parameter chains from the current configuration, the
// domain catalogs and the shared compute context.
type Builder struct {
	catalogs   map[model.Domain]*model.Catalog
	modelsPath string
	tracker    chain.Tracker
	lookupEnv  func(string) (string, bool)
	cfg        atomic.Pointer[config.Config]
	hardware   atomic.Pointer[chain.HardwareContext]
}

// Option configures a Builder.
type Option func(*Builder)

// WithTracker attaches a tracker to every chain the builder creates.
func WithTracker(t chain.Tracker) Option {
	return func(b *Builder) { b.tracker = t }
}

// WithLookupEnv replaces os.LookupEnv for auth token resolution.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(b *Builder) { b.lookupEnv = fn }
}

// NewBuilder creates a builder. modelsPath is the shipped models root used
// when neither the caller nor the selected entry names one.
func NewBuilder(cfg *config.Config, modelsPath string, catalogs map[model.Domain]*model.Catalog, opts ...Option) *Builder {
	b := &Builder{
		catalogs:   catalogs,
		modelsPath: modelsPath,
		lookupEnv:  os.LookupEnv,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Apply(cfg)
	return b
}

// Apply swaps in a new configuration for subsequent builds.
func (b *Builder) Apply(cfg *config.Config) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	b.cfg.Store(cfg)
}

// Config returns the configuration currently in use.
func (b *Builder) Config() *config.Config {
	return b.cfg.Load()
}

// ModelsPath returns the shipped models root.
func (b *Builder) ModelsPath() string {
	return b.modelsPath
}

// SetSharedContext makes every later chain carry a hardware-context block.
// A nil context removes it.
func (b *Builder) SetSharedContext(hw *chain.HardwareContext) {
	b.hardware.Store(hw)
}

// RuntimeParameters returns the per-evaluation text generation parameters.
func (b *Builder) RuntimeParameters() *plugin.RuntimeParameters {
	gen := b.cfg.Load().TextGeneration
	return &plugin.RuntimeParameters{
		Seed:            gen.Seed,
		TokensToPredict: gen.MaxTokens,
		Interactive:     true,
		ReversePrompt:   gen.ReversePrompt,
	}
}

// BuildCreationParams builds the chain for domain. A generic chain lists all
// models under the root and is used for capability queries; otherwise the
// chain targets the domain's selected catalog entry. An empty modelRoot falls
// back to the entry's root, then to the shipped models root.
//
// The caller owns the returned chain and must release it.
func (b *Builder) BuildCreationParams(domain model.Domain, generic bool, modelRoot string) (*chain.Chain, error) {
	if generic {
		return b.build(domain, nil, modelRoot)
	}

	catalog, ok := b.catalogs[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}

	entry, _, err := catalog.SelectedEntry()
	if err != nil {
		return nil, err
	}
	return b.build(domain, &entry, modelRoot)
}

// BuildForEntry builds a model specific chain for entry, regardless of the
// catalog selection.
func (b *Builder) BuildForEntry(domain model.Domain, entry model.Entry, modelRoot string) (*chain.Chain, error) {
	return b.build(domain, &entry, modelRoot)
}

func (b *Builder) build(domain model.Domain, entry *model.Entry, modelRoot string) (*chain.Chain, error) {
	cfg := b.cfg.Load()

	if entry != nil && !entry.Status.Selectable() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrModelUnavailable, entry.ModelName, entry.Status)
	}

	c := chain.New(b.tracker)
	common := &chain.Common{ModelRoot: b.resolveRoot(entry, modelRoot)}

	switch domain {
	case model.DomainTextGeneration:
		c.Append(&chain.TextGeneration{
			Seed:               cfg.TextGeneration.Seed,
			MaxTokensToPredict: cfg.TextGeneration.MaxTokens,
			ContextSize:        cfg.TextGeneration.ContextSize,
		})
		common.NumThreads = cfg.TextGeneration.Threads
		common.VRAMBudgetMB = cfg.TextGeneration.VRAMBudgetMB
	case model.DomainSpeechRecognition:
		c.Append(&chain.SpeechRecognition{Language: cfg.SpeechRecognition.Language})
		common.NumThreads = cfg.SpeechRecognition.Threads
		common.VRAMBudgetMB = cfg.SpeechRecognition.VRAMBudgetMB
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}

	if hw := b.hardware.Load(); hw != nil {
		shared := *hw
		c.Append(&shared)
	}

	if entry != nil {
		common.ModelGUID = entry.GUID
	}
	c.Append(common)

	if entry == nil {
		return c, nil
	}

	switch entry.PluginID {
	case plugin.GPTOnnxGenAIDML:
		opts := cfg.Backend(onnxBackend)
		c.Append(&chain.BackendTuning{
			Backend:        onnxBackend,
			BackgroundMode: mapsafe.Get(opts, "background_mode", false),
			AllowAsync:     mapsafe.Get(opts, "allow_async", false),
		})

	case plugin.GPTCloudREST:
		token, err := b.authToken(cfg, entry.URL)
		if err != nil {
			if relErr := chain.Release(c); relErr != nil {
				slog.Error("Failed to release parameter chain", "error", relErr)
			}
			return nil, err
		}
		c.Append(&chain.REST{URL: entry.URL, AuthToken: token, Verbose: cfg.Cloud.Verbose})
	}

	return c, nil
}

func (b *Builder) resolveRoot(entry *model.Entry, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if entry != nil && entry.ModelRoot != "" {
		return entry.ModelRoot
	}
	return b.modelsPath
}

// authToken picks the token for rawURL from the provider allow-list. Unknown
// providers get no token.
func (b *Builder) authToken(cfg *config.Config, rawURL string) (string, error) {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)

	for _, p := range cfg.Cloud.Providers {
		domain := strings.ToLower(p.Domain)
		if host != domain && !strings.HasSuffix(host, "."+domain) {
			continue
		}

		token, ok := b.lookupEnv(p.Env)
		if !ok || token == "" {
			slog.Error("Cloud provider token missing", "url", rawURL, "env", p.Env)
			return "", fmt.Errorf("%w: %s requires %s", ErrAuthMissing, p.Domain, p.Env)
		}
		return token, nil
	}

	slog.Warn("Unknown cloud provider, no authentication token will be sent", "url", rawURL)
	return "", nil
}
