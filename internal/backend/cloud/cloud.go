// Package cloud serves text generation from OpenAI compatible REST endpoints.
package cloud

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ekisa-team/igichat/internal/backend"
	"github.com/ekisa-team/igichat/internal/backend/completion"
	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/config"
	"github.com/ekisa-team/igichat/internal/plugin"
)

// Interface is the cloud REST plugin interface.
type Interface struct {
	models []config.CloudModelConfig
	mu     sync.Mutex
	live   map[*completion.Instance]struct{}
}

// New creates the plugin for the configured cloud models.
func New(models []config.CloudModelConfig) (*Interface, error) {
	normalized := make([]config.CloudModelConfig, 0, len(models))
	for _, m := range models {
		guid, err := backend.NormalizeGUID(m.GUID)
		if err != nil {
			return nil, fmt.Errorf("cloud model %s: %w", m.Name, err)
		}
		m.GUID = guid
		normalized = append(normalized, m)
	}

	return &Interface{models: normalized, live: make(map[*completion.Instance]struct{})}, nil
}

func (p *Interface) CapabilitiesAndRequirements(params *chain.Chain) (*plugin.Capabilities, error) {
	common, ok := chain.Find[*chain.Common](params)
	if !ok {
		return nil, fmt.Errorf("%w: common parameters", plugin.ErrMissingInput)
	}

	if common.ModelGUID == "" {
		caps := &plugin.Capabilities{}
		for _, m := range p.models {
			caps.Models = append(caps.Models, plugin.SupportedModel{GUID: m.GUID, Name: m.Name})
		}
		return caps, nil
	}

	m, err := p.lookup(common.ModelGUID)
	if err != nil {
		return nil, err
	}
	return &plugin.Capabilities{
		Models: []plugin.SupportedModel{{GUID: m.GUID, Name: m.Name}},
		Cloud:  &plugin.CloudCapabilities{URL: m.URL},
	}, nil
}

func (p *Interface) CreateInstance(params *chain.Chain) (plugin.Instance, error) {
	common, ok := chain.Find[*chain.Common](params)
	if !ok {
		return nil, fmt.Errorf("%w: common parameters", plugin.ErrMissingInput)
	}
	rest, ok := chain.Find[*chain.REST](params)
	if !ok {
		return nil, fmt.Errorf("%w: REST parameters", plugin.ErrMissingInput)
	}

	m, err := p.lookup(common.ModelGUID)
	if err != nil {
		return nil, err
	}

	var defaults chain.TextGeneration
	if gen, ok := chain.Find[*chain.TextGeneration](params); ok {
		defaults = *gen
	}

	inst := completion.New(completion.Config{
		BaseURL:  BaseURL(rest.URL),
		APIKey:   rest.AuthToken,
		Model:    m.RemoteModel(),
		Defaults: defaults,
		Verbose:  rest.Verbose,
	})

	p.mu.Lock()
	p.live[inst] = struct{}{}
	p.mu.Unlock()

	return inst, nil
}

func (p *Interface) DestroyInstance(inst plugin.Instance) error {
	ci, ok := inst.(*completion.Instance)
	if !ok {
		return fmt.Errorf("cloud: foreign instance %T", inst)
	}

	p.mu.Lock()
	_, live := p.live[ci]
	delete(p.live, ci)
	p.mu.Unlock()

	if !live {
		return fmt.Errorf("cloud: instance already destroyed")
	}

	ci.Close()
	return nil
}

func (p *Interface) lookup(guid string) (config.CloudModelConfig, error) {
	want, err := backend.NormalizeGUID(guid)
	if err != nil {
		return config.CloudModelConfig{}, err
	}
	for _, m := range p.models {
		if m.GUID == want {
			return m, nil
		}
	}
	return config.CloudModelConfig{}, fmt.Errorf("%w: cloud model %s", plugin.ErrNotFound, guid)
}

// BaseURL strips the chat completions path from a full endpoint URL.
func BaseURL(endpoint string) string {
	base := strings.TrimSuffix(endpoint, "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	return base + "/"
}
