// Package llama serves text generation from local GGUF models through one
// llama-server process per instance.
package llama

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ekisa-team/igichat/internal/backend"
	"github.com/ekisa-team/igichat/internal/backend/completion"
	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/plugin"
)

const (
	// ServerName names llama-server processes in the server manager.
	ServerName = "llama-server"

	// ModelDir is the directory under the models root holding GGUF models.
	ModelDir = "nvigi.plugin.gpt.ggml"

	weightsExt = ".gguf"
)

// Options configures the plugin.
type Options struct {
	BinPath      string
	Servers      *backend.ServerManager
	GPU          bool
	ReadyTimeout time.Duration
}

// Interface is the llama plugin interface.
type Interface struct {
	opts Options
	mu   sync.Mutex
	live map[*Instance]struct{}
}

// Instance is a model served by its own llama-server.
type Instance struct {
	*completion.Instance
	port int
	name string
}

// New creates the plugin interface.
func New(opts Options) *Interface {
	return &Interface{opts: opts, live: make(map[*Instance]struct{})}
}

func (p *Interface) CapabilitiesAndRequirements(params *chain.Chain) (*plugin.Capabilities, error) {
	common, ok := chain.Find[*chain.Common](params)
	if !ok {
		return nil, fmt.Errorf("%w: common parameters", plugin.ErrMissingInput)
	}

	models, err := backend.ScanModels(common.ModelRoot, ModelDir, weightsExt)
	if err != nil {
		return nil, err
	}

	caps := &plugin.Capabilities{}
	for _, m := range models {
		if common.ModelGUID == "" || m.GUID == common.ModelGUID {
			caps.Models = append(caps.Models, m)
		}
	}
	return caps, nil
}

func (p *Interface) CreateInstance(params *chain.Chain) (plugin.Instance, error) {
	common, ok := chain.Find[*chain.Common](params)
	if !ok {
		return nil, fmt.Errorf("%w: common parameters", plugin.ErrMissingInput)
	}
	gen, ok := chain.Find[*chain.TextGeneration](params)
	if !ok {
		return nil, fmt.Errorf("%w: text generation parameters", plugin.ErrMissingInput)
	}

	dir, err := backend.ModelDir(common.ModelRoot, ModelDir, common.ModelGUID)
	if err != nil {
		return nil, err
	}
	weights, err := backend.FindWeights(dir, weightsExt)
	if err != nil {
		return nil, err
	}

	port := p.opts.Servers.NextPort()
	cfg := backend.ServerConfig{
		Name:         ServerName,
		BinPath:      p.opts.BinPath,
		Args:         p.args(weights, port, common, gen),
		Port:         port,
		ReadyTimeout: p.opts.ReadyTimeout,
	}
	if hw, ok := chain.Find[*chain.HardwareContext](params); ok && p.opts.GPU {
		cfg.Env = map[string]string{"CUDA_VISIBLE_DEVICES": strconv.Itoa(hw.DeviceIndex)}
	}

	if err := p.opts.Servers.StartServer(context.Background(), cfg); err != nil {
		return nil, err
	}

	name := filepath.Base(dir)
	inst := &Instance{
		Instance: completion.New(completion.Config{
			BaseURL:  backend.BaseURL(port) + "/v1",
			Model:    name,
			Defaults: *gen,
		}),
		port: port,
		name: name,
	}

	p.mu.Lock()
	p.live[inst] = struct{}{}
	p.mu.Unlock()

	slog.Info("Llama instance created", "model", name, "port", port, "gpu", p.opts.GPU)
	return inst, nil
}

func (p *Interface) DestroyInstance(inst plugin.Instance) error {
	li, ok := inst.(*Instance)
	if !ok {
		return fmt.Errorf("llama: foreign instance %T", inst)
	}

	p.mu.Lock()
	_, live := p.live[li]
	delete(p.live, li)
	p.mu.Unlock()

	if !live {
		return fmt.Errorf("llama: instance %s already destroyed", li.name)
	}

	li.Close()
	return p.opts.Servers.StopServer(ServerName, li.port)
}

func (p *Interface) args(weights string, port int, common *chain.Common, gen *chain.TextGeneration) []string {
	args := []string{
		"--model", weights,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"--ctx-size", strconv.Itoa(gen.ContextSize),
	}

	if common.NumThreads > 0 {
		args = append(args, "--threads", strconv.Itoa(common.NumThreads))
	}

	// Offload every layer on the CUDA build, none on CPU.
	if p.opts.GPU {
		args = append(args, "--n-gpu-layers", "999")
	} else {
		args = append(args, "--n-gpu-layers", "0")
	}

	return args
}
