// Package runtime hosts the backend plugins. It enumerates adapters, discovers
// the plugins whose server binaries are installed, and hands out plugin
// interfaces by id.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/ekisa-team/igichat/internal/backend"
	"github.com/ekisa-team/igichat/internal/backend/cloud"
	"github.com/ekisa-team/igichat/internal/backend/llama"
	"github.com/ekisa-team/igichat/internal/backend/whisper"
	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/config"
	"github.com/ekisa-team/igichat/internal/plugin"
)

// Minimum requirements of the CUDA builds.
var (
	cudaArchitecture uint32 = 75
	cudaDriver              = plugin.DriverVersion{Major: 555, Minor: 85}
)

// Host implements plugin.Runtime.
type Host struct {
	info     *plugin.SystemInfo
	plugins  *backend.Registry
	servers  *backend.ServerManager
	mu       sync.Mutex
	loaded   map[plugin.ID]*loaded
	shutdown bool
}

type loaded struct {
	iface plugin.Interface
	refs  int
}

type options struct {
	lookPath func(string) (string, error)
	smi      *backend.Executor
	servers  *backend.ServerManager
}

// Option configures Open.
type Option func(*options)

// WithLookPath replaces exec.LookPath for resolving server binaries.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(o *options) {
		o.lookPath = fn
	}
}

// WithAdapterQuery sets the executor used to query nvidia-smi.
func WithAdapterQuery(e *backend.Executor) Option {
	return func(o *options) {
		o.smi = e
	}
}

// WithServers sets the server manager owning backend processes.
func WithServers(sm *backend.ServerManager) Option {
	return func(o *options) {
		o.servers = sm
	}
}

// Open starts the runtime. It fails only when the signature check rejects an
// installed binary.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Host, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}

	o := options{lookPath: exec.LookPath}
	for _, opt := range opts {
		opt(&o)
	}
	if o.servers == nil {
		o.servers = backend.NewServerManager(cfg.Runtime.BasePort)
	}
	if o.smi == nil {
		if e, err := backend.NewExecutor(nvidiaSMI, 10*time.Second); err == nil {
			o.smi = e
		}
	}

	adapters := DetectAdapters(ctx, cfg.Runtime.Adapters, o.smi)

	binaries := map[string]string{}
	for _, name := range []string{cfg.Runtime.LlamaServer, cfg.Runtime.WhisperServer} {
		if name == "" {
			continue
		}
		path, err := o.lookPath(name)
		if err != nil {
			slog.Warn("Backend server not installed", "binary", name)
			continue
		}
		binaries[name] = path
	}

	if cfg.Runtime.CheckSignature {
		if err := VerifySignatures(binaries, cfg.Runtime.Checksums); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
		}
	}

	h := &Host{
		plugins: backend.NewRegistry(),
		servers: o.servers,
		loaded:  make(map[plugin.ID]*loaded),
	}
	if err := h.register(cfg, binaries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
	}

	h.info = &plugin.SystemInfo{Plugins: h.plugins.Specs(), Adapters: adapters}

	slog.Info("Plugin runtime started", "plugins", len(h.info.Plugins), "adapters", len(adapters))
	return h, nil
}

func (h *Host) register(cfg *config.Config, binaries map[string]string) error {
	timeout := time.Duration(cfg.Runtime.ReadyTimeoutSeconds) * time.Second

	if path, ok := binaries[cfg.Runtime.LlamaServer]; ok {
		err := h.plugins.Register(plugin.Spec{
			ID:                    plugin.GPTGGMLCUDA,
			Name:                  "GGML CUDA",
			RequiredVendor:        plugin.VendorNVIDIA,
			RequiredArchitecture:  cudaArchitecture,
			RequiredDriverVersion: cudaDriver,
		}, func() (plugin.Interface, error) {
			return llama.New(llama.Options{BinPath: path, Servers: h.servers, GPU: true, ReadyTimeout: timeout}), nil
		})
		if err != nil {
			return err
		}
	}

	if len(cfg.Cloud.Models) > 0 {
		models := cfg.Cloud.Models
		err := h.plugins.Register(plugin.Spec{
			ID:             plugin.GPTCloudREST,
			Name:           "Cloud REST",
			RequiredVendor: plugin.VendorNone,
		}, func() (plugin.Interface, error) {
			return cloud.New(models)
		})
		if err != nil {
			return err
		}
	}

	if path, ok := binaries[cfg.Runtime.WhisperServer]; ok {
		err := h.plugins.Register(plugin.Spec{
			ID:                    plugin.ASRGGMLCUDA,
			Name:                  "GGML CUDA",
			RequiredVendor:        plugin.VendorNVIDIA,
			RequiredArchitecture:  cudaArchitecture,
			RequiredDriverVersion: cudaDriver,
		}, func() (plugin.Interface, error) {
			return whisper.New(whisper.Options{BinPath: path, Servers: h.servers, GPU: true, ReadyTimeout: timeout}), nil
		})
		if err != nil {
			return err
		}

		err = h.plugins.Register(plugin.Spec{
			ID:             plugin.ASRGGMLCPU,
			Name:           "GGML CPU",
			RequiredVendor: plugin.VendorAny,
		}, func() (plugin.Interface, error) {
			return whisper.New(whisper.Options{BinPath: path, Servers: h.servers, ReadyTimeout: timeout}), nil
		})
		if err != nil {
			return err
		}
	}

	return h.plugins.Register(plugin.Spec{
		ID:             plugin.HardwareInterop,
		Name:           "CUDA interop",
		RequiredVendor: plugin.VendorNVIDIA,
	}, func() (plugin.Interface, error) {
		return computeInterop{}, nil
	})
}

// SystemInfo returns the discovered plugins and adapters.
func (h *Host) SystemInfo() *plugin.SystemInfo {
	return h.info
}

// LoadInterface returns the interface of id, creating it on first use.
// Every successful call must be paired with UnloadInterface.
func (h *Host) LoadInterface(id plugin.ID) (plugin.Interface, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return nil, ErrShutdown
	}

	if l, ok := h.loaded[id]; ok {
		l.refs++
		return l.iface, nil
	}

	reg, ok := h.plugins.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", plugin.ErrNotFound, id)
	}

	iface, err := reg.Factory()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}

	h.loaded[id] = &loaded{iface: iface, refs: 1}
	slog.Debug("Plugin interface loaded", "plugin", id)
	return iface, nil
}

// UnloadInterface releases one reference to the interface of id.
func (h *Host) UnloadInterface(id plugin.ID, iface plugin.Interface) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.loaded[id]
	if !ok || l.iface != iface {
		return fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}

	l.refs--
	if l.refs == 0 {
		delete(h.loaded, id)
		slog.Debug("Plugin interface unloaded", "plugin", id)
	}
	return nil
}

// Shutdown stops every backend server. Interfaces still loaded are reported.
func (h *Host) Shutdown() error {
	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		return ErrShutdown
	}
	h.shutdown = true
	for id, l := range h.loaded {
		slog.Warn("Plugin interface still loaded at shutdown", "plugin", id, "refs", l.refs)
	}
	h.loaded = map[plugin.ID]*loaded{}
	h.mu.Unlock()

	h.servers.StopAll()
	slog.Info("Plugin runtime shut down")
	return nil
}

// computeInterop is the shared compute context plugin. Loading it keeps the
// context alive; it creates no instances.
type computeInterop struct{}

func (computeInterop) CapabilitiesAndRequirements(*chain.Chain) (*plugin.Capabilities, error) {
	return &plugin.Capabilities{}, nil
}

func (computeInterop) CreateInstance(*chain.Chain) (plugin.Instance, error) {
	return nil, plugin.ErrUnsupported
}

func (computeInterop) DestroyInstance(plugin.Instance) error {
	return plugin.ErrUnsupported
}
