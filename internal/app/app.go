// Package app wires the engine together. An App is constructed once at
// startup, initialized against a plugin runtime and shut down explicitly.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ekisa-team/igichat/internal/audio"
	"github.com/ekisa-team/igichat/internal/backend"
	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/config"
	"github.com/ekisa-team/igichat/internal/inference"
	"github.com/ekisa-team/igichat/internal/lifecycle"
	"github.com/ekisa-team/igichat/internal/metrics"
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/params"
	"github.com/ekisa-team/igichat/internal/plugin"
	"github.com/ekisa-team/igichat/internal/session"
)

// ErrEmptyPrompt is returned when submitting a blank chat turn.
var ErrEmptyPrompt = errors.New("prompt is empty")

type options struct {
	sharedContext bool
	builderOpts   []params.Option
}

// Option configures an App.
type Option func(*options)

// WithSharedContext enables or disables the shared compute context.
func WithSharedContext(enabled bool) Option {
	return func(o *options) {
		o.sharedContext = enabled
	}
}

// WithBuilderOptions passes options to the parameter builder.
func WithBuilderOptions(opts ...params.Option) Option {
	return func(o *options) {
		o.builderOpts = append(o.builderOpts, opts...)
	}
}

// App owns the catalogs, the lifecycle managers and the inference driver of
// both domains.
type App struct {
	rt       plugin.Runtime
	registry *plugin.Registry
	catalogs map[model.Domain]*model.Catalog
	builder  *params.Builder
	state    *session.State
	managers map[model.Domain]*lifecycle.Manager
	driver   *inference.Driver
	shared   bool

	mu       sync.Mutex
	hwi      plugin.Interface
	recorder audio.Recorder
}

// New creates an App over rt. modelsPath is the shipped models root.
func New(rt plugin.Runtime, cfg *config.Config, modelsPath string, opts ...Option) *App {
	if cfg == nil {
		cfg = config.Defaults()
	}

	o := options{sharedContext: cfg.Runtime.SharedComputeContext}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		rt:       rt,
		catalogs: make(map[model.Domain]*model.Catalog, len(model.Domains)),
		state:    session.New(),
		managers: make(map[model.Domain]*lifecycle.Manager, len(model.Domains)),
		shared:   o.sharedContext,
	}
	for _, d := range model.Domains {
		a.catalogs[d] = model.NewCatalog(d)
	}

	a.builder = params.NewBuilder(cfg, modelsPath, a.catalogs, o.builderOpts...)

	a.managers[model.DomainSpeechRecognition] = lifecycle.New(rt, a.builder,
		a.catalogs[model.DomainSpeechRecognition], a.state)
	a.managers[model.DomainTextGeneration] = lifecycle.New(rt, a.builder,
		a.catalogs[model.DomainTextGeneration], a.state,
		lifecycle.WithSwapHook(func() { a.state.SetConversationInitialized(false) }))

	a.driver = inference.New(a.state, a.builder,
		a.managers[model.DomainSpeechRecognition], a.managers[model.DomainTextGeneration])

	return a
}

// Initialize selects the adapter, establishes the shared compute context and
// populates both catalogs. Backends that fail are skipped.
func (a *App) Initialize() {
	cfg := a.builder.Config()

	vendor, err := plugin.ParseVendor(cfg.Runtime.PreferredVendor)
	if err != nil {
		slog.Warn("Invalid preferred vendor, using NVIDIA", "error", err)
		vendor = plugin.VendorNVIDIA
	}
	a.registry = plugin.NewRegistry(a.rt.SystemInfo(), vendor)

	if a.shared {
		a.initSharedContext()
	}

	populator := backend.NewPopulator(a.rt, a.registry, a.builder)
	for _, d := range model.Domains {
		catalog := a.catalogs[d]
		if err := populator.Populate(catalog, backend.For(d), ""); err != nil {
			slog.Warn("Some backends were skipped", "domain", d, "error", err)
		}

		index := catalog.SelectDefault()
		if index == model.NoSelection && catalog.Len() > 0 {
			slog.Warn("No locally available model, select a cloud model or download one", "domain", d)
		}
		a.publishCatalog(d)

		slog.Info("Catalog populated", "domain", d, "models", catalog.Len(), "selected", index)
	}

	a.state.ResetConversation(cfg.TextGeneration.Greeting)
}

func (a *App) initSharedContext() {
	adapter, ok := a.registry.Adapter()
	if !ok || adapter.Vendor != plugin.VendorNVIDIA {
		return
	}
	if !a.registry.IsCompatible(plugin.HardwareInterop) {
		return
	}

	iface, err := a.rt.LoadInterface(plugin.HardwareInterop)
	if err != nil {
		slog.Warn("Shared compute context unavailable", "error", err)
		return
	}

	a.mu.Lock()
	a.hwi = iface
	a.mu.Unlock()

	a.builder.SetSharedContext(&chain.HardwareContext{DeviceIndex: adapter.DeviceIndex, DeviceName: adapter.Name})
	slog.Info("Shared compute context established", "device", adapter.Name, "index", adapter.DeviceIndex)
}

func (a *App) publishCatalog(d model.Domain) {
	counts := make(map[string]int)
	for s, n := range a.catalogs[d].CountByStatus() {
		counts[string(s)] = n
	}
	metrics.SetCatalog(string(d), counts)
}

// Start loads the default model of every domain in the background.
func (a *App) Start() {
	for _, d := range model.Domains {
		a.managers[d].LoadOrSwap(a.catalogs[d].Selected())
	}
}

// ApplyConfig makes later parameter builds and turns use cfg. Loaded models
// are kept.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.builder.Apply(cfg)
	slog.Info("Configuration applied")
}

// Catalog returns the catalog of d.
func (a *App) Catalog(d model.Domain) (*model.Catalog, bool) {
	c, ok := a.catalogs[d]
	return c, ok
}

// State returns the shared session state.
func (a *App) State() *session.State {
	return a.state
}

// Snapshot returns a consistent copy of the session state.
func (a *App) Snapshot() session.Snapshot {
	return a.state.Snapshot()
}

// Ready reports whether no domain is loading and at least one is ready.
func (a *App) Ready() bool {
	ready := false
	for _, d := range model.Domains {
		st := a.state.Status(d)
		if st.Phase == session.PhaseLoading {
			return false
		}
		ready = ready || st.Ready
	}
	return ready
}

// StartRecording joins running inference, clears the transcript and starts rec.
func (a *App) StartRecording(rec audio.Recorder) error {
	a.driver.Flush()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.recorder != nil {
		return audio.ErrAlreadyRecording
	}
	if err := rec.Start(); err != nil {
		return err
	}

	a.recorder = rec
	a.state.StartRecording()
	return nil
}

// StopRecordingAndRunASR stops the recorder and transcribes its buffer.
func (a *App) StopRecordingAndRunASR() error {
	a.state.StopRecording()
	a.driver.Flush()

	a.mu.Lock()
	rec := a.recorder
	a.recorder = nil
	a.mu.Unlock()

	if rec == nil {
		return audio.ErrNotRecording
	}

	pcm, err := rec.Stop()
	if err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	return a.driver.RunSpeechToText(pcm)
}

// SubmitChat starts a chat turn for prompt.
func (a *App) SubmitChat(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	return a.driver.RunChat(prompt)
}

// Tick submits the transcribed prompt once speech recognition has finished.
// It reports whether a chat turn was started.
func (a *App) Tick() (bool, error) {
	prompt, ok := a.state.TakeInputReady()
	if !ok || strings.TrimSpace(prompt) == "" {
		return false, nil
	}
	if err := a.SubmitChat(prompt); err != nil {
		return false, err
	}
	return true, nil
}

// ResetConversation starts a new conversation after the running chat finishes.
func (a *App) ResetConversation() {
	a.driver.WaitChat()
	a.state.ResetConversation(a.builder.Config().TextGeneration.Greeting)
}

// SwapModel replaces the model of d with the entry at index. Entries that are
// not available are rejected. A running turn of d finishes on the old
// instance first; turns submitted after the swap starts fail with
// inference.ErrNotReady until the new model is ready.
func (a *App) SwapModel(d model.Domain, index int) error {
	catalog, ok := a.catalogs[d]
	if !ok {
		return fmt.Errorf("%w: %s", params.ErrUnknownDomain, d)
	}

	if index != model.NoSelection {
		entry, err := catalog.Get(index)
		if err != nil {
			return err
		}
		if !entry.Status.Selectable() {
			return fmt.Errorf("%w: %s (%s)", model.ErrNotSelectable, entry.Caption, entry.Status)
		}
	}

	slog.Info("Swapping model", "domain", d, "index", index)
	a.managers[d].LoadOrSwap(index)
	return nil
}

// Flush waits for pending loads and inference tasks.
func (a *App) Flush() {
	for _, d := range model.Domains {
		a.managers[d].Wait()
	}
	a.driver.Flush()
}

// Shutdown joins every task, destroys the instances and shuts the runtime down.
func (a *App) Shutdown() error {
	a.driver.Shutdown()
	for _, d := range model.Domains {
		a.managers[d].Shutdown()
	}

	a.mu.Lock()
	hwi := a.hwi
	a.hwi = nil
	a.mu.Unlock()

	if hwi != nil {
		a.builder.SetSharedContext(nil)
		if err := a.rt.UnloadInterface(plugin.HardwareInterop, hwi); err != nil {
			slog.Error("Failed to unload shared compute context", "error", err)
		}
	}

	return a.rt.Shutdown()
}
