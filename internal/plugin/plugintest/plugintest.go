// Package plugintest provides scriptable in-memory plugins for tests.
package plugintest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/plugin"
)

// ErrNotLive is returned when destroying an instance that is not live.
var ErrNotLive = errors.New("plugintest: instance is not live")

// Runtime is a plugin.Runtime over registered fake interfaces.
type Runtime struct {
	mu         sync.Mutex
	info       plugin.SystemInfo
	interfaces map[plugin.ID]*Interface
	loadErrs   map[plugin.ID]error
	open       map[plugin.ID]int
	shutdown   bool
}

// NewRuntime creates a runtime that reports the given adapters.
func NewRuntime(adapters ...plugin.AdapterSpec) *Runtime {
	return &Runtime{
		info:       plugin.SystemInfo{Adapters: adapters},
		interfaces: make(map[plugin.ID]*Interface),
		loadErrs:   make(map[plugin.ID]error),
		open:       make(map[plugin.ID]int),
	}
}

// Add registers a discoverable plugin.
func (r *Runtime) Add(spec plugin.Spec, iface *Interface) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.info.Plugins = append(r.info.Plugins, spec)
	r.interfaces[spec.ID] = iface
	return r
}

// FailLoad makes LoadInterface of id fail with err.
func (r *Runtime) FailLoad(id plugin.ID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loadErrs[id] = err
}

func (r *Runtime) SystemInfo() *plugin.SystemInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := r.info
	return &info
}

func (r *Runtime) LoadInterface(id plugin.ID) (plugin.Interface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadErrs[id]; err != nil {
		return nil, err
	}
	iface, ok := r.interfaces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", plugin.ErrNotFound, id)
	}
	r.open[id]++
	return iface, nil
}

func (r *Runtime) UnloadInterface(id plugin.ID, _ plugin.Interface) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open[id] == 0 {
		return fmt.Errorf("plugintest: %s is not loaded", id)
	}
	r.open[id]--
	return nil
}

func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shutdown = true
	return nil
}

// Open returns how many times id is currently loaded.
func (r *Runtime) Open(id plugin.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.open[id]
}

// OpenTotal returns the number of loaded interfaces across all plugins.
func (r *Runtime) OpenTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.open {
		n += c
	}
	return n
}

// IsShutdown reports whether Shutdown was called.
func (r *Runtime) IsShutdown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.shutdown
}

// EvalFunc scripts the behavior of Evaluate.
type EvalFunc func(ctx context.Context, inst *Instance, exec *plugin.ExecutionContext) error

// Interface is a fake plugin.Interface.
type Interface struct {
	mu         sync.Mutex
	models     []plugin.SupportedModel
	cloudURLs  map[string]string
	capsErr    error
	createErrs map[string]error
	eval       EvalFunc
	live       map[*Instance]struct{}
	creates    int
	destroys   int
	maxLive    int
	chains     [][]chain.Kind
}

// NewInterface creates an interface reporting models.
func NewInterface(models ...plugin.SupportedModel) *Interface {
	return &Interface{
		models:     models,
		cloudURLs:  make(map[string]string),
		createErrs: make(map[string]error),
		live:       make(map[*Instance]struct{}),
		eval:       Reply("ok"),
	}
}

// WithCloudURL reports url when the capability query targets guid.
func (i *Interface) WithCloudURL(guid, url string) *Interface {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.cloudURLs[guid] = url
	return i
}

// FailCaps makes every capability query fail.
func (i *Interface) FailCaps(err error) *Interface {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.capsErr = err
	return i
}

// FailCreate makes creation of guid fail. A nil err clears the failure.
func (i *Interface) FailCreate(guid string, err error) *Interface {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err == nil {
		delete(i.createErrs, guid)
	} else {
		i.createErrs[guid] = err
	}
	return i
}

// OnEvaluate scripts Evaluate for all instances.
func (i *Interface) OnEvaluate(fn EvalFunc) *Interface {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.eval = fn
	return i
}

func (i *Interface) CapabilitiesAndRequirements(params *chain.Chain) (*plugin.Capabilities, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.capsErr != nil {
		return nil, i.capsErr
	}

	common, ok := chain.Find[*chain.Common](params)
	if !ok {
		return nil, plugin.ErrMissingInput
	}

	if common.ModelGUID == "" {
		return &plugin.Capabilities{Models: append([]plugin.SupportedModel(nil), i.models...)}, nil
	}

	caps := &plugin.Capabilities{}
	for _, m := range i.models {
		if m.GUID == common.ModelGUID {
			caps.Models = append(caps.Models, m)
		}
	}
	if url, ok := i.cloudURLs[common.ModelGUID]; ok {
		caps.Cloud = &plugin.CloudCapabilities{URL: url}
	}
	return caps, nil
}

func (i *Interface) CreateInstance(params *chain.Chain) (plugin.Instance, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.creates++
	i.chains = append(i.chains, kindsOf(params))

	common, ok := chain.Find[*chain.Common](params)
	if !ok {
		return nil, plugin.ErrMissingInput
	}
	if err := i.createErrs[common.ModelGUID]; err != nil {
		return nil, err
	}

	inst := &Instance{GUID: common.ModelGUID, iface: i}
	i.live[inst] = struct{}{}
	if len(i.live) > i.maxLive {
		i.maxLive = len(i.live)
	}
	return inst, nil
}

func (i *Interface) DestroyInstance(inst plugin.Instance) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	fake, ok := inst.(*Instance)
	if !ok {
		return fmt.Errorf("plugintest: foreign instance %T", inst)
	}
	if _, ok := i.live[fake]; !ok {
		return ErrNotLive
	}
	delete(i.live, fake)
	i.destroys++
	return nil
}

// Live returns the number of created, not yet destroyed instances.
func (i *Interface) Live() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return len(i.live)
}

// MaxLive returns the highest number of simultaneously live instances.
func (i *Interface) MaxLive() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.maxLive
}

// Creates returns the number of CreateInstance calls.
func (i *Interface) Creates() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.creates
}

// Destroys returns the number of successful DestroyInstance calls.
func (i *Interface) Destroys() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.destroys
}

// CreateChains returns the block kinds of every creation chain received.
func (i *Interface) CreateChains() [][]chain.Kind {
	i.mu.Lock()
	defer i.mu.Unlock()

	return append([][]chain.Kind(nil), i.chains...)
}

func kindsOf(c *chain.Chain) []chain.Kind {
	var out []chain.Kind
	for _, b := range c.Blocks() {
		out = append(out, b.Kind())
	}
	return out
}

// Instance is a fake model instance recording its inputs.
type Instance struct {
	GUID   string
	iface  *Interface
	mu     sync.Mutex
	inputs []plugin.Slots
}

func (inst *Instance) Evaluate(ctx context.Context, exec *plugin.ExecutionContext) error {
	inst.mu.Lock()
	inst.inputs = append(inst.inputs, append(plugin.Slots(nil), exec.Inputs...))
	inst.mu.Unlock()

	inst.iface.mu.Lock()
	eval := inst.iface.eval
	inst.iface.mu.Unlock()

	return eval(ctx, inst, exec)
}

// Inputs returns the inputs of every Evaluate call in order.
func (inst *Instance) Inputs() []plugin.Slots {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	return append([]plugin.Slots(nil), inst.inputs...)
}

// Reply streams chunks as data-pending reports from another goroutine and
// then reports done. Chunks go to the transcription slot for audio input and
// to the response slot otherwise.
func Reply(chunks ...string) EvalFunc {
	return func(_ context.Context, _ *Instance, exec *plugin.ExecutionContext) error {
		key := plugin.SlotResponse
		if _, ok := exec.Inputs.Audio(plugin.SlotAudio); ok {
			key = plugin.SlotTranscribed
		}

		go func() {
			for _, c := range chunks {
				if exec.Callback(plugin.Slots{{Key: key, Text: c}}, plugin.StateDataPending).Terminal() {
					return
				}
			}
			exec.Callback(nil, plugin.StateDone)
		}()
		return nil
	}
}

// Fail makes Evaluate return err without invoking the callback.
func Fail(err error) EvalFunc {
	return func(context.Context, *Instance, *plugin.ExecutionContext) error {
		return err
	}
}

// Terminate reports state once, asynchronously, without output.
func Terminate(state plugin.ExecutionState) EvalFunc {
	return func(_ context.Context, _ *Instance, exec *plugin.ExecutionContext) error {
		go exec.Callback(nil, state)
		return nil
	}
}
