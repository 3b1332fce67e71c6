package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/config"
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/params"
	"github.com/ekisa-team/igichat/internal/plugin"
	"github.com/ekisa-team/igichat/internal/plugin/plugintest"
	"github.com/ekisa-team/igichat/internal/session"
)

var rtx = plugin.AdapterSpec{Vendor: plugin.VendorNVIDIA, Architecture: 89}

func local(name, guid string) model.Entry {
	return model.Entry{
		PluginID:  plugin.GPTGGMLCUDA,
		ModelName: name,
		GUID:      guid,
		Status:    model.StatusAvailableLocally,
	}
}

type fixture struct {
	rt      *plugintest.Runtime
	iface   *plugintest.Interface
	tracker *chain.CountingTracker
	catalog *model.Catalog
	state   *session.State
	mgr     *Manager
}

func newFixture(t *testing.T, entries ...model.Entry) *fixture {
	t.Helper()

	iface := plugintest.NewInterface()
	rt := plugintest.NewRuntime(rtx).Add(plugin.Spec{ID: plugin.GPTGGMLCUDA}, iface)

	catalog := model.NewCatalog(model.DomainTextGeneration)
	for _, e := range entries {
		catalog.Append(e)
	}
	catalogs := map[model.Domain]*model.Catalog{model.DomainTextGeneration: catalog}

	tracker := chain.NewCountingTracker()
	builder := params.NewBuilder(config.Defaults(), "/models", catalogs, params.WithTracker(tracker))
	state := session.New()

	return &fixture{
		rt:      rt,
		iface:   iface,
		tracker: tracker,
		catalog: catalog,
		state:   state,
		mgr:     New(rt, builder, catalog, state),
	}
}

func TestManager_InitialLoad(t *testing.T) {
	f := newFixture(t, local("llama-3.2-3b", "{A}"))

	f.mgr.LoadOrSwap(0)
	f.mgr.Wait()

	st := f.state.Status(model.DomainTextGeneration)
	assert.True(t, st.Ready)
	assert.Equal(t, 0, st.Model)
	assert.Equal(t, 0, f.mgr.Loaded())
	assert.NoError(t, f.mgr.Err())

	inst, ok := f.mgr.Instance()
	require.True(t, ok)
	assert.Equal(t, "{A}", inst.(*plugintest.Instance).GUID)

	assert.Equal(t, 1, f.iface.Live())
	assert.Equal(t, 1, f.rt.Open(plugin.GPTGGMLCUDA))
	assert.Equal(t, 0, f.tracker.Live())
}

func TestManager_InitialLoadFailure(t *testing.T) {
	f := newFixture(t, local("llama-3.2-3b", "{A}"))
	f.iface.FailCreate("{A}", errors.New("out of memory"))

	f.mgr.LoadOrSwap(0)
	f.mgr.Wait()

	st := f.state.Status(model.DomainTextGeneration)
	assert.False(t, st.Ready)
	assert.Equal(t, session.PhaseFailed, st.Phase)
	assert.ErrorIs(t, f.mgr.Err(), ErrInstanceCreation)
	assert.NotErrorIs(t, f.mgr.Err(), ErrRollbackFailed)
	assert.Equal(t, 1, f.iface.Creates())
	assert.Equal(t, 0, f.rt.OpenTotal())
}

func TestManager_SwapRollsBack(t *testing.T) {
	f := newFixture(t, local("A", "{A}"), local("B", "{B}"))
	f.iface.FailCreate("{B}", errors.New("bad weights"))

	f.mgr.LoadOrSwap(0)
	f.mgr.Wait()
	require.True(t, f.state.Status(model.DomainTextGeneration).Ready)

	f.mgr.LoadOrSwap(1)
	f.mgr.Wait()

	st := f.state.Status(model.DomainTextGeneration)
	assert.True(t, st.Ready)
	assert.Equal(t, 0, st.Model)
	assert.Equal(t, 0, f.catalog.Selected())
	assert.ErrorIs(t, f.mgr.Err(), ErrInstanceCreation)

	inst, ok := f.mgr.Instance()
	require.True(t, ok)
	assert.Equal(t, "{A}", inst.(*plugintest.Instance).GUID)

	// A, B (failed), rollback to A; never two at once.
	assert.Equal(t, 3, f.iface.Creates())
	assert.Equal(t, 1, f.iface.Live())
	assert.Equal(t, 1, f.iface.MaxLive())
	assert.Equal(t, 1, f.rt.Open(plugin.GPTGGMLCUDA))
	assert.Equal(t, 0, f.tracker.Live())
}

func TestManager_RollbackFailure(t *testing.T) {
	f := newFixture(t, local("A", "{A}"), local("B", "{B}"))

	f.mgr.LoadOrSwap(0)
	f.mgr.Wait()

	f.iface.FailCreate("{A}", errors.New("device lost"))
	f.iface.FailCreate("{B}", errors.New("bad weights"))
	f.mgr.LoadOrSwap(1)
	f.mgr.Wait()

	st := f.state.Status(model.DomainTextGeneration)
	assert.False(t, st.Ready)
	assert.Equal(t, session.PhaseFailed, st.Phase)
	assert.ErrorIs(t, f.mgr.Err(), ErrRollbackFailed)

	_, ok := f.mgr.Instance()
	assert.False(t, ok)
	assert.Equal(t, 0, f.iface.Live())
	assert.Equal(t, 0, f.rt.OpenTotal())
	assert.Equal(t, 0, f.tracker.Live())
}

func TestManager_UnselectAndShutdown(t *testing.T) {
	swaps := 0
	f := newFixture(t, local("A", "{A}"))
	f.mgr = New(f.rt, params.NewBuilder(config.Defaults(), "/models",
		map[model.Domain]*model.Catalog{model.DomainTextGeneration: f.catalog}), f.catalog, f.state,
		WithSwapHook(func() { swaps++ }))

	f.mgr.LoadOrSwap(0)
	f.mgr.Wait()
	f.mgr.LoadOrSwap(model.NoSelection)
	f.mgr.Wait()

	assert.Equal(t, 2, swaps)
	assert.Equal(t, session.PhaseUnselected, f.state.Status(model.DomainTextGeneration).Phase)
	assert.Equal(t, model.NoSelection, f.catalog.Selected())
	assert.Equal(t, 0, f.iface.Live())

	f.mgr.LoadOrSwap(0)
	f.mgr.Shutdown()
	assert.Equal(t, 0, f.iface.Live())
	assert.Equal(t, 0, f.rt.OpenTotal())
}

// Doubles for the cloud credential checks.

type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) SystemInfo() *plugin.SystemInfo {
	return &plugin.SystemInfo{}
}

func (m *MockRuntime) LoadInterface(id plugin.ID) (plugin.Interface, error) {
	args := m.Called(id)
	iface, _ := args.Get(0).(plugin.Interface)
	return iface, args.Error(1)
}

func (m *MockRuntime) UnloadInterface(id plugin.ID, iface plugin.Interface) error {
	return m.Called(id, iface).Error(0)
}

func (m *MockRuntime) Shutdown() error {
	return m.Called().Error(0)
}

type MockInterface struct {
	mock.Mock
}

func (m *MockInterface) CapabilitiesAndRequirements(params *chain.Chain) (*plugin.Capabilities, error) {
	args := m.Called(params)
	caps, _ := args.Get(0).(*plugin.Capabilities)
	return caps, args.Error(1)
}

func (m *MockInterface) CreateInstance(params *chain.Chain) (plugin.Instance, error) {
	args := m.Called(params)
	inst, _ := args.Get(0).(plugin.Instance)
	return inst, args.Error(1)
}

func (m *MockInterface) DestroyInstance(inst plugin.Instance) error {
	return m.Called(inst).Error(0)
}

func TestManager_MissingCloudCredentialNeverCreates(t *testing.T) {
	iface := new(MockInterface)
	rt := new(MockRuntime)
	rt.On("LoadInterface", plugin.GPTCloudREST).Return(iface, nil).Maybe()

	catalog := model.NewCatalog(model.DomainTextGeneration)
	catalog.Append(model.Entry{
		PluginID:  plugin.GPTCloudREST,
		ModelName: "llama-3.1-70b",
		GUID:      "{C}",
		URL:       "https://integrate.api.nvidia.com/v1/chat/completions",
		Status:    model.StatusAvailableCloud,
	})

	tracker := chain.NewCountingTracker()
	noEnv := func(string) (string, bool) { return "", false }
	builder := params.NewBuilder(config.Defaults(), "/models",
		map[model.Domain]*model.Catalog{model.DomainTextGeneration: catalog},
		params.WithLookupEnv(noEnv), params.WithTracker(tracker))
	state := session.New()

	mgr := New(rt, builder, catalog, state)
	mgr.LoadOrSwap(0)
	mgr.Wait()

	assert.ErrorIs(t, mgr.Err(), params.ErrAuthMissing)
	assert.False(t, state.Status(model.DomainTextGeneration).Ready)
	assert.Equal(t, 0, tracker.Live())

	rt.AssertNotCalled(t, "LoadInterface", mock.Anything)
	iface.AssertNotCalled(t, "CreateInstance", mock.Anything)
}

func TestManager_SwapWaitsForRunningTurn(t *testing.T) {
	f := newFixture(t, local("llama-3.2-3b", "{A}"), local("mistral-7b", "{B}"))
	d := model.DomainTextGeneration

	f.mgr.LoadOrSwap(0)
	f.mgr.Wait()
	require.True(t, f.state.BeginRun(d))

	swapped := make(chan struct{})
	go func() {
		f.mgr.LoadOrSwap(1)
		close(swapped)
	}()

	assert.Never(t, func() bool { return f.iface.Destroys() > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"instance destroyed while a turn was running")
	_, ok := f.mgr.Instance()
	assert.True(t, ok)

	f.state.EndRun(d, plugin.StateDone, nil)
	<-swapped
	f.mgr.Wait()

	assert.Equal(t, 1, f.iface.Destroys())
	assert.Equal(t, 1, f.mgr.Loaded())
	assert.Equal(t, 1, f.iface.MaxLive())
}
