package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/config"
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/params"
	"github.com/ekisa-team/igichat/internal/plugin"
	"github.com/ekisa-team/igichat/internal/plugin/plugintest"
)

var rtx = plugin.AdapterSpec{Vendor: plugin.VendorNVIDIA, Name: "RTX 4090", Architecture: 89, DriverVersion: plugin.DriverVersion{Major: 560}}

func cudaSpec(id plugin.ID) plugin.Spec {
	return plugin.Spec{ID: id, RequiredVendor: plugin.VendorNVIDIA, RequiredArchitecture: 75}
}

type fixture struct {
	rt       *plugintest.Runtime
	tracker  *chain.CountingTracker
	catalogs map[model.Domain]*model.Catalog
	pop      *Populator
}

func newFixture(rt *plugintest.Runtime) *fixture {
	catalogs := map[model.Domain]*model.Catalog{
		model.DomainTextGeneration:    model.NewCatalog(model.DomainTextGeneration),
		model.DomainSpeechRecognition: model.NewCatalog(model.DomainSpeechRecognition),
	}
	tracker := chain.NewCountingTracker()
	builder := params.NewBuilder(config.Defaults(), "/models", catalogs, params.WithTracker(tracker))
	registry := plugin.NewRegistry(rt.SystemInfo(), plugin.VendorNVIDIA)

	return &fixture{rt: rt, tracker: tracker, catalogs: catalogs, pop: NewPopulator(rt, registry, builder)}
}

func TestPopulate_TextGeneration(t *testing.T) {
	local := plugintest.NewInterface(
		plugin.SupportedModel{GUID: "{L1}", Name: "llama-3.2-3b"},
		plugin.SupportedModel{GUID: "{L2}", Name: "mistral-7b", Flags: plugin.ModelFlagRequiresDownload},
	)
	cloud := plugintest.NewInterface(
		plugin.SupportedModel{GUID: "{C1}", Name: "llama-3.1-70b"},
		plugin.SupportedModel{GUID: "{C2}", Name: "no-endpoint"},
	).WithCloudURL("{C1}", "https://integrate.api.nvidia.com/v1")

	rt := plugintest.NewRuntime(rtx).
		Add(plugin.Spec{ID: plugin.GPTCloudREST}, cloud).
		Add(cudaSpec(plugin.GPTGGMLCUDA), local)

	f := newFixture(rt)
	catalog := f.catalogs[model.DomainTextGeneration]

	require.NoError(t, f.pop.Populate(catalog, TextGeneration, ""))

	entries := catalog.List()
	require.Len(t, entries, 3)

	// Preference order, not discovery order.
	assert.Equal(t, plugin.GPTGGMLCUDA, entries[0].PluginID)
	assert.Equal(t, model.StatusAvailableLocally, entries[0].Status)
	assert.Equal(t, "/models", entries[0].ModelRoot)
	assert.Equal(t, "ggml.cuda : llama-3.2-3b", entries[0].Caption)

	assert.Equal(t, model.StatusRequiresManualDownload, entries[1].Status)

	assert.Equal(t, plugin.GPTCloudREST, entries[2].PluginID)
	assert.Equal(t, model.StatusAvailableCloud, entries[2].Status)
	assert.Equal(t, "https://integrate.api.nvidia.com/v1", entries[2].URL)

	assert.Equal(t, model.NoSelection, catalog.Selected())
	assert.Equal(t, 0, catalog.SelectDefault())

	assert.Equal(t, 0, rt.OpenTotal())
	assert.Equal(t, 0, f.tracker.Live())
}

func TestPopulate_SkipsFailingAndIncompatibleBackends(t *testing.T) {
	failing := plugintest.NewInterface().FailCaps(errors.New("driver crashed"))
	cpu := plugintest.NewInterface(plugin.SupportedModel{GUID: "{W}", Name: "whisper-small"})

	// No adapters: the CUDA backend is incompatible.
	rt := plugintest.NewRuntime().
		Add(cudaSpec(plugin.ASRGGMLCUDA), failing).
		Add(plugin.Spec{ID: plugin.ASRGGMLCPU, RequiredVendor: plugin.VendorAny}, cpu)

	f := newFixture(rt)
	catalog := f.catalogs[model.DomainSpeechRecognition]

	require.NoError(t, f.pop.Populate(catalog, SpeechRecognition, ""))
	require.Equal(t, 1, catalog.Len())

	// With an adapter the CUDA backend is queried and its failure reported.
	rt = plugintest.NewRuntime(rtx).
		Add(cudaSpec(plugin.ASRGGMLCUDA), failing).
		Add(plugin.Spec{ID: plugin.ASRGGMLCPU, RequiredVendor: plugin.VendorAny}, cpu)
	f = newFixture(rt)
	catalog = f.catalogs[model.DomainSpeechRecognition]

	err := f.pop.Populate(catalog, SpeechRecognition, "/custom")
	assert.ErrorIs(t, err, ErrCapabilityQuery)
	require.Equal(t, 1, catalog.Len())
	e, _ := catalog.Get(0)
	assert.Equal(t, "/custom", e.ModelRoot)
	assert.Equal(t, 0, rt.OpenTotal())
	assert.Equal(t, 0, f.tracker.Live())
}

func TestPopulate_LoadFailureSkipsBackend(t *testing.T) {
	rt := plugintest.NewRuntime(rtx).
		Add(cudaSpec(plugin.GPTGGMLCUDA), plugintest.NewInterface(plugin.SupportedModel{GUID: "{L}"}))
	rt.FailLoad(plugin.GPTGGMLCUDA, errors.New("missing dll"))

	f := newFixture(rt)
	catalog := f.catalogs[model.DomainTextGeneration]

	err := f.pop.Populate(catalog, TextGeneration, "")
	assert.ErrorContains(t, err, "missing dll")
	assert.Zero(t, catalog.Len())
	assert.Equal(t, model.NoSelection, catalog.SelectDefault())
}

func TestPopulate_Idempotent(t *testing.T) {
	rt := plugintest.NewRuntime(rtx).
		Add(cudaSpec(plugin.GPTGGMLCUDA), plugintest.NewInterface(
			plugin.SupportedModel{GUID: "{A}", Name: "a"},
			plugin.SupportedModel{GUID: "{B}", Name: "b"},
		))

	first := newFixture(rt)
	second := newFixture(rt)

	require.NoError(t, first.pop.Populate(first.catalogs[model.DomainTextGeneration], TextGeneration, ""))
	require.NoError(t, second.pop.Populate(second.catalogs[model.DomainTextGeneration], TextGeneration, ""))

	assert.Equal(t,
		first.catalogs[model.DomainTextGeneration].List(),
		second.catalogs[model.DomainTextGeneration].List(),
	)
}

func TestFor(t *testing.T) {
	assert.Equal(t, TextGeneration, For(model.DomainTextGeneration))
	assert.Equal(t, SpeechRecognition, For(model.DomainSpeechRecognition))
	assert.Nil(t, For(model.Domain("tts")))
}
