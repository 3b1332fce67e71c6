package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var driver555 = DriverVersion{Major: 555, Minor: 85}

func cudaSpec() Spec {
	return Spec{
		ID:                    GPTGGMLCUDA,
		Name:                  "ggml.cuda",
		RequiredVendor:        VendorNVIDIA,
		RequiredArchitecture:  75,
		RequiredDriverVersion: driver555,
	}
}

func TestRegistry_IsCompatible(t *testing.T) {
	rtx := AdapterSpec{Vendor: VendorNVIDIA, Name: "RTX 4090", Architecture: 89, DriverVersion: DriverVersion{Major: 560, Minor: 94}}

	tests := []struct {
		name     string
		plugins  []Spec
		adapters []AdapterSpec
		id       ID
		want     bool
	}{
		{
			name:     "all requirements hold",
			plugins:  []Spec{cudaSpec()},
			adapters: []AdapterSpec{rtx},
			id:       GPTGGMLCUDA,
			want:     true,
		},
		{
			name:     "plugin not discovered",
			plugins:  []Spec{cudaSpec()},
			adapters: []AdapterSpec{rtx},
			id:       ASRGGMLCUDA,
			want:     false,
		},
		{
			name:    "vendor specific without adapter",
			plugins: []Spec{cudaSpec()},
			id:      GPTGGMLCUDA,
			want:    false,
		},
		{
			name:     "vendor mismatch",
			plugins:  []Spec{cudaSpec()},
			adapters: []AdapterSpec{{Vendor: VendorAMD, Architecture: 200, DriverVersion: DriverVersion{Major: 900}}},
			id:       GPTGGMLCUDA,
			want:     false,
		},
		{
			name:     "architecture below minimum",
			plugins:  []Spec{cudaSpec()},
			adapters: []AdapterSpec{{Vendor: VendorNVIDIA, Architecture: 61, DriverVersion: DriverVersion{Major: 560}}},
			id:       GPTGGMLCUDA,
			want:     false,
		},
		{
			name:     "driver below minimum",
			plugins:  []Spec{cudaSpec()},
			adapters: []AdapterSpec{{Vendor: VendorNVIDIA, Architecture: 89, DriverVersion: DriverVersion{Major: 555, Minor: 84, Build: 99}}},
			id:       GPTGGMLCUDA,
			want:     false,
		},
		{
			name:    "vendor agnostic without adapter",
			plugins: []Spec{{ID: ASRGGMLCPU, RequiredVendor: VendorAny}},
			id:      ASRGGMLCPU,
			want:    true,
		},
		{
			name:    "no hardware requirement",
			plugins: []Spec{{ID: GPTCloudREST, RequiredVendor: VendorNone}},
			id:      GPTCloudREST,
			want:    true,
		},
		{
			name:    "vendor agnostic with driver requirement and no adapter",
			plugins: []Spec{{ID: ASRGGMLCPU, RequiredVendor: VendorAny, RequiredDriverVersion: driver555}},
			id:      ASRGGMLCPU,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(&SystemInfo{Plugins: tt.plugins, Adapters: tt.adapters}, VendorNVIDIA)
			assert.Equal(t, tt.want, r.IsCompatible(tt.id))
		})
	}
}

func TestRegistry_CheckErrors(t *testing.T) {
	r := NewRegistry(&SystemInfo{Plugins: []Spec{cudaSpec()}}, VendorNVIDIA)

	assert.ErrorIs(t, r.Check(GPTGGMLCUDA), ErrIncompatible)
	assert.ErrorIs(t, r.Check(GPTCloudREST), ErrNotFound)
}

func TestSelectAdapter(t *testing.T) {
	adapters := []AdapterSpec{
		{Vendor: VendorIntel, Name: "iGPU", Architecture: 12},
		{Vendor: VendorNVIDIA, Name: "RTX 3080", Architecture: 86},
		{Vendor: VendorNVIDIA, Name: "RTX 4080", Architecture: 89},
	}

	a := SelectAdapter(adapters, VendorNVIDIA)
	require.NotNil(t, a)
	assert.Equal(t, "RTX 4080", a.Name)

	a = SelectAdapter(adapters[:1], VendorNVIDIA)
	require.NotNil(t, a)
	assert.Equal(t, "iGPU", a.Name)

	assert.Nil(t, SelectAdapter(nil, VendorNVIDIA))
}

func TestParseDriverVersion(t *testing.T) {
	v, err := ParseDriverVersion("560.35.3")
	require.NoError(t, err)
	assert.Equal(t, DriverVersion{Major: 560, Minor: 35, Build: 3}, v)

	v, err = ParseDriverVersion("555.85")
	require.NoError(t, err)
	assert.False(t, v.Less(driver555))
	assert.True(t, DriverVersion{Major: 555, Minor: 84}.Less(v))

	_, err = ParseDriverVersion("")
	assert.Error(t, err)
	_, err = ParseDriverVersion("v560")
	assert.Error(t, err)
}

func TestParseVendor(t *testing.T) {
	v, err := ParseVendor("NVIDIA")
	require.NoError(t, err)
	assert.Equal(t, VendorNVIDIA, v)
	assert.True(t, v.Specific())
	assert.False(t, VendorAny.Specific())

	_, err = ParseVendor("3dfx")
	assert.Error(t, err)
}

func TestSlots(t *testing.T) {
	s := Slots{{Key: SlotResponse, Text: "hi"}, {Key: SlotAudio, Audio: &AudioData{SampleRate: 16000}}}

	text, ok := s.Text(SlotResponse)
	assert.True(t, ok)
	assert.Equal(t, "hi", text)

	audio, ok := s.Audio(SlotAudio)
	require.True(t, ok)
	assert.Equal(t, 16000, audio.SampleRate)

	_, ok = s.Text(SlotUser)
	assert.False(t, ok)
	assert.True(t, StateError.Terminal())
	assert.False(t, StateDataPending.Terminal())
}
