package plugin

import (
	"context"

	"github.com/ekisa-team/igichat/internal/chain"
)

// AdapterSpec describes a detected GPU adapter.
type AdapterSpec struct {
	Vendor        VendorID
	Name          string
	Architecture  uint32
	DriverVersion DriverVersion
	DeviceIndex   int
	VRAMMB        int
}

// Spec describes a discoverable plugin and its hardware requirements.
type Spec struct {
	ID                    ID
	Name                  string
	RequiredVendor        VendorID
	RequiredArchitecture  uint32
	RequiredDriverVersion DriverVersion
}

// SystemInfo is the runtime's view of plugins and adapters.
type SystemInfo struct {
	Plugins  []Spec
	Adapters []AdapterSpec
}

// Plugin returns the spec of id, if discovered.
func (s *SystemInfo) Plugin(id ID) (Spec, bool) {
	if s == nil {
		return Spec{}, false
	}
	for _, p := range s.Plugins {
		if p.ID == id {
			return p, true
		}
	}
	return Spec{}, false
}

// ModelFlags annotate a supported model.
type ModelFlags uint32

// ModelFlagRequiresDownload marks a model whose weights are not present locally.
const ModelFlagRequiresDownload ModelFlags = 1 << 0

// SupportedModel is one entry of a capability query.
type SupportedModel struct {
	GUID  string
	Name  string
	Flags ModelFlags
}

// CloudCapabilities is returned by cloud backends for a single model query.
type CloudCapabilities struct {
	URL string
}

// Capabilities is the result of a capability query.
type Capabilities struct {
	Models []SupportedModel
	Cloud  *CloudCapabilities
}

// Runtime resolves plugin interfaces by id.
type Runtime interface {
	SystemInfo() *SystemInfo
	LoadInterface(id ID) (Interface, error)
	UnloadInterface(id ID, iface Interface) error
	Shutdown() error
}

// Interface is the creation surface of a loaded plugin.
type Interface interface {
	CapabilitiesAndRequirements(params *chain.Chain) (*Capabilities, error)
	CreateInstance(params *chain.Chain) (Instance, error)
	DestroyInstance(inst Instance) error
}

// Instance is a created model instance.
//
// Evaluate returns an error only when it never invokes the callback. Once it
// returns nil the callback receives zero or more StateDataPending reports
// followed by one terminal state, possibly from another goroutine. A terminal
// state returned by the callback ends the turn and nothing more is reported.
type Instance interface {
	Evaluate(ctx context.Context, exec *ExecutionContext) error
}

// ExecutionState is reported by the evaluate callback.
type ExecutionState int

const (
	StateDataPending ExecutionState = iota
	StateDone
	StateInvalid
	StateCancel
	StateError
)

// Terminal reports whether s ends a turn.
func (s ExecutionState) Terminal() bool {
	return s != StateDataPending
}

func (s ExecutionState) String() string {
	switch s {
	case StateDataPending:
		return "data-pending"
	case StateDone:
		return "done"
	case StateInvalid:
		return "invalid"
	case StateCancel:
		return "cancel"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s ExecutionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SlotKey names an input or output data slot.
type SlotKey string

const (
	SlotAudio       SlotKey = "audio"
	SlotTranscribed SlotKey = "text"
	SlotSystem      SlotKey = "system"
	SlotUser        SlotKey = "user"
	SlotResponse    SlotKey = "response"
)

// AudioData is raw PCM audio.
type AudioData struct {
	PCM           []byte
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DataSlot carries text or audio under a key.
type DataSlot struct {
	Key   SlotKey
	Text  string
	Audio *AudioData
}

// Slots is a list of data slots.
type Slots []DataSlot

// Text returns the text stored under key.
func (s Slots) Text(key SlotKey) (string, bool) {
	for _, d := range s {
		if d.Key == key {
			return d.Text, true
		}
	}
	return "", false
}

// Audio returns the audio stored under key.
func (s Slots) Audio(key SlotKey) (*AudioData, bool) {
	for _, d := range s {
		if d.Key == key && d.Audio != nil {
			return d.Audio, true
		}
	}
	return nil, false
}

// Callback receives output slots and the current state. Its return value tells
// the backend whether to continue; returning a terminal state asks it to stop.
type Callback func(outputs Slots, state ExecutionState) ExecutionState

// RuntimeParameters tune a single evaluation.
type RuntimeParameters struct {
	Seed            int
	TokensToPredict int
	Interactive     bool
	ReversePrompt   string
}

// ExecutionContext binds an instance, inputs and the result callback for one
// evaluation.
type ExecutionContext struct {
	Instance Instance
	Inputs   Slots
	Callback Callback
	Runtime  *RuntimeParameters
}
