// Package chain implements the ordered, heterogeneous parameter chain handed
// to backend plugins at capability query and instance creation time.
package chain

// Kind identifies a parameter block variant.
type Kind int

const (
	KindCommon Kind = iota
	KindHardwareContext
	KindTextGeneration
	KindSpeechRecognition
	KindBackendTuning
	KindREST
)

func (k Kind) String() string {
	switch k {
	case KindCommon:
		return "common"
	case KindHardwareContext:
		return "hardware-context"
	case KindTextGeneration:
		return "text-generation"
	case KindSpeechRecognition:
		return "speech-recognition"
	case KindBackendTuning:
		return "backend-tuning"
	case KindREST:
		return "rest"
	default:
		return "unknown"
	}
}

// Block is one tagged parameter block in a chain.
type Block interface {
	Kind() Kind
}

// Common carries the parameters every backend understands.
type Common struct {
	NumThreads   int
	VRAMBudgetMB int
	ModelRoot    string
	// ModelGUID selects a single model; empty means all models under ModelRoot.
	ModelGUID string
}

// HardwareContext points a backend at the shared compute context.
type HardwareContext struct {
	DeviceIndex int
	DeviceName  string
}

// TextGeneration holds creation parameters for text generation backends.
type TextGeneration struct {
	Seed               int
	MaxTokensToPredict int
	ContextSize        int
}

// SpeechRecognition holds creation parameters for speech recognition backends.
type SpeechRecognition struct {
	Language string
}

// BackendTuning holds implementation specific switches of a backend.
type BackendTuning struct {
	Backend        string
	BackgroundMode bool
	AllowAsync     bool
}

// REST configures a cloud backend.
type REST struct {
	URL       string
	AuthToken string
	Verbose   bool
}

func (*Common) Kind() Kind            { return KindCommon }
func (*HardwareContext) Kind() Kind   { return KindHardwareContext }
func (*TextGeneration) Kind() Kind    { return KindTextGeneration }
func (*SpeechRecognition) Kind() Kind { return KindSpeechRecognition }
func (*BackendTuning) Kind() Kind     { return KindBackendTuning }
func (*REST) Kind() Kind              { return KindREST }
