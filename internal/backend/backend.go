package backend

import (
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/plugin"
)

// Descriptor names a backend plugin a domain can be served by.
type Descriptor struct {
	ID     plugin.ID
	Name   string
	Domain model.Domain
	// Cloud backends are queried once per model to learn its endpoint.
	Cloud bool
}

// TextGeneration lists text generation backends in preference order.
var TextGeneration = []Descriptor{
	{ID: plugin.GPTGGMLCUDA, Name: "ggml.cuda", Domain: model.DomainTextGeneration},
	{ID: plugin.GPTCloudREST, Name: "cloud.rest", Domain: model.DomainTextGeneration, Cloud: true},
	{ID: plugin.GPTOnnxGenAIDML, Name: "onnxgenai", Domain: model.DomainTextGeneration},
}

// SpeechRecognition lists speech recognition backends in preference order.
var SpeechRecognition = []Descriptor{
	{ID: plugin.ASRGGMLCUDA, Name: "ggml.cuda", Domain: model.DomainSpeechRecognition},
	{ID: plugin.ASRGGMLCPU, Name: "ggml.cpu", Domain: model.DomainSpeechRecognition},
}

// For returns the backends of domain in preference order.
func For(domain model.Domain) []Descriptor {
	switch domain {
	case model.DomainTextGeneration:
		return TextGeneration
	case model.DomainSpeechRecognition:
		return SpeechRecognition
	default:
		return nil
	}
}
