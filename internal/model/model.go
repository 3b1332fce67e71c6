package model

import "github.com/ekisa-team/igichat/internal/plugin"

// Domain is an inference domain.
type Domain string

const (
	// DomainTextGeneration is the chat (GPT) domain.
	DomainTextGeneration Domain = "text-generation"

	// DomainSpeechRecognition is the speech-to-text (ASR) domain.
	DomainSpeechRecognition Domain = "speech-recognition"
)

// Domains lists all domains in a fixed order.
var Domains = []Domain{DomainSpeechRecognition, DomainTextGeneration}

// ParseDomain accepts the domain name or its short alias.
func ParseDomain(s string) (Domain, bool) {
	switch s {
	case string(DomainTextGeneration), "gpt", "chat":
		return DomainTextGeneration, true
	case string(DomainSpeechRecognition), "asr", "stt":
		return DomainSpeechRecognition, true
	default:
		return "", false
	}
}

// Status is the availability of a catalog entry.
type Status string

const (
	// StatusAvailableLocally indicates the weights are on disk.
	StatusAvailableLocally Status = "available-locally"

	// StatusAvailableCloud indicates the model is served by a REST endpoint.
	StatusAvailableCloud Status = "available-cloud"

	// StatusRequiresManualDownload indicates the weights must be fetched by the user.
	StatusRequiresManualDownload Status = "requires-manual-download"

	// StatusQueuedForDownload is reserved for an automatic downloader.
	StatusQueuedForDownload Status = "queued-for-download"

	// StatusDownloading is reserved for an automatic downloader.
	StatusDownloading Status = "downloading"
)

// Selectable reports whether an entry with this status may be loaded.
func (s Status) Selectable() bool {
	return s == StatusAvailableLocally || s == StatusAvailableCloud
}

// Entry describes one model served by one backend.
type Entry struct {
	PluginID   plugin.ID `json:"plugin_id"`
	PluginName string    `json:"plugin_name"`
	ModelName  string    `json:"model_name"`
	Caption    string    `json:"caption"`
	GUID       string    `json:"guid"`
	ModelRoot  string    `json:"model_root"`
	URL        string    `json:"url,omitempty"`
	Status     Status    `json:"status"`
}
