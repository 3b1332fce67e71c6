package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ekisa-team/igichat/internal/plugin"
)

var (
	// ErrNotRecording is returned when stopping a recorder that was not started.
	ErrNotRecording = errors.New("audio: not recording")

	// ErrAlreadyRecording is returned when starting a recorder twice.
	ErrAlreadyRecording = errors.New("audio: already recording")
)

// Recorder captures one audio buffer between Start and Stop.
type Recorder interface {
	Start() error
	Stop() (*plugin.AudioData, error)
}

// FileRecorder plays back a WAV file as the captured recording.
type FileRecorder struct {
	path      string
	mu        sync.Mutex
	recording bool
}

// NewFileRecorder creates a recorder that yields the contents of path.
func NewFileRecorder(path string) *FileRecorder {
	return &FileRecorder{path: path}
}

func (r *FileRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}
	r.recording = true
	return nil
}

func (r *FileRecorder) Stop() (*plugin.AudioData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil, ErrNotRecording
	}
	r.recording = false

	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("audio: open recording: %w", err)
	}
	defer f.Close()

	a, err := Decode(f)
	if err != nil {
		return nil, err
	}
	if a.SampleRate != SampleRate || a.Channels != 1 {
		slog.Warn("Recording is not 16 kHz mono", "path", r.path, "rate", a.SampleRate, "channels", a.Channels)
	}
	return a, nil
}
