// Package whisper serves speech recognition from local whisper.cpp models
// through one whisper-server process per instance.
package whisper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ekisa-team/igichat/internal/backend"
	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/plugin"
)

const (
	// ServerName names whisper-server processes in the server manager.
	ServerName = "whisper-server"

	// ModelDir is the directory under the models root holding whisper models.
	ModelDir = "nvigi.plugin.asr.ggml.whisper"

	weightsExt = ".bin"
)

// Options configures the plugin.
type Options struct {
	BinPath      string
	Servers      *backend.ServerManager
	GPU          bool
	ReadyTimeout time.Duration
}

// Interface is the whisper plugin interface.
type Interface struct {
	opts Options
	mu   sync.Mutex
	live map[*Instance]int
}

// New creates the plugin interface.
func New(opts Options) *Interface {
	return &Interface{opts: opts, live: make(map[*Instance]int)}
}

func (p *Interface) CapabilitiesAndRequirements(params *chain.Chain) (*plugin.Capabilities, error) {
	common, ok := chain.Find[*chain.Common](params)
	if !ok {
		return nil, fmt.Errorf("%w: common parameters", plugin.ErrMissingInput)
	}

	models, err := backend.ScanModels(common.ModelRoot, ModelDir, weightsExt)
	if err != nil {
		return nil, err
	}

	caps := &plugin.Capabilities{}
	for _, m := range models {
		if common.ModelGUID == "" || m.GUID == common.ModelGUID {
			caps.Models = append(caps.Models, m)
		}
	}
	return caps, nil
}

func (p *Interface) CreateInstance(params *chain.Chain) (plugin.Instance, error) {
	common, ok := chain.Find[*chain.Common](params)
	if !ok {
		return nil, fmt.Errorf("%w: common parameters", plugin.ErrMissingInput)
	}

	var language string
	if asr, ok := chain.Find[*chain.SpeechRecognition](params); ok {
		language = asr.Language
	}

	dir, err := backend.ModelDir(common.ModelRoot, ModelDir, common.ModelGUID)
	if err != nil {
		return nil, err
	}
	weights, err := backend.FindWeights(dir, weightsExt)
	if err != nil {
		return nil, err
	}

	port := p.opts.Servers.NextPort()
	args := []string{
		"--model", weights,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
	}
	if common.NumThreads > 0 {
		args = append(args, "--threads", strconv.Itoa(common.NumThreads))
	}
	if !p.opts.GPU {
		args = append(args, "--no-gpu")
	}

	cfg := backend.ServerConfig{
		Name:         ServerName,
		BinPath:      p.opts.BinPath,
		Args:         args,
		Port:         port,
		HealthPath:   "/", // Whisper server doesn't have a dedicated health endpoint
		ReadyTimeout: p.opts.ReadyTimeout,
	}
	if hw, ok := chain.Find[*chain.HardwareContext](params); ok && p.opts.GPU {
		cfg.Env = map[string]string{"CUDA_VISIBLE_DEVICES": strconv.Itoa(hw.DeviceIndex)}
	}

	if err := p.opts.Servers.StartServer(context.Background(), cfg); err != nil {
		return nil, err
	}

	inst := NewInstance(backend.BaseURL(port), language)

	p.mu.Lock()
	p.live[inst] = port
	p.mu.Unlock()

	slog.Info("Whisper instance created", "model", common.ModelGUID, "port", port, "gpu", p.opts.GPU)
	return inst, nil
}

func (p *Interface) DestroyInstance(inst plugin.Instance) error {
	wi, ok := inst.(*Instance)
	if !ok {
		return fmt.Errorf("whisper: foreign instance %T", inst)
	}

	p.mu.Lock()
	port, live := p.live[wi]
	delete(p.live, wi)
	p.mu.Unlock()

	if !live {
		return fmt.Errorf("whisper: instance already destroyed")
	}

	wi.wait()
	return p.opts.Servers.StopServer(ServerName, port)
}

// Instance transcribes audio through a whisper-server.
type Instance struct {
	baseURL  string
	language string
	client   *http.Client
	mu       sync.Mutex
}

// NewInstance creates an instance for the server at baseURL.
func NewInstance(baseURL, language string) *Instance {
	return &Instance{
		baseURL:  baseURL,
		language: language,
		client: &http.Client{
			Timeout: 5 * time.Minute, // Transcription can take longer
		},
	}
}

// Evaluate transcribes the audio input synchronously and reports every
// segment as pending output before reporting done.
func (i *Instance) Evaluate(ctx context.Context, exec *plugin.ExecutionContext) error {
	audio, ok := exec.Inputs.Audio(plugin.SlotAudio)
	if !ok {
		return fmt.Errorf("%w: %s", plugin.ErrMissingInput, plugin.SlotAudio)
	}

	if !i.mu.TryLock() {
		return plugin.ErrBusy
	}
	defer i.mu.Unlock()

	resp, err := i.transcribe(ctx, audio)
	if err != nil {
		return err
	}

	for _, text := range resp.chunks() {
		if exec.Callback(plugin.Slots{{Key: plugin.SlotTranscribed, Text: text}}, plugin.StateDataPending).Terminal() {
			return nil
		}
	}
	exec.Callback(nil, plugin.StateDone)
	return nil
}

// wait blocks until a running evaluation finishes.
func (i *Instance) wait() {
	i.mu.Lock()
	defer i.mu.Unlock()
}
