// Package inference drives evaluation of the loaded instances. Each domain
// runs one task at a time; every turn of a task waits for the backend to
// report a terminal state before the next one starts.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ekisa-team/igichat/internal/metrics"
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/params"
	"github.com/ekisa-team/igichat/internal/plugin"
	"github.com/ekisa-team/igichat/internal/session"
	"github.com/ekisa-team/igichat/internal/task"
)

// ControlMarker is emitted by backends around structured output and is never shown.
const ControlMarker = "<JSON>"

// Turn kinds.
const (
	KindAudio  = "audio"
	KindSystem = "system"
	KindUser   = "user"
)

// InstanceSource provides the live instance of a domain.
type InstanceSource interface {
	Instance() (plugin.Instance, bool)
}

// Driver runs speech recognition and chat turns.
type Driver struct {
	state   *session.State
	builder *params.Builder
	asr     InstanceSource
	gpt     InstanceSource

	ctx    context.Context
	cancel context.CancelFunc

	asrTask task.Slot
	gptTask task.Slot
}

// New creates a driver evaluating the instances provided by asr and gpt.
func New(state *session.State, builder *params.Builder, asr, gpt InstanceSource) *Driver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		state:   state,
		builder: builder,
		asr:     asr,
		gpt:     gpt,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RunSpeechToText transcribes audio on the speech recognition task. Recognized
// text is appended to the transcript; input is flagged ready when done.
func (d *Driver) RunSpeechToText(audio *plugin.AudioData) error {
	d.asrTask.Join()

	inst, err := d.begin(model.DomainSpeechRecognition, d.asr)
	if err != nil {
		slog.Warn("Skipping speech to text", "reason", err)
		return err
	}

	d.asrTask.Replace(func() {
		st, err := d.evaluate(model.DomainSpeechRecognition, KindAudio, inst,
			plugin.Slots{{Key: plugin.SlotAudio, Audio: audio}}, nil,
			func(out plugin.Slots) {
				text, ok := out.Text(plugin.SlotTranscribed)
				if !ok || strings.Contains(text, ControlMarker) {
					return
				}
				d.state.AppendTranscript(text)
			})

		if err == nil {
			d.state.SetInputReady()
		} else {
			slog.Error("Speech to text failed", "error", err)
		}
		d.state.EndRun(model.DomainSpeechRecognition, st, err)
	})
	return nil
}

// RunChat answers prompt on the text generation task. The first turn of a
// conversation is preceded by the system prompt, whose output is not shown.
func (d *Driver) RunChat(prompt string) error {
	d.gptTask.Join()

	inst, err := d.begin(model.DomainTextGeneration, d.gpt)
	if err != nil {
		slog.Warn("Skipping chat", "reason", err)
		return err
	}

	d.state.BeginExchange(prompt)

	d.gptTask.Replace(func() {
		st, err := d.chat(inst, prompt)
		if err != nil {
			slog.Error("Chat failed", "error", err)
		}
		d.state.EndRun(model.DomainTextGeneration, st, err)
	})
	return nil
}

func (d *Driver) chat(inst plugin.Instance, prompt string) (plugin.ExecutionState, error) {
	rp := d.builder.RuntimeParameters()

	if !d.state.ConversationInitialized() {
		system := d.builder.Config().TextGeneration.SystemPrompt
		st, err := d.evaluate(model.DomainTextGeneration, KindSystem, inst,
			plugin.Slots{{Key: plugin.SlotSystem, Text: system}}, rp, nil)
		if err != nil {
			return st, fmt.Errorf("system turn: %w", err)
		}
		d.state.SetConversationInitialized(true)
	}

	return d.evaluate(model.DomainTextGeneration, KindUser, inst,
		plugin.Slots{{Key: plugin.SlotUser, Text: prompt}}, rp,
		func(out plugin.Slots) {
			text, ok := out.Text(plugin.SlotResponse)
			if !ok {
				return
			}
			if text = strings.ReplaceAll(text, ControlMarker, ""); text != "" {
				d.state.AppendAnswer(text)
			}
		})
}

// WaitSpeechToText blocks until the running speech recognition task finishes.
func (d *Driver) WaitSpeechToText() {
	d.asrTask.Join()
}

// WaitChat blocks until the running chat task finishes.
func (d *Driver) WaitChat() {
	d.gptTask.Join()
}

// Flush blocks until both tasks have finished.
func (d *Driver) Flush() {
	d.asrTask.Join()
	d.gptTask.Join()
}

// Shutdown cancels running evaluations and waits for both tasks.
func (d *Driver) Shutdown() {
	d.cancel()
	d.Flush()
}

func (d *Driver) begin(domain model.Domain, src InstanceSource) (plugin.Instance, error) {
	if !d.state.BeginRun(domain) {
		if d.state.Status(domain).Running {
			return nil, fmt.Errorf("%w: %s", ErrBusy, domain)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotReady, domain)
	}

	inst, ok := src.Instance()
	if !ok {
		d.state.EndRun(domain, plugin.StateInvalid, ErrNotReady)
		return nil, fmt.Errorf("%w: %s", ErrNotReady, domain)
	}
	return inst, nil
}

// evaluate submits one turn and waits for its terminal state. onOutput, when
// set, receives the output slots of every report before the terminal one.
func (d *Driver) evaluate(domain model.Domain, kind string, inst plugin.Instance, inputs plugin.Slots,
	rp *plugin.RuntimeParameters, onOutput func(plugin.Slots),
) (plugin.ExecutionState, error) {
	start := time.Now()
	w := newTurnWaiter()

	exec := &plugin.ExecutionContext{
		Instance: inst,
		Inputs:   inputs,
		Runtime:  rp,
		Callback: func(out plugin.Slots, state plugin.ExecutionState) plugin.ExecutionState {
			if w.finished() {
				slog.Warn("Ignoring report after end of turn", "domain", domain, "kind", kind, "state", state)
				return state
			}
			if onOutput != nil && len(out) > 0 {
				onOutput(out)
			}
			w.report(state)
			return state
		},
	}

	if err := inst.Evaluate(d.ctx, exec); err != nil {
		metrics.ObserveTurn(string(domain), kind, plugin.StateError.String(), time.Since(start))
		return plugin.StateError, fmt.Errorf("%w: %w", ErrTurnFailed, err)
	}

	st := w.wait()
	metrics.ObserveTurn(string(domain), kind, st.String(), time.Since(start))

	if st != plugin.StateDone {
		return st, fmt.Errorf("%w: backend reported %s", ErrTurnFailed, st)
	}
	return st, nil
}
