package inference

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/config"
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/params"
	"github.com/ekisa-team/igichat/internal/plugin"
	"github.com/ekisa-team/igichat/internal/plugin/plugintest"
	"github.com/ekisa-team/igichat/internal/session"
)

type source struct {
	inst plugin.Instance
}

func (s source) Instance() (plugin.Instance, bool) {
	return s.inst, s.inst != nil
}

type fixture struct {
	state   *session.State
	asr     *plugintest.Interface
	gpt     *plugintest.Interface
	asrInst *plugintest.Instance
	gptInst *plugintest.Instance
	driver  *Driver
}

func newInstance(t *testing.T, iface *plugintest.Interface, guid string) *plugintest.Instance {
	t.Helper()
	inst, err := iface.CreateInstance(chain.New(nil).Append(&chain.Common{ModelGUID: guid}))
	require.NoError(t, err)
	return inst.(*plugintest.Instance)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		state: session.New(),
		asr:   plugintest.NewInterface(),
		gpt:   plugintest.NewInterface(),
	}
	f.asrInst = newInstance(t, f.asr, "{W}")
	f.gptInst = newInstance(t, f.gpt, "{L}")

	builder := params.NewBuilder(config.Defaults(), "/models", nil)
	f.driver = New(f.state, builder, source{f.asrInst}, source{f.gptInst})

	f.state.SetReady(model.DomainSpeechRecognition, 0)
	f.state.SetReady(model.DomainTextGeneration, 0)
	t.Cleanup(f.driver.Shutdown)
	return f
}

func inputKeys(inst *plugintest.Instance) []plugin.SlotKey {
	var keys []plugin.SlotKey
	for _, in := range inst.Inputs() {
		for _, s := range in {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

func TestRunChat_SystemTurnOnce(t *testing.T) {
	f := newFixture(t)
	f.gpt.OnEvaluate(plugintest.Reply("Hel", "lo!"))

	require.NoError(t, f.driver.RunChat("hello"))
	f.driver.WaitChat()

	assert.Equal(t, []plugin.SlotKey{plugin.SlotSystem, plugin.SlotUser}, inputKeys(f.gptInst))
	sys, _ := f.gptInst.Inputs()[0].Text(plugin.SlotSystem)
	assert.Equal(t, config.DefaultSystemPrompt, sys)

	// The system turn streamed too, but only the user turn is shown.
	assert.Equal(t, "Hello!", f.state.Answer())
	assert.True(t, f.state.ConversationInitialized())

	require.NoError(t, f.driver.RunChat("again"))
	f.driver.WaitChat()
	assert.Equal(t, []plugin.SlotKey{plugin.SlotSystem, plugin.SlotUser, plugin.SlotUser}, inputKeys(f.gptInst))

	o, ok := f.state.LastOutcome(model.DomainTextGeneration)
	require.True(t, ok)
	assert.Equal(t, plugin.StateDone, o.State)
	assert.False(t, f.state.Status(model.DomainTextGeneration).Running)
}

func TestRunChat_TurnsAreSequential(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	f.gpt.OnEvaluate(func(_ context.Context, _ *plugintest.Instance, exec *plugin.ExecutionContext) error {
		kind := "user"
		if _, ok := exec.Inputs.Text(plugin.SlotSystem); ok {
			kind = "system"
		}
		record("begin " + kind)

		go func() {
			for i := 0; i < 3; i++ {
				time.Sleep(5 * time.Millisecond)
				exec.Callback(plugin.Slots{{Key: plugin.SlotResponse, Text: "."}}, plugin.StateDataPending)
			}
			record("done " + kind)
			exec.Callback(nil, plugin.StateDone)

			// A stray report after the terminal one must be ignored.
			exec.Callback(plugin.Slots{{Key: plugin.SlotResponse, Text: "late"}}, plugin.StateDone)
		}()
		return nil
	})

	require.NoError(t, f.driver.RunChat("hello"))
	f.driver.WaitChat()
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"begin system", "done system", "begin user", "done user"}, events)
	assert.Equal(t, "...", f.state.Answer())
}

func TestRunChat_StripsControlMarker(t *testing.T) {
	f := newFixture(t)
	f.gpt.OnEvaluate(plugintest.Reply("Hi", ControlMarker, " there"+ControlMarker))

	require.NoError(t, f.driver.RunChat("hello"))
	f.driver.WaitChat()

	assert.Equal(t, "Hi there", f.state.Answer())
}

func TestRunChat_EvaluateErrorFailsTurn(t *testing.T) {
	f := newFixture(t)
	f.gpt.OnEvaluate(plugintest.Fail(errors.New("context overflow")))

	require.NoError(t, f.driver.RunChat("hello"))
	f.driver.WaitChat()

	o, ok := f.state.LastOutcome(model.DomainTextGeneration)
	require.True(t, ok)
	assert.Equal(t, plugin.StateError, o.State)
	assert.Contains(t, o.Error, "context overflow")
	assert.False(t, f.state.ConversationInitialized(), "failed system turn leaves the conversation uninitialized")
	assert.Len(t, f.gptInst.Inputs(), 1, "the user turn is not submitted")

	st := f.state.Status(model.DomainTextGeneration)
	assert.True(t, st.Ready)
	assert.False(t, st.Running)
}

func TestRunChat_CancelledTurn(t *testing.T) {
	f := newFixture(t)
	f.state.SetConversationInitialized(true)
	f.gpt.OnEvaluate(plugintest.Terminate(plugin.StateCancel))

	require.NoError(t, f.driver.RunChat("hello"))
	f.driver.WaitChat()

	o, _ := f.state.LastOutcome(model.DomainTextGeneration)
	assert.Equal(t, plugin.StateCancel, o.State)
	assert.Equal(t, []plugin.SlotKey{plugin.SlotUser}, inputKeys(f.gptInst))
}

func TestRun_RejectsWhenNotReady(t *testing.T) {
	f := newFixture(t)
	f.state.SetLoading(model.DomainTextGeneration)
	f.state.SetFailed(model.DomainSpeechRecognition, errors.New("no model"))

	assert.ErrorIs(t, f.driver.RunChat("hello"), ErrNotReady)
	assert.ErrorIs(t, f.driver.RunSpeechToText(&plugin.AudioData{}), ErrNotReady)
	assert.Empty(t, f.gptInst.Inputs())
	assert.Empty(t, f.state.Messages())
}

func TestRunSpeechToText_FiltersMarkerAndFlagsInput(t *testing.T) {
	f := newFixture(t)
	f.asr.OnEvaluate(plugintest.Reply(" What is", ControlMarker+`{"lang":"en"}`, " CUDA?"))

	audio := &plugin.AudioData{PCM: make([]byte, 64), SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	require.NoError(t, f.driver.RunSpeechToText(audio))
	f.driver.WaitSpeechToText()

	assert.Equal(t, " What is CUDA?", f.state.Transcript())
	prompt, ok := f.state.TakeInputReady()
	require.True(t, ok)
	assert.Equal(t, " What is CUDA?", prompt)

	got, ok := f.asrInst.Inputs()[0].Audio(plugin.SlotAudio)
	require.True(t, ok)
	assert.Same(t, audio, got)
}

func TestRunSpeechToText_ErrorDoesNotFlagInput(t *testing.T) {
	f := newFixture(t)
	f.asr.OnEvaluate(plugintest.Terminate(plugin.StateError))

	require.NoError(t, f.driver.RunSpeechToText(&plugin.AudioData{}))
	f.driver.WaitSpeechToText()

	_, ok := f.state.TakeInputReady()
	assert.False(t, ok)
	o, _ := f.state.LastOutcome(model.DomainSpeechRecognition)
	assert.Equal(t, plugin.StateError, o.State)
}

func TestDomainsRunIndependently(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	f.gpt.OnEvaluate(func(_ context.Context, _ *plugintest.Instance, exec *plugin.ExecutionContext) error {
		go func() {
			<-release
			exec.Callback(nil, plugin.StateDone)
		}()
		return nil
	})
	f.asr.OnEvaluate(plugintest.Reply(" hi"))

	require.NoError(t, f.driver.RunChat("hello"))
	require.NoError(t, f.driver.RunSpeechToText(&plugin.AudioData{}))
	f.driver.WaitSpeechToText()

	assert.Equal(t, " hi", f.state.Transcript())
	assert.True(t, f.state.Status(model.DomainTextGeneration).Running)

	close(release)
	f.driver.WaitChat()
	assert.False(t, f.state.Status(model.DomainTextGeneration).Running)
}

func TestTurnWaiter(t *testing.T) {
	w := newTurnWaiter()
	assert.True(t, w.report(plugin.StateDataPending))
	assert.False(t, w.finished())

	go w.report(plugin.StateDone)
	assert.Equal(t, plugin.StateDone, w.wait())
	assert.False(t, w.report(plugin.StateError))
	assert.Equal(t, plugin.StateDone, w.wait())
}
