// Package session holds the state shared between the inference workers and
// the presentation layer. Every field is guarded by one mutex.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/plugin"
)

// Phase is the lifecycle phase of a domain.
type Phase int

const (
	PhaseUnselected Phase = iota
	PhaseLoading
	PhaseReady
	PhaseRunning
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUnselected:
		return "unselected"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseRunning:
		return "running"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Role tells who authored a conversation message.
type Role string

const (
	RoleQuestion Role = "question"
	RoleAnswer   Role = "answer"
)

// Message is one entry of the conversation.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Outcome is the result of the last inference run of a domain.
type Outcome struct {
	State plugin.ExecutionState `json:"state"`
	Error string                `json:"error,omitempty"`
	At    time.Time             `json:"at"`
}

// DomainStatus is the readiness of one domain.
type DomainStatus struct {
	Phase   Phase  `json:"phase"`
	Ready   bool   `json:"ready"`
	Running bool   `json:"running"`
	Model   int    `json:"model"`
	Error   string `json:"error,omitempty"`
}

type domainState struct {
	phase   Phase
	model   int
	err     error
	outcome *Outcome
}

// State is the shared session state.
type State struct {
	mu          sync.Mutex
	idle        *sync.Cond
	domains     map[model.Domain]*domainState
	transcript  strings.Builder
	pending     strings.Builder
	messages    []Message
	initialized bool
	inputReady  bool
	recording   bool
}

// New returns a state with every domain unselected.
func New() *State {
	s := &State{domains: make(map[model.Domain]*domainState, len(model.Domains))}
	s.idle = sync.NewCond(&s.mu)
	for _, d := range model.Domains {
		s.domains[d] = &domainState{model: model.NoSelection}
	}
	return s
}

func (s *State) domain(d model.Domain) *domainState {
	ds, ok := s.domains[d]
	if !ok {
		ds = &domainState{model: model.NoSelection}
		s.domains[d] = ds
	}
	return ds
}

// SetLoading marks d not ready while a load or swap is in progress. A running
// turn of d is waited for first; once it returns no new run can begin until
// the load finishes.
func (s *State) SetLoading(d model.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.domain(d)
	for ds.phase == PhaseRunning {
		s.idle.Wait()
	}
	ds.phase = PhaseLoading
	ds.err = nil
}

// SetReady marks d ready with the model at index loaded.
func (s *State) SetReady(d model.Domain, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.domain(d)
	ds.phase = PhaseReady
	ds.model = index
	ds.err = nil
}

// SetFailed marks d not ready with no model loaded.
func (s *State) SetFailed(d model.Domain, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.domain(d)
	ds.phase = PhaseFailed
	ds.model = model.NoSelection
	ds.err = err
}

// SetUnselected marks d as having no model to load.
func (s *State) SetUnselected(d model.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.domain(d)
	ds.phase = PhaseUnselected
	ds.model = model.NoSelection
	ds.err = nil
}

// BeginRun moves d from ready to running. It returns false when d is not ready.
func (s *State) BeginRun(d model.Domain) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.domain(d)
	if ds.phase != PhaseReady {
		return false
	}
	ds.phase = PhaseRunning
	return true
}

// EndRun records the outcome and moves d back to ready.
func (s *State) EndRun(d model.Domain, state plugin.ExecutionState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.domain(d)
	if ds.phase == PhaseRunning {
		ds.phase = PhaseReady
		s.idle.Broadcast()
	}

	o := &Outcome{State: state, At: time.Now()}
	if err != nil {
		o.Error = err.Error()
	}
	ds.outcome = o
}

// WaitIdle blocks until d has no running turn.
func (s *State) WaitIdle(d model.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.domain(d).phase == PhaseRunning {
		s.idle.Wait()
	}
}

// Status returns the readiness of d.
func (s *State) Status(d model.Domain) DomainStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status(d)
}

func (s *State) status(d model.Domain) DomainStatus {
	ds := s.domain(d)
	st := DomainStatus{
		Phase:   ds.phase,
		Ready:   ds.phase == PhaseReady || ds.phase == PhaseRunning,
		Running: ds.phase == PhaseRunning,
		Model:   ds.model,
	}
	if ds.err != nil {
		st.Error = ds.err.Error()
	}
	return st
}

// LastOutcome returns the outcome of the last run of d.
func (s *State) LastOutcome(d model.Domain) (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.domain(d).outcome
	if o == nil {
		return Outcome{}, false
	}
	return *o, true
}

// StartRecording clears the transcript and the pending prompt.
func (s *State) StartRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcript.Reset()
	s.pending.Reset()
	s.inputReady = false
	s.recording = true
}

// StopRecording clears the recording and input ready flags.
func (s *State) StopRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recording = false
	s.inputReady = false
}

// Recording reports whether audio is being recorded.
func (s *State) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.recording
}

// AppendTranscript appends a recognized chunk to the transcript and the pending prompt.
func (s *State) AppendTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcript.WriteString(text)
	s.pending.WriteString(text)
}

// Transcript returns the text recognized since recording started.
func (s *State) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transcript.String()
}

// SetInputReady flags the pending prompt as ready for text generation.
func (s *State) SetInputReady() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inputReady = true
}

// TakeInputReady returns the pending prompt and clears it when input is ready.
func (s *State) TakeInputReady() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inputReady {
		return "", false
	}
	s.inputReady = false

	prompt := s.pending.String()
	s.pending.Reset()
	return prompt, true
}

// BeginExchange appends the question and an empty answer to the conversation.
func (s *State) BeginExchange(question string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages,
		Message{Role: RoleQuestion, Text: question},
		Message{Role: RoleAnswer},
	)
}

// AppendAnswer appends text to the last answer of the conversation.
func (s *State) AppendAnswer(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.messages)
	if n == 0 || s.messages[n-1].Role != RoleAnswer {
		s.messages = append(s.messages, Message{Role: RoleAnswer})
		n++
	}
	s.messages[n-1].Text += text
}

// Answer returns the last answer of the conversation.
func (s *State) Answer() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleAnswer {
			return s.messages[i].Text
		}
	}
	return ""
}

// Messages returns a copy of the conversation.
func (s *State) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Message(nil), s.messages...)
}

// ResetConversation starts a new conversation opened by greeting.
func (s *State) ResetConversation(greeting string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	if greeting != "" {
		s.messages = append(s.messages, Message{Role: RoleAnswer, Text: greeting})
	}
	s.initialized = false
}

// ConversationInitialized reports whether the system turn has run.
func (s *State) ConversationInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.initialized
}

// SetConversationInitialized sets whether the system turn has run.
func (s *State) SetConversationInitialized(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = v
}

// Snapshot is a consistent copy of the whole state.
type Snapshot struct {
	Domains                 map[model.Domain]DomainStatus `json:"domains"`
	Transcript              string                        `json:"transcript"`
	Messages                []Message                     `json:"messages"`
	ConversationInitialized bool                          `json:"conversation_initialized"`
	InputReady              bool                          `json:"input_ready"`
	Recording               bool                          `json:"recording"`
}

// Snapshot returns a copy of the state taken under one lock.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Domains:                 make(map[model.Domain]DomainStatus, len(s.domains)),
		Transcript:              s.transcript.String(),
		Messages:                append([]Message(nil), s.messages...),
		ConversationInitialized: s.initialized,
		InputReady:              s.inputReady,
		Recording:               s.recording,
	}
	for d := range s.domains {
		snap.Domains[d] = s.status(d)
	}
	return snap
}
