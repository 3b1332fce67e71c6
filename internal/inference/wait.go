package inference

import (
	"sync"

	"github.com/ekisa-team/igichat/internal/plugin"
)

// turnWaiter turns the callback reports of one evaluation into a blocking
// wait for its terminal state.
type turnWaiter struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state plugin.ExecutionState
}

func newTurnWaiter() *turnWaiter {
	w := &turnWaiter{state: plugin.StateDataPending}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// report records state. It returns false once a terminal state was recorded.
func (w *turnWaiter) report(state plugin.ExecutionState) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.Terminal() {
		return false
	}
	w.state = state
	w.cond.Broadcast()
	return true
}

func (w *turnWaiter) finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state.Terminal()
}

// wait blocks until a terminal state is reported.
func (w *turnWaiter) wait() plugin.ExecutionState {
	w.mu.Lock()
	defer w.mu.Unlock()

	for !w.state.Terminal() {
		w.cond.Wait()
	}
	return w.state
}
