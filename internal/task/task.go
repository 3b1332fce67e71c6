// Package task provides a single-slot background task handle.
package task

import "sync"

// Slot runs at most one background task at a time. Replace joins the
// running task before starting the next one.
type Slot struct {
	mu   sync.Mutex
	done chan struct{}
}

// Replace waits for the current task, if any, and starts fn in its place.
// It must not be called from inside a task running in the same slot.
func (s *Slot) Replace(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		<-s.done
	}

	done := make(chan struct{})
	s.done = done
	go func() {
		defer close(done)
		fn()
	}()
}

// Join blocks until the current task, if any, has finished.
func (s *Slot) Join() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Running reports whether a task is still executing.
func (s *Slot) Running() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
