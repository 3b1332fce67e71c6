package chain

import "sync"

// CountingTracker counts live blocks and detects double frees.
type CountingTracker struct {
	mu          sync.Mutex
	live        map[Block]struct{}
	allocs      int
	frees       int
	doubleFrees int
}

// NewCountingTracker returns an empty tracker.
func NewCountingTracker() *CountingTracker {
	return &CountingTracker{live: make(map[Block]struct{})}
}

func (t *CountingTracker) Alloc(b Block) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.allocs++
	t.live[b] = struct{}{}
}

func (t *CountingTracker) Free(b Block) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.live[b]; !ok {
		t.doubleFrees++
		return
	}
	t.frees++
	delete(t.live, b)
}

// Live returns the number of allocated blocks not yet freed.
func (t *CountingTracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.live)
}

// Allocs returns the total number of allocations.
func (t *CountingTracker) Allocs() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.allocs
}

// DoubleFrees returns the number of frees of blocks that were not live.
func (t *CountingTracker) DoubleFrees() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.doubleFrees
}
