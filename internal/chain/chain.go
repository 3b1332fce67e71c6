package chain

import (
	"errors"
	"sync"
)

// ErrAlreadyReleased is returned when a chain is released twice.
var ErrAlreadyReleased = errors.New("chain: already released")

// Tracker observes block allocation and release.
type Tracker interface {
	Alloc(Block)
	Free(Block)
}

// Chain is an ordered list of parameter blocks. A chain is built once,
// handed to a plugin, and released exactly once by its builder.
type Chain struct {
	blocks   []Block
	tracker  Tracker
	mu       sync.Mutex
	released bool
}

// New returns an empty chain reporting to t, which may be nil.
func New(t Tracker) *Chain {
	return &Chain{tracker: t}
}

// Append links b at the tail of the chain.
func (c *Chain) Append(b Block) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks = append(c.blocks, b)
	if c.tracker != nil {
		c.tracker.Alloc(b)
	}
	return c
}

// Blocks returns the blocks in chain order.
func (c *Chain) Blocks() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Block(nil), c.blocks...)
}

// Len returns the number of blocks.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.blocks)
}

// Find returns the first block of type T in the chain.
func Find[T Block](c *Chain) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range c.blocks {
		if t, ok := b.(T); ok {
			return t, true
		}
	}
	return zero, false
}

// Release walks the chain from head to tail and frees every block.
// Releasing a nil chain is a no-op.
func Release(c *Chain) error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return ErrAlreadyReleased
	}
	c.released = true

	for _, b := range c.blocks {
		if c.tracker != nil {
			c.tracker.Free(b)
		}
	}
	c.blocks = nil
	return nil
}
