package model

import (
	"fmt"
	"sync"
)

// NoSelection is the selection index of a catalog without a chosen entry.
const NoSelection = -1

// Catalog is the ordered list of models of one domain plus the current selection.
type Catalog struct {
	domain   Domain
	entries  []Entry
	selected int
	mu       sync.RWMutex
}

// NewCatalog creates an empty catalog.
func NewCatalog(domain Domain) *Catalog {
	return &Catalog{domain: domain, selected: NoSelection}
}

// Domain returns the catalog's domain.
func (c *Catalog) Domain() Domain {
	return c.domain
}

// Append adds an entry at the end of the catalog.
func (c *Catalog) Append(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, e)
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// List returns a copy of all entries.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]Entry(nil), c.entries...)
}

// Get returns the entry at index.
func (c *Catalog) Get(index int) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if index < 0 || index >= len(c.entries) {
		return Entry{}, fmt.Errorf("%w: %s %d of %d", ErrIndexOutOfRange, c.domain, index, len(c.entries))
	}
	return c.entries[index], nil
}

// Selected returns the index of the selected entry, or NoSelection.
func (c *Catalog) Selected() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.selected
}

// SelectedEntry returns the selected entry.
func (c *Catalog) SelectedEntry() (Entry, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.selected == NoSelection {
		return Entry{}, NoSelection, fmt.Errorf("%w: %s", ErrNoSelection, c.domain)
	}
	return c.entries[c.selected], c.selected, nil
}

// Select sets the selection. NoSelection clears it.
func (c *Catalog) Select(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index != NoSelection && (index < 0 || index >= len(c.entries)) {
		return fmt.Errorf("%w: %s %d of %d", ErrIndexOutOfRange, c.domain, index, len(c.entries))
	}
	c.selected = index
	return nil
}

// DefaultIndex returns the first locally available entry, or NoSelection.
// Cloud entries are never chosen by default.
func (c *Catalog) DefaultIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i, e := range c.entries {
		if e.Status == StatusAvailableLocally {
			return i
		}
	}
	return NoSelection
}

// SelectDefault applies DefaultIndex and returns it.
func (c *Catalog) SelectDefault() int {
	index := c.DefaultIndex()

	c.mu.Lock()
	c.selected = index
	c.mu.Unlock()

	return index
}

// CountByStatus returns the number of entries per status.
func (c *Catalog) CountByStatus() map[Status]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[Status]int)
	for _, e := range c.entries {
		counts[e.Status]++
	}
	return counts
}
