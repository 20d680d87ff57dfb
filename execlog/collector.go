package execlog

import (
	"context"
	"sync"
)

// Collector is a Subscriber that retains every entry it receives. Live
// consoles and tests use it to inspect the emission stream; the debug view
// reads full payloads back out of the retained entries.
type Collector struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewCollector constructs an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// HandleEntry appends the entry to the collector.
func (c *Collector) HandleEntry(_ context.Context, entry Entry) error {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
	return nil
}

// Entries returns a snapshot of all collected entries in emission order.
func (c *Collector) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// ByCategory returns the collected entries with the given category, in
// emission order.
func (c *Collector) ByCategory(cat Category) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entry
	for _, e := range c.entries {
		if e.Category == cat {
			out = append(out, e)
		}
	}
	return out
}

// ByExecution returns the collected entries for the given execution, in
// emission order.
func (c *Collector) ByExecution(executionID string) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entry
	for _, e := range c.entries {
		if e.ExecutionID == executionID {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards all collected entries.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}
