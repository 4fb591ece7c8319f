package assistant

import "sync"

// Current holds the id of the assistant in use. Handlers read it on every
// request; the resync scheduler replaces it after a successful sync.
type Current struct {
	mu sync.RWMutex
	id string
}

// NewCurrent creates a holder initialised with id.
func NewCurrent(id string) *Current {
	return &Current{id: id}
}

// ID returns the current assistant id.
func (c *Current) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Set replaces the current assistant id.
func (c *Current) Set(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}
