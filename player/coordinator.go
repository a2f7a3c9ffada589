package player

import "sync"

type Silencer interface {
	Silence()
}

// Coordinator tracks which player owns the speaker. Acquiring silences
// the previous owner, so at most one player is audible.
type Coordinator struct {
	mu     sync.Mutex
	owner  string
	holder Silencer
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Acquire must not be called while holding a lock the previous owner's Silence takes.
func (c *Coordinator) Acquire(id string, s Silencer) {
	c.mu.Lock()
	prev, prevID := c.holder, c.owner
	c.owner, c.holder = id, s
	c.mu.Unlock()

	if prev != nil && prevID != id {
		prev.Silence()
	}
}

// Release gives up ownership if id still holds it.
func (c *Coordinator) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owner == id {
		c.owner, c.holder = "", nil
	}
}

func (c *Coordinator) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}
