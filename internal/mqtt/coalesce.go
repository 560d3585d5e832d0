package mqtt

import (
	"sync"
	"time"

	"github.com/dokzlo13/voltalisd/internal/entity"
)

// Coalescer collapses bursts of state updates: each entity's latest state is
// forwarded once no update arrived for the quiet period. A zero quiet period
// forwards every update immediately.
type Coalescer struct {
	mu      sync.Mutex
	quiet   time.Duration
	pending map[string]entity.State
	order   []string
	timer   *time.Timer
	closed  bool
	sink    entity.Sink
}

// NewCoalescer wraps sink.
func NewCoalescer(quiet time.Duration, sink entity.Sink) *Coalescer {
	return &Coalescer{
		quiet:   quiet,
		pending: make(map[string]entity.State),
		sink:    sink,
	}
}

// Publish is an entity.Sink.
func (c *Coalescer) Publish(id string, state entity.State) {
	if c.quiet <= 0 {
		c.sink(id, state)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if _, ok := c.pending[id]; !ok {
		c.order = append(c.order, id)
	}
	c.pending[id] = state

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.quiet, c.Flush)
}

// Flush forwards pending states in first-seen order.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	pending, order := c.pending, c.order
	c.pending = make(map[string]entity.State)
	c.order = nil
	c.mu.Unlock()

	for _, id := range order {
		c.sink(id, pending[id])
	}
}

// Close stops the timer and drops pending states.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
}
