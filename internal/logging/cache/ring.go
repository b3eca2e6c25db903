package cache

import (
	"github.com/Chichichkin/bootlog/internal/logging"
)

// ringCache backs the Weak policy. Go has no memory-pressure references, so
// retention is bounded by an event budget and the oldest event goes first.
type ringCache struct {
	buf     []logging.LogEvent
	head    int
	size    int
	evicted uint64
}

func newRingCache(maxEvents int) *ringCache {
	return &ringCache{buf: make([]logging.LogEvent, maxEvents)}
}

func (c *ringCache) Put(event logging.LogEvent) {
	if c.size == len(c.buf) {
		c.buf[c.head] = logging.LogEvent{}
		c.head = (c.head + 1) % len(c.buf)
		c.size--
		c.evicted++
	}
	c.buf[(c.head+c.size)%len(c.buf)] = event
	c.size++
}

func (c *ringCache) Drain() []logging.LogEvent {
	out := make([]logging.LogEvent, c.size)
	for i := 0; i < c.size; i++ {
		idx := (c.head + i) % len(c.buf)
		out[i] = c.buf[idx]
		c.buf[idx] = logging.LogEvent{}
	}
	c.head = 0
	c.size = 0
	return out
}

// Evicted returns how many events were pushed out by the budget since creation.
func (c *ringCache) Evicted() uint64 {
	return c.evicted
}
