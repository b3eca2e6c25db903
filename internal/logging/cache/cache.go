// Package cache buffers bootstrap log events according to a retention policy.
//
// Caches are not safe for concurrent use; the owner serialises access.
package cache

import (
	"strconv"

	"github.com/Chichichkin/bootlog/internal/logging"
)

const DefaultMaxEvents = 10000

type Cache interface {
	Put(event logging.LogEvent)
	// Drain returns the buffered events in insertion order and empties the
	// cache. The result is never nil and is not retained by the cache.
	Drain() []logging.LogEvent
}

// Evictor is implemented by caches that drop events on their own.
type Evictor interface {
	Evicted() uint64
}

type options struct {
	maxEvents int
}

type Option func(*options)

// WithMaxEvents sets the event budget of a Weak cache. Values <= 0 keep the default.
func WithMaxEvents(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}

// New builds the cache for the given policy.
func New(policy Policy, opts ...Option) (Cache, error) {
	o := options{maxEvents: DefaultMaxEvents}
	for _, opt := range opts {
		opt(&o)
	}

	switch policy {
	case Off:
		return offCache{}, nil
	case Retain:
		return &retainCache{}, nil
	case Weak:
		return newRingCache(o.maxEvents), nil
	default:
		return nil, &logging.ConfigError{Setting: "cache policy", Value: strconv.Itoa(int(policy))}
	}
}

type offCache struct{}

func (offCache) Put(logging.LogEvent) {}

func (offCache) Drain() []logging.LogEvent {
	return []logging.LogEvent{}
}

type retainCache struct {
	events []logging.LogEvent
}

func (c *retainCache) Put(event logging.LogEvent) {
	c.events = append(c.events, event)
}

func (c *retainCache) Drain() []logging.LogEvent {
	drained := c.events
	c.events = nil
	if drained == nil {
		return []logging.LogEvent{}
	}
	return drained
}
