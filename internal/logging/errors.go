package logging

import (
	"errors"
	"fmt"
	"time"
)

// ErrStopped is returned by components that no longer admit events.
var ErrStopped = errors.New("logging: component stopped")

// ConfigError reports an invalid setting supplied at construction time.
type ConfigError struct {
	Setting string
	Value   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Setting, e.Value)
}

// ConsumerError wraps a failure raised while forwarding one event downstream.
type ConsumerError struct {
	Event LogEvent
	Err   error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("consumer failed for event %q: %v", e.Event.Message, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// ShutdownTimeoutError is returned when a stop deadline expires with events
// still queued. Discarded is the number of events that were dropped.
type ShutdownTimeoutError struct {
	Discarded int
	Timeout   time.Duration
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("shutdown timed out after %s, discarded %d events", e.Timeout, e.Discarded)
}
