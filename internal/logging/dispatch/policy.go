package dispatch

import (
	"strings"

	"github.com/Chichichkin/bootlog/internal/logging"
)

// OverflowPolicy decides what Offer does when the queue is full.
type OverflowPolicy int

const (
	// Block makes the producer wait until the worker frees a slot.
	Block OverflowPolicy = iota
	// DropOldest evicts the oldest queued event to admit the new one.
	DropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "drop_oldest"
	default:
		return "unknown"
	}
}

func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "block":
		return Block, nil
	case "drop_oldest", "drop-oldest", "dropoldest":
		return DropOldest, nil
	default:
		return Block, &logging.ConfigError{Setting: "overflow policy", Value: name}
	}
}
