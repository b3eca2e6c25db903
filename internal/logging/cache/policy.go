package cache

import (
	"strings"

	"github.com/Chichichkin/bootlog/internal/logging"
)

// Policy selects how a Cache retains events. It is fixed once the cache is built.
type Policy int

const (
	// Off discards every event.
	Off Policy = iota
	// Retain keeps every event until drained.
	Retain
	// Weak keeps events on a best-effort basis; the oldest are evicted once
	// the event budget is exceeded.
	Weak
)

func (p Policy) String() string {
	switch p {
	case Off:
		return "off"
	case Retain:
		return "retain"
	case Weak:
		return "weak"
	default:
		return "unknown"
	}
}

// Publishes reports whether drained events of this policy are handed off.
func (p Policy) Publishes() bool {
	return p == Retain || p == Weak
}

// ParsePolicy resolves a policy name case-insensitively.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "off":
		return Off, nil
	case "retain":
		return Retain, nil
	case "weak":
		return Weak, nil
	default:
		return Off, &logging.ConfigError{Setting: "cache policy", Value: name}
	}
}
