// Package capture holds log events produced before the permanent logging
// configuration is ready and hands them off once it is.
package capture

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Chichichkin/bootlog/internal/logging"
	"github.com/Chichichkin/bootlog/internal/logging/cache"
	"github.com/Chichichkin/bootlog/internal/logging/handoff"
)

type State int

const (
	New State = iota
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Option func(*Sink)

// WithLogger sets the logger for the sink's own diagnostics. It must not write
// back into the sink.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithCacheOptions(opts ...cache.Option) Option {
	return func(s *Sink) {
		s.cacheOpts = append(s.cacheOpts, opts...)
	}
}

// Sink buffers events between Start and Stop. A single mutex serialises
// Start, Append and Stop; none of them perform I/O while holding it.
type Sink struct {
	mu         sync.Mutex
	policy     cache.Policy
	cacheOpts  []cache.Option
	store      *handoff.Store
	logger     *zap.Logger
	state      State
	cache      cache.Cache
	generation uint64
}

func NewSink(policy cache.Policy, store *handoff.Store, opts ...Option) *Sink {
	s := &Sink{
		policy: policy,
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a fresh cache and begins accepting events. It is a no-op when
// the sink is already started. On failure the state is left unchanged.
func (s *Sink) Start() error {
	s.mu.Lock()
	if s.state == Started {
		s.mu.Unlock()
		return nil
	}

	c, err := cache.New(s.policy, s.cacheOpts...)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start capturing sink: %w", err)
	}
	s.cache = c
	s.state = Started
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	s.logger.Debug("Bootstrap capture started",
		zap.Stringer("policy", s.policy),
		zap.Uint64("generation", generation))
	return nil
}

// Append stores event while the sink is started and ignores it otherwise.
func (s *Sink) Append(event logging.LogEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Started {
		return
	}
	s.cache.Put(event)
}

// Stop drains the cache, releases it and, for retaining policies, publishes
// the drained events under handoff.BootstrapEventsKey.
func (s *Sink) Stop() {
	s.mu.Lock()
	if s.state != Started {
		s.mu.Unlock()
		return
	}

	events := s.cache.Drain()
	var evicted uint64
	if e, ok := s.cache.(cache.Evictor); ok {
		evicted = e.Evicted()
	}
	s.cache = nil
	s.state = Stopped

	published := s.policy.Publishes() && s.store != nil
	if published {
		s.store.PutProperty(handoff.BootstrapEventsKey, events)
	}
	generation := s.generation
	s.mu.Unlock()

	s.logger.Debug("Bootstrap capture stopped",
		zap.Stringer("policy", s.policy),
		zap.Uint64("generation", generation),
		zap.Int("events", len(events)),
		zap.Bool("published", published))
	if evicted > 0 {
		s.logger.Warn("Bootstrap capture evicted events over budget",
			zap.Uint64("evicted", evicted))
	}
}

func (s *Sink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation counts how many times the sink has been started.
func (s *Sink) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Sink) Policy() cache.Policy {
	return s.policy
}
