// Package dispatch moves log events from producers to a slow consumer through
// a bounded queue served by a single worker goroutine.
package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Chichichkin/bootlog/internal/logging"
)

type state int

const (
	created state = iota
	running
	stopping
	stopped
)

type ConsumerFunc func(event logging.LogEvent) error

type Option func(*Dispatcher)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithErrorHandler receives a *logging.ConsumerError for every failed delivery.
func WithErrorHandler(fn func(error)) Option {
	return func(d *Dispatcher) {
		d.onError = fn
	}
}

// WithDropHandler receives every event that is dropped or discarded.
func WithDropHandler(fn func(logging.LogEvent)) Option {
	return func(d *Dispatcher) {
		d.onDrop = fn
	}
}

type Dispatcher struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []logging.LogEvent
	head     int
	size     int
	policy   OverflowPolicy
	state    state
	aborted  bool
	consumer ConsumerFunc
	done     chan struct{}

	logger      *zap.Logger
	onError     func(error)
	onDrop      func(logging.LogEvent)
	dropLimiter *rate.Limiter
	counters    counters
}

func New(capacity int, policy OverflowPolicy, opts ...Option) (*Dispatcher, error) {
	if capacity <= 0 {
		return nil, &logging.ConfigError{Setting: "dispatch capacity", Value: strconv.Itoa(capacity)}
	}
	if policy != Block && policy != DropOldest {
		return nil, &logging.ConfigError{Setting: "overflow policy", Value: strconv.Itoa(int(policy))}
	}

	d := &Dispatcher{
		buf:         make([]logging.LogEvent, capacity),
		policy:      policy,
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	d.notEmpty = sync.NewCond(&d.mu)
	d.notFull = sync.NewCond(&d.mu)
	for _, opt := range opts {
		opt(d)
	}
	if d.onError == nil {
		d.onError = func(err error) {
			d.logger.Error("Failed to deliver event", zap.Error(err))
		}
	}
	return d, nil
}

// Start launches the worker. It is a no-op when already running and returns
// logging.ErrStopped once Stop has been called.
func (d *Dispatcher) Start(consumer ConsumerFunc) error {
	if consumer == nil {
		return errors.New("dispatch: nil consumer")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case running:
		return nil
	case stopping, stopped:
		return logging.ErrStopped
	}

	d.consumer = consumer
	d.state = running
	go d.run()

	d.logger.Debug("Dispatcher started",
		zap.Int("capacity", len(d.buf)),
		zap.Stringer("overflow", d.policy))
	return nil
}

// Offer enqueues event. Under Block it waits for space; under DropOldest it
// evicts the oldest queued event. It returns logging.ErrStopped once the
// dispatcher is stopping.
func (d *Dispatcher) Offer(event logging.LogEvent) error {
	d.mu.Lock()
	if d.state >= stopping {
		d.mu.Unlock()
		d.counters.rejected.Add(1)
		return logging.ErrStopped
	}

	var evicted *logging.LogEvent
	if d.size == len(d.buf) {
		if d.policy == DropOldest {
			old := d.pop()
			evicted = &old
		} else {
			d.counters.blocked.Add(1)
			for d.size == len(d.buf) && d.state < stopping {
				d.notFull.Wait()
			}
			if d.state >= stopping {
				d.mu.Unlock()
				d.counters.rejected.Add(1)
				return logging.ErrStopped
			}
		}
	}

	d.push(event)
	d.counters.offered.Add(1)
	d.notEmpty.Signal()
	d.mu.Unlock()

	if evicted != nil {
		d.reportDropped(*evicted)
	}
	return nil
}

// Append implements logging.EventSink; rejected events are only counted.
func (d *Dispatcher) Append(event logging.LogEvent) {
	_ = d.Offer(event)
}

// Stop refuses new events and waits up to timeout for the worker to drain
// the queue. A non-positive timeout waits indefinitely. On timeout the
// remaining events are discarded and a *logging.ShutdownTimeoutError is
// returned alongside their count.
func (d *Dispatcher) Stop(timeout time.Duration) (int, error) {
	d.mu.Lock()
	switch d.state {
	case stopping, stopped:
		d.mu.Unlock()
		return 0, nil
	case created:
		d.state = stopped
		discarded := d.drain()
		d.notFull.Broadcast()
		d.mu.Unlock()
		d.reportDiscarded(discarded)
		return len(discarded), nil
	}

	d.state = stopping
	d.notEmpty.Broadcast()
	d.notFull.Broadcast()
	d.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-d.done:
		d.markStopped()
		return 0, nil
	case <-expired:
	}

	select {
	case <-d.done:
		d.markStopped()
		return 0, nil
	default:
	}

	d.mu.Lock()
	d.aborted = true
	d.state = stopped
	discarded := d.drain()
	d.mu.Unlock()

	d.reportDiscarded(discarded)
	err := &logging.ShutdownTimeoutError{Discarded: len(discarded), Timeout: timeout}
	d.logger.Warn("Dispatcher stop timed out", zap.Error(err))
	return len(discarded), err
}

func (d *Dispatcher) Stats() Metrics {
	d.mu.Lock()
	queued := d.size
	d.mu.Unlock()

	return Metrics{
		Offered:   d.counters.offered.Load(),
		Delivered: d.counters.delivered.Load(),
		Failed:    d.counters.failed.Load(),
		Dropped:   d.counters.dropped.Load(),
		Rejected:  d.counters.rejected.Load(),
		Discarded: d.counters.discarded.Load(),
		Blocked:   d.counters.blocked.Load(),
		Queued:    queued,
		Capacity:  len(d.buf),
	}
}

func (d *Dispatcher) Policy() OverflowPolicy {
	return d.policy
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		for d.size == 0 && d.state == running {
			d.notEmpty.Wait()
		}
		if d.aborted || d.size == 0 {
			d.mu.Unlock()
			return
		}
		event := d.pop()
		d.notFull.Signal()
		d.mu.Unlock()

		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event logging.LogEvent) {
	if err := d.invoke(event); err != nil {
		d.counters.failed.Add(1)
		d.onError(&logging.ConsumerError{Event: event, Err: err})
		return
	}
	d.counters.delivered.Add(1)
}

func (d *Dispatcher) invoke(event logging.LogEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panic: %v", r)
		}
	}()
	return d.consumer(event)
}

func (d *Dispatcher) markStopped() {
	d.mu.Lock()
	d.state = stopped
	d.mu.Unlock()
}

func (d *Dispatcher) reportDropped(event logging.LogEvent) {
	total := d.counters.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop(event)
	}
	if d.dropLimiter.Allow() {
		d.logger.Warn("Dispatch queue full, dropped oldest event",
			zap.Uint64("dropped_total", total),
			zap.Int("capacity", len(d.buf)))
	}
}

func (d *Dispatcher) reportDiscarded(events []logging.LogEvent) {
	if len(events) == 0 {
		return
	}
	d.counters.discarded.Add(uint64(len(events)))
	if d.onDrop != nil {
		for _, event := range events {
			d.onDrop(event)
		}
	}
}

// push, pop and drain require d.mu.

func (d *Dispatcher) push(event logging.LogEvent) {
	d.buf[(d.head+d.size)%len(d.buf)] = event
	d.size++
}

func (d *Dispatcher) pop() logging.LogEvent {
	event := d.buf[d.head]
	d.buf[d.head] = logging.LogEvent{}
	d.head = (d.head + 1) % len(d.buf)
	d.size--
	return event
}

func (d *Dispatcher) drain() []logging.LogEvent {
	out := make([]logging.LogEvent, 0, d.size)
	for d.size > 0 {
		out = append(out, d.pop())
	}
	return out
}
