package dispatch

import (
	"sync/atomic"
)

type counters struct {
	offered   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
	discarded atomic.Uint64
	blocked   atomic.Uint64
}

// Metrics is a point-in-time view of a dispatcher.
type Metrics struct {
	Offered   uint64 // admitted by Offer
	Delivered uint64 // consumer returned without error
	Failed    uint64 // consumer returned an error or panicked
	Dropped   uint64 // evicted by DropOldest
	Rejected  uint64 // refused because the dispatcher was stopping
	Discarded uint64 // left in the queue when Stop gave up
	Blocked   uint64 // Offer calls that had to wait for space
	Queued    int
	Capacity  int
}

func (m Metrics) QueueUsage() float64 {
	if m.Capacity == 0 {
		return 0
	}
	return float64(m.Queued) / float64(m.Capacity)
}

// Lost is the number of admitted or offered events that never reached the consumer.
func (m Metrics) Lost() uint64 {
	return m.Dropped + m.Rejected + m.Discarded
}
