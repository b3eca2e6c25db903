package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/bootlog/internal/logging"
)

func makeEvents(n int) []logging.LogEvent {
	events := make([]logging.LogEvent, n)
	for i := range events {
		events[i] = logging.LogEvent{Message: fmt.Sprintf("event-%d", i)}
	}
	return events
}

func messages(events []logging.LogEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Message
	}
	return out
}

func TestParsePolicy(t *testing.T) {
	for name, want := range map[string]Policy{
		"off":      Off,
		"RETAIN":   Retain,
		" Weak ":   Weak,
		"retain\n": Retain,
	} {
		got, err := ParsePolicy(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParsePolicy("soft")
	var cfgErr *logging.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "soft", cfgErr.Value)
	assert.Contains(t, err.Error(), "soft")
}

func TestNew_UnknownPolicy(t *testing.T) {
	c, err := New(Policy(42))
	assert.Nil(t, c)

	var cfgErr *logging.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "42", cfgErr.Value)
}

func TestOffCache(t *testing.T) {
	c, err := New(Off)
	require.NoError(t, err)

	for _, e := range makeEvents(5) {
		c.Put(e)
	}

	drained := c.Drain()
	assert.NotNil(t, drained)
	assert.Empty(t, drained)
}

func TestRetainCache_DrainOrder(t *testing.T) {
	c, err := New(Retain)
	require.NoError(t, err)

	events := makeEvents(100)
	for _, e := range events {
		c.Put(e)
	}

	assert.Equal(t, messages(events), messages(c.Drain()))
}

func TestRetainCache_PutAfterDrain(t *testing.T) {
	c, err := New(Retain)
	require.NoError(t, err)

	c.Put(logging.LogEvent{Message: "first"})
	first := c.Drain()
	require.Len(t, first, 1)

	assert.NotPanics(t, func() {
		c.Put(logging.LogEvent{Message: "second"})
	})

	second := c.Drain()
	assert.Equal(t, []string{"second"}, messages(second))
	assert.Equal(t, []string{"first"}, messages(first), "earlier drain must not change")
}

func TestRetainCache_EmptyDrainIsNotNil(t *testing.T) {
	c, err := New(Retain)
	require.NoError(t, err)

	assert.NotNil(t, c.Drain())
	assert.NotNil(t, c.Drain())
}

func TestWeakCache_WithinBudget(t *testing.T) {
	c, err := New(Weak, WithMaxEvents(10))
	require.NoError(t, err)

	events := makeEvents(7)
	for _, e := range events {
		c.Put(e)
	}

	assert.Equal(t, messages(events), messages(c.Drain()))
	assert.Equal(t, uint64(0), c.(Evictor).Evicted())
}

func TestWeakCache_EvictsOldest(t *testing.T) {
	c, err := New(Weak, WithMaxEvents(3))
	require.NoError(t, err)

	for _, e := range makeEvents(5) {
		c.Put(e)
	}

	assert.Equal(t, []string{"event-2", "event-3", "event-4"}, messages(c.Drain()))
	assert.Equal(t, uint64(2), c.(Evictor).Evicted())
}

func TestWeakCache_DrainIsOrderedSubsequence(t *testing.T) {
	c, err := New(Weak, WithMaxEvents(16))
	require.NoError(t, err)

	events := makeEvents(50)
	for _, e := range events {
		c.Put(e)
	}
	drained := c.Drain()
	assert.LessOrEqual(t, len(drained), len(events))

	// every drained event must appear in the input after the previous one
	pos := 0
	for _, d := range drained {
		for pos < len(events) && events[pos].Message != d.Message {
			pos++
		}
		require.Less(t, pos, len(events), "drained event %s out of order", d.Message)
		pos++
	}
}

func TestWeakCache_ReusableAfterDrain(t *testing.T) {
	c, err := New(Weak, WithMaxEvents(2))
	require.NoError(t, err)

	c.Put(logging.LogEvent{Message: "a"})
	c.Put(logging.LogEvent{Message: "b"})
	c.Put(logging.LogEvent{Message: "c"})
	first := c.Drain()

	c.Put(logging.LogEvent{Message: "d"})
	assert.Equal(t, []string{"d"}, messages(c.Drain()))
	assert.Equal(t, []string{"b", "c"}, messages(first))
	assert.Empty(t, c.Drain())
}

func TestWithMaxEvents_IgnoresNonPositive(t *testing.T) {
	c, err := New(Weak, WithMaxEvents(0))
	require.NoError(t, err)
	assert.Len(t, c.(*ringCache).buf, DefaultMaxEvents)
}

func TestPolicy_Publishes(t *testing.T) {
	assert.False(t, Off.Publishes())
	assert.True(t, Retain.Publishes())
	assert.True(t, Weak.Publishes())
	assert.Equal(t, "unknown", Policy(9).String())
}
