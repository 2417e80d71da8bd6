// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant handed out by NewDeterministicClock.
var DefaultEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock hands out event timestamps for tests.
//
// Every call to Next advances by a fixed step, so the same scenario always
// records the same epoch-millisecond values and golden traces stay stable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	ticks int64
}

// NewDeterministicClock creates a clock at DefaultEpoch stepping one second.
//
// The first call to Next() returns DefaultEpoch + 1s.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(DefaultEpoch, time.Second)
}

// NewDeterministicClockAt creates a clock at start advancing by step.
// A non-positive step is treated as one millisecond.
func NewDeterministicClockAt(start time.Time, step time.Duration) *DeterministicClock {
	if step <= 0 {
		step = time.Millisecond
	}
	return &DeterministicClock{start: start.UTC(), step: step}
}

// Next advances the clock and returns the new instant.
//
// Monotonic: always returns a later instant than the previous call.
func (c *DeterministicClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.start.Add(time.Duration(c.ticks) * c.step)
}

// NextMillis is Next in the epoch-millisecond form stored by the event store.
func (c *DeterministicClock) NextMillis() int64 {
	return c.Next().UnixMilli()
}

// Current returns the current instant without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(time.Duration(c.ticks) * c.step)
}

// Reset rewinds the clock to its start.
//
// Used for test reuse. After Reset(), Next() repeats the same sequence.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
