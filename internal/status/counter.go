package status

import (
	"sync"
	"time"
)

// Counter counts events per interval and keeps a bounded history of past
// interval totals.
type Counter struct {
	mu         sync.Mutex
	count      uint64
	total      uint64
	lastClear  time.Time
	interval   time.Duration
	history    []uint64
	maxHistory int
	now        func() time.Time
}

// NewCounter конструктор.
func NewCounter(interval time.Duration, maxHistory int) *Counter {
	return newCounter(interval, maxHistory, time.Now)
}

func newCounter(interval time.Duration, maxHistory int, now func() time.Time) *Counter {
	return &Counter{
		lastClear:  now(),
		interval:   interval,
		history:    make([]uint64, 0, maxHistory),
		maxHistory: maxHistory,
		now:        now,
	}
}

func (c *Counter) Increment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	c.total++
}

// Count returns events in the current interval.
func (c *Counter) Count() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Total returns events since creation.
func (c *Counter) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Clear pushes the current count into history and starts a new interval.
func (c *Counter) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
}

func (c *Counter) clear() {
	if c.maxHistory > 0 {
		if len(c.history) == c.maxHistory {
			copy(c.history, c.history[1:])
			c.history = c.history[:len(c.history)-1]
		}
		c.history = append(c.history, c.count)
	}
	c.count = 0
	c.lastClear = c.now()
}

// Roll clears the counter if its interval has elapsed. It reports whether it did.
func (c *Counter) Roll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Sub(c.lastClear) < c.interval {
		return false
	}
	c.clear()
	return true
}

func (c *Counter) SinceLastClear() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.lastClear)
}

// History returns past interval totals, oldest first.
func (c *Counter) History() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.history...)
}
