package engine

import "sync/atomic"

// Clock is a Lamport-style high-water mark over record clocks seen by the
// engine, plus a counter numbering sync runs.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	runs atomic.Int64
	high atomic.Int64
}

// NewClock creates a clock with no runs and no observed clocks.
func NewClock() *Clock {
	return &Clock{}
}

// NextRun returns the next run number, starting at 1.
func (c *Clock) NextRun() int64 {
	return c.runs.Add(1)
}

// Runs returns the number of runs started.
func (c *Clock) Runs() int64 {
	return c.runs.Load()
}

// Observe raises the high-water mark to v if v is larger.
func (c *Clock) Observe(v int64) {
	for {
		cur := c.high.Load()
		if v <= cur || c.high.CompareAndSwap(cur, v) {
			return
		}
	}
}

// High returns the largest record clock observed.
func (c *Clock) High() int64 {
	return c.high.Load()
}
