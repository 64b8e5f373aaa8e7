package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps every event seq.
//
// Ordering never uses wall time. The clock resumes from the store's highest
// seq on startup, and a command whose transaction rolls back returns the seqs
// it drew, so committed events stay gap-free.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations), though
// only the Run goroutine advances it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock positioned at start; the next seq is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Rewind moves the clock back to seq after a rolled-back command.
// It never moves the clock forward.
func (c *Clock) Rewind(seq int64) {
	for {
		cur := c.seq.Load()
		if seq >= cur || c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
