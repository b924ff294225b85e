package engine

import (
	"sync/atomic"
	"time"
)

// Clock issues request epochs.
//
// An epoch is wall time in Unix milliseconds, bumped past the previous
// epoch when two requests land in the same millisecond or the wall clock
// steps backwards. Epochs from one Clock are strictly increasing, so they
// break ties between requests carrying the same timestamp.
type Clock struct {
	last atomic.Int64
}

// NewClock creates a clock with no epochs issued.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the epoch for a request stamped at now.
func (c *Clock) Next(now time.Time) int64 {
	want := now.UnixMilli()
	for {
		prev := c.last.Load()
		next := want
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}
