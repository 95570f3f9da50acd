// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched

import "time"

// DefaultSlice is the fallback slice length used when the host reports no
// deadline signal of its own. Five milliseconds keeps the work loop well
// inside a 60fps frame while still amortizing per-task overhead.
const DefaultSlice = 5 * time.Millisecond

// frameBudget answers "should the work loop hand control back to the host"
// for the slice currently being flushed. It never caches the host's
// deadline: the signal is queried fresh on every call, since the remaining
// time shrinks while tasks run. All fields are guarded by the owning
// scheduler's lock.
type frameBudget struct {
	host  Host
	slice time.Duration

	// sliceStart anchors the fallback budget when the host has no
	// deadline signal. It is reset at the start of every flush.
	sliceStart time.Time

	// hasBudget is the host's verdict for the whole slice. When false the
	// loop may only run expired tasks.
	hasBudget bool
}

func newFrameBudget(host Host, slice time.Duration) *frameBudget {
	return &frameBudget{
		host:  host,
		slice: slice,
	}
}

// begin marks the start of a slice.
func (b *frameBudget) begin(now time.Time, hasBudget bool) {
	b.sliceStart = now
	b.hasBudget = hasBudget
}

// shouldYield reports whether the slice's budget is spent at [now]. The
// exemption for expired tasks is the caller's: expiration is a property of
// the task at the head of the queue, not of the budget.
func (b *frameBudget) shouldYield(now time.Time) bool {
	if !b.hasBudget {
		return true
	}
	if remaining, ok := b.host.TimeRemaining(now); ok {
		return remaining <= 0
	}
	return now.Sub(b.sliceStart) >= b.slice
}
