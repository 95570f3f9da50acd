// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched

import "sync/atomic"

// Stats is a snapshot of the scheduler's lifetime counters. For a drained
// scheduler, Scheduled == Completed + Cancelled + Errors.
type Stats struct {
	// Scheduled counts tasks accepted by Schedule and ScheduleAfter.
	// Continuations are not counted again; they are the same task.
	Scheduled uint64

	// Completed counts tasks whose callback chain finished normally.
	Completed uint64

	// Continuations counts callback invocations that returned more work.
	Continuations uint64

	// Cancelled counts tasks withdrawn before they ever ran.
	Cancelled uint64

	// Errors counts tasks that ended by returning an error or panicking.
	Errors uint64

	// Slices counts flushes that ran at least part of the work loop.
	Slices uint64

	// Yields counts slices that ended with ready work still queued.
	Yields uint64

	// Expired counts tasks that began executing past their expiration.
	Expired uint64
}

// counters is the always-on accounting behind Stats. The fields are
// atomics rather than lock-guarded so that Stats() never contends with a
// running work loop.
type counters struct {
	scheduled     atomic.Uint64
	completed     atomic.Uint64
	continuations atomic.Uint64
	cancelled     atomic.Uint64
	errors        atomic.Uint64
	slices        atomic.Uint64
	yields        atomic.Uint64
	expired       atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Scheduled:     c.scheduled.Load(),
		Completed:     c.completed.Load(),
		Continuations: c.continuations.Load(),
		Cancelled:     c.cancelled.Load(),
		Errors:        c.errors.Load(),
		Slices:        c.slices.Load(),
		Yields:        c.yields.Load(),
		Expired:       c.expired.Load(),
	}
}
