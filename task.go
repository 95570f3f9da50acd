// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched

import "time"

// Callback is the unit of work the scheduler runs. It either finishes,
// returning Done(), or hands back the rest of its work as a continuation
// via Continue(). A returned error is reported to the ErrorSink and ends
// the task's continuation chain.
//
// Callbacks run on the host's flush goroutine with no scheduler lock held,
// so they may call Schedule, ScheduleAfter, Cancel and ShouldYield freely.
type Callback func() (Result, error)

// Result is what a callback hands back to the work loop: completion, or a
// continuation to run in a later slice. Construct it with Done or Continue.
type Result struct {
	next Callback
}

// Done reports that the task finished all of its work.
func Done() Result {
	return Result{}
}

// Continue reports that the task has more work to do. The continuation is
// re-enqueued under the task's original expiration time, so resuming never
// sends it to the back of its priority class. Continue(nil) is Done().
func Continue(next Callback) Result {
	return Result{next: next}
}

// task is a scheduled unit of work. Everything mutable on it is guarded by
// the owning scheduler's lock; callback doubles as the liveness flag, since
// clearing it is the only cancellation primitive.
type task struct {
	id       uint64
	priority Priority

	// callback is nil once the task is cancelled, and also while it is
	// being executed. A nil callback on a queued task means the queues
	// hold a husk to be discarded on pop.
	callback Callback

	// startTime is when the task becomes eligible to run. Tasks with a
	// delay wait in the timer queue until then.
	startTime time.Time

	// expirationTime is startTime plus the priority's timeout. Once it
	// passes, the task runs even if the slice budget is spent.
	expirationTime time.Time

	// sortIndex orders the task within whichever queue holds it:
	// startTime in the timer queue, expirationTime in the ready queue.
	// A continuation keeps its old expiration, so it keeps its place.
	sortIndex time.Time
}

// expired reports whether the task is overdue at the given time.
func (t *task) expired(now time.Time) bool {
	return !t.expirationTime.After(now)
}

// TaskHandle identifies a scheduled task. Its only operation besides
// inspection is Cancel.
type TaskHandle struct {
	sched *Scheduler
	t     *task
}

// ID returns the task's unique, monotonically increasing id, or 0 for a
// nil handle.
func (h *TaskHandle) ID() uint64 {
	if h == nil || h.t == nil {
		return 0
	}
	return h.t.id
}

// Cancel withdraws the task if it has not started running. It is
// idempotent: cancelling a completed, failed, or already cancelled task is
// a no-op, as is calling it on a nil handle. A task cancelled from within
// its own callback still gets to return a continuation; cancellation only
// prevents invocations that have not begun.
func (h *TaskHandle) Cancel() {
	if h == nil || h.sched == nil {
		return
	}
	h.sched.cancel(h.t)
}
