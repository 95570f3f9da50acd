// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package framesched implements a cooperative, priority-based task
// scheduler that time-slices work against a host-supplied deadline.
// Tasks never preempt each other; they run to completion or voluntarily
// hand back a continuation, and the work loop yields control to the host
// whenever the current slice's budget is spent.
package framesched

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Logger interface {
	// Log that a fatal error has occurred. The program should likely exit soon
	// after this is called
	Fatal(msg string, fields ...zap.Field)
	// Log that an error has occurred. The program should be able to recover
	// from this error
	Error(msg string, fields ...zap.Field)
	// Log that an event has occurred that may indicate a future error or
	// vulnerability
	Warn(msg string, fields ...zap.Field)
	// Log an event that may be useful for a user to see to measure the progress
	// of scheduled work
	Info(msg string, fields ...zap.Field)
	// Log an event that may be useful for understanding the order of the
	// execution of tasks
	Trace(msg string, fields ...zap.Field)
	// Log an event that may be useful for a programmer to see when debugging
	// the execution of the scheduler
	Debug(msg string, fields ...zap.Field)
	// Log extremely detailed events that can be useful for inspecting every
	// aspect of the scheduler
	Verbo(msg string, fields ...zap.Field)
}

// FlushFunc drives the work loop for one slice. The host passes whether the
// slice has any budget at all and the current time, and receives back
// whether ready work remains, in which case the host owes the scheduler
// another flush. Work that is merely delayed does not count: the scheduler
// re-arms for it through RequestWake instead.
type FlushFunc func(hasBudget bool, now time.Time) (more bool)

// WakeFunc is invoked by the host once a requested wake-up delay has
// elapsed. It is used solely to promote future tasks into the ready queue.
type WakeFunc func(now time.Time)

// Host is the timing environment the scheduler runs against. The scheduler
// never reads the wall clock or sets timers itself; everything it knows
// about time comes through this interface, which is what makes the core
// drivable by a real clock or a simulated one.
//
// The scheduler may call any Host method while holding its own lock, so
// implementations must not invoke a FlushFunc or WakeFunc while holding a
// lock that Now or TimeRemaining acquires.
type Host interface {
	// Now returns the host's current time. It must be monotonic.
	Now() time.Time

	// TimeRemaining reports how much of the current slice is left. When the
	// host has no deadline signal of its own it returns ok == false, and the
	// scheduler falls back to a fixed slice length measured from the start
	// of the flush.
	TimeRemaining(now time.Time) (remaining time.Duration, ok bool)

	// RequestFlush schedules exactly one future invocation of fn. The host
	// must serialize flushes: fn is never invoked concurrently with itself
	// or with a previously requested flush.
	RequestFlush(fn FlushFunc)

	// RequestWake schedules fn to be invoked once, no earlier than delay
	// from now. The returned cancel function prevents the invocation if it
	// has not happened yet; cancelling after the fact is a no-op.
	RequestWake(delay time.Duration, fn WakeFunc) context.CancelFunc
}

// ErrorSink receives the failures of task callbacks. A failing task is
// treated as completed: it is neither retried nor requeued, and the work
// loop proceeds to the next task in the same slice.
type ErrorSink interface {
	OnTaskError(err *TaskError)
}
