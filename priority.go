// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched

import (
	"fmt"
	"time"
)

// Priority classifies how long a task may wait in the ready queue before it
// is considered overdue. It controls ordering only; it never preempts a
// running task.
type Priority uint8

const (
	undefinedPriority Priority = iota

	// Immediate tasks are treated as already expired the moment they are
	// scheduled. They run before anything else, and the work loop will not
	// yield the slice while one is overdue.
	Immediate

	// UserBlocking tasks respond directly to user input and should run
	// within a few hundred milliseconds.
	UserBlocking

	// Normal is the default for ordinary asynchronous work.
	Normal

	// Low tasks are background bookkeeping that tolerates long waits.
	Low

	// Idle tasks only run when nothing else is pending. They never expire.
	Idle

	numPriorities = iota - 1
)

const (
	immediateTimeout    = -1 * time.Millisecond
	userBlockingTimeout = 250 * time.Millisecond
	normalTimeout       = 5 * time.Second
	lowTimeout          = 10 * time.Second

	// idleTimeout is far enough in the future that an Idle task never
	// becomes overdue on its own; it runs purely on queue order.
	idleTimeout = (1<<30 - 1) * time.Millisecond
)

// Timeout returns how long a task of this priority may sit in the ready
// queue before it is considered overdue. It is a pure lookup.
func (p Priority) Timeout() time.Duration {
	switch p {
	case Immediate:
		return immediateTimeout
	case UserBlocking:
		return userBlockingTimeout
	case Low:
		return lowTimeout
	case Idle:
		return idleTimeout
	default:
		return normalTimeout
	}
}

// Valid reports whether p is one of the defined priority levels. The zero
// value is deliberately invalid so that an unset priority cannot silently
// schedule as anything.
func (p Priority) Valid() bool {
	return p >= Immediate && p <= Idle
}

// String returns a string representation of the priority.
// It is meant as a debugging aid for logs.
func (p Priority) String() string {
	switch p {
	case Immediate:
		return "immediate"
	case UserBlocking:
		return "user-blocking"
	case Normal:
		return "normal"
	case Low:
		return "low"
	case Idle:
		return "idle"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}
