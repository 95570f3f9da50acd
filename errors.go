// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPriority is returned when a task is scheduled with a
	// priority outside the range [Immediate, Idle].
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrInvalidDelay is returned when a task is scheduled with a negative
	// delay.
	ErrInvalidDelay = errors.New("invalid delay")

	// ErrNilCallback is returned when a task is scheduled without a
	// callback.
	ErrNilCallback = errors.New("nil callback")
)

// TaskError describes the failure of a single task callback. It is reported
// to the configured ErrorSink and never stops the work loop: the failing
// task is counted as completed and the loop moves on.
type TaskError struct {
	// TaskID identifies the task whose callback failed.
	TaskID uint64

	// Priority the task was scheduled with.
	Priority Priority

	// Err is the failure itself. For a recovered panic it wraps the panic
	// value.
	Err error

	// Stack holds the goroutine stack captured at the point of a recovered
	// panic. It is nil when the callback returned an error normally.
	Stack []byte
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d (%s) failed: %v", e.TaskID, e.Priority, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
