// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	taskErr := &TaskError{
		TaskID:   7,
		Priority: UserBlocking,
		Err:      cause,
	}

	require.ErrorIs(t, taskErr, cause)
	require.Equal(t, "task 7 (user-blocking) failed: boom", taskErr.Error())
}

func TestTaskErrorAs(t *testing.T) {
	inner := &TaskError{TaskID: 3, Priority: Normal, Err: errors.New("x")}
	wrapped := errors.Join(errors.New("outer"), inner)

	var got *TaskError
	require.True(t, errors.As(wrapped, &got))
	require.Equal(t, uint64(3), got.TaskID)
}
