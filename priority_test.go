// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPriorityTimeouts(t *testing.T) {
	tests := []struct {
		priority Priority
		timeout  time.Duration
	}{
		{Immediate, -time.Millisecond},
		{UserBlocking, 250 * time.Millisecond},
		{Normal, 5 * time.Second},
		{Low, 10 * time.Second},
		{Idle, (1<<30 - 1) * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.priority.String(), func(t *testing.T) {
			require.Equal(t, tt.timeout, tt.priority.Timeout())
		})
	}

	// Urgency must strictly increase as the level gets more interactive.
	require.True(t, Immediate.Timeout() < UserBlocking.Timeout())
	require.True(t, UserBlocking.Timeout() < Normal.Timeout())
	require.True(t, Normal.Timeout() < Low.Timeout())
	require.True(t, Low.Timeout() < Idle.Timeout())
}

func TestPriorityValid(t *testing.T) {
	for p := Immediate; p <= Idle; p++ {
		require.True(t, p.Valid())
	}

	require.False(t, undefinedPriority.Valid())
	require.False(t, Priority(0).Valid())
	require.False(t, Priority(numPriorities+1).Valid())
	require.False(t, Priority(200).Valid())
}

func TestPriorityString(t *testing.T) {
	tests := []struct {
		priority Priority
		want     string
	}{
		{Immediate, "immediate"},
		{UserBlocking, "user-blocking"},
		{Normal, "normal"},
		{Low, "low"},
		{Idle, "idle"},
		{Priority(9), "priority(9)"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, tt.priority.String())
	}
}
