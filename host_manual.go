// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ManualHost is a deterministic Host for tests and for embedders that pump
// time themselves. Nothing happens on its own: the owner moves the clock
// with AdvanceTime, which fires a due wake-up, and runs slices with Flush.
// The deadline signal is controllable and defaults to absent, so the
// scheduler falls back to its fixed slice.
//
// Callbacks are always invoked with the host's lock released.
type ManualHost struct {
	log Logger

	lock sync.Mutex
	now  time.Time

	remaining    time.Duration
	hasRemaining bool

	flushFn FlushFunc

	// wake is the single armed wake-up; the scheduler never keeps more
	// than one. wakeSeq distinguishes a stale cancel from a live one
	// after a re-arm.
	wake    *pendingWake
	wakeSeq uint64
}

type pendingWake struct {
	deadline time.Time
	fn       WakeFunc
	seq      uint64
}

func NewManualHost(start time.Time, log Logger) *ManualHost {
	return &ManualHost{
		log: log,
		now: start,
	}
}

func (h *ManualHost) Now() time.Time {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.now
}

func (h *ManualHost) TimeRemaining(time.Time) (time.Duration, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if !h.hasRemaining {
		return 0, false
	}
	return h.remaining, true
}

// SetTimeRemaining pins the deadline signal to a fixed value until changed
// or cleared. Zero or negative means "the slice is spent".
func (h *ManualHost) SetTimeRemaining(remaining time.Duration) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.remaining = remaining
	h.hasRemaining = true
}

// ClearTimeRemaining removes the deadline signal, sending the scheduler
// back to its fallback slice.
func (h *ManualHost) ClearTimeRemaining() {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.remaining = 0
	h.hasRemaining = false
}

func (h *ManualHost) RequestFlush(fn FlushFunc) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.flushFn != nil {
		h.log.Warn("Overwriting an armed flush request")
	}
	h.flushFn = fn
}

// FlushArmed reports whether a requested flush has not run yet.
func (h *ManualHost) FlushArmed() bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.flushFn != nil
}

// Flush runs the armed flush, handing the scheduler the given budget
// verdict, and reports whether work remains. When it does, the flush stays
// armed so the owner can simply Flush again; this is the manual rendering
// of "the host owes the scheduler another slice". Flushing with nothing
// armed reports false.
func (h *ManualHost) Flush(hasBudget bool) bool {
	h.lock.Lock()
	fn := h.flushFn
	h.flushFn = nil
	now := h.now
	h.lock.Unlock()

	if fn == nil {
		h.log.Debug("No flush armed")
		return false
	}

	more := fn(hasBudget, now)
	if more {
		h.lock.Lock()
		if h.flushFn == nil {
			h.flushFn = fn
		}
		h.lock.Unlock()
	}
	return more
}

func (h *ManualHost) RequestWake(delay time.Duration, fn WakeFunc) context.CancelFunc {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.wakeSeq++
	seq := h.wakeSeq
	h.wake = &pendingWake{
		deadline: h.now.Add(delay),
		fn:       fn,
		seq:      seq,
	}
	h.log.Verbo("Armed wake-up", zap.Time("deadline", h.wake.deadline))

	return func() {
		h.lock.Lock()
		defer h.lock.Unlock()

		if h.wake != nil && h.wake.seq == seq {
			h.wake = nil
		}
	}
}

// WakeArmed reports whether a wake-up is armed and not yet fired.
func (h *ManualHost) WakeArmed() bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.wake != nil
}

// AdvanceTime moves the host clock to [t], firing the armed wake-up if its
// deadline has arrived. Moving time backwards is ignored.
func (h *ManualHost) AdvanceTime(t time.Time) {
	h.lock.Lock()
	if t.Before(h.now) {
		h.lock.Unlock()
		h.log.Warn("Ignoring time moving backwards", zap.Time("now", h.now), zap.Time("to", t))
		return
	}
	h.now = t

	var fire WakeFunc
	if h.wake != nil && !h.wake.deadline.After(t) {
		fire = h.wake.fn
		h.wake = nil
	}
	h.lock.Unlock()

	if fire != nil {
		fire(t)
	}
}
