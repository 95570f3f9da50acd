// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimerHost drives a Scheduler with the real clock. A single goroutine
// serializes flush invocations, running slices back-to-back while the
// scheduler reports more work; wake-ups ride time.AfterFunc. It never
// invokes scheduler code while holding its own lock.
type TimerHost struct {
	log Logger

	flushes chan FlushFunc
	close   chan struct{}

	lock       sync.Mutex
	slice      time.Duration
	sliceStart time.Time
}

// NewTimerHost returns a TimerHost and starts the goroutine that executes
// flush requests. The slice length starts at DefaultSlice.
func NewTimerHost(log Logger) *TimerHost {
	h := &TimerHost{
		log:     log,
		flushes: make(chan FlushFunc, 1),
		close:   make(chan struct{}),
		slice:   DefaultSlice,
	}

	go h.run()

	return h
}

func (h *TimerHost) Now() time.Time {
	return time.Now()
}

// TimeRemaining reports how much of the running slice is left. The signal
// is authoritative (ok is always true), so the scheduler's fallback slice
// never engages under this host.
func (h *TimerHost) TimeRemaining(now time.Time) (time.Duration, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.slice - now.Sub(h.sliceStart), true
}

func (h *TimerHost) RequestFlush(fn FlushFunc) {
	select {
	case h.flushes <- fn:
	default:
		h.log.Warn("Dropping flush request because one is already queued")
	}
}

func (h *TimerHost) RequestWake(delay time.Duration, fn WakeFunc) context.CancelFunc {
	timer := time.AfterFunc(delay, func() {
		if !h.running() {
			return
		}
		fn(time.Now())
	})
	return func() {
		timer.Stop()
	}
}

// SetSlice changes the slice length for subsequent slices. Non-positive
// values are ignored.
func (h *TimerHost) SetSlice(slice time.Duration) {
	if slice <= 0 {
		h.log.Warn("Ignoring non-positive slice", zap.Duration("slice", slice))
		return
	}
	h.lock.Lock()
	defer h.lock.Unlock()

	h.slice = slice
}

// SliceForFPS derives the slice length from a target frame rate. Zero
// restores DefaultSlice; rates outside [0, 125] are ignored.
func (h *TimerHost) SliceForFPS(fps int) {
	if fps < 0 || fps > 125 {
		h.log.Warn("Ignoring unsupported frame rate", zap.Int("fps", fps))
		return
	}
	slice := DefaultSlice
	if fps > 0 {
		slice = time.Second / time.Duration(fps)
	}
	h.lock.Lock()
	defer h.lock.Unlock()

	h.slice = slice
}

func (h *TimerHost) run() {
	for {
		select {
		case fn := <-h.flushes:
			h.drive(fn)
		case <-h.close:
			return
		}
	}
}

// drive runs slices back-to-back until the scheduler reports no more work
// or the host closes.
func (h *TimerHost) drive(fn FlushFunc) {
	for h.running() {
		now := time.Now()
		h.lock.Lock()
		h.sliceStart = now
		h.lock.Unlock()

		if !fn(true, now) {
			return
		}
	}
}

func (h *TimerHost) running() bool {
	select {
	case <-h.close:
		return false
	default:
		return true
	}
}

// Close stops the flush goroutine. Wake-ups still pending fire into the
// closed host and return without effect.
func (h *TimerHost) Close() {
	select {
	case <-h.close:
		return
	default:
		close(h.close)
	}
}
