// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uilab/framesched"
)

// drainTimeout bounds how long we wait for the scheduler to run down its
// queues after the generator stops.
const drainTimeout = 5 * time.Second

type weightedPriority struct {
	p framesched.Priority
	w int
}

// simulation submits a rate-limited stream of synthetic tasks to a scheduler
// driven by a real-time host and tallies how long they waited to run.
type simulation struct {
	conf Config
	log  *simLogger
	rng  *rand.Rand

	sched *framesched.Scheduler
	host  *framesched.TimerHost

	mix         []weightedPriority
	totalWeight int

	lat latencyBook
	wg  sync.WaitGroup
}

func newSimulation(conf Config, log *simLogger, seed int64) (*simulation, error) {
	s := &simulation{
		conf: conf,
		log:  log,
		rng:  rand.New(rand.NewSource(seed)),
	}

	ws := conf.Workload.Weights
	for _, wp := range []weightedPriority{
		{framesched.Immediate, ws.Immediate},
		{framesched.UserBlocking, ws.UserBlocking},
		{framesched.Normal, ws.Normal},
		{framesched.Low, ws.Low},
		{framesched.Idle, ws.Idle},
	} {
		if wp.w > 0 {
			s.mix = append(s.mix, wp)
			s.totalWeight += wp.w
		}
	}

	s.host = framesched.NewTimerHost(log)
	slice := framesched.DefaultSlice
	if conf.FPS > 0 {
		s.host.SliceForFPS(conf.FPS)
		slice = time.Second / time.Duration(conf.FPS)
	} else if conf.SliceMS > 0 {
		slice = time.Duration(conf.SliceMS) * time.Millisecond
		s.host.SetSlice(slice)
	}

	sched, err := framesched.New(framesched.Config{
		Logger: log,
		Host:   s.host,
		Errors: &faultSink{log: log},
		Slice:  slice,
	})
	if err != nil {
		s.host.Close()
		return nil, err
	}
	s.sched = sched
	return s, nil
}

func (s *simulation) run() error {
	defer s.host.Close()

	duration := time.Duration(s.conf.DurationMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	s.wg.Add(1)
	go s.generate(ctx)
	s.wg.Wait()

	if !s.drain() {
		s.log.Warn("Queues did not drain", zap.Int("pending", s.sched.Pending()))
	}
	elapsed := time.Since(start)

	s.lat.report(s.log)
	stats := s.sched.Stats()
	s.log.Info("Simulation complete",
		zap.Duration("elapsed", elapsed),
		zap.Uint64("scheduled", stats.Scheduled),
		zap.Uint64("completed", stats.Completed),
		zap.Uint64("continuations", stats.Continuations),
		zap.Uint64("cancelled", stats.Cancelled),
		zap.Uint64("errors", stats.Errors),
		zap.Uint64("slices", stats.Slices),
		zap.Uint64("yields", stats.Yields),
		zap.Uint64("expired", stats.Expired),
	)
	return nil
}

// generate paces submissions with a token bucket until the context expires.
func (s *simulation) generate(ctx context.Context) {
	defer s.wg.Done()

	w := s.conf.Workload
	lim := rate.NewLimiter(rate.Limit(w.Rate), w.Burst)
	n := 0
	for {
		if err := lim.Wait(ctx); err != nil {
			s.log.Debug("Generator stopping", zap.Int("submitted", n))
			return
		}
		n++
		s.submit(n)
	}
}

func (s *simulation) submit(n int) {
	w := s.conf.Workload

	p := s.pickPriority()
	chunks := w.ChunksMin + s.rng.Intn(w.ChunksMax-w.ChunksMin+1)
	panics := w.PanicEvery > 0 && n%w.PanicEvery == 0

	var delay time.Duration
	if w.DelayMaxMS > 0 && s.rng.Float64() < w.DelayRatio {
		delay = time.Duration(1+s.rng.Intn(w.DelayMaxMS)) * time.Millisecond
	}

	due := time.Now().Add(delay)
	handle, err := s.sched.ScheduleAfter(p, delay, s.newTask(p, chunks, panics, due))
	if err != nil {
		s.log.Error("Failed to schedule task", zap.Stringer("priority", p), zap.Error(err))
		return
	}

	// Cancel a slice of the stream a little while after submission. Some of
	// these land before the task runs, the rest are no-ops.
	if s.rng.Float64() < w.CancelRatio {
		after := time.Duration(1+s.rng.Intn(20)) * time.Millisecond
		time.AfterFunc(after, handle.Cancel)
	}
}

func (s *simulation) pickPriority() framesched.Priority {
	n := s.rng.Intn(s.totalWeight)
	for _, wp := range s.mix {
		if n < wp.w {
			return wp.p
		}
		n -= wp.w
	}
	return framesched.Normal
}

// newTask builds a callback that burns CPU in chunks, yielding to the frame
// between chunks whenever the scheduler asks for the slice back.
func (s *simulation) newTask(p framesched.Priority, chunks int, panics bool, due time.Time) framesched.Callback {
	chunk := time.Duration(s.conf.Workload.ChunkUS) * time.Microsecond
	remaining := chunks
	started := false

	var run framesched.Callback
	run = func() (framesched.Result, error) {
		if !started {
			started = true
			wait := time.Since(due)
			if wait < 0 {
				wait = 0
			}
			s.lat.observe(p, wait)
		}
		for remaining > 0 {
			spin(chunk)
			remaining--
			if panics && remaining == 0 {
				panic(fmt.Errorf("synthetic fault after %d chunks", chunks))
			}
			if remaining > 0 && s.sched.ShouldYield() {
				return framesched.Continue(run), nil
			}
		}
		return framesched.Done(), nil
	}
	return run
}

// drain waits for both queues to empty, bounded by drainTimeout plus the
// longest submission delay still possibly in flight.
func (s *simulation) drain() bool {
	deadline := time.Now().Add(drainTimeout + time.Duration(s.conf.Workload.DelayMaxMS)*time.Millisecond)
	for s.sched.Pending() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}

// spin burns CPU to stand in for real work, staying on the clock the
// scheduler budgets against.
func spin(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// latencyBook tallies per-priority queue wait: the gap between when a task
// was due to start and when its callback first ran.
type latencyBook struct {
	lock  sync.Mutex
	cells [framesched.Idle + 1]latencyCell
}

type latencyCell struct {
	count uint64
	total time.Duration
	max   time.Duration
}

func (b *latencyBook) observe(p framesched.Priority, wait time.Duration) {
	b.lock.Lock()
	defer b.lock.Unlock()

	c := &b.cells[p]
	c.count++
	c.total += wait
	if wait > c.max {
		c.max = wait
	}
}

func (b *latencyBook) report(log framesched.Logger) {
	b.lock.Lock()
	defer b.lock.Unlock()

	for p := framesched.Immediate; p <= framesched.Idle; p++ {
		c := b.cells[p]
		if c.count == 0 {
			continue
		}
		log.Info("Queue wait",
			zap.Stringer("priority", p),
			zap.Uint64("tasks", c.count),
			zap.Duration("mean", c.total/time.Duration(c.count)),
			zap.Duration("max", c.max),
		)
	}
}

// faultSink logs failed tasks instead of letting them pass silently; the
// scheduler's own counters track the totals.
type faultSink struct {
	log framesched.Logger
}

func (f *faultSink) OnTaskError(err *framesched.TaskError) {
	f.log.Warn("Task failed in flight",
		zap.Uint64("task", err.TaskID),
		zap.Stringer("priority", err.Priority),
		zap.Error(err.Err),
		zap.Bool("panicked", err.Stack != nil),
	)
}
