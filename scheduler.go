// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config carries the scheduler's collaborators and tuning knobs. Logger and
// Host are required; everything else has a usable zero value.
type Config struct {
	Logger Logger

	// Host supplies the clock, the slice deadline signal, and the flush
	// and wake-up services the scheduler re-arms itself with.
	Host Host

	// Errors receives task failures. When nil, failures are logged at
	// Error level through Logger.
	Errors ErrorSink

	// Slice is the fallback slice length used when the host reports no
	// deadline signal of its own. Zero means DefaultSlice.
	Slice time.Duration
}

// Scheduler runs callbacks cooperatively, ordered by expiration time, in
// host-budgeted slices. Each instance is independent: there is no shared
// global state, so tests can run as many side by side as they like.
//
// All methods are safe for concurrent use. Callbacks themselves execute
// one at a time, on the host's flush goroutine.
type Scheduler struct {
	Config

	lock sync.Mutex

	// taskQueue holds ready tasks keyed by expirationTime; timerQueue
	// holds delayed tasks keyed by startTime until promotion.
	taskQueue  taskHeap
	timerQueue taskHeap

	nextID uint64

	// running is the task whose callback is currently executing. It is
	// set and cleared by the work loop and read by ShouldYield and
	// CurrentPriority.
	running *task

	budget *frameBudget

	// flushScheduled means the host owes us a flush invocation, either
	// because we requested one or because the previous flush returned
	// more work. flushing means the work loop is on the stack right now.
	flushScheduled bool
	flushing       bool

	// cancelWake revokes the armed host wake-up, if any. wakeSeq
	// invalidates wake-ups that fired concurrently with a disarm and are
	// waiting on the lock.
	cancelWake context.CancelFunc
	wakeSeq    uint64

	stats counters
}

// New returns a Scheduler driven by the host named in the config.
func New(conf Config) (*Scheduler, error) {
	s := &Scheduler{
		Config: conf,
	}
	return s, s.init()
}

func (s *Scheduler) init() error {
	if s.Logger == nil {
		return errors.New("nil logger")
	}
	if s.Host == nil {
		return errors.New("nil host")
	}
	if s.Slice < 0 {
		return fmt.Errorf("negative slice %s", s.Slice)
	}
	if s.Slice == 0 {
		s.Slice = DefaultSlice
	}
	if s.Errors == nil {
		s.Errors = &logSink{log: s.Logger}
	}
	s.budget = newFrameBudget(s.Host, s.Slice)
	return nil
}

// Schedule enqueues a callback at the given priority, eligible to run
// immediately. It returns a handle that can cancel the task until its
// callback starts executing.
func (s *Scheduler) Schedule(p Priority, cb Callback) (*TaskHandle, error) {
	return s.ScheduleAfter(p, 0, cb)
}

// ScheduleAfter enqueues a callback that becomes eligible to run once
// [delay] has elapsed. The task's expiration clock starts at eligibility,
// not at submission: a delayed task is no more urgent for having waited.
func (s *Scheduler) ScheduleAfter(p Priority, delay time.Duration, cb Callback) (*TaskHandle, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPriority, p)
	}
	if delay < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDelay, delay)
	}
	if cb == nil {
		return nil, ErrNilCallback
	}

	now := s.Host.Now()

	s.lock.Lock()
	s.nextID++
	t := &task{
		id:        s.nextID,
		priority:  p,
		callback:  cb,
		startTime: now.Add(delay),
	}
	t.expirationTime = t.startTime.Add(p.Timeout())
	s.stats.scheduled.Add(1)

	var requestFlush bool
	if t.startTime.After(now) {
		t.sortIndex = t.startTime
		s.timerQueue.push(t)
		// Re-arm the wake-up only if this became the nearest future task
		// while nothing is ready; otherwise an earlier wake or a flush
		// will promote it in due course.
		if s.taskQueue.peek() == nil && s.timerQueue.peek() == t {
			s.armWake(now)
		}
	} else {
		t.sortIndex = t.expirationTime
		s.taskQueue.push(t)
		if !s.flushScheduled && !s.flushing {
			s.flushScheduled = true
			requestFlush = true
		}
	}
	s.lock.Unlock()

	s.Logger.Debug("Scheduled task",
		zap.Uint64("task", t.id),
		zap.Stringer("priority", p),
		zap.Duration("delay", delay))

	if requestFlush {
		s.Host.RequestFlush(s.flush)
	}
	return &TaskHandle{sched: s, t: t}, nil
}

// cancel clears the task's callback, which is the only cancellation
// primitive: the queues are never searched or rebuilt, and the husk is
// discarded whenever it surfaces at the top of a heap.
func (s *Scheduler) cancel(t *task) {
	if t == nil {
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	if t.callback == nil {
		// Completed, failed, already cancelled, or mid-execution. In all
		// of these the cancel is a no-op.
		return
	}
	t.callback = nil
	s.stats.cancelled.Add(1)
	s.Logger.Debug("Cancelled task", zap.Uint64("task", t.id), zap.Stringer("priority", t.priority))
}

// ShouldYield tells a running callback whether to hand back a continuation
// now. It reports false while the running task is already expired, since
// overdue work is supposed to finish even past budget. Outside a callback
// its answer is meaningless.
func (s *Scheduler) ShouldYield() bool {
	now := s.Host.Now()

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.running != nil && s.running.expired(now) {
		return false
	}
	return s.budget.shouldYield(now)
}

// CurrentPriority returns the priority of the task being executed, or
// Normal when called outside a callback. Re-entrant scheduling decisions
// inside callbacks key off it.
func (s *Scheduler) CurrentPriority() Priority {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.running != nil {
		return s.running.priority
	}
	return Normal
}

// Pending returns the number of queued tasks. The count may include
// cancelled tasks whose slots have not been collected yet.
func (s *Scheduler) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.taskQueue.Len() + s.timerQueue.Len()
}

// Stats returns a snapshot of the scheduler's lifetime counters.
func (s *Scheduler) Stats() Stats {
	return s.stats.snapshot()
}

// flush is the FlushFunc handed to the host. It runs the work loop for one
// slice and reports whether ready or pending work remains, in which case
// the host owes the scheduler another flush.
func (s *Scheduler) flush(hasBudget bool, now time.Time) bool {
	s.lock.Lock()

	if s.flushing {
		// The host broke the serialization contract. Refusing the slice
		// is safer than interleaving two work loops.
		s.lock.Unlock()
		s.Logger.Error("Refusing re-entrant flush")
		return false
	}
	s.flushing = true
	s.flushScheduled = false
	// Any armed wake-up is redundant while we are running: the loop
	// promotes timers itself and re-arms on exit.
	s.disarmWake()
	s.budget.begin(now, hasBudget)
	s.stats.slices.Add(1)

	more := s.workLoop(now)

	s.flushing = false
	if more {
		s.flushScheduled = true
		s.stats.yields.Add(1)
	}
	s.lock.Unlock()

	s.Logger.Verbo("Flushed slice", zap.Bool("more", more))
	return more
}

// workLoop drains the ready queue until the budget runs out or the queue
// empties. The lock is held throughout except around each callback
// invocation, which is what makes re-entrant Schedule and Cancel calls
// from inside callbacks legal.
func (s *Scheduler) workLoop(now time.Time) bool {
	s.advanceTimers(now)

	current := s.taskQueue.peek()
	for current != nil {
		if !current.expired(now) && s.budget.shouldYield(now) {
			// The head task can wait and the slice is spent.
			break
		}
		cb := current.callback
		if cb == nil {
			// A cancelled husk surfaced; discard and move on.
			s.taskQueue.pop()
			current = s.taskQueue.peek()
			continue
		}

		// Clear the callback before invoking it so that a cancel issued
		// by the callback itself, or a re-entrant schedule, observes the
		// task as already running. The task stays in the queue until it
		// resolves, which keeps re-entrant arming decisions honest.
		current.callback = nil
		s.running = current
		expired := current.expired(now)
		if expired {
			s.stats.expired.Add(1)
		}
		s.Logger.Verbo("Executing task",
			zap.Uint64("task", current.id),
			zap.Stringer("priority", current.priority),
			zap.Bool("expired", expired))

		s.lock.Unlock()
		res, err := runCallback(cb)
		if err != nil {
			s.stats.errors.Add(1)
			s.Errors.OnTaskError(&TaskError{
				TaskID:   current.id,
				Priority: current.priority,
				Err:      err.err,
				Stack:    err.stack,
			})
		}
		s.lock.Lock()

		now = s.Host.Now()
		s.running = nil

		switch {
		case err != nil:
			// A failing task is complete: not retried, not requeued, and
			// its continuation chain ends here.
			if current == s.taskQueue.peek() {
				s.taskQueue.pop()
			}
		case res.next != nil:
			// Continuation: same task, same expiration, so it keeps its
			// place in line rather than restarting its timeout.
			current.callback = res.next
			s.stats.continuations.Add(1)
		default:
			s.stats.completed.Add(1)
			if current == s.taskQueue.peek() {
				s.taskQueue.pop()
			}
		}

		// Eligible work may have appeared while the callback ran.
		s.advanceTimers(now)
		current = s.taskQueue.peek()
	}

	if current != nil {
		return true
	}
	if s.timerQueue.peek() != nil {
		s.armWake(now)
	}
	return false
}

// advanceTimers promotes every delayed task whose start time has arrived
// into the ready queue, discarding cancelled ones along the way. It runs
// before every pop, since eligible work may have appeared at any point.
func (s *Scheduler) advanceTimers(now time.Time) {
	for {
		timer := s.timerQueue.peek()
		if timer == nil {
			return
		}
		switch {
		case timer.callback == nil:
			s.timerQueue.pop()
		case !timer.startTime.After(now):
			s.timerQueue.pop()
			timer.sortIndex = timer.expirationTime
			s.taskQueue.push(timer)
			s.Logger.Verbo("Promoted delayed task", zap.Uint64("task", timer.id))
		default:
			return
		}
	}
}

// onWake is the WakeFunc for timer-queue promotion. It promotes whatever
// became eligible and then either requests a flush or re-arms for the next
// future task.
func (s *Scheduler) onWake(seq uint64, now time.Time) {
	s.lock.Lock()

	if seq != s.wakeSeq {
		// Disarmed or re-armed while this wake-up was waiting on the
		// lock.
		s.lock.Unlock()
		return
	}
	s.cancelWake = nil

	s.advanceTimers(now)

	var requestFlush bool
	if !s.flushScheduled && !s.flushing {
		if s.taskQueue.peek() != nil {
			s.flushScheduled = true
			requestFlush = true
		} else if s.timerQueue.peek() != nil {
			s.armWake(now)
		}
	}
	s.lock.Unlock()

	if requestFlush {
		s.Host.RequestFlush(s.flush)
	}
}

// armWake points the host's wake-up service at the earliest task in the
// timer queue, revoking any previously armed wake-up. The caller holds the
// lock and guarantees the timer queue is non-empty.
func (s *Scheduler) armWake(now time.Time) {
	if s.cancelWake != nil {
		s.cancelWake()
	}
	s.wakeSeq++
	seq := s.wakeSeq

	first := s.timerQueue.peek()
	delay := first.startTime.Sub(now)
	s.cancelWake = s.Host.RequestWake(delay, func(wakeNow time.Time) {
		s.onWake(seq, wakeNow)
	})
	s.Logger.Verbo("Armed wake-up", zap.Duration("delay", delay), zap.Uint64("task", first.id))
}

func (s *Scheduler) disarmWake() {
	if s.cancelWake == nil {
		return
	}
	s.cancelWake()
	s.cancelWake = nil
	s.wakeSeq++
}

// callbackError pairs a callback failure with the stack captured when the
// failure was a panic.
type callbackError struct {
	err   error
	stack []byte
}

// runCallback invokes cb with panic containment. A recovered panic is
// reported like a returned error, with the goroutine stack attached; a
// panic value that is itself an error stays unwrappable.
func runCallback(cb Callback) (res Result, cerr *callbackError) {
	defer func() {
		if r := recover(); r == nil {
			return
		} else if e, ok := r.(error); ok {
			cerr = &callbackError{err: fmt.Errorf("callback panicked: %w", e), stack: debug.Stack()}
		} else {
			cerr = &callbackError{err: fmt.Errorf("callback panicked: %v", r), stack: debug.Stack()}
		}
	}()

	res, err := cb()
	if err != nil {
		return Result{}, &callbackError{err: err}
	}
	return res, nil
}

// logSink is the ErrorSink used when the config does not name one.
type logSink struct {
	log Logger
}

func (l *logSink) OnTaskError(err *TaskError) {
	fields := []zap.Field{
		zap.Uint64("task", err.TaskID),
		zap.Stringer("priority", err.Priority),
		zap.Error(err.Err),
	}
	if len(err.Stack) > 0 {
		fields = append(fields, zap.ByteString("stack", err.Stack))
	}
	l.log.Error("Task failed", fields...)
}
