// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package framesched_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/uilab/framesched"
	"github.com/uilab/framesched/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// newManualScheduler wires a Scheduler to a ManualHost so tests pump time
// and slices by hand. Callbacks run synchronously on the test goroutine.
func newManualScheduler(t *testing.T) (*framesched.Scheduler, *framesched.ManualHost, time.Time) {
	start := time.Now()
	host := framesched.NewManualHost(start, testutil.MakeLogger(t))
	sched, err := framesched.New(framesched.Config{
		Logger: testutil.MakeLogger(t),
		Host:   host,
	})
	require.NoError(t, err)
	return sched, host, start
}

func noop() (framesched.Result, error) {
	return framesched.Done(), nil
}

type errorCollector struct {
	mu   sync.Mutex
	errs []*framesched.TaskError
}

func (c *errorCollector) OnTaskError(err *framesched.TaskError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *errorCollector) collected() []*framesched.TaskError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*framesched.TaskError(nil), c.errs...)
}

func TestNewValidation(t *testing.T) {
	logger := testutil.MakeLogger(t)
	host := framesched.NewManualHost(time.Now(), logger)

	_, err := framesched.New(framesched.Config{Host: host})
	require.ErrorContains(t, err, "nil logger")

	_, err = framesched.New(framesched.Config{Logger: logger})
	require.ErrorContains(t, err, "nil host")

	_, err = framesched.New(framesched.Config{Logger: logger, Host: host, Slice: -time.Millisecond})
	require.ErrorContains(t, err, "negative slice")

	_, err = framesched.New(framesched.Config{Logger: logger, Host: host, Slice: 2 * time.Millisecond})
	require.NoError(t, err)
}

func TestScheduleValidation(t *testing.T) {
	sched, _, _ := newManualScheduler(t)

	_, err := sched.Schedule(framesched.Priority(0), noop)
	require.ErrorIs(t, err, framesched.ErrInvalidPriority)

	_, err = sched.Schedule(framesched.Priority(42), noop)
	require.ErrorIs(t, err, framesched.ErrInvalidPriority)

	_, err = sched.ScheduleAfter(framesched.Normal, -time.Second, noop)
	require.ErrorIs(t, err, framesched.ErrInvalidDelay)

	_, err = sched.Schedule(framesched.Normal, nil)
	require.ErrorIs(t, err, framesched.ErrNilCallback)

	// Nothing rejected may enter the queues.
	require.Zero(t, sched.Pending())
	require.Zero(t, sched.Stats().Scheduled)
}

func TestPriorityOrdering(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	var order []string
	_, err := sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		order = append(order, "A")
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	_, err = sched.Schedule(framesched.UserBlocking, func() (framesched.Result, error) {
		order = append(order, "B")
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	require.True(t, host.FlushArmed())
	require.False(t, host.Flush(true))

	// B's shorter timeout means the smaller expiration, so it runs first
	// even though A was submitted first.
	require.Equal(t, []string{"B", "A"}, order)
}

func TestSubmissionOrderAmongEquals(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		_, err := sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
			order = append(order, i)
			return framesched.Done(), nil
		})
		require.NoError(t, err)
	}

	host.Flush(true)
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestIdleRunsOnlyWithBudget(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	var ran bool
	_, err := sched.Schedule(framesched.Idle, func() (framesched.Result, error) {
		ran = true
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	// Idle never expires, so slices without budget cannot run it.
	for i := 0; i < 4; i++ {
		require.True(t, host.Flush(false))
		require.False(t, ran)
	}

	require.False(t, host.Flush(true))
	require.True(t, ran)

	stats := sched.Stats()
	require.Equal(t, uint64(5), stats.Slices)
	require.Equal(t, uint64(4), stats.Yields)
}

func TestImmediateBeatsContinuation(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	var order []string
	second := func() (framesched.Result, error) {
		order = append(order, "C2")
		return framesched.Done(), nil
	}
	_, err := sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		order = append(order, "C1")
		_, err := sched.Schedule(framesched.Immediate, func() (framesched.Result, error) {
			order = append(order, "D")
			return framesched.Done(), nil
		})
		require.NoError(t, err)
		return framesched.Continue(second), nil
	})
	require.NoError(t, err)

	require.False(t, host.Flush(true))

	// D's expiration is in the past the moment it is scheduled, so it
	// preempts the continuation at the next pop.
	require.Equal(t, []string{"C1", "D", "C2"}, order)
	require.Zero(t, sched.Pending())
}

func TestCancelBeforePop(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	var ranE, ranF bool
	handleE, err := sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		ranE = true
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	_, err = sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		ranF = true
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	handleE.Cancel()
	// The cancelled task still occupies its heap slot until popped.
	require.Equal(t, 2, sched.Pending())

	require.False(t, host.Flush(true))

	require.False(t, ranE)
	require.True(t, ranF)
	require.Zero(t, sched.Pending())

	stats := sched.Stats()
	require.Equal(t, uint64(2), stats.Scheduled)
	require.Equal(t, uint64(1), stats.Completed)
	require.Equal(t, uint64(1), stats.Cancelled)
}

func TestCancelIdempotent(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	handle, err := sched.Schedule(framesched.Normal, noop)
	require.NoError(t, err)

	handle.Cancel()
	handle.Cancel()
	require.Equal(t, uint64(1), sched.Stats().Cancelled)

	done, err := sched.Schedule(framesched.Normal, noop)
	require.NoError(t, err)
	host.Flush(true)

	// Cancelling after completion, or after an earlier cancel, is a no-op.
	done.Cancel()
	handle.Cancel()
	require.Equal(t, uint64(1), sched.Stats().Cancelled)

	var nilHandle *framesched.TaskHandle
	nilHandle.Cancel()
	require.Zero(t, nilHandle.ID())
}

func TestCancelInsideOwnCallback(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	var order []string
	var handle *framesched.TaskHandle
	var err error

	handle, err = sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		order = append(order, "first")
		// The task is mid-execution, so this cancel is a no-op and does
		// not kill the continuation below.
		handle.Cancel()
		return framesched.Continue(func() (framesched.Result, error) {
			order = append(order, "second")
			return framesched.Done(), nil
		}), nil
	})
	require.NoError(t, err)

	require.False(t, host.Flush(true))
	require.Equal(t, []string{"first", "second"}, order)
	require.Zero(t, sched.Stats().Cancelled)
}

func TestCancelContinuationBetweenSlices(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	var firstRan, secondRan bool
	handle, err := sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		firstRan = true
		host.SetTimeRemaining(0)
		return framesched.Continue(func() (framesched.Result, error) {
			secondRan = true
			return framesched.Done(), nil
		}), nil
	})
	require.NoError(t, err)

	require.True(t, host.Flush(true))
	require.True(t, firstRan)
	require.False(t, secondRan)

	// Between slices the continuation is a plain queued callback, so a
	// cancel lands.
	handle.Cancel()
	host.ClearTimeRemaining()
	require.False(t, host.Flush(true))

	require.False(t, secondRan)
	require.Zero(t, sched.Pending())

	stats := sched.Stats()
	require.Equal(t, uint64(1), stats.Continuations)
	require.Equal(t, uint64(1), stats.Cancelled)
	require.Zero(t, stats.Completed)
}

func TestContinuationKeepsExpiration(t *testing.T) {
	sched, host, start := newManualScheduler(t)

	var order []string
	step2 := func() (framesched.Result, error) {
		order = append(order, "T1#2")
		return framesched.Done(), nil
	}
	_, err := sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		order = append(order, "T1#1")
		host.SetTimeRemaining(0)
		return framesched.Continue(step2), nil
	})
	require.NoError(t, err)

	require.True(t, host.Flush(true))

	// T2 arrives half a second later, so its expiration is half a second
	// larger. If the continuation were re-prioritized to the back of its
	// class it would run after T2; keeping the original expiration keeps
	// it in front.
	host.AdvanceTime(start.Add(500 * time.Millisecond))
	_, err = sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		order = append(order, "T2")
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	host.ClearTimeRemaining()
	require.False(t, host.Flush(true))

	require.Equal(t, []string{"T1#1", "T1#2", "T2"}, order)

	stats := sched.Stats()
	require.Equal(t, uint64(1), stats.Continuations)
	require.Equal(t, uint64(1), stats.Yields)
	require.Equal(t, uint64(2), stats.Slices)
}

func TestExpiredTaskRunsPastBudget(t *testing.T) {
	sched, host, start := newManualScheduler(t)

	var ran bool
	_, err := sched.Schedule(framesched.UserBlocking, func() (framesched.Result, error) {
		ran = true
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	// The slice has no room at all, but the task is past its expiration
	// by the time the flush runs, so it must execute anyway.
	host.SetTimeRemaining(0)
	host.AdvanceTime(start.Add(300 * time.Millisecond))

	require.False(t, host.Flush(true))
	require.True(t, ran)
	require.Equal(t, uint64(1), sched.Stats().Expired)
}

func TestBudgetRespectedWhenNotExpired(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	var ran bool
	_, err := sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		ran = true
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	host.SetTimeRemaining(0)
	require.True(t, host.Flush(true))
	require.False(t, ran)

	host.SetTimeRemaining(3 * time.Millisecond)
	require.False(t, host.Flush(true))
	require.True(t, ran)
}

func TestDelayCorrectness(t *testing.T) {
	sched, host, start := newManualScheduler(t)

	var ran bool
	_, err := sched.ScheduleAfter(framesched.Normal, time.Second, func() (framesched.Result, error) {
		ran = true
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	// Nothing is ready: no flush was requested, only a wake-up.
	require.False(t, host.FlushArmed())
	require.True(t, host.WakeArmed())
	require.Equal(t, 1, sched.Pending())

	// Flushing early runs nothing because the task is not promoted yet.
	require.False(t, host.Flush(true))
	require.False(t, ran)

	host.AdvanceTime(start.Add(999 * time.Millisecond))
	require.False(t, host.FlushArmed())
	require.False(t, ran)

	host.AdvanceTime(start.Add(time.Second))
	require.True(t, host.FlushArmed())
	require.False(t, ran)

	require.False(t, host.Flush(true))
	require.True(t, ran)
}

func TestWakeRearmsToEarlierTimer(t *testing.T) {
	sched, host, start := newManualScheduler(t)

	var order []string
	_, err := sched.ScheduleAfter(framesched.Normal, 2*time.Second, func() (framesched.Result, error) {
		order = append(order, "far")
		return framesched.Done(), nil
	})
	require.NoError(t, err)
	require.True(t, host.WakeArmed())

	// The nearer timer must steal the wake-up.
	_, err = sched.ScheduleAfter(framesched.Normal, time.Second, func() (framesched.Result, error) {
		order = append(order, "near")
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	host.AdvanceTime(start.Add(time.Second))
	require.True(t, host.FlushArmed())
	require.False(t, host.Flush(true))
	require.Equal(t, []string{"near"}, order)

	// The ready queue drained, so the loop re-armed for the far timer.
	require.True(t, host.WakeArmed())

	host.AdvanceTime(start.Add(2 * time.Second))
	require.False(t, host.Flush(true))
	require.Equal(t, []string{"near", "far"}, order)
}

func TestCallbackErrorContinuesSlice(t *testing.T) {
	start := time.Now()
	host := framesched.NewManualHost(start, testutil.MakeLogger(t))
	sink := &errorCollector{}
	sched, err := framesched.New(framesched.Config{
		Logger: testutil.MakeLogger(t),
		Host:   host,
		Errors: sink,
	})
	require.NoError(t, err)

	errBoom := errors.New("boom")
	failing, err := sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		return framesched.Done(), errBoom
	})
	require.NoError(t, err)

	var ran bool
	_, err = sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		ran = true
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	require.False(t, host.Flush(true))

	// The failure is reported and the very same slice keeps going.
	require.True(t, ran)
	errs := sink.collected()
	require.Len(t, errs, 1)
	require.Equal(t, failing.ID(), errs[0].TaskID)
	require.Equal(t, framesched.Normal, errs[0].Priority)
	require.ErrorIs(t, errs[0], errBoom)
	require.Nil(t, errs[0].Stack)

	stats := sched.Stats()
	require.Equal(t, uint64(1), stats.Errors)
	require.Equal(t, uint64(1), stats.Completed)
}

func TestCallbackPanicRecovered(t *testing.T) {
	start := time.Now()
	host := framesched.NewManualHost(start, testutil.MakeLogger(t))
	sink := &errorCollector{}
	sched, err := framesched.New(framesched.Config{
		Logger: testutil.MakeLogger(t),
		Host:   host,
		Errors: sink,
	})
	require.NoError(t, err)

	cause := errors.New("panic cause")
	_, err = sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		panic(cause)
	})
	require.NoError(t, err)

	_, err = sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		panic("plain string")
	})
	require.NoError(t, err)

	var ran bool
	_, err = sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		ran = true
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	require.False(t, host.Flush(true))
	require.True(t, ran)

	errs := sink.collected()
	require.Len(t, errs, 2)

	// A panic value that is an error stays reachable through the chain.
	require.ErrorIs(t, errs[0], cause)
	require.NotEmpty(t, errs[0].Stack)

	require.ErrorContains(t, errs[1], "plain string")
	require.NotEmpty(t, errs[1].Stack)

	require.Equal(t, uint64(2), sched.Stats().Errors)
}

func TestReentrantScheduleRunsSameSlice(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	var order []string
	_, err := sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		order = append(order, "outer")
		_, err := sched.Schedule(framesched.UserBlocking, func() (framesched.Result, error) {
			order = append(order, "inner")
			return framesched.Done(), nil
		})
		require.NoError(t, err)
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	require.False(t, host.Flush(true))
	require.Equal(t, []string{"outer", "inner"}, order)
}

func TestShouldYieldInsideCallback(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	host.SetTimeRemaining(10 * time.Millisecond)

	checked := false
	_, err := sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		require.False(t, sched.ShouldYield())
		host.SetTimeRemaining(0)
		require.True(t, sched.ShouldYield())
		checked = true
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	host.Flush(true)
	require.True(t, checked)
}

func TestShouldYieldFalseWhenExpired(t *testing.T) {
	sched, host, start := newManualScheduler(t)

	checked := false
	_, err := sched.Schedule(framesched.UserBlocking, func() (framesched.Result, error) {
		// Overdue work is supposed to finish, so the scheduler does not
		// ask it to yield even with the budget spent.
		require.False(t, sched.ShouldYield())
		checked = true
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	host.SetTimeRemaining(0)
	host.AdvanceTime(start.Add(300 * time.Millisecond))
	host.Flush(true)
	require.True(t, checked)
}

func TestCurrentPriority(t *testing.T) {
	sched, host, _ := newManualScheduler(t)

	require.Equal(t, framesched.Normal, sched.CurrentPriority())

	var insideLow, insideImmediate framesched.Priority
	_, err := sched.Schedule(framesched.Low, func() (framesched.Result, error) {
		insideLow = sched.CurrentPriority()
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	_, err = sched.Schedule(framesched.Immediate, func() (framesched.Result, error) {
		insideImmediate = sched.CurrentPriority()
		return framesched.Done(), nil
	})
	require.NoError(t, err)

	host.Flush(true)

	require.Equal(t, framesched.Low, insideLow)
	require.Equal(t, framesched.Immediate, insideImmediate)
	require.Equal(t, framesched.Normal, sched.CurrentPriority())
}

func TestHandleIDsMonotonic(t *testing.T) {
	sched, _, _ := newManualScheduler(t)

	h1, err := sched.Schedule(framesched.Normal, noop)
	require.NoError(t, err)
	h2, err := sched.ScheduleAfter(framesched.Low, time.Second, noop)
	require.NoError(t, err)
	h3, err := sched.Schedule(framesched.Idle, noop)
	require.NoError(t, err)

	require.NotZero(t, h1.ID())
	require.True(t, h1.ID() < h2.ID())
	require.True(t, h2.ID() < h3.ID())
}

func TestStatsReconcile(t *testing.T) {
	start := time.Now()
	host := framesched.NewManualHost(start, testutil.MakeLogger(t))
	sink := &errorCollector{}
	sched, err := framesched.New(framesched.Config{
		Logger: testutil.MakeLogger(t),
		Host:   host,
		Errors: sink,
	})
	require.NoError(t, err)

	_, err = sched.Schedule(framesched.Normal, noop)
	require.NoError(t, err)

	chunks := 0
	var worker framesched.Callback
	worker = func() (framesched.Result, error) {
		chunks++
		if chunks < 3 {
			return framesched.Continue(worker), nil
		}
		return framesched.Done(), nil
	}
	_, err = sched.Schedule(framesched.Normal, worker)
	require.NoError(t, err)

	cancelled, err := sched.Schedule(framesched.Low, noop)
	require.NoError(t, err)
	cancelled.Cancel()

	_, err = sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		return framesched.Done(), errors.New("failed")
	})
	require.NoError(t, err)

	_, err = sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		panic("panicked")
	})
	require.NoError(t, err)

	_, err = sched.Schedule(framesched.Idle, noop)
	require.NoError(t, err)

	for host.Flush(true) {
	}
	require.Zero(t, sched.Pending())

	stats := sched.Stats()
	require.Equal(t, uint64(6), stats.Scheduled)
	require.Equal(t, uint64(3), stats.Completed)
	require.Equal(t, uint64(1), stats.Cancelled)
	require.Equal(t, uint64(2), stats.Errors)
	require.Equal(t, uint64(2), stats.Continuations)
	require.Equal(t, stats.Scheduled, stats.Completed+stats.Cancelled+stats.Errors)
	require.Len(t, sink.collected(), 2)
}

// captureHost stores the flush function so a test can invoke it
// re-entrantly, which a correct host never does.
type captureHost struct {
	now time.Time
	fn  framesched.FlushFunc
}

func (c *captureHost) Now() time.Time { return c.now }

func (c *captureHost) TimeRemaining(time.Time) (time.Duration, bool) { return 0, false }

func (c *captureHost) RequestFlush(fn framesched.FlushFunc) { c.fn = fn }

func (c *captureHost) RequestWake(time.Duration, framesched.WakeFunc) context.CancelFunc {
	return func() {}
}

func TestReentrantFlushRefused(t *testing.T) {
	logger := testutil.MakeLogger(t)

	var refusals int
	logger.Intercept(func(entry zapcore.Entry) error {
		if entry.Level == zapcore.ErrorLevel {
			refusals++
		}
		return nil
	})

	host := &captureHost{now: time.Now()}
	sched, err := framesched.New(framesched.Config{
		Logger: logger,
		Host:   host,
	})
	require.NoError(t, err)

	var ran bool
	_, err = sched.Schedule(framesched.Normal, func() (framesched.Result, error) {
		ran = true
		// Drive the flush from inside a flush; the scheduler must refuse
		// rather than interleave two work loops.
		require.False(t, host.fn(true, host.now))
		return framesched.Done(), nil
	})
	require.NoError(t, err)
	require.NotNil(t, host.fn)

	require.False(t, host.fn(true, host.now))
	require.True(t, ran)
	require.Equal(t, 1, refusals)
}
