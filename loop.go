// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import (
	"fmt"
	"sync"
	"time"

	"code.hybscloud.com/kont"

	"github.com/eapache/queue"
)

// Loop is a single-threaded cooperative scheduler. Tasks run one at a
// time on the goroutine that calls Run; a task keeps the loop until it
// performs a suspending operation, so plain data shared between tasks on
// the same loop needs no locking.
//
// The loop's only thread-safe entry points are Post and the internal
// multiplexer wakeup; everything else must be called on the loop
// goroutine.
type Loop struct {
	mux      multiplexer
	ready    *queue.Queue
	tasks    map[*Task]struct{}
	timers   timerHeap
	timerSeq uint64
	offload  offloadPool
	failed   []*Task

	postMu      sync.Mutex
	posted      []func()
	wakePending bool
	closed      bool

	running bool
}

// New creates a loop with its readiness multiplexer ready to poll.
func New() (*Loop, error) {
	mux, err := newMultiplexer()
	if err != nil {
		return nil, err
	}
	return &Loop{
		mux:   mux,
		ready: queue.New(),
		tasks: make(map[*Task]struct{}),
	}, nil
}

// Spawn schedules a computation as a new task at the back of the ready
// queue and returns its handle immediately; the body does not run until
// the loop reaches it. Spawning on a closed loop yields a task already
// failed with ErrClosedLoop.
func (l *Loop) Spawn(body kont.Eff[any]) *Task {
	t := &Task{serial: nextSerial(), loop: l}
	if l.isClosed() {
		t.state = StateFailed
		t.cause = ErrClosedLoop
		t.observed = true
		return t
	}
	t.body = body
	t.state = StateReady
	l.tasks[t] = struct{}{}
	l.ready.Add(t)
	return t
}

// Post schedules fn to run on the loop goroutine between task steps.
// Safe to call from any goroutine, including offload workers; this is
// the only sanctioned way to reach loop state from outside the loop.
// Fails with ErrClosedLoop once the loop is closed.
//
// A task waiting only for a future Post looks stuck to the loop and is
// woken with ErrDeadlock; callers intending to post later keep the loop
// alive with a timer or an offloaded call.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return ErrInvalidArgument
	}
	l.postMu.Lock()
	if l.closed {
		l.postMu.Unlock()
		return ErrClosedLoop
	}
	l.posted = append(l.posted, fn)
	wake := !l.wakePending
	l.wakePending = true
	l.postMu.Unlock()
	if wake {
		l.mux.wakeup()
	}
	return nil
}

// Run drives the loop until every task has finished, failed or been
// cancelled. Each turn runs the ready batch, settles offload completions
// and timers, then blocks in the multiplexer until something can make
// progress again. Returns the first failure no join observed, or
// ErrDeadlock when the remaining tasks all wait on each other.
func (l *Loop) Run() error {
	if l.isClosed() {
		return ErrClosedLoop
	}
	if l.running {
		return fmt.Errorf("%w: loop is already running", ErrUsage)
	}
	l.running = true
	defer func() { l.running = false }()

	for len(l.tasks) > 0 {
		l.drainPosted()

		// Bound the batch to the tasks ready at the start of the turn:
		// a task that yields goes to the back and runs next turn, so
		// timers and descriptor events are serviced between rounds of
		// mutually yielding tasks.
		n := l.ready.Length()
		for i := 0; i < n; i++ {
			t := l.ready.Remove().(*Task)
			if t.Done() {
				continue
			}
			l.runTask(t)
		}

		if l.offload.started {
			l.offload.drain(l)
		}
		l.fireTimers()
		if len(l.tasks) == 0 {
			break
		}

		timeout := time.Duration(0)
		if l.ready.Length() == 0 && !l.hasPosted() {
			d, hasTimer := l.nextTimerDelay()
			switch {
			case hasTimer:
				timeout = d
			case l.mux.waiters() > 0 || l.offload.pending(l):
				timeout = -1
			default:
				if l.breakDeadlock() == 0 {
					return fmt.Errorf("%w: no runnable tasks", ErrDeadlock)
				}
				continue
			}
		}
		events, err := l.mux.wait(timeout)
		if err != nil {
			return err
		}
		for _, ev := range events {
			l.onIOEvent(ev)
		}
	}
	return l.firstUnobserved()
}

// Close shuts the loop down: posted work is refused, offload workers are
// told to exit and the multiplexer's descriptors are released. Idempotent.
// Call after Run returns.
func (l *Loop) Close() error {
	l.postMu.Lock()
	if l.closed {
		l.postMu.Unlock()
		return nil
	}
	l.closed = true
	l.postMu.Unlock()
	l.offload.shutdown()
	return l.mux.close()
}

// Cancel terminates a suspended or ready task: its continuation is
// discarded, pending registrations are torn down and joiners resume with
// Left(ErrCancelled). Reports whether the cancellation took effect; a
// done task or the currently running task is not cancellable.
//
// Cancel mutates loop-owned state and must be called on the loop
// goroutine; external threads cancel through Post.
func (t *Task) Cancel() bool {
	if t.Done() || t.state == StateRunning || t.loop == nil {
		return false
	}
	t.loop.fail(t, ErrCancelled)
	t.observed = true
	return true
}

// runTask runs one task from its resume point until it parks again or
// completes. A panic out of the task body fails the task, not the loop.
func (l *Loop) runTask(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			l.fail(t, fmt.Errorf("coro: task %d panicked: %v", t.serial, r))
		}
	}()
	t.state = StateRunning
	var v any
	var susp *kont.Suspension[any]
	switch {
	case t.redo:
		// Readiness woke a parked descriptor operation: dispatch it
		// again so the read or write retries before anything reaches
		// the continuation.
		t.redo = false
		d := t.susp.Op().(loopDispatcher)
		rv, suspended := d.DispatchLoop(l, t)
		if suspended {
			return
		}
		s := t.susp
		t.susp = nil
		v, susp = s.Resume(rv)
	case t.susp != nil:
		s := t.susp
		t.susp = nil
		r := t.resume
		t.resume = nil
		v, susp = s.Resume(r)
	default:
		body := t.body
		t.body = nil
		v, susp = kont.Step[any](body)
	}
	l.stepTask(t, v, susp)
}

// stepTask is the inner dispatch loop: operations that resolve
// immediately resume in place, so a task only truly parks when an
// operation must wait.
func (l *Loop) stepTask(t *Task, v any, susp *kont.Suspension[any]) {
	for {
		if susp == nil {
			l.finish(t, v)
			return
		}
		t.susp = susp
		d, ok := susp.Op().(loopDispatcher)
		if !ok {
			l.fail(t, fmt.Errorf("%w: unhandled effect %T", ErrUsage, susp.Op()))
			return
		}
		rv, suspended := d.DispatchLoop(l, t)
		if suspended {
			return
		}
		s := t.susp
		t.susp = nil
		v, susp = s.Resume(rv)
	}
}

// wake tears down a parked task's registrations and requeues it with the
// value its continuation resumes with.
func (l *Loop) wake(t *Task, v kont.Resumed) {
	l.teardown(t)
	t.resume = v
	t.state = StateReady
	l.ready.Add(t)
}

// teardown invalidates everything a parked task is waiting on: the token
// bump lazily retires waiter-queue and timer entries, descriptor
// interests are removed eagerly so the (fd, direction) slots free up
// before the task even runs again.
func (l *Loop) teardown(t *Task) {
	t.token++
	for _, k := range t.fdKeys {
		l.mux.unregister(k)
	}
	t.fdKeys = t.fdKeys[:0]
}

// onIOEvent resolves one readiness delivery. Stale events raced with a
// teardown in the same batch are dropped by the token check.
func (l *Loop) onIOEvent(ev readyEvent) {
	t := ev.w.t
	if ev.w.token != t.token {
		return
	}
	if ev.w.sel != noSelect {
		l.wake(t, kont.Right[error, int](ev.w.sel))
		return
	}
	switch t.susp.Op().(type) {
	case Readable:
		l.wake(t, kont.Right[error, struct{}](struct{}{}))
	case Writable:
		l.wake(t, kont.Right[error, struct{}](struct{}{}))
	case Read:
		l.requeueRedo(t)
	case Write:
		l.requeueRedo(t)
	}
}

// requeueRedo schedules a parked descriptor operation for re-dispatch.
func (l *Loop) requeueRedo(t *Task) {
	l.teardown(t)
	t.redo = true
	t.state = StateReady
	l.ready.Add(t)
}

// dropDescriptor requeues every task parked on fd so its operation
// re-dispatches and observes the descriptor's new state. Used when a
// stream closes or detaches its descriptor out from under a waiter.
func (l *Loop) dropDescriptor(fd int) {
	for _, w := range l.mux.dropFD(fd) {
		if w.token != w.t.token {
			continue
		}
		l.requeueRedo(w.t)
	}
}

// finish settles a completed task.
func (l *Loop) finish(t *Task, v any) {
	t.state = StateFinished
	t.result = v
	l.settle(t)
}

// fail settles a failed or cancelled task. The parked continuation, if
// any, is discarded; it can never be resumed.
func (l *Loop) fail(t *Task, err error) {
	l.teardown(t)
	if t.susp != nil {
		t.susp.Discard()
		t.susp = nil
	}
	t.resume = nil
	t.body = nil
	t.redo = false
	t.state = StateFailed
	t.cause = err
	l.failed = append(l.failed, t)
	l.settle(t)
}

// settle removes a done task from the live set and wakes its joiners
// with the outcome. Waking a joiner marks the outcome observed.
func (l *Loop) settle(t *Task) {
	delete(l.tasks, t)
	for _, j := range t.joiners {
		if j.token != j.t.token {
			continue
		}
		t.observed = true
		if t.state == StateFinished {
			l.wake(j.t, rightAny(t.result))
		} else {
			l.wake(j.t, leftAny(t.cause))
		}
	}
	t.joiners = nil
}

// breakDeadlock wakes every task stuck in a wait no external event can
// satisfy, resuming each with Left(ErrDeadlock). Only channel, select and
// join waits qualify; descriptor, timer and offload waits all have an
// event source still pending. Returns the number of tasks woken.
func (l *Loop) breakDeadlock() int {
	stuck := make([]*Task, 0, len(l.tasks))
	for t := range l.tasks {
		switch t.state {
		case StateSuspendedChannel, StateSuspendedSelect, StateSuspendedJoin:
			stuck = append(stuck, t)
		}
	}
	for _, t := range stuck {
		switch t.susp.Op().(type) {
		case Recv:
			l.wake(t, kont.Left[error, any](ErrDeadlock))
		case Send:
			l.wake(t, kont.Left[error, struct{}](ErrDeadlock))
		case Select:
			l.wake(t, kont.Left[error, int](ErrDeadlock))
		case Join:
			l.wake(t, leftAny(ErrDeadlock))
		}
	}
	return len(stuck)
}

// firstUnobserved returns the first failure no join ever saw, in task
// completion order, wrapping the cause for errors.Is matching.
func (l *Loop) firstUnobserved() error {
	for _, t := range l.failed {
		if !t.observed {
			return fmt.Errorf("coro: task %d failed unobserved: %w", t.serial, t.cause)
		}
	}
	return nil
}

// drainPosted runs the functions queued by Post since the last turn.
func (l *Loop) drainPosted() {
	l.postMu.Lock()
	fns := l.posted
	l.posted = nil
	l.wakePending = false
	l.postMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (l *Loop) hasPosted() bool {
	l.postMu.Lock()
	n := len(l.posted)
	l.postMu.Unlock()
	return n > 0
}

func (l *Loop) isClosed() bool {
	l.postMu.Lock()
	c := l.closed
	l.postMu.Unlock()
	return c
}

// leftAny and rightAny build the loosely typed outcome values used where
// result types erase to any (join results, offloaded calls).
func leftAny(err error) kont.Either[error, any] { return kont.Left[error, any](err) }

func rightAny(v any) kont.Either[error, any] { return kont.Right[error, any](v) }
