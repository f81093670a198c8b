// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import (
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// State is the lifecycle state of a Task.
type State int

const (
	// StateReady means the task is queued to run on the next loop turn.
	StateReady State = iota
	// StateRunning means the task is executing on the loop right now.
	StateRunning
	// StateSuspendedReadable means the task awaits descriptor read readiness.
	StateSuspendedReadable
	// StateSuspendedWritable means the task awaits descriptor write readiness.
	StateSuspendedWritable
	// StateSuspendedTimer means the task sleeps until a deadline.
	StateSuspendedTimer
	// StateSuspendedChannel means the task is parked in a channel waiter queue.
	StateSuspendedChannel
	// StateSuspendedSelect means the task is enlisted with several selectables.
	StateSuspendedSelect
	// StateSuspendedJoin means the task awaits another task's completion.
	StateSuspendedJoin
	// StateSuspendedOffload means the task awaits an offloaded blocking call.
	StateSuspendedOffload
	// StateFinished means the task body completed with a result.
	StateFinished
	// StateFailed means the task body panicked or the task was cancelled.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspendedReadable:
		return "suspended-readable"
	case StateSuspendedWritable:
		return "suspended-writable"
	case StateSuspendedTimer:
		return "suspended-timer"
	case StateSuspendedChannel:
		return "suspended-channel"
	case StateSuspendedSelect:
		return "suspended-select"
	case StateSuspendedJoin:
		return "suspended-join"
	case StateSuspendedOffload:
		return "suspended-offload"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Task is one cooperative coroutine: a continuation-passing computation
// driven run-to-suspension by its Loop. Between suspension points a task
// runs without interruption; all fields are owned by the loop goroutine.
type Task struct {
	serial Serial
	loop   *Loop
	state  State

	// body holds the computation before its first step; susp holds the
	// one-shot continuation between suspension points afterwards.
	body   kont.Eff[any]
	susp   *kont.Suspension[any]
	resume kont.Resumed

	result   any
	cause    error
	observed bool
	joiners  []joinWaiter

	// redo marks a task whose parked operation must be dispatched again
	// rather than resumed: a stream read or write woken by readiness
	// retries the descriptor call before any value reaches the
	// continuation.
	redo bool

	// token invalidates stale waiter-queue and timer entries: every
	// teardown bumps it, so entries recorded under an older token are
	// skipped lazily without disturbing FIFO order of the rest.
	token uint32

	// fdKeys are the multiplexer registrations held while parked;
	// torn down eagerly on wake, timeout and cancellation.
	fdKeys []pollKey
}

// joinWaiter parks one task awaiting another's completion. The token
// invalidates the entry if the waiter is woken by other means first.
type joinWaiter struct {
	t     *Task
	token uint32
}

// Serial returns the task's monotonically increasing identifier.
func (t *Task) Serial() Serial { return t.serial }

// State returns the task's current lifecycle state.
func (t *Task) State() State { return t.state }

// Done reports whether the task has finished or failed.
func (t *Task) Done() bool {
	return t.state == StateFinished || t.state == StateFailed
}

// Result returns the task's result or failure cause once it is done.
// A live task reports iox.ErrWouldBlock; suspend on Join to wait instead.
func (t *Task) Result() (any, error) {
	switch t.state {
	case StateFinished:
		return t.result, nil
	case StateFailed:
		return nil, t.cause
	}
	return nil, iox.ErrWouldBlock
}
