// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import (
	"fmt"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"

	"golang.org/x/sys/unix"
)

// loopDispatcher is the structural interface for scheduler operations.
// DispatchLoop either produces an immediate resume value (suspended false)
// or parks the task on the loop's wait structures (suspended true).
// Dispatch runs on the loop goroutine between task steps, so it observes
// and mutates channels, timers and the multiplexer without locking.
type loopDispatcher interface {
	DispatchLoop(l *Loop, t *Task) (v kont.Resumed, suspended bool)
}

// Yield is the effect operation for relinquishing the rest of the turn.
// Perform(Yield{}) requeues the task at the back of the ready queue.
type Yield struct {
	kont.Phantom[struct{}]
}

// DispatchLoop handles Yield: requeue at the back, resume next turn.
// Never fails.
func (Yield) DispatchLoop(l *Loop, t *Task) (kont.Resumed, bool) {
	t.resume = struct{}{}
	t.state = StateReady
	l.ready.Add(t)
	return nil, true
}

// Sleep is the effect operation for suspending until a deadline.
// Perform(Sleep{D: d}) resumes after at least d has elapsed.
type Sleep struct {
	kont.Phantom[struct{}]
	D time.Duration
}

// DispatchLoop handles Sleep: arm a timer and park.
// A non-positive duration degenerates to a yield.
func (op Sleep) DispatchLoop(l *Loop, t *Task) (kont.Resumed, bool) {
	if op.D <= 0 {
		return Yield{}.DispatchLoop(l, t)
	}
	l.armTimer(op.D, t)
	t.state = StateSuspendedTimer
	return nil, true
}

// Readable is the effect operation for suspending until a descriptor is
// readable. Resumes Right on readiness, Left(ErrTimeout) if Timeout > 0
// elapses first, Left(ErrUsage) on an invalid descriptor or a conflicting
// waiter on the same (descriptor, direction) slot.
type Readable struct {
	kont.Phantom[kont.Either[error, struct{}]]
	FD      int
	Timeout time.Duration
}

// DispatchLoop handles Readable: register read interest and park.
func (op Readable) DispatchLoop(l *Loop, t *Task) (kont.Resumed, bool) {
	return dispatchAwait(l, t, op.FD, dirRead, op.Timeout, StateSuspendedReadable)
}

// Writable is the effect operation for suspending until a descriptor is
// writable. Failure contract matches Readable.
type Writable struct {
	kont.Phantom[kont.Either[error, struct{}]]
	FD      int
	Timeout time.Duration
}

// DispatchLoop handles Writable: register write interest and park.
func (op Writable) DispatchLoop(l *Loop, t *Task) (kont.Resumed, bool) {
	return dispatchAwait(l, t, op.FD, dirWrite, op.Timeout, StateSuspendedWritable)
}

// dispatchAwait is the shared Readable/Writable path: register interest
// with the multiplexer, optionally race a timer, park.
func dispatchAwait(l *Loop, t *Task, fd int, dir direction, timeout time.Duration, parked State) (kont.Resumed, bool) {
	if fd < 0 {
		return kont.Left[error, struct{}](fmt.Errorf("%w: negative descriptor %d", ErrUsage, fd)), false
	}
	k := pollKey{fd: fd, dir: dir}
	if err := l.mux.register(k, waiter{t: t, token: t.token, sel: noSelect}); err != nil {
		return kont.Left[error, struct{}](err), false
	}
	t.fdKeys = append(t.fdKeys, k)
	if timeout > 0 {
		l.armTimer(timeout, t)
	}
	t.state = parked
	return nil, true
}

// Recv is the effect operation for reading one message from a channel.
// Dequeues immediately while the backlog is non-empty (even after close),
// parks FIFO while the channel is open and empty, and resumes
// Left(ErrClosedChannel) once the channel is closed and drained.
type Recv struct {
	kont.Phantom[kont.Either[error, any]]
	Ch *Channel
}

// DispatchLoop handles Recv on the channel.
func (op Recv) DispatchLoop(l *Loop, t *Task) (kont.Resumed, bool) {
	c := op.Ch
	if c == nil {
		return kont.Left[error, any](ErrInvalidArgument), false
	}
	v, err := c.TryRecv()
	if err == nil {
		return kont.Right[error, any](v), false
	}
	if !iox.IsWouldBlock(err) {
		return kont.Left[error, any](err), false
	}
	c.readers.Add(waitEntry{t: t, token: t.token, kind: waitRecv})
	t.state = StateSuspendedChannel
	return nil, true
}

// Send is the effect operation for writing one message to a channel.
// Enqueues and wakes one parked reader when capacity allows, parks FIFO
// while a bounded channel is full, and resumes Left(ErrClosedChannel) on
// a closed channel (including close while parked).
type Send struct {
	kont.Phantom[kont.Either[error, struct{}]]
	Ch    *Channel
	Value any
}

// DispatchLoop handles Send on the channel.
func (op Send) DispatchLoop(l *Loop, t *Task) (kont.Resumed, bool) {
	c := op.Ch
	if c == nil {
		return kont.Left[error, struct{}](ErrInvalidArgument), false
	}
	err := c.TrySend(op.Value)
	if err == nil {
		return kont.Right[error, struct{}](struct{}{}), false
	}
	if !iox.IsWouldBlock(err) {
		return kont.Left[error, struct{}](err), false
	}
	c.writers.Add(waitEntry{t: t, token: t.token, kind: waitSend, value: op.Value})
	t.state = StateSuspendedChannel
	return nil, true
}

// Select is the effect operation for waiting on the first ready member of
// a set of selectables. Probes WillBlock left to right and resumes with the
// index of the first member that would not block (deterministic tie-break).
// If every member would block, the task is enlisted with all of them and
// resumes with the index of the first to become ready; the remaining
// enlistments are torn down, leaving no leaked registrations. Probing never
// consumes a message.
type Select struct {
	kont.Phantom[kont.Either[error, int]]
	Set []Selectable
}

// DispatchLoop handles Select over the set.
func (op Select) DispatchLoop(l *Loop, t *Task) (kont.Resumed, bool) {
	if len(op.Set) == 0 {
		return kont.Left[error, int](fmt.Errorf("%w: select over empty set", ErrUsage)), false
	}
	for i, s := range op.Set {
		if s == nil {
			return kont.Left[error, int](ErrInvalidArgument), false
		}
		if !s.WillBlock() {
			return kont.Right[error, int](i), false
		}
	}
	for i, s := range op.Set {
		if err := s.enlist(t, t.token, i); err != nil {
			// Undo partial enlistment: descriptor interests are removed
			// eagerly, waiter-queue entries go stale via the token bump.
			l.teardown(t)
			return kont.Left[error, int](err), false
		}
	}
	t.state = StateSuspendedSelect
	return nil, true
}

// Join is the effect operation for awaiting another task's completion.
// Resumes Right(result) or Left(cause) immediately if the target is done,
// otherwise parks FIFO until it finishes, fails or is cancelled.
// Joining marks the target's failure as observed.
type Join struct {
	kont.Phantom[kont.Either[error, any]]
	T *Task
}

// DispatchLoop handles Join on the target task.
func (op Join) DispatchLoop(l *Loop, t *Task) (kont.Resumed, bool) {
	target := op.T
	if target == nil {
		return kont.Left[error, any](ErrInvalidArgument), false
	}
	if target == t {
		return kont.Left[error, any](fmt.Errorf("%w: task %d joining itself", ErrUsage, t.serial)), false
	}
	switch target.state {
	case StateFinished:
		target.observed = true
		return kont.Right[error, any](target.result), false
	case StateFailed:
		target.observed = true
		return kont.Left[error, any](target.cause), false
	}
	target.joiners = append(target.joiners, joinWaiter{t: t, token: t.token})
	t.state = StateSuspendedJoin
	return nil, true
}

// Read is the effect operation for reading up to Max bytes from a stream.
// Returns the bytes read (possibly fewer than Max); an empty slice means
// end of stream. Parks on EAGAIN until the descriptor is readable, then
// retries. A negative Max fails with ErrInvalidArgument; a closed or
// detached stream fails with ErrClosedResource; other descriptor faults
// propagate unchanged.
type Read struct {
	kont.Phantom[kont.Either[error, []byte]]
	S   *Stream
	Max int
}

// DispatchLoop handles Read on the stream. Re-dispatched by the loop when
// the parked descriptor becomes readable.
func (op Read) DispatchLoop(l *Loop, t *Task) (kont.Resumed, bool) {
	s := op.S
	if s == nil {
		return kont.Left[error, []byte](ErrInvalidArgument), false
	}
	if op.Max < 0 {
		return kont.Left[error, []byte](fmt.Errorf("%w: negative read length %d", ErrInvalidArgument, op.Max)), false
	}
	if !s.open {
		return kont.Left[error, []byte](ErrClosedResource), false
	}
	if !s.readable {
		return kont.Left[error, []byte](fmt.Errorf("%w: stream not opened for reading", ErrUsage)), false
	}
	if op.Max == 0 {
		return kont.Right[error, []byte](nil), false
	}
	buf := make([]byte, op.Max)
	n, err := readRetryIntr(s.fd, buf)
	switch {
	case err == unix.EAGAIN:
		k := pollKey{fd: s.fd, dir: dirRead}
		if rerr := l.mux.register(k, waiter{t: t, token: t.token, sel: noSelect}); rerr != nil {
			return kont.Left[error, []byte](rerr), false
		}
		t.fdKeys = append(t.fdKeys, k)
		t.state = StateSuspendedReadable
		return nil, true
	case err != nil:
		return kont.Left[error, []byte](err), false
	case n == 0:
		s.eof = true
		return kont.Right[error, []byte]([]byte{}), false
	}
	return kont.Right[error, []byte](buf[:n:n]), false
}

// Write is the effect operation for writing bytes to a stream.
// Returns the number of bytes written, which may be short; callers loop
// for full delivery. Parks on EAGAIN until the descriptor is writable.
// Failure contract matches Read.
type Write struct {
	kont.Phantom[kont.Either[error, int]]
	S *Stream
	P []byte
}

// DispatchLoop handles Write on the stream. Re-dispatched by the loop when
// the parked descriptor becomes writable.
func (op Write) DispatchLoop(l *Loop, t *Task) (kont.Resumed, bool) {
	s := op.S
	if s == nil {
		return kont.Left[error, int](ErrInvalidArgument), false
	}
	if !s.open {
		return kont.Left[error, int](ErrClosedResource), false
	}
	if !s.writable {
		return kont.Left[error, int](fmt.Errorf("%w: stream not opened for writing", ErrUsage)), false
	}
	if len(op.P) == 0 {
		return kont.Right[error, int](0), false
	}
	n, err := writeRetryIntr(s.fd, op.P)
	switch {
	case err == unix.EAGAIN:
		k := pollKey{fd: s.fd, dir: dirWrite}
		if rerr := l.mux.register(k, waiter{t: t, token: t.token, sel: noSelect}); rerr != nil {
			return kont.Left[error, int](rerr), false
		}
		t.fdKeys = append(t.fdKeys, k)
		t.state = StateSuspendedWritable
		return nil, true
	case err != nil:
		return kont.Left[error, int](err), false
	}
	return kont.Right[error, int](n), false
}

// Offload is the effect operation for running a truly blocking call on a
// worker thread. The calling task parks until the result crosses back into
// the loop through the per-worker completion queue; the worker wakes the
// loop like any other readiness event.
type Offload struct {
	kont.Phantom[kont.Either[error, any]]
	Fn func() (any, error)
}

// DispatchLoop handles Offload: hand the call to the worker pool and park.
func (op Offload) DispatchLoop(l *Loop, t *Task) (kont.Resumed, bool) {
	if op.Fn == nil {
		return kont.Left[error, any](ErrInvalidArgument), false
	}
	l.offload.start(l)
	l.offload.submit(l, offloadJob{t: t, token: t.token, fn: op.Fn})
	t.state = StateSuspendedOffload
	return nil, true
}
