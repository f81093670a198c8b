// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import "errors"

// Error taxonomy. Usage errors are programming-contract violations and are
// never retried; the closed/timeout/cancelled family is an expected terminal
// condition that callers handle like any synchronous error return.
// Underlying OS faults propagate unchanged.
var (
	// ErrUsage reports a programming-contract violation: a duplicate
	// waiter on a (descriptor, direction) slot, an invalid descriptor,
	// a join on self, a select over an empty set.
	ErrUsage = errors.New("coro: usage error")

	// ErrInvalidArgument reports a malformed argument such as a negative
	// read length or a nil operation target.
	ErrInvalidArgument = errors.New("coro: invalid argument")

	// ErrClosedChannel reports a write to a closed channel, or a read
	// from a closed channel whose backlog has drained.
	ErrClosedChannel = errors.New("coro: channel closed")

	// ErrClosedResource reports an operation on a closed or detached stream.
	ErrClosedResource = errors.New("coro: resource closed")

	// ErrTimeout reports that a readiness wait elapsed before the
	// descriptor became ready.
	ErrTimeout = errors.New("coro: timeout")

	// ErrCancelled reports that a task was cancelled while suspended.
	ErrCancelled = errors.New("coro: cancelled")

	// ErrDeadlock is delivered to every suspended task when no source of
	// progress remains: nothing ready, no timers, no descriptor waiters,
	// no offloaded work.
	ErrDeadlock = errors.New("coro: deadlock: all tasks suspended")

	// ErrClosedLoop reports a submission to a loop that has shut down.
	ErrClosedLoop = errors.New("coro: loop closed")

	// ErrNotPollable reports descriptor registration on a platform
	// without a readiness multiplexer.
	ErrNotPollable = errors.New("coro: descriptor polling not supported")
)

// IsClosed reports whether err is a closed-endpoint condition
// (channel or resource).
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosedChannel) || errors.Is(err, ErrClosedResource)
}

// IsTimeout reports whether err is an elapsed readiness wait.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCancelled reports whether err is a caller-initiated cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
