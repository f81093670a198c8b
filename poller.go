// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import "time"

// direction tags a readiness interest as read- or write-side.
type direction int

const (
	dirRead direction = iota
	dirWrite
)

// pollKey identifies one registration slot. The multiplexer admits at
// most one waiting task per slot; a second registration on an occupied
// slot fails with ErrUsage rather than overwriting the first.
type pollKey struct {
	fd  int
	dir direction
}

// waiter is the task parked on a registration slot. token guards against
// events raced with a teardown in the same poll batch; sel carries the
// select-member index (noSelect for plain waits).
type waiter struct {
	t     *Task
	token uint32
	sel   int
}

// readyEvent is one (descriptor, direction, task) readiness delivery.
type readyEvent struct {
	key pollKey
	w   waiter
}

// multiplexer translates many readiness waits into one blocking OS call.
// It is owned by a single Loop and mutated only on the loop goroutine;
// wakeup alone is safe to call from other threads.
type multiplexer interface {
	// register adds a waiter on (fd, dir). Fails with ErrUsage when the
	// slot already has a waiter or the descriptor is invalid.
	register(k pollKey, w waiter) error

	// unregister removes a registration. No-op if absent.
	unregister(k pollKey)

	// dropFD removes every registration on fd and returns the displaced
	// waiters, for when the descriptor is closed out from under them.
	dropFD(fd int) []waiter

	// wait blocks until at least one registered descriptor is ready, an
	// external wakeup arrives, or timeout elapses. A negative timeout
	// blocks indefinitely; zero polls without blocking. Never busy-spins.
	wait(timeout time.Duration) ([]readyEvent, error)

	// wakeup interrupts a concurrent wait. Thread-safe.
	wakeup()

	// waiters returns the number of registered waiting tasks.
	waiters() int

	// close releases OS resources. Idempotent.
	close() error
}
