// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"code.hybscloud.com/coro"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

func TestSpawnRunsToCompletion(t *testing.T) {
	l := newLoop(t)

	t1 := l.Spawn(kont.Pure[any](42))
	t2 := l.Spawn(kont.Pure[any]("done"))

	mustRun(t, l)

	v1, err := t1.Result()
	if err != nil || v1 != 42 {
		t.Fatalf("t1 result = (%v, %v), want (42, nil)", v1, err)
	}
	v2, err := t2.Result()
	if err != nil || v2 != "done" {
		t.Fatalf("t2 result = (%v, %v), want (done, nil)", v2, err)
	}
	if t1.State() != coro.StateFinished || t2.State() != coro.StateFinished {
		t.Fatalf("states = %v, %v, want finished", t1.State(), t2.State())
	}
}

func TestResultBeforeRun(t *testing.T) {
	l := newLoop(t)
	tk := l.Spawn(kont.Pure[any](1))

	if _, err := tk.Result(); !iox.IsWouldBlock(err) {
		t.Fatalf("live task result err = %v, want ErrWouldBlock", err)
	}
	mustRun(t, l)
}

func TestSerialsMonotonic(t *testing.T) {
	l := newLoop(t)

	t1 := l.Spawn(kont.Pure[any](nil))
	t2 := l.Spawn(kont.Pure[any](nil))
	t3 := l.Spawn(kont.Pure[any](nil))

	if t1.Serial() >= t2.Serial() || t2.Serial() >= t3.Serial() {
		t.Fatalf("serials not increasing: %d, %d, %d", t1.Serial(), t2.Serial(), t3.Serial())
	}
	mustRun(t, l)
}

func TestYieldInterleavesTasks(t *testing.T) {
	l := newLoop(t)
	var order []string

	appendYield := func(tag string, n int) kont.Eff[any] {
		return coro.Iterate(0, func(i int) kont.Eff[kont.Either[int, any]] {
			if i >= n {
				return kont.Pure(kont.Right[int, any](nil))
			}
			order = append(order, tag)
			return coro.YieldThen(kont.Pure(kont.Left[int, any](i + 1)))
		})
	}

	l.Spawn(appendYield("a", 3))
	l.Spawn(appendYield("b", 3))
	mustRun(t, l)

	want := []string{"a", "b", "a", "b", "a", "b"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestSleepElapsesAndOrders(t *testing.T) {
	l := newLoop(t)
	var order []string

	l.Spawn(coro.SleepThen(30*time.Millisecond, effect(func() any {
		order = append(order, "slow")
		return nil
	})))
	l.Spawn(coro.SleepThen(5*time.Millisecond, effect(func() any {
		order = append(order, "fast")
		return nil
	})))

	start := time.Now()
	mustRun(t, l)
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("run returned after %v, want >= 30ms", elapsed)
	}
	want := []string{"fast", "slow"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestJoinDeliversResult(t *testing.T) {
	l := newLoop(t)

	worker := l.Spawn(coro.SleepThen(5*time.Millisecond, kont.Pure[any](7)))
	var got any
	l.Spawn(coro.JoinBind(worker, func(e kont.Either[error, any]) kont.Eff[any] {
		got, _ = e.GetRight()
		return kont.Pure[any](nil)
	}))

	mustRun(t, l)
	if got != 7 {
		t.Fatalf("joined result = %v, want 7", got)
	}
}

func TestJoinObservesFailure(t *testing.T) {
	l := newLoop(t)

	failing := l.Spawn(effect(func() any {
		panic("boom")
	}))
	var cause error
	l.Spawn(coro.JoinBind(failing, func(e kont.Either[error, any]) kont.Eff[any] {
		cause, _ = e.GetLeft()
		return kont.Pure[any](nil)
	}))

	// The failure was observed through the join, so Run reports nothing.
	mustRun(t, l)
	if cause == nil || !strings.Contains(cause.Error(), "boom") {
		t.Fatalf("joined cause = %v, want panic message", cause)
	}
	if failing.State() != coro.StateFailed {
		t.Fatalf("state = %v, want failed", failing.State())
	}
}

func TestJoinNilInvalid(t *testing.T) {
	l := newLoop(t)

	var cause error
	l.Spawn(coro.JoinBind(nil, func(e kont.Either[error, any]) kont.Eff[any] {
		cause, _ = e.GetLeft()
		return kont.Pure[any](nil)
	}))

	mustRun(t, l)
	if !errors.Is(cause, coro.ErrInvalidArgument) {
		t.Fatalf("join nil cause = %v, want ErrInvalidArgument", cause)
	}
}

func TestJoinSelfUsageError(t *testing.T) {
	l := newLoop(t)

	var cause error
	var self *coro.Task
	// Yield first so the handle is assigned before the join dispatches.
	self = l.Spawn(kont.Bind(kont.Perform(coro.Yield{}), func(struct{}) kont.Eff[any] {
		return coro.JoinBind(self, func(e kont.Either[error, any]) kont.Eff[any] {
			cause, _ = e.GetLeft()
			return kont.Pure[any](nil)
		})
	}))

	mustRun(t, l)
	if !errors.Is(cause, coro.ErrUsage) {
		t.Fatalf("self join cause = %v, want ErrUsage", cause)
	}
}

func TestUnobservedFailureReported(t *testing.T) {
	l := newLoop(t)

	l.Spawn(effect(func() any {
		panic("unnoticed")
	}))

	err := l.Run()
	if err == nil || !strings.Contains(err.Error(), "unnoticed") {
		t.Fatalf("run err = %v, want unobserved panic", err)
	}
}

func TestCancelSuspendedTask(t *testing.T) {
	l := newLoop(t)

	sleeper := l.Spawn(coro.SleepThen(time.Hour, kont.Pure[any](nil)))
	var cancelled bool
	l.Spawn(coro.SleepThen(5*time.Millisecond, effect(func() any {
		cancelled = sleeper.Cancel()
		return nil
	})))

	start := time.Now()
	mustRun(t, l)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("run took %v, cancelled sleeper still waited", elapsed)
	}
	if !cancelled {
		t.Fatal("cancel did not take effect")
	}
	if _, err := sleeper.Result(); !coro.IsCancelled(err) {
		t.Fatalf("result err = %v, want ErrCancelled", err)
	}
}

func TestCancelDoneTaskNoop(t *testing.T) {
	l := newLoop(t)

	tk := l.Spawn(kont.Pure[any](1))
	mustRun(t, l)
	if tk.Cancel() {
		t.Fatal("cancelling a finished task took effect")
	}
	if v, err := tk.Result(); err != nil || v != 1 {
		t.Fatalf("result = (%v, %v), want (1, nil)", v, err)
	}
}

func TestJoinerSeesCancellation(t *testing.T) {
	l := newLoop(t)

	sleeper := l.Spawn(coro.SleepThen(time.Hour, kont.Pure[any](nil)))
	var cause error
	l.Spawn(coro.JoinBind(sleeper, func(e kont.Either[error, any]) kont.Eff[any] {
		cause, _ = e.GetLeft()
		return kont.Pure[any](nil)
	}))
	l.Spawn(coro.SleepThen(5*time.Millisecond, effect(func() any {
		sleeper.Cancel()
		return nil
	})))

	mustRun(t, l)
	if !coro.IsCancelled(cause) {
		t.Fatalf("joined cause = %v, want ErrCancelled", cause)
	}
}

func TestDeadlockBreaksStuckTasks(t *testing.T) {
	l := newLoop(t)
	ch := l.NewChannel(0)

	var cause error
	l.Spawn(coro.RecvBind(ch, func(e kont.Either[error, any]) kont.Eff[any] {
		cause, _ = e.GetLeft()
		return kont.Pure[any](nil)
	}))

	mustRun(t, l)
	if !errors.Is(cause, coro.ErrDeadlock) {
		t.Fatalf("recv cause = %v, want ErrDeadlock", cause)
	}
}

func TestPostRunsOnLoop(t *testing.T) {
	l := newLoop(t)
	ch := l.NewChannel(0)

	var got any
	l.Spawn(coro.RecvBind(ch, func(e kont.Either[error, any]) kont.Eff[any] {
		got, _ = e.GetRight()
		return kont.Pure[any](nil)
	}))
	// A timer keeps the loop alive until the external post lands.
	l.Spawn(coro.SleepThen(300*time.Millisecond, kont.Pure[any](nil)))

	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Post(func() {
			ch.TrySend("posted")
		})
	}()

	mustRun(t, l)
	if got != "posted" {
		t.Fatalf("got %v, want posted", got)
	}
}

func TestClosedLoopRefusesWork(t *testing.T) {
	l, err := coro.New()
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	tk := l.Spawn(kont.Pure[any](1))
	if tk.State() != coro.StateFailed {
		t.Fatalf("spawned state = %v, want failed", tk.State())
	}
	if _, err := tk.Result(); !errors.Is(err, coro.ErrClosedLoop) {
		t.Fatalf("result err = %v, want ErrClosedLoop", err)
	}
	if err := l.Post(func() {}); !errors.Is(err, coro.ErrClosedLoop) {
		t.Fatalf("post err = %v, want ErrClosedLoop", err)
	}
	if err := l.Run(); !errors.Is(err, coro.ErrClosedLoop) {
		t.Fatalf("run err = %v, want ErrClosedLoop", err)
	}
}

func TestIterateCountdown(t *testing.T) {
	l := newLoop(t)

	tk := l.Spawn(coro.Iterate(5, func(i int) kont.Eff[kont.Either[int, any]] {
		if i == 0 {
			return kont.Pure(kont.Right[int, any]("lift-off"))
		}
		return coro.YieldThen(kont.Pure(kont.Left[int, any](i - 1)))
	}))

	mustRun(t, l)
	v, err := tk.Result()
	if err != nil || v != "lift-off" {
		t.Fatalf("result = (%v, %v), want (lift-off, nil)", v, err)
	}
}
