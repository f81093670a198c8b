// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro_test

import (
	"testing"

	"code.hybscloud.com/coro"
	"code.hybscloud.com/kont"
)

// newLoop creates a loop and arranges for it to be closed with the test.
func newLoop(tb testing.TB) *coro.Loop {
	tb.Helper()
	l, err := coro.New()
	if err != nil {
		tb.Fatalf("new loop: %v", err)
	}
	tb.Cleanup(func() { l.Close() })
	return l
}

// mustRun drives the loop to completion, failing on an unobserved error.
func mustRun(tb testing.TB, l *coro.Loop) {
	tb.Helper()
	if err := l.Run(); err != nil {
		tb.Fatalf("run: %v", err)
	}
}

// effect wraps a side-effecting function as a task body finishing with
// its return value.
func effect(fn func() any) kont.Eff[any] {
	return kont.Suspend(func(k func(any) kont.Resumed) kont.Resumed {
		return k(fn())
	})
}

// sendAll sends vals on c in order and closes it afterwards. Stops early
// if a send fails (channel closed under the sender).
func sendAll(c *coro.Channel, vals []any) kont.Eff[any] {
	return coro.Iterate(0, func(i int) kont.Eff[kont.Either[int, any]] {
		if i >= len(vals) {
			c.Close()
			return kont.Pure(kont.Right[int, any](nil))
		}
		return coro.SendBind(c, vals[i], func(e kont.Either[error, struct{}]) kont.Eff[kont.Either[int, any]] {
			if e.IsLeft() {
				return kont.Pure(kont.Right[int, any](nil))
			}
			return kont.Pure(kont.Left[int, any](i + 1))
		})
	})
}

// recvAll drains c into out until the channel reports closed.
func recvAll(c *coro.Channel, out *[]any) kont.Eff[any] {
	return coro.Iterate(struct{}{}, func(struct{}) kont.Eff[kont.Either[struct{}, any]] {
		return coro.RecvBind(c, func(e kont.Either[error, any]) kont.Eff[kont.Either[struct{}, any]] {
			v, ok := e.GetRight()
			if !ok {
				return kont.Pure(kont.Right[struct{}, any](nil))
			}
			*out = append(*out, v)
			return kont.Pure(kont.Left[struct{}, any](struct{}{}))
		})
	})
}
