// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package coro provides a single-threaded cooperative task runtime via
// algebraic effects on [code.hybscloud.com/kont].
//
// Tasks are continuation-passing computations driven run-to-suspension by
// a [Loop]: a task keeps the loop's goroutine until it performs a
// suspending operation, so data shared between tasks on one loop needs no
// locking. Wall-clock waits, descriptor readiness, channel transfers and
// joins all suspend through the same mechanism.
//
// # Architecture
//
//   - Scheduling: [Loop.Spawn] queues a [Task]; [Loop.Run] interleaves all
//     tasks on the calling goroutine until none remain.
//   - Readiness: a level-triggered multiplexer (epoll on Linux) admits at
//     most one waiting task per (descriptor, direction); conflicting waits
//     fail with [ErrUsage] instead of silently displacing each other.
//   - Messaging: [Channel] is an ordered, closeable, optionally bounded
//     queue with strictly FIFO waiter service. [Select] resolves the first
//     ready member of a set, probing left to right, without consuming.
//   - Streams: [Stream] adapts a non-blocking descriptor to suspending
//     reads and writes; [Offload] runs a truly blocking call on a worker
//     thread backed by lock-free SPSC queues from [code.hybscloud.com/lfq].
//   - Error handling: fallible operations resume with
//     [code.hybscloud.com/kont.Either] outcomes; failures compare with
//     [errors.Is] against the package sentinels.
//
// # API Topologies
//
//   - Operations: [Yield], [Sleep], [Readable], [Writable], [Recv],
//     [Send], [Select], [Join], [Read], [Write], [Offload].
//   - Cont-world: [YieldThen], [SleepThen], [RecvBind], [SendBind],
//     [SelectBind], [JoinBind], [ReadableBind], [WritableBind],
//     [ReadBind], [WriteBind], [OffloadBind].
//   - Recursive: [Iterate] for trampoline-based iterative task bodies.
//
// # Example
//
//	l, _ := coro.New()
//	ch := l.NewChannel(0)
//	l.Spawn(coro.RecvBind(ch, func(e kont.Either[error, any]) kont.Eff[any] {
//		v, _ := e.GetRight()
//		return kont.Pure(v)
//	}))
//	l.Spawn(coro.SendBind(ch, 42, func(kont.Either[error, struct{}]) kont.Eff[any] {
//		ch.Close()
//		return kont.Pure[any](nil)
//	}))
//	err := l.Run()
package coro
