// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import (
	"time"

	"code.hybscloud.com/kont"
)

// YieldThen yields the rest of the turn and then continues with next.
// Fuses Perform(Yield{}) + Then.
func YieldThen[B any](next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(Yield{}), next)
}

// SleepThen sleeps for at least d and then continues with next.
// Fuses Perform(Sleep{D: d}) + Then.
func SleepThen[B any](d time.Duration, next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(Sleep{D: d}), next)
}

// RecvBind receives from the channel and passes the outcome to f.
// Fuses Perform(Recv{Ch: c}) + Bind.
func RecvBind[B any](c *Channel, f func(kont.Either[error, any]) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Recv{Ch: c}), f)
}

// SendBind sends v on the channel and passes the outcome to f.
// Fuses Perform(Send{Ch: c, Value: v}) + Bind.
func SendBind[B any](c *Channel, v any, f func(kont.Either[error, struct{}]) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Send{Ch: c, Value: v}), f)
}

// SelectBind waits for the first ready member of set and passes the
// winning index to f. Fuses Perform(Select{Set: set}) + Bind.
func SelectBind[B any](set []Selectable, f func(kont.Either[error, int]) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Select{Set: set}), f)
}

// JoinBind awaits t's completion and passes its outcome to f.
// Fuses Perform(Join{T: t}) + Bind.
func JoinBind[B any](t *Task, f func(kont.Either[error, any]) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Join{T: t}), f)
}

// ReadableBind waits for read readiness on fd and passes the outcome to f.
// A zero timeout waits indefinitely. Fuses Perform(Readable{...}) + Bind.
func ReadableBind[B any](fd int, timeout time.Duration, f func(kont.Either[error, struct{}]) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Readable{FD: fd, Timeout: timeout}), f)
}

// WritableBind waits for write readiness on fd and passes the outcome to f.
// A zero timeout waits indefinitely. Fuses Perform(Writable{...}) + Bind.
func WritableBind[B any](fd int, timeout time.Duration, f func(kont.Either[error, struct{}]) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Writable{FD: fd, Timeout: timeout}), f)
}

// ReadBind reads up to max bytes from the stream and passes the outcome
// to f. Fuses Perform(Read{...}) + Bind.
func ReadBind[B any](s *Stream, max int, f func(kont.Either[error, []byte]) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Read{S: s, Max: max}), f)
}

// WriteBind writes p to the stream and passes the outcome (bytes
// written) to f. Fuses Perform(Write{...}) + Bind.
func WriteBind[B any](s *Stream, p []byte, f func(kont.Either[error, int]) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Write{S: s, P: p}), f)
}

// OffloadBind runs fn on a worker thread and passes the outcome to f.
// Fuses Perform(Offload{Fn: fn}) + Bind.
func OffloadBind[B any](fn func() (any, error), f func(kont.Either[error, any]) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Offload{Fn: fn}), f)
}
