// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

// noSelect marks a multiplexer registration that belongs to a plain
// readiness wait rather than a select member.
const noSelect = -1

// Selectable is the uniform polling contract consumed by Select: a cheap,
// side-effect-free probe of whether an immediate read would suspend, plus
// an enlistment hook used when every member of a select set would block.
//
// Channel and Stream implement Selectable; the enlistment mechanics are
// internal to the package (channel waiter queues, descriptor interests).
type Selectable interface {
	// WillBlock reports whether an immediate read would have to suspend.
	// It must not have side effects.
	WillBlock() bool

	// enlist registers t to be woken when the selectable becomes ready.
	// sel is the member's index in the select set, delivered on wake.
	enlist(t *Task, token uint32, sel int) error
}
