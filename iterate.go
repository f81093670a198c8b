// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import (
	"code.hybscloud.com/kont"
)

// Iterate runs a recursive task body as a trampoline.
// step returns Left(nextState) to continue or Right(result) to finish.
func Iterate[S, A any](initial S, step func(S) kont.Eff[kont.Either[S, A]]) kont.Eff[A] {
	return kont.Bind(step(initial), func(e kont.Either[S, A]) kont.Eff[A] {
		if left, ok := e.GetLeft(); ok {
			return Iterate(left, step)
		}
		right, _ := e.GetRight()
		return kont.Pure(right)
	})
}
