// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import (
	"container/heap"
	"time"

	"code.hybscloud.com/kont"
)

// timerEntry is one armed deadline. Entries are invalidated by token
// bump like channel waiters: a wake or cancellation before the deadline
// leaves a stale entry that fireTimers discards.
type timerEntry struct {
	when  time.Time
	seq   uint64
	t     *Task
	token uint32
}

// timerHeap is a min-heap of deadlines, seq-ordered within equal instants
// so timers armed earlier fire first.
type timerHeap []timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(timerEntry)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// armTimer schedules a deadline for the task's current wait.
func (l *Loop) armTimer(d time.Duration, t *Task) {
	l.timerSeq++
	heap.Push(&l.timers, timerEntry{
		when:  time.Now().Add(d),
		seq:   l.timerSeq,
		t:     t,
		token: t.token,
	})
}

// fireTimers wakes every task whose live deadline has passed.
func (l *Loop) fireTimers() {
	now := time.Now()
	for l.timers.Len() > 0 {
		e := l.timers[0]
		if e.token != e.t.token {
			heap.Pop(&l.timers)
			continue
		}
		if e.when.After(now) {
			return
		}
		heap.Pop(&l.timers)
		l.onTimer(e)
	}
}

// onTimer resolves a fired deadline. Sleep resumes normally; a readiness
// wait loses the race and resumes Left(ErrTimeout), with its descriptor
// registration torn down so the slot is immediately reusable.
func (l *Loop) onTimer(e timerEntry) {
	t := e.t
	switch t.susp.Op().(type) {
	case Sleep:
		l.wake(t, struct{}{})
	case Readable:
		l.wake(t, kont.Left[error, struct{}](ErrTimeout))
	case Writable:
		l.wake(t, kont.Left[error, struct{}](ErrTimeout))
	}
}

// nextTimerDelay returns the time until the earliest live deadline,
// discarding stale heads on the way.
func (l *Loop) nextTimerDelay() (time.Duration, bool) {
	for l.timers.Len() > 0 {
		e := l.timers[0]
		if e.token != e.t.token {
			heap.Pop(&l.timers)
			continue
		}
		d := time.Until(e.when)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
