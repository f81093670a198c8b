// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import (
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"

	"github.com/eapache/queue"
)

// waitKind tags an entry in a channel waiter queue.
type waitKind int

const (
	waitRecv waitKind = iota
	waitSend
	waitSelect
)

// waitEntry parks one task in a channel waiter queue. Entries are
// invalidated by bumping the task's token rather than removed, so
// cancellation never disturbs the FIFO order of the remaining waiters.
type waitEntry struct {
	t     *Task
	token uint32
	kind  waitKind
	sel   int
	value any
}

// Channel is an ordered, closeable message queue between tasks on one
// loop. Messages are opaque values. Reads drain the backlog even after
// close and then fail with ErrClosedChannel; writes fail as soon as the
// channel closes. Waiters on both sides are served strictly FIFO.
//
// A Channel is loop-internal state: all methods, including the
// non-suspending probes, must be called on the loop goroutine
// (from task bodies or posted functions).
type Channel struct {
	loop     *Loop
	messages *queue.Queue
	readers  *queue.Queue
	writers  *queue.Queue
	capacity int
	closed   bool
}

// NewChannel creates an open channel on the loop. A positive capacity
// bounds the queue: senders park once it fills and resume as readers
// drain. A non-positive capacity leaves the queue unbounded.
func (l *Loop) NewChannel(capacity int) *Channel {
	return &Channel{
		loop:     l,
		messages: queue.New(),
		readers:  queue.New(),
		writers:  queue.New(),
		capacity: capacity,
	}
}

// Len returns the number of buffered messages.
func (c *Channel) Len() int { return c.messages.Length() }

// IsClosed reports whether the channel has been closed.
func (c *Channel) IsClosed() bool { return c.closed }

// IsReadable reports whether a read can still eventually succeed:
// the backlog is non-empty or the channel is open.
func (c *Channel) IsReadable() bool {
	return c.messages.Length() > 0 || !c.closed
}

// WillBlock reports whether an immediate read would have to suspend:
// the queue is empty and the channel is still open. Side-effect free.
func (c *Channel) WillBlock() bool {
	return c.messages.Length() == 0 && !c.closed
}

// TryRecv is the non-suspending read probe. Returns the next message,
// iox.ErrWouldBlock while the channel is open and empty, or
// ErrClosedChannel once closed and drained.
func (c *Channel) TryRecv() (any, error) {
	if c.messages.Length() > 0 {
		v := c.messages.Remove()
		c.admitOneWriter()
		return v, nil
	}
	if c.closed {
		return nil, ErrClosedChannel
	}
	return nil, iox.ErrWouldBlock
}

// TrySend is the non-suspending write probe. Enqueues and wakes one
// parked reader, or returns iox.ErrWouldBlock when a bounded channel is
// full, or ErrClosedChannel after close.
func (c *Channel) TrySend(v any) error {
	if c.closed {
		return ErrClosedChannel
	}
	if c.capacity > 0 && c.messages.Length() >= c.capacity {
		return iox.ErrWouldBlock
	}
	c.messages.Add(v)
	c.wakeOneReader()
	return nil
}

// Close closes the channel. Idempotent. Every parked reader wakes and
// fails with ErrClosedChannel (a parked reader implies an empty backlog);
// parked select waiters wake, since a read would no longer suspend; every
// parked writer fails with ErrClosedChannel.
func (c *Channel) Close() {
	if c.closed {
		return
	}
	c.closed = true
	for {
		e, ok := c.popWaiter(c.readers)
		if !ok {
			break
		}
		if e.kind == waitSelect {
			c.loop.wake(e.t, kont.Right[error, int](e.sel))
			continue
		}
		c.loop.wake(e.t, kont.Left[error, any](ErrClosedChannel))
	}
	for {
		e, ok := c.popWaiter(c.writers)
		if !ok {
			break
		}
		c.loop.wake(e.t, kont.Left[error, struct{}](ErrClosedChannel))
	}
}

// enlist implements Selectable: park a select waiter in the reader queue.
func (c *Channel) enlist(t *Task, token uint32, sel int) error {
	c.readers.Add(waitEntry{t: t, token: token, kind: waitSelect, sel: sel})
	return nil
}

// popWaiter removes the first live entry, skipping entries whose task has
// since been woken or cancelled (token mismatch).
func (c *Channel) popWaiter(q *queue.Queue) (waitEntry, bool) {
	for q.Length() > 0 {
		e := q.Remove().(waitEntry)
		if e.token != e.t.token {
			continue
		}
		return e, true
	}
	return waitEntry{}, false
}

// wakeOneReader serves the first live waiter after a message arrives.
// A plain receiver consumes the message; a select waiter is resumed with
// its member index and the message stays queued for the read that follows.
func (c *Channel) wakeOneReader() {
	e, ok := c.popWaiter(c.readers)
	if !ok {
		return
	}
	if e.kind == waitSelect {
		c.loop.wake(e.t, kont.Right[error, int](e.sel))
		return
	}
	v := c.messages.Remove()
	c.admitOneWriter()
	c.loop.wake(e.t, kont.Right[error, any](v))
}

// admitOneWriter moves one parked writer's message into freed capacity.
// Parked readers and parked writers are mutually exclusive (the former
// require an empty queue, the latter a full one), so no reader wake is
// needed here.
func (c *Channel) admitOneWriter() {
	if c.capacity <= 0 || c.messages.Length() >= c.capacity {
		return
	}
	e, ok := c.popWaiter(c.writers)
	if !ok {
		return
	}
	c.messages.Add(e.value)
	c.loop.wake(e.t, kont.Right[error, struct{}](struct{}{}))
}
