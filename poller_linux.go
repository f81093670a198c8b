// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// maxPollEvents bounds one epoll_wait batch.
const maxPollEvents = 128

// fdSlot holds the at-most-one waiter per direction for a registered
// descriptor. Both directions share one epoll interest entry whose event
// mask is kept in sync on register/unregister.
type fdSlot struct {
	r *waiter
	w *waiter
}

// epollMux is the Linux readiness multiplexer: a level-triggered epoll
// set plus an eventfd for prompt cross-thread wakeup (Post, offload
// completions).
type epollMux struct {
	epfd   int
	wakefd int
	slots  map[int]*fdSlot
	count  int
	events []unix.EpollEvent
	ready  []readyEvent
	closed bool
}

// newMultiplexer builds the epoll multiplexer with its wake eventfd
// already registered.
func newMultiplexer() (multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("coro: epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("coro: eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("coro: epoll_ctl add wakefd: %w", err)
	}
	return &epollMux{
		epfd:   epfd,
		wakefd: wakefd,
		slots:  make(map[int]*fdSlot),
		events: make([]unix.EpollEvent, maxPollEvents),
	}, nil
}

func (m *epollMux) register(k pollKey, w waiter) error {
	slot := m.slots[k.fd]
	if slot == nil {
		slot = &fdSlot{}
	}
	if k.dir == dirRead && slot.r != nil || k.dir == dirWrite && slot.w != nil {
		return fmt.Errorf("%w: duplicate %s waiter on descriptor %d", ErrUsage, dirName(k.dir), k.fd)
	}
	op := unix.EPOLL_CTL_MOD
	if slot.r == nil && slot.w == nil {
		op = unix.EPOLL_CTL_ADD
	}
	if k.dir == dirRead {
		slot.r = &w
	} else {
		slot.w = &w
	}
	ev := unix.EpollEvent{Events: slot.mask(), Fd: int32(k.fd)}
	if err := unix.EpollCtl(m.epfd, op, k.fd, &ev); err != nil {
		if k.dir == dirRead {
			slot.r = nil
		} else {
			slot.w = nil
		}
		return fmt.Errorf("%w: epoll_ctl on descriptor %d: %v", ErrUsage, k.fd, err)
	}
	m.slots[k.fd] = slot
	m.count++
	return nil
}

func (m *epollMux) unregister(k pollKey) {
	slot := m.slots[k.fd]
	if slot == nil {
		return
	}
	if k.dir == dirRead {
		if slot.r == nil {
			return
		}
		slot.r = nil
	} else {
		if slot.w == nil {
			return
		}
		slot.w = nil
	}
	m.count--
	if slot.r == nil && slot.w == nil {
		delete(m.slots, k.fd)
		unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, k.fd, nil)
		return
	}
	ev := unix.EpollEvent{Events: slot.mask(), Fd: int32(k.fd)}
	unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, k.fd, &ev)
}

func (m *epollMux) dropFD(fd int) []waiter {
	slot := m.slots[fd]
	if slot == nil {
		return nil
	}
	var ws []waiter
	if slot.r != nil {
		ws = append(ws, *slot.r)
		m.count--
	}
	if slot.w != nil {
		ws = append(ws, *slot.w)
		m.count--
	}
	delete(m.slots, fd)
	unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return ws
}

// mask returns the epoll event mask for the directions with waiters.
func (s *fdSlot) mask() uint32 {
	var mask uint32
	if s.r != nil {
		mask |= unix.EPOLLIN
	}
	if s.w != nil {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (m *epollMux) wait(timeout time.Duration) ([]readyEvent, error) {
	msec := -1
	switch {
	case timeout == 0:
		msec = 0
	case timeout > 0:
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.EpollWait(m.epfd, m.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("coro: epoll_wait: %w", err)
	}
	m.ready = m.ready[:0]
	for i := 0; i < n; i++ {
		ev := m.events[i]
		fd := int(ev.Fd)
		if fd == m.wakefd {
			m.drainWake()
			continue
		}
		slot := m.slots[fd]
		if slot == nil {
			continue
		}
		// EPOLLERR/EPOLLHUP are delivered regardless of the interest
		// mask; both directions wake so the pending operation can
		// surface the fault from its own read/write.
		fault := ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
		if slot.r != nil && (ev.Events&unix.EPOLLIN != 0 || fault) {
			m.ready = append(m.ready, readyEvent{key: pollKey{fd: fd, dir: dirRead}, w: *slot.r})
		}
		if slot.w != nil && (ev.Events&unix.EPOLLOUT != 0 || fault) {
			m.ready = append(m.ready, readyEvent{key: pollKey{fd: fd, dir: dirWrite}, w: *slot.w})
		}
	}
	return m.ready, nil
}

// drainWake consumes the eventfd counter so the next wait blocks again.
func (m *epollMux) drainWake() {
	var buf [8]byte
	unix.Read(m.wakefd, buf[:])
}

func (m *epollMux) wakeup() {
	var one = [8]byte{1}
	unix.Write(m.wakefd, one[:])
}

func (m *epollMux) waiters() int { return m.count }

func (m *epollMux) close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	unix.Close(m.wakefd)
	return unix.Close(m.epfd)
}

func dirName(d direction) string {
	if d == dirRead {
		return "read"
	}
	return "write"
}
