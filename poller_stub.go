// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package coro

import (
	"fmt"
	"time"
)

// chanMux is the fallback multiplexer for platforms without an epoll
// implementation. Timers, channels, offloading and cross-thread posts all
// keep working; descriptor readiness waits fail with ErrNotPollable.
type chanMux struct {
	wakeCh chan struct{}
	closed bool
}

func newMultiplexer() (multiplexer, error) {
	return &chanMux{wakeCh: make(chan struct{}, 1)}, nil
}

func (m *chanMux) register(k pollKey, w waiter) error {
	return fmt.Errorf("%w: descriptor readiness on this platform", ErrNotPollable)
}

func (m *chanMux) unregister(k pollKey) {}

func (m *chanMux) dropFD(fd int) []waiter { return nil }

func (m *chanMux) wait(timeout time.Duration) ([]readyEvent, error) {
	switch {
	case timeout == 0:
		select {
		case <-m.wakeCh:
		default:
		}
	case timeout > 0:
		tm := time.NewTimer(timeout)
		select {
		case <-m.wakeCh:
		case <-tm.C:
		}
		tm.Stop()
	default:
		<-m.wakeCh
	}
	return nil, nil
}

func (m *chanMux) wakeup() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

func (m *chanMux) waiters() int { return 0 }

func (m *chanMux) close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return nil
}
