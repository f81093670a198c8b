// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Stream adapts a byte-oriented file descriptor to suspending reads and
// writes on a loop. The descriptor is switched to non-blocking mode at
// construction; every operation that would block parks the calling task
// until the multiplexer reports readiness, so the loop keeps serving other
// tasks in the meantime.
//
// A Stream owns its descriptor until Close or Detach. Like Channel, all
// methods must be called on the loop goroutine.
type Stream struct {
	loop *Loop
	fd   int

	open     bool
	readable bool
	writable bool
	seekable bool
	eof      bool
}

// NewStream wraps an open descriptor. The descriptor is put into
// non-blocking mode and its access mode and seekability are probed;
// an invalid descriptor fails with ErrUsage.
func (l *Loop) NewStream(fd int) (*Stream, error) {
	if fd < 0 {
		return nil, fmt.Errorf("%w: negative descriptor %d", ErrInvalidArgument, fd)
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: descriptor %d: %v", ErrUsage, fd, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("%w: descriptor %d: %v", ErrUsage, fd, err)
	}
	s := &Stream{
		loop: l,
		fd:   fd,
		open: true,
	}
	switch flags & unix.O_ACCMODE {
	case unix.O_RDONLY:
		s.readable = true
	case unix.O_WRONLY:
		s.writable = true
	default:
		s.readable = true
		s.writable = true
	}
	if _, err := unix.Seek(fd, 0, unix.SEEK_CUR); err == nil {
		s.seekable = true
	}
	return s, nil
}

// FD returns the wrapped descriptor, or -1 after Close or Detach.
func (s *Stream) FD() int {
	if !s.open {
		return -1
	}
	return s.fd
}

// EOF reports whether a read has observed end of stream. Cleared by Seek.
func (s *Stream) EOF() bool { return s.eof }

// IsOpen reports whether the stream still owns a descriptor.
func (s *Stream) IsOpen() bool { return s.open }

// Close closes the underlying descriptor. Idempotent: the first call
// closes and returns the descriptor's error, later calls return nil.
// Operations after Close fail with ErrClosedResource; a task parked on
// the descriptor is woken and its operation fails the same way.
func (s *Stream) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	fd := s.fd
	s.fd = -1
	s.loop.dropDescriptor(fd)
	return unix.Close(fd)
}

// Detach relinquishes ownership of the descriptor without closing it and
// returns it, leaving the stream in the closed state. The descriptor stays
// in non-blocking mode. Fails with ErrClosedResource if the stream is
// already closed or detached.
func (s *Stream) Detach() (int, error) {
	if !s.open {
		return -1, ErrClosedResource
	}
	s.open = false
	fd := s.fd
	s.fd = -1
	s.loop.dropDescriptor(fd)
	return fd, nil
}

// Seek repositions the descriptor offset and returns the new absolute
// position. Clears the EOF latch, since bytes may again be ahead of the
// cursor. Fails with ErrClosedResource on a closed stream and ErrUsage on
// a non-seekable one.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if !s.open {
		return 0, ErrClosedResource
	}
	if !s.seekable {
		return 0, fmt.Errorf("%w: stream is not seekable", ErrUsage)
	}
	pos, err := unix.Seek(s.fd, offset, whence)
	if err != nil {
		return 0, fmt.Errorf("coro: seek: %w", err)
	}
	s.eof = false
	return pos, nil
}

// Tell returns the current absolute offset without moving it.
func (s *Stream) Tell() (int64, error) {
	if !s.open {
		return 0, ErrClosedResource
	}
	if !s.seekable {
		return 0, fmt.Errorf("%w: stream is not seekable", ErrUsage)
	}
	pos, err := unix.Seek(s.fd, 0, unix.SEEK_CUR)
	if err != nil {
		return 0, fmt.Errorf("coro: seek: %w", err)
	}
	return pos, nil
}

// WillBlock implements Selectable: reports whether an immediate read would
// suspend, probing the descriptor with a zero-timeout poll. Closed or
// exhausted streams never block, since the read returns immediately with
// its error or empty result.
func (s *Stream) WillBlock() bool {
	if !s.open || !s.readable || s.eof {
		return false
	}
	fds := [1]unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds[:], 0)
	if err != nil {
		return false
	}
	return n == 0
}

// enlist implements Selectable: register read interest for a select wait.
func (s *Stream) enlist(t *Task, token uint32, sel int) error {
	k := pollKey{fd: s.fd, dir: dirRead}
	if err := s.loop.mux.register(k, waiter{t: t, token: token, sel: sel}); err != nil {
		return err
	}
	t.fdKeys = append(t.fdKeys, k)
	return nil
}

// readRetryIntr reads from the descriptor, retrying on EINTR.
func readRetryIntr(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// writeRetryIntr writes to the descriptor, retrying on EINTR.
func writeRetryIntr(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
