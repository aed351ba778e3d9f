// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

//go:build unix

package netconn

import (
	"errors"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/adchub/adchub/internal/route"
)

// watchPollTimeout bounds a single poll of a pending writable watch.
const watchPollTimeout = 20 * time.Millisecond

// fdIO writes straight to the socket descriptor, bypassing the runtime's
// blocking write path.
type fdIO struct {
	rc syscall.RawConn
}

func newRawIO(nc net.Conn) rawIO {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return deadlineIO{nc: nc}
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return deadlineIO{nc: nc}
	}
	return &fdIO{rc: rc}
}

func (f *fdIO) write(b []byte) (int, error) {
	var (
		n    int
		werr error
	)
	err := f.rc.Write(func(fd uintptr) bool {
		for {
			n, werr = unix.Write(int(fd), b)
			if !errors.Is(werr, unix.EINTR) {
				return true
			}
		}
	})
	if err != nil {
		return 0, err
	}
	switch {
	case errors.Is(werr, unix.EAGAIN), errors.Is(werr, unix.EWOULDBLOCK):
		return 0, route.ErrWouldBlock
	case werr != nil:
		return 0, werr
	}
	return n, nil
}

// waitWritable polls the descriptor under Control, which leaves the
// write lock free, so Write stays non-blocking while a watch is pending.
// Each poll is bounded so a closed connection is noticed.
func (f *fdIO) waitWritable(done <-chan struct{}) error {
	timeout := int(watchPollTimeout / time.Millisecond)
	for {
		select {
		case <-done:
			return net.ErrClosed
		default:
		}

		var ready bool
		err := f.rc.Control(func(fd uintptr) {
			fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			n, pollErr := unix.Poll(fds, timeout)
			switch {
			case errors.Is(pollErr, unix.EINTR):
			case pollErr != nil, n > 0:
				// Errors and POLLHUP count as writable; the next write
				// reports them.
				ready = true
			}
		})
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
	}
}
