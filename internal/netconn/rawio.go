// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package netconn

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/adchub/adchub/internal/route"
)

// pollInterval bounds how long the deadline fallback blocks on a write.
const pollInterval = 5 * time.Millisecond

// rawIO performs non-blocking socket writes.
type rawIO interface {
	write(b []byte) (int, error)
	// waitWritable blocks until the socket is likely writable or done
	// is closed.
	waitWritable(done <-chan struct{}) error
}

// deadlineIO emulates non-blocking writes with a short write deadline.
// It serves sockets that do not expose a file descriptor.
type deadlineIO struct {
	nc net.Conn
}

func (d deadlineIO) write(b []byte) (int, error) {
	if err := d.nc.SetWriteDeadline(time.Now().Add(pollInterval)); err != nil {
		return 0, err
	}
	n, err := d.nc.Write(b)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if n == 0 {
			return 0, route.ErrWouldBlock
		}
		return n, nil
	}
	return n, err
}

func (d deadlineIO) waitWritable(done <-chan struct{}) error {
	t := time.NewTimer(pollInterval)
	defer t.Stop()
	select {
	case <-done:
		return net.ErrClosed
	case <-t.C:
		return nil
	}
}
