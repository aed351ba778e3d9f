// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package netconn

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/adchub/adchub/internal/core"
)

// ErrLineTooLong is reported to Hangup when a client sends a line longer
// than the configured maximum.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// Handler receives connection events. Methods are called from the
// connection's own goroutines and must not block for long.
type Handler interface {
	Connect(c core.Conn)
	Receive(c core.Conn, line []byte)
	Writable(c core.Conn)
	// Hangup is called exactly once, after the last Receive.
	Hangup(c core.Conn, err error)
}

// Conn is an accepted TCP connection. Reads happen on a dedicated
// goroutine; writes never block the caller.
type Conn struct {
	id      ulid.ULID
	nc      net.Conn
	io      rawIO
	handler Handler
	maxLine int

	wanted  atomic.Bool
	watchCh chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newConn(nc net.Conn, h Handler, maxLine int) *Conn {
	return &Conn{
		id:      core.NewConnID(),
		nc:      nc,
		io:      newRawIO(nc),
		handler: h,
		maxLine: maxLine,
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (c *Conn) ID() ulid.ULID      { return c.id }
func (c *Conn) RemoteAddr() string { return c.nc.RemoteAddr().String() }

// Write makes one non-blocking write attempt. It returns
// route.ErrWouldBlock when the socket buffer is full.
func (c *Conn) Write(b []byte) (int, error) {
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
	}
	return c.io.write(b)
}

// WatchWritable requests one Writable callback once the socket can take
// more bytes. Repeated calls before the callback fires are coalesced.
func (c *Conn) WatchWritable() {
	c.wanted.Store(true)
	select {
	case c.watchCh <- struct{}{}:
	default:
	}
}

// UnwatchWritable cancels a pending Writable callback.
func (c *Conn) UnwatchWritable() { c.wanted.Store(false) }

// Watching reports whether a watch is armed and its callback has not
// fired yet. The flag clears before Writable is called.
func (c *Conn) Watching() bool { return c.wanted.Load() }

// Close shuts the socket down. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.nc.Close()
	})
	return err
}

// serve runs the read loop until the connection ends. The writable
// watcher runs alongside it and stops with it.
func (c *Conn) serve() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watchLoop()
	}()

	err := c.readLoop()
	if cerr := c.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		slog.Debug("error closing connection", "conn_id", c.id.String(), "error", cerr)
	}
	wg.Wait()
	c.handler.Hangup(c, err)
}

func (c *Conn) readLoop() error {
	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 0, min(c.maxLine, 4096)), c.maxLine)
	for scanner.Scan() {
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(line) == 0 {
			// keepalive
			continue
		}
		buf := make([]byte, len(line))
		copy(buf, line)
		c.handler.Receive(c, buf)
	}

	err := scanner.Err()
	switch {
	case err == nil:
		return io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return oops.Code("LINE_TOO_LONG").With("max", c.maxLine).Wrap(ErrLineTooLong)
	case errors.Is(err, net.ErrClosed):
		return net.ErrClosed
	default:
		return err
	}
}

func (c *Conn) watchLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.watchCh:
		}
		if !c.wanted.Load() {
			continue
		}
		if err := c.io.waitWritable(c.done); err != nil {
			return
		}
		if c.wanted.CompareAndSwap(true, false) {
			c.handler.Writable(c)
		}
	}
}
