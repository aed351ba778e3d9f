// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package netconn

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/adchub/adchub/internal/core"
	"github.com/adchub/adchub/internal/route"
	"github.com/adchub/adchub/pkg/errutil"
)

type recordingHandler struct {
	connected chan core.Conn
	lines     chan string
	writable  chan core.Conn
	hangups   chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connected: make(chan core.Conn, 8),
		lines:     make(chan string, 64),
		writable:  make(chan core.Conn, 8),
		hangups:   make(chan error, 8),
	}
}

func (h *recordingHandler) Connect(c core.Conn)           { h.connected <- c }
func (h *recordingHandler) Receive(_ core.Conn, b []byte) { h.lines <- string(b) }
func (h *recordingHandler) Writable(c core.Conn)          { h.writable <- c }
func (h *recordingHandler) Hangup(_ core.Conn, err error) { h.hangups <- err }

func startServer(t *testing.T, h Handler, maxLine int) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer("127.0.0.1:0", h, maxLine)
	require.NoError(t, srv.Listen())
	require.NotEmpty(t, srv.Addr())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	return srv, cancel, done
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler callback")
	}
	var zero T
	return zero
}

func TestServer_ListenFailure(t *testing.T) {
	h := newRecordingHandler()
	first := NewServer("127.0.0.1:0", h, 0)
	require.NoError(t, first.Listen())
	require.NoError(t, first.Listen(), "second Listen keeps the bound listener")

	second := NewServer(first.Addr(), h, 0)
	err := second.Run(context.Background())
	errutil.AssertErrorCode(t, err, "LISTEN_FAILED")
	assert.Empty(t, second.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, first.Run(ctx))
}

func TestServer_DeliversLines(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newRecordingHandler()
	srv, cancel, done := startServer(t, h, 0)

	client := dial(t, srv)
	recv(t, h.connected)

	_, err := client.Write([]byte("HSUP ADBASE\n\n\r\nBINF AAAB NIalice\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "HSUP ADBASE", recv(t, h.lines))
	assert.Equal(t, "BINF AAAB NIalice", recv(t, h.lines), "empty keepalive lines are skipped")

	cancel()
	require.NoError(t, recv(t, done))
	recv(t, h.hangups)
}

func TestServer_HangupOnClientClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newRecordingHandler()
	srv, cancel, done := startServer(t, h, 0)
	defer func() {
		cancel()
		<-done
	}()

	client := dial(t, srv)
	recv(t, h.connected)
	require.NoError(t, client.Close())

	recv(t, h.hangups)
	assert.Eventually(t, func() bool { return srv.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_LineTooLong(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newRecordingHandler()
	srv, cancel, done := startServer(t, h, 32)
	defer func() {
		cancel()
		<-done
	}()

	client := dial(t, srv)
	recv(t, h.connected)
	_, err := client.Write([]byte(strings.Repeat("X", 100) + "\n"))
	require.NoError(t, err)

	err = recv(t, h.hangups)
	errutil.AssertCodedSentinel(t, err, "LINE_TOO_LONG", ErrLineTooLong)
}

func TestConn_WriteAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newRecordingHandler()
	srv, cancel, done := startServer(t, h, 0)
	defer func() {
		cancel()
		<-done
	}()

	client := dial(t, srv)
	c := recv(t, h.connected)

	n, err := c.Write([]byte("ISID AAAB\n"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ISID AAAB\n", line)

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close(), "second close is a no-op")
	recv(t, h.hangups)

	_, err = c.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestConn_WouldBlockThenWritable(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newRecordingHandler()
	srv, cancel, done := startServer(t, h, 0)
	defer func() {
		cancel()
		<-done
	}()

	client := dial(t, srv)
	c := recv(t, h.connected)

	chunk := make([]byte, 64*1024)
	blocked := false
	for range 4096 {
		_, err := c.Write(chunk)
		if err != nil {
			require.ErrorIs(t, err, route.ErrWouldBlock)
			blocked = true
			break
		}
	}
	require.True(t, blocked, "socket buffer never filled")

	c.WatchWritable()
	c.WatchWritable()

	go func() {
		buf := make([]byte, 256*1024)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	assert.Equal(t, c, recv(t, h.writable))
	select {
	case <-h.writable:
		t.Fatal("coalesced watch requests must fire once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConn_WriteWhileWatchPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newRecordingHandler()
	srv, cancel, done := startServer(t, h, 0)
	defer func() {
		cancel()
		<-done
	}()

	dial(t, srv)
	c := recv(t, h.connected)

	chunk := make([]byte, 64*1024)
	for range 4096 {
		if _, err := c.Write(chunk); err != nil {
			require.ErrorIs(t, err, route.ErrWouldBlock)
			break
		}
	}

	c.WatchWritable()
	assert.True(t, c.Watching())
	// let the watcher park on the full socket
	time.Sleep(50 * time.Millisecond)

	result := make(chan error, 1)
	go func() {
		_, err := c.Write([]byte("BMSG AAAB hi\n"))
		result <- err
	}()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, route.ErrWouldBlock)
	case <-time.After(time.Second):
		t.Fatal("write blocked while a writable watch was pending")
	}
	assert.True(t, c.Watching(), "the client never read, so the watch is still armed")
}

func TestConn_UnwatchSuppressesCallback(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newRecordingHandler()
	srv, cancel, done := startServer(t, h, 0)
	defer func() {
		cancel()
		<-done
	}()

	dial(t, srv)
	c := recv(t, h.connected)

	c.WatchWritable()
	c.UnwatchWritable()

	// An idle socket is writable at once; a callback may only appear if
	// the watcher raced ahead of UnwatchWritable.
	select {
	case <-h.writable:
		c.UnwatchWritable()
	case <-time.After(50 * time.Millisecond):
	}

	c.WatchWritable()
	recv(t, h.writable)
}

func TestDeadlineIO_Pipe(t *testing.T) {
	a, b := net.Pipe()
	defer func() {
		_ = a.Close()
		_ = b.Close()
	}()

	w := deadlineIO{nc: a}
	_, err := w.write([]byte("hello"))
	require.ErrorIs(t, err, route.ErrWouldBlock, "nobody is reading the pipe")

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 5)
		n, _ := b.Read(buf)
		got <- string(buf[:n])
	}()
	require.Eventually(t, func() bool {
		n, err := w.write([]byte("hello"))
		return err == nil && n > 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, "hello", <-got)

	closed := make(chan struct{})
	close(closed)
	assert.ErrorIs(t, w.waitWritable(closed), net.ErrClosed)
}
