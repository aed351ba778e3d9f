// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package route

import (
	"time"

	"github.com/adchub/adchub/internal/adc"
)

type queued struct {
	msg    *adc.Message
	offset int
}

// Queue is a connection's FIFO of messages not yet fully written. It holds
// one message reference per entry. It is not safe for concurrent use.
type Queue struct {
	buf       []queued
	head      int
	count     int
	bytes     int
	lastWrite time.Time
	closed    bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{buf: make([]queued, 8)}
}

// Len is the number of queued messages.
func (q *Queue) Len() int { return q.count }

// Bytes is the number of bytes still to be written.
func (q *Queue) Bytes() int { return q.bytes }

// LastWrite is when bytes from the queue last reached the socket.
func (q *Queue) LastWrite() time.Time { return q.lastWrite }

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool { return q.closed }

// push appends msg with offset bytes already written and takes a
// reference. It returns false on a closed queue.
func (q *Queue) push(msg *adc.Message, offset int) bool {
	if q.closed {
		return false
	}
	if q.count == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.count)%len(q.buf)] = queued{msg: msg.Retain(), offset: offset}
	q.count++
	q.bytes += msg.Len() - offset
	return true
}

// front returns the head message and how much of it has been written.
func (q *Queue) front() (*adc.Message, int, bool) {
	if q.count == 0 {
		return nil, 0, false
	}
	e := q.buf[q.head]
	return e.msg, e.offset, true
}

// advance records n bytes of the head entry as written, popping it and
// releasing its reference once complete.
func (q *Queue) advance(n int, now time.Time) {
	if n <= 0 || q.count == 0 {
		return
	}
	e := &q.buf[q.head]
	e.offset += n
	q.bytes -= n
	q.lastWrite = now
	if e.offset < e.msg.Len() {
		return
	}
	e.msg.Release()
	q.buf[q.head] = queued{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
}

func (q *Queue) touch(now time.Time) { q.lastWrite = now }

// Close releases every queued message and rejects further pushes. It
// returns the number of messages that were discarded.
func (q *Queue) Close() int {
	n := q.count
	for q.count > 0 {
		q.buf[q.head].msg.Release()
		q.buf[q.head] = queued{}
		q.head = (q.head + 1) % len(q.buf)
		q.count--
	}
	q.bytes = 0
	q.closed = true
	return n
}

func (q *Queue) grow() {
	size := len(q.buf) * 2
	if size == 0 {
		size = 8
	}
	next := make([]queued, size)
	for i := 0; i < q.count; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}
