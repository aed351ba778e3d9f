// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package route

import (
	"errors"
	"log/slog"
	"time"

	"github.com/adchub/adchub/internal/adc"
)

// Engine writes messages to recipients and applies the send queue policy.
type Engine struct {
	transport Transport
	limits    Limits
	now       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source used for last-write timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a delivery engine.
func NewEngine(t Transport, limits Limits, opts ...EngineOption) *Engine {
	e := &Engine{
		transport: t,
		limits:    limits,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limits returns the configured queue limits.
func (e *Engine) Limits() Limits { return e.limits }

// Deliver sends msg to r, queueing whatever the socket does not accept.
func (e *Engine) Deliver(r Recipient, msg *adc.Message) Outcome {
	out := e.deliver(r, msg)
	Deliveries.WithLabelValues(out.String()).Inc()
	return out
}

func (e *Engine) deliver(r Recipient, msg *adc.Message) Outcome {
	q := r.Queue()
	if q.Closed() {
		return Dropped
	}

	// A direct write while bytes are queued would overtake them.
	if q.Len() == 0 && !r.Disconnecting() {
		n, err := e.transport.Write(r, msg.Payload())
		switch {
		case err != nil && !errors.Is(err, ErrWouldBlock):
			slog.Debug("write failed", "sid", r.SID().String(), "error", err)
			e.transport.Terminate(r, QuitSocketError)
			return Disconnected
		case n >= msg.Len():
			return Sent
		case n > 0:
			// Part of the message is on the wire; the rest must follow it
			// regardless of queue limits.
			q.push(msg, n)
			q.touch(e.now())
			e.transport.WatchWritable(r)
			QueuedBytes.Observe(float64(q.Bytes()))
			return Queued
		}
	}

	return e.admit(r, msg)
}

func (e *Engine) admit(r Recipient, msg *adc.Message) Outcome {
	q := r.Queue()
	size := q.Bytes() + msg.Len()

	// FullRelay lifts the soft limit as well as the hard one, so a user
	// list sent at login is never thinned by drops.
	if !r.FullRelay() && msg.Priority() == adc.Droppable {
		if e.limits.MaxSendBuffer > 0 && size > e.limits.MaxSendBuffer {
			slog.Info("send queue overflow",
				"sid", r.SID().String(),
				"queued_bytes", q.Bytes(),
				"message_bytes", msg.Len(),
				"limit", e.limits.MaxSendBuffer,
			)
			e.transport.Terminate(r, QuitSendQueue)
			return Disconnected
		}
		if e.limits.MaxSendBufferSoft > 0 && size > e.limits.MaxSendBufferSoft {
			slog.Debug("message dropped: send queue above soft limit",
				"sid", r.SID().String(),
				"command", msg.Command(),
				"queued_bytes", q.Bytes(),
			)
			return Dropped
		}
	}

	if !q.push(msg, 0) {
		return Dropped
	}
	e.transport.WatchWritable(r)
	QueuedBytes.Observe(float64(q.Bytes()))
	return Queued
}

// Drain writes as much of r's queue as the socket accepts. It is called
// when the transport reports the socket writable.
func (e *Engine) Drain(r Recipient) DrainResult {
	q := r.Queue()
	for {
		msg, offset, ok := q.front()
		if !ok {
			e.transport.UnwatchWritable(r)
			return Drained
		}

		rest := msg.Payload()[offset:]
		n, err := e.transport.Write(r, rest)
		if n > 0 {
			q.advance(n, e.now())
		}
		if err != nil && !errors.Is(err, ErrWouldBlock) {
			slog.Debug("write failed while draining", "sid", r.SID().String(), "error", err)
			e.transport.Terminate(r, QuitSocketError)
			return Terminated
		}
		if n < len(rest) {
			// Write interest is one-shot; re-arm for the remainder.
			e.transport.WatchWritable(r)
			return Pending
		}
	}
}
