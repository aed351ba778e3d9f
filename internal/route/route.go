// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

// Package route classifies protocol messages by addressing mode and
// delivers them to per-connection send queues without blocking.
//
// All functions in this package expect to be called from the hub's
// single event loop goroutine. Only message reference counts are safe
// for concurrent use.
package route

import (
	"errors"

	"github.com/adchub/adchub/internal/adc"
)

// ErrWouldBlock is returned by Transport.Write when the socket cannot
// accept any bytes right now.
var ErrWouldBlock = errors.New("write would block")

// Recipient is a connected user as seen by the router.
type Recipient interface {
	SID() adc.SID
	Queue() *Queue
	// Disconnecting is set while a connection flushes its queue before close.
	Disconnecting() bool
	// FullRelay exempts the recipient from backpressure during the
	// initial user list sync.
	FullRelay() bool
	FeatureCast() bool
	HasFeature(token string) bool
	NATOverride() bool
	PeerAddr() string
}

// Directory resolves sessions. Recipients must return a snapshot that is
// safe to iterate while users join or leave.
type Directory interface {
	Recipient(sid adc.SID) (Recipient, bool)
	Recipients() []Recipient
}

// Transport is the socket layer behind a recipient.
type Transport interface {
	// Write performs a single non-blocking write. It returns the number of
	// bytes accepted and ErrWouldBlock when none could be.
	Write(r Recipient, b []byte) (int, error)
	// WatchWritable asks for a single writable notification.
	WatchWritable(r Recipient)
	UnwatchWritable(r Recipient)
	Terminate(r Recipient, reason QuitReason)
}

// Limits are the send queue thresholds in bytes. Zero disables a limit.
type Limits struct {
	// MaxSendBuffer is the hard limit; droppable traffic beyond it
	// disconnects the recipient.
	MaxSendBuffer int
	// MaxSendBufferSoft is the soft limit; droppable traffic beyond it is
	// discarded message by message.
	MaxSendBufferSoft int
}

// QuitReason explains why a connection was terminated.
type QuitReason string

const (
	QuitSocketError   QuitReason = "socket_error"
	QuitSendQueue     QuitReason = "send_queue_overflow"
	QuitDisconnected  QuitReason = "disconnected"
	QuitProtocolError QuitReason = "protocol_error"
	QuitLoginRejected QuitReason = "login_rejected"
	QuitHubShutdown   QuitReason = "hub_shutdown"
)

// Outcome is the result of a single delivery.
type Outcome uint8

const (
	Sent Outcome = iota
	Queued
	Dropped
	Disconnected
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	case Dropped:
		return "dropped"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DrainResult is the state of a queue after a drain attempt.
type DrainResult uint8

const (
	// Drained means the queue is empty and write interest was removed.
	Drained DrainResult = iota
	// Pending means bytes remain and write interest was re-armed.
	Pending
	// Terminated means a socket error closed the connection.
	Terminated
)
