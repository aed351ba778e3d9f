// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

// Package adc contains the ADC protocol message type shared by the hub's
// routing and session layers.
package adc

import (
	"bytes"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/samber/oops"
)

// ErrMalformed is the base error for messages that cannot be classified.
var ErrMalformed = errors.New("malformed adc message")

// Mode is the addressing mode carried in the first byte of a message.
type Mode byte

const (
	Broadcast   Mode = 'B'
	Direct      Mode = 'D'
	DirectEcho  Mode = 'E'
	FeatureCast Mode = 'F'
	Info        Mode = 'I'
	Hub         Mode = 'H'
	Client      Mode = 'C'
	UDP         Mode = 'U'
)

func (m Mode) String() string {
	switch m {
	case Broadcast:
		return "broadcast"
	case Direct:
		return "direct"
	case DirectEcho:
		return "echo"
	case FeatureCast:
		return "feature"
	case Info:
		return "info"
	case Hub:
		return "hub"
	case Client:
		return "client"
	case UDP:
		return "udp"
	default:
		return "unknown"
	}
}

// Priority decides whether a message is subject to send queue backpressure.
type Priority uint8

const (
	// Droppable messages may be dropped above the soft queue limit and
	// cause a disconnect above the hard limit.
	Droppable Priority = iota
	// Exempt messages are always queued. Used for hub control traffic.
	Exempt
)

func (p Priority) String() string {
	if p == Exempt {
		return "exempt"
	}
	return "droppable"
}

// Message is an immutable protocol message shared by every queue it is
// placed on. The payload is never copied per recipient; holders call
// Retain and Release and the free hook runs once the last one lets go.
type Message struct {
	payload  []byte
	mode     Mode
	command  string
	source   SID
	target   SID
	include  []string
	exclude  []string
	args     []string
	hdr      int
	priority Priority

	refs atomic.Int32
	free func()
}

// Option configures a message at construction time.
type Option func(*Message)

// WithPriority sets the message priority.
func WithPriority(p Priority) Option {
	return func(m *Message) { m.priority = p }
}

// WithFree registers a hook run when the last reference is released.
func WithFree(fn func()) Option {
	return func(m *Message) { m.free = fn }
}

// Parse classifies one protocol line. The trailing newline is optional on
// input and always present in the resulting payload. The caller holds the
// single initial reference.
func Parse(line []byte, opts ...Option) (*Message, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) < 4 {
		return nil, oops.Code("ADC_PARSE_FAILED").With("length", len(line)).Wrapf(ErrMalformed, "message too short")
	}
	if len(line) > 4 && line[4] != ' ' {
		return nil, oops.Code("ADC_PARSE_FAILED").Wrapf(ErrMalformed, "missing separator after command")
	}

	payload := make([]byte, len(line)+1)
	copy(payload, line)
	payload[len(line)] = '\n'

	m := &Message{
		payload: payload,
		mode:    Mode(line[0]),
		command: string(line[1:4]),
	}
	if !validCommand(m.command) {
		return nil, oops.Code("ADC_PARSE_FAILED").With("command", m.command).Wrapf(ErrMalformed, "invalid command name")
	}

	var fields []string
	if len(line) > 5 {
		fields = strings.Split(string(line[5:]), " ")
	}
	rest, err := m.parseHeader(fields)
	if err != nil {
		return nil, err
	}
	m.args = rest
	m.hdr = 4
	for _, f := range fields[:len(fields)-len(rest)] {
		m.hdr += len(f) + 1
	}

	for _, opt := range opts {
		opt(m)
	}
	m.refs.Store(1)
	return m, nil
}

// MustParse is Parse for hub generated messages known to be well formed.
func MustParse(line string, opts ...Option) *Message {
	m, err := Parse([]byte(line), opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Message) parseHeader(fields []string) ([]string, error) {
	need := 0
	switch m.mode {
	case Broadcast:
		need = 1
	case Direct, DirectEcho, FeatureCast:
		need = 2
	case UDP:
		need = 1
	case Info, Hub, Client:
		return fields, nil
	default:
		// Unknown modes are carried through; routing ignores them.
		return fields, nil
	}
	if len(fields) < need {
		return nil, oops.Code("ADC_PARSE_FAILED").
			With("mode", m.mode.String()).
			Wrapf(ErrMalformed, "header needs %d fields, got %d", need, len(fields))
	}

	if m.mode == UDP {
		return fields[1:], nil
	}

	src, err := ParseSID(fields[0])
	if err != nil {
		return nil, err
	}
	m.source = src

	switch m.mode {
	case Direct, DirectEcho:
		dst, err := ParseSID(fields[1])
		if err != nil {
			return nil, err
		}
		m.target = dst
	case FeatureCast:
		inc, exc, err := parseFeatures(fields[1])
		if err != nil {
			return nil, err
		}
		m.include, m.exclude = inc, exc
	default:
		return fields[1:], nil
	}
	return fields[2:], nil
}

// parseFeatures splits "+TCP4-NAT0" into include and exclude tokens.
func parseFeatures(s string) (include, exclude []string, err error) {
	if len(s) == 0 || len(s)%5 != 0 {
		return nil, nil, oops.Code("ADC_PARSE_FAILED").With("features", s).Wrapf(ErrMalformed, "invalid feature list")
	}
	for i := 0; i < len(s); i += 5 {
		tok := s[i+1 : i+5]
		switch s[i] {
		case '+':
			include = append(include, tok)
		case '-':
			exclude = append(exclude, tok)
		default:
			return nil, nil, oops.Code("ADC_PARSE_FAILED").With("features", s).Wrapf(ErrMalformed, "feature must start with + or -")
		}
	}
	return include, exclude, nil
}

func validCommand(c string) bool {
	for i := 0; i < len(c); i++ {
		ch := c[i]
		if (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return false
		}
	}
	return true
}

// Payload returns the wire bytes. Callers must not modify the slice.
func (m *Message) Payload() []byte { return m.payload }

// Len is the payload length in bytes.
func (m *Message) Len() int { return len(m.payload) }

func (m *Message) Mode() Mode         { return m.mode }
func (m *Message) Command() string    { return m.command }
func (m *Message) Source() SID        { return m.source }
func (m *Message) Target() SID        { return m.target }
func (m *Message) Include() []string  { return m.include }
func (m *Message) Exclude() []string  { return m.exclude }
func (m *Message) Priority() Priority { return m.priority }
func (m *Message) Args() []string     { return m.args }
func (m *Message) String() string     { return string(m.payload[:len(m.payload)-1]) }
func (m *Message) Is(cmd string) bool { return m.command == cmd }
func (m *Message) References() int32  { return m.refs.Load() }

// Retain adds a reference. It is called once per queue entry holding m.
func (m *Message) Retain() *Message {
	m.refs.Add(1)
	return m
}

// Release drops a reference and reports whether it was the last one.
func (m *Message) Release() bool {
	n := m.refs.Add(-1)
	if n < 0 {
		panic("adc: message released more times than retained")
	}
	if n > 0 {
		return false
	}
	if m.free != nil {
		m.free()
	}
	return true
}
