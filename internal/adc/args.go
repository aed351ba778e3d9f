// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package adc

import (
	"strings"
)

// Named argument codes used by the hub.
const (
	ArgCID         = "ID"
	ArgPID         = "PD"
	ArgNick        = "NI"
	ArgDescription = "DE"
	ArgIPv4        = "I4"
	ArgIPv6        = "I6"
	ArgSupports    = "SU"
	ArgShareSize   = "SS"
	ArgShareFiles  = "SF"
	ArgClientType  = "CT"
	ArgVersion     = "VE"
)

// Arg returns the unescaped value of the first named argument with the
// given two letter code.
func (m *Message) Arg(name string) (string, bool) {
	for _, a := range m.args {
		if len(a) >= 2 && a[:2] == name {
			return Unescape(a[2:]), true
		}
	}
	return "", false
}

// HasArg reports whether a positional argument equals s exactly.
func (m *Message) HasArg(s string) bool {
	for _, a := range m.args {
		if a == s {
			return true
		}
	}
	return false
}

// NamedArgs returns code/value pairs in wire order.
func (m *Message) NamedArgs() [][2]string {
	out := make([][2]string, 0, len(m.args))
	for _, a := range m.args {
		if len(a) < 2 {
			continue
		}
		out = append(out, [2]string{a[:2], Unescape(a[2:])})
	}
	return out
}

// WithArg returns a new message carrying the same header with every
// occurrence of the named argument replaced by a single one holding
// value. An empty value removes the argument. The receiver is unchanged.
func (m *Message) WithArg(name, value string) *Message {
	args := m.withoutArgs(name)
	if value != "" {
		args = append(args, name+Escape(value))
	}
	return m.derive(args)
}

// WithoutArgs returns a new message with the named arguments removed.
func (m *Message) WithoutArgs(names ...string) *Message {
	return m.derive(m.withoutArgs(names...))
}

func (m *Message) withoutArgs(names ...string) []string {
	args := make([]string, 0, len(m.args)+1)
outer:
	for _, a := range m.args {
		for _, n := range names {
			if strings.HasPrefix(a, n) {
				continue outer
			}
		}
		args = append(args, a)
	}
	return args
}

func (m *Message) derive(args []string) *Message {
	var b strings.Builder
	b.Grow(m.hdr + 1)
	b.Write(m.payload[:m.hdr])
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte('\n')

	d := &Message{
		payload:  []byte(b.String()),
		mode:     m.mode,
		command:  m.command,
		source:   m.source,
		target:   m.target,
		include:  m.include,
		exclude:  m.exclude,
		args:     args,
		hdr:      m.hdr,
		priority: m.priority,
	}
	d.refs.Store(1)
	return d
}
