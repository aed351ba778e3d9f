// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package adc

import (
	"github.com/samber/oops"
)

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// SID is a session identifier: 20 bits encoded as four base32 characters.
type SID uint32

// MaxSID is the largest value a SID can hold.
const MaxSID SID = 1<<20 - 1

// String returns the four character wire form.
func (s SID) String() string {
	var b [4]byte
	v := uint32(s)
	for i := 3; i >= 0; i-- {
		b[i] = base32Alphabet[v&0x1f]
		v >>= 5
	}
	return string(b[:])
}

// ParseSID decodes a four character SID.
func ParseSID(s string) (SID, error) {
	if len(s) != 4 {
		return 0, oops.Code("ADC_INVALID_SID").With("sid", s).Wrapf(ErrMalformed, "sid must be 4 characters")
	}
	var v uint32
	for i := 0; i < 4; i++ {
		d := base32Value(s[i])
		if d < 0 {
			return 0, oops.Code("ADC_INVALID_SID").With("sid", s).Wrapf(ErrMalformed, "invalid sid character %q", s[i])
		}
		v = v<<5 | uint32(d)
	}
	return SID(v), nil
}

func base32Value(c byte) int {
	switch {
	case c >= 'A' && c <= 'Z':
		return int(c - 'A')
	case c >= '2' && c <= '7':
		return int(c-'2') + 26
	default:
		return -1
	}
}
