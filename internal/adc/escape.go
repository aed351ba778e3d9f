// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package adc

import "strings"

var (
	escaper   = strings.NewReplacer(`\`, `\\`, " ", `\s`, "\n", `\n`)
	unescaper = strings.NewReplacer(`\\`, `\`, `\s`, " ", `\n`, "\n")
)

// Escape encodes a value for use as a message argument.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape decodes an argument taken from the wire.
func Unescape(s string) string {
	return unescaper.Replace(s)
}
