// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package hub

import (
	"fmt"
	"strings"

	"github.com/adchub/adchub/internal/adc"
)

// Status codes sent in ISTA. The first digit is the severity: 1 is
// recoverable, 2 is fatal.
const (
	statusHubFull       = 211
	statusNickInvalid   = 221
	statusNickTaken     = 222
	statusCIDTaken      = 224
	statusProtocolError = 240
	statusMalformed     = 140
	statusTimeout       = 244
)

// Version is reported to clients in the hub INF.
var Version = "dev"

func exempt(line string) *adc.Message {
	return adc.MustParse(line, adc.WithPriority(adc.Exempt))
}

func supMessage() *adc.Message {
	return exempt("ISUP ADBASE ADTIGR")
}

func sidMessage(sid adc.SID) *adc.Message {
	return exempt("ISID " + sid.String())
}

func hubInfoMessage(name, description string) *adc.Message {
	var b strings.Builder
	b.WriteString("IINF CT32 NI")
	b.WriteString(adc.Escape(name))
	b.WriteString(" VE")
	b.WriteString(adc.Escape("adchub " + Version))
	if description != "" {
		b.WriteString(" DE")
		b.WriteString(adc.Escape(description))
	}
	return exempt(b.String())
}

func statusMessage(code int, text string) *adc.Message {
	return exempt(fmt.Sprintf("ISTA %03d %s", code, adc.Escape(text)))
}

func quitMessage(sid adc.SID) *adc.Message {
	return exempt("IQUI " + sid.String())
}
