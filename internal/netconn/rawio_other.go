// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

//go:build !unix

package netconn

import "net"

func newRawIO(nc net.Conn) rawIO {
	return deadlineIO{nc: nc}
}
