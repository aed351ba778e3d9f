// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package hub

import (
	"github.com/adchub/adchub/internal/core"
	"github.com/adchub/adchub/internal/route"
)

// transport adapts the users' sockets to route.Transport. Every
// recipient the router sees is a *core.User.
type transport struct {
	hub *Hub
}

func (t transport) Write(r route.Recipient, b []byte) (int, error) {
	//nolint:wrapcheck // ErrWouldBlock must pass through unchanged
	return r.(*core.User).Conn().Write(b)
}

func (t transport) WatchWritable(r route.Recipient)   { r.(*core.User).Conn().WatchWritable() }
func (t transport) UnwatchWritable(r route.Recipient) { r.(*core.User).Conn().UnwatchWritable() }

func (t transport) Terminate(r route.Recipient, reason route.QuitReason) {
	t.hub.terminate(r.(*core.User), reason)
}
