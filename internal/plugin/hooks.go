// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

// Package plugin lets optional hub extensions observe session activity.
// Hooks run off the hub loop, so a slow plugin never delays routing.
package plugin

import (
	"context"

	"github.com/adchub/adchub/internal/adc"
)

// User is a point-in-time copy of a session handed to hooks.
type User struct {
	SID        adc.SID
	CID        string
	Nick       string
	Addr       string
	ShareSize  uint64
	ShareFiles uint64
}

// Plugin is the base every extension implements. A plugin opts into
// events by also implementing one or more hook interfaces.
type Plugin interface {
	Name() string
}

// LoginHook is notified once a user completes login.
type LoginHook interface {
	OnLogin(ctx context.Context, u User) error
}

// LogoutHook is notified when a logged in user goes away.
type LogoutHook interface {
	OnLogout(ctx context.Context, u User, reason string) error
}

// SearchHook sees every search request. The message is only valid for
// the duration of the call.
type SearchHook interface {
	OnSearch(ctx context.Context, u User, msg *adc.Message) error
}

// ConnectHook is notified when one user asks another for a p2p
// connection.
type ConnectHook interface {
	OnConnect(ctx context.Context, from, to User) error
}
