// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package stats

import (
	"context"

	"github.com/adchub/adchub/internal/adc"
	"github.com/adchub/adchub/internal/plugin"
)

// Recorder persists activity samples. *Store implements it.
type Recorder interface {
	Record(ctx context.Context, sample Sample) error
}

// Plugin records login, logout, search and connect activity.
type Plugin struct {
	store Recorder
}

var (
	_ plugin.LoginHook   = (*Plugin)(nil)
	_ plugin.LogoutHook  = (*Plugin)(nil)
	_ plugin.SearchHook  = (*Plugin)(nil)
	_ plugin.ConnectHook = (*Plugin)(nil)
	_ Recorder           = (*Store)(nil)
)

// New creates the plugin over store.
func New(store Recorder) *Plugin {
	return &Plugin{store: store}
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return "stats" }

func sample(u plugin.User, logged bool) Sample {
	return Sample{
		CID:         u.CID,
		Nick:        u.Nick,
		Logged:      logged,
		SharedSize:  u.ShareSize,
		SharedFiles: u.ShareFiles,
	}
}

// OnLogin marks the user online.
func (p *Plugin) OnLogin(ctx context.Context, u plugin.User) error {
	s := sample(u, true)
	s.Logins = 1
	return p.store.Record(ctx, s)
}

// OnLogout marks the user offline.
func (p *Plugin) OnLogout(ctx context.Context, u plugin.User, _ string) error {
	return p.store.Record(ctx, sample(u, false))
}

// OnSearch refreshes the searching user.
func (p *Plugin) OnSearch(ctx context.Context, u plugin.User, _ *adc.Message) error {
	s := sample(u, true)
	s.Searches = 1
	return p.store.Record(ctx, s)
}

// OnConnect refreshes both ends of a connect request.
func (p *Plugin) OnConnect(ctx context.Context, from, to plugin.User) error {
	s := sample(from, true)
	s.Connects = 1
	if err := p.store.Record(ctx, s); err != nil {
		return err
	}
	return p.store.Record(ctx, sample(to, true))
}
