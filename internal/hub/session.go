// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package hub

import (
	"log/slog"

	"github.com/samber/oops"

	"github.com/adchub/adchub/internal/adc"
	"github.com/adchub/adchub/internal/core"
	"github.com/adchub/adchub/internal/route"
	"github.com/adchub/adchub/pkg/errutil"
)

const natAnyAddr = "0.0.0.0"

// receive handles one line from u according to its login state.
func (h *Hub) receive(u *core.User, line []byte) {
	msg, err := adc.Parse(line)
	if err != nil {
		errutil.Log(h.userContext(u), nil, slog.LevelWarn, "rejected malformed message", err)
		if u.LoggedIn() {
			h.send(u, statusMessage(statusMalformed, "Malformed message"))
			return
		}
		h.disconnect(u, route.QuitProtocolError, statusMessage(statusProtocolError, "Malformed message"))
		return
	}
	defer msg.Release()

	switch u.State() {
	case core.StateProtocol:
		h.handleSupport(u, msg)
	case core.StateIdentify:
		h.handleLogin(u, msg)
	case core.StateNormal:
		h.handleNormal(u, msg)
	}
}

func (h *Hub) protocolError(u *core.User, text string) {
	h.disconnect(u, route.QuitProtocolError, statusMessage(statusProtocolError, text))
}

// handleSupport answers the client's HSUP with the hub's features, a
// fresh SID and the hub INF.
func (h *Hub) handleSupport(u *core.User, msg *adc.Message) {
	if msg.Mode() != adc.Hub || !msg.Is("SUP") {
		h.protocolError(u, "Expected HSUP")
		return
	}
	u.ApplySupports(msg)
	if !u.Supports("BASE") {
		h.protocolError(u, "BASE support required")
		return
	}

	sid, err := h.sids.Allocate()
	if err != nil {
		errutil.Log(h.userContext(u), nil, slog.LevelError, "session id allocation failed", err)
		h.disconnect(u, route.QuitLoginRejected, statusMessage(statusHubFull, "Hub is full"))
		return
	}
	u.SetSID(sid)
	u.SetState(core.StateIdentify)

	h.send(u, supMessage())
	h.send(u, sidMessage(sid))
	h.send(u, hubInfoMessage(h.opts.Name, h.opts.Description))
}

// handleLogin validates the first BINF, sends the user list and announces
// the new user to everyone.
func (h *Hub) handleLogin(u *core.User, msg *adc.Message) {
	if msg.Mode() != adc.Broadcast || !msg.Is("INF") {
		h.protocolError(u, "Expected BINF")
		return
	}
	if msg.Source() != u.SID() {
		h.protocolError(u, "Invalid SID")
		return
	}
	cid, ok := msg.Arg(adc.ArgCID)
	if !ok || cid == "" {
		h.protocolError(u, "Missing CID")
		return
	}
	if pid, ok := msg.Arg(adc.ArgPID); !ok || pid == "" {
		h.protocolError(u, "Missing PID")
		return
	}
	if nick, ok := msg.Arg(adc.ArgNick); !ok || nick == "" {
		h.disconnect(u, route.QuitLoginRejected, statusMessage(statusNickInvalid, "Invalid nick"))
		return
	}
	if h.opts.MaxUsers > 0 && h.dir.Len() >= h.opts.MaxUsers {
		h.disconnect(u, route.QuitLoginRejected, statusMessage(statusHubFull, "Hub is full"))
		return
	}
	if _, taken := h.dir.LookupCID(cid); taken {
		slog.InfoContext(h.userContext(u), "login rejected: cid in use", "cid", cid)
		h.disconnect(u, route.QuitLoginRejected, statusMessage(statusCIDTaken, "CID taken"))
		return
	}

	u.ApplyInfo(msg)
	h.updateNATOverride(u)

	if err := h.dir.Add(u); err != nil {
		h.rejectLogin(u, err)
		return
	}
	u.SetState(core.StateNormal)
	h.metrics.Users.Set(float64(h.dir.Len()))

	// The user list must reach the new user whole, whatever its size.
	u.SetFullRelay(true)
	for _, other := range h.dir.Users() {
		if other != u && other.Info() != nil {
			h.engine.Deliver(u, other.Info())
		}
	}
	u.SetFullRelay(false)
	if u.State() == core.StateClosed {
		return
	}

	if err := h.router.RouteInfo(u, u.Info()); err != nil {
		errutil.Log(h.userContext(u), nil, slog.LevelWarn, "info announcement failed", err)
	}

	slog.InfoContext(h.userContext(u), "user logged in", "nick", u.Nick(), "cid", u.CID())
	h.plugins.Login(h.ctx, snapshot(u))
}

func (h *Hub) rejectLogin(u *core.User, err error) {
	code := statusProtocolError
	text := "Login rejected"
	if oopsErr, ok := oops.AsOops(err); ok {
		switch oopsErr.Code() {
		case "NICK_TAKEN":
			code, text = statusNickTaken, "Nick taken"
		case "CID_TAKEN":
			code, text = statusCIDTaken, "CID taken"
		}
	}
	slog.InfoContext(h.userContext(u), "login rejected", "nick", u.Nick(), "error", err)
	h.disconnect(u, route.QuitLoginRejected, statusMessage(code, text))
}

// updateNATOverride enables address substitution for users that
// announce the unspecified IPv4 address or none at all, when the hub
// allows it.
func (h *Hub) updateNATOverride(u *core.User) {
	if !h.opts.NATOverride || u.Info() == nil {
		return
	}
	addr, ok := u.Info().Arg(adc.ArgIPv4)
	u.SetNATOverride(!ok || addr == natAnyAddr)
}

// handleNormal processes traffic from a logged in user.
func (h *Hub) handleNormal(u *core.User, msg *adc.Message) {
	switch msg.Mode() {
	case adc.Broadcast, adc.Direct, adc.DirectEcho, adc.FeatureCast:
		if msg.Source() != u.SID() {
			h.protocolError(u, "Invalid SID")
			return
		}
	case adc.Hub:
		if msg.Is("SUP") {
			u.ApplySupports(msg)
		}
		return
	default:
		slog.DebugContext(h.userContext(u), "ignoring message", "mode", msg.Mode().String(), "command", msg.Command())
		return
	}

	switch {
	case msg.Mode() == adc.Broadcast && msg.Is("INF"):
		h.updateInfo(u, msg)
		return
	case msg.Is("SCH"):
		h.plugins.Search(h.ctx, snapshot(u), msg)
	case msg.Is("CTM") || msg.Is("RCM"):
		if target, ok := h.dir.Lookup(msg.Target()); ok {
			h.plugins.Connect(h.ctx, snapshot(u), snapshot(target))
		}
	}

	if err := h.router.Route(u, msg); err != nil {
		errutil.Log(h.userContext(u), nil, slog.LevelWarn, "routing failed", err)
	}
}

// updateInfo merges an INF update and announces the changed fields.
func (h *Hub) updateInfo(u *core.User, msg *adc.Message) {
	oldNick := u.Nick()
	if nick, ok := msg.Arg(adc.ArgNick); ok {
		if nick == "" {
			h.disconnect(u, route.QuitProtocolError, statusMessage(statusNickInvalid, "Invalid nick"))
			return
		}
		if other, taken := h.dir.LookupNick(nick); taken && other != u {
			h.disconnect(u, route.QuitLoginRejected, statusMessage(statusNickTaken, "Nick taken"))
			return
		}
	}

	u.ApplyInfo(msg)
	h.updateNATOverride(u)
	if err := h.dir.Rename(u, oldNick); err != nil {
		h.rejectLogin(u, err)
		return
	}

	delta := msg.WithoutArgs(adc.ArgPID, adc.ArgCID)
	defer delta.Release()
	if err := h.router.RouteInfo(u, delta); err != nil {
		errutil.Log(h.userContext(u), nil, slog.LevelWarn, "info update failed", err)
	}
}
