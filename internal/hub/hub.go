// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

// Package hub runs the single event loop that owns every session. Socket
// goroutines only post events; all routing, queueing and termination
// happens on the loop.
package hub

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adchub/adchub/internal/adc"
	"github.com/adchub/adchub/internal/core"
	"github.com/adchub/adchub/internal/logging"
	"github.com/adchub/adchub/internal/observability"
	"github.com/adchub/adchub/internal/plugin"
	"github.com/adchub/adchub/internal/route"
)

// Default timeouts.
const (
	DefaultLoginTimeout = 30 * time.Second
	DefaultFlushTimeout = 10 * time.Second
)

// Options configures a Hub.
type Options struct {
	Name         string
	Description  string
	MaxUsers     int
	Limits       route.Limits
	NATOverride  bool
	LoginTimeout time.Duration
	FlushTimeout time.Duration
}

type eventKind uint8

const (
	evConnect eventKind = iota
	evReceive
	evWritable
	evHangup
)

type event struct {
	kind eventKind
	conn core.Conn
	line []byte
	err  error
}

// leaving tracks a user flushing its queue before the socket closes.
type leaving struct {
	reason route.QuitReason
	since  time.Time
}

// Hub is the event loop. It implements netconn.Handler.
type Hub struct {
	opts    Options
	dir     *core.Directory
	sids    *core.SIDPool
	engine  *route.Engine
	router  *route.Router
	plugins *plugin.Dispatcher
	metrics *observability.Metrics
	now     func() time.Time

	ctx     context.Context
	events  chan event
	done    chan struct{}
	ready   atomic.Bool
	conns   map[core.Conn]*core.User
	leaving map[*core.User]leaving
	quits   []adc.SID
}

// New creates a hub. plugins and metrics may be shared with other
// components; both are required.
func New(opts Options, plugins *plugin.Dispatcher, metrics *observability.Metrics) *Hub {
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = DefaultLoginTimeout
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = DefaultFlushTimeout
	}

	h := &Hub{
		opts:    opts,
		dir:     core.NewDirectory(),
		sids:    core.NewSIDPool(0),
		plugins: plugins,
		metrics: metrics,
		now:     time.Now,
		ctx:     context.Background(),
		events:  make(chan event, 1024),
		done:    make(chan struct{}),
		conns:   make(map[core.Conn]*core.User),
		leaving: make(map[*core.User]leaving),
	}
	h.engine = route.NewEngine(transport{hub: h}, opts.Limits, route.WithClock(func() time.Time { return h.now() }))
	h.router = route.NewRouter(h.dir, h.engine)
	return h
}

// Directory exposes the logged in users.
func (h *Hub) Directory() *core.Directory { return h.dir }

// Ready reports whether the loop is running.
func (h *Hub) Ready() bool { return h.ready.Load() }

// Run processes events until ctx is cancelled, then terminates every
// connection and waits for plugin hooks to finish.
func (h *Hub) Run(ctx context.Context) error {
	h.ctx = ctx
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	h.ready.Store(true)
	slog.Info("hub started", "name", h.opts.Name, "max_users", h.opts.MaxUsers)

	for {
		select {
		case <-ctx.Done():
			h.ready.Store(false)
			h.shutdown()
			close(h.done)
			return nil
		case ev := <-h.events:
			h.handle(ev)
		case <-ticker.C:
			h.sweep()
		}
		h.flushQuits()
	}
}

func (h *Hub) post(ev event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *Hub) Connect(c core.Conn)              { h.post(event{kind: evConnect, conn: c}) }
func (h *Hub) Receive(c core.Conn, line []byte) { h.post(event{kind: evReceive, conn: c, line: line}) }
func (h *Hub) Writable(c core.Conn)             { h.post(event{kind: evWritable, conn: c}) }
func (h *Hub) Hangup(c core.Conn, err error)    { h.post(event{kind: evHangup, conn: c, err: err}) }

func (h *Hub) handle(ev event) {
	if ev.kind == evConnect {
		u := core.NewUser(ev.conn, h.now())
		h.conns[ev.conn] = u
		h.metrics.ConnectionsTotal.Inc()
		slog.Debug("client connected", "conn_id", ev.conn.ID().String(), "remote", ev.conn.RemoteAddr())
		return
	}

	u, ok := h.conns[ev.conn]
	if !ok {
		return
	}

	switch ev.kind {
	case evReceive:
		if u.Disconnecting() {
			return
		}
		h.receive(u, ev.line)

	case evWritable:
		// A notification that raced a re-arm answers a watch that is
		// already replaced; the armed one will fire on its own.
		if ev.conn.Watching() {
			slog.DebugContext(h.userContext(u), "stale writable notification")
			return
		}
		h.flush(u)

	case evHangup:
		slog.DebugContext(h.userContext(u), "client hung up", "error", ev.err)
		h.terminate(u, route.QuitDisconnected)
	}
}

// flush drains u's queue and finishes a pending graceful disconnect once
// the queue is empty.
func (h *Hub) flush(u *core.User) {
	if h.engine.Drain(u) != route.Drained {
		return
	}
	if l, ok := h.leaving[u]; ok {
		h.terminate(u, l.reason)
	}
}

// send delivers a hub generated message to one user and drops the
// creator reference.
func (h *Hub) send(u *core.User, msg *adc.Message) {
	h.engine.Deliver(u, msg)
	msg.Release()
}

// broadcast delivers a hub generated message to every logged in user and
// drops the creator reference.
func (h *Hub) broadcast(msg *adc.Message) {
	for _, r := range h.dir.Recipients() {
		h.engine.Deliver(r, msg)
	}
	msg.Release()
}

// flushQuits announces departures collected while handling the last
// event. Deferring them keeps termination from recursing into delivery.
func (h *Hub) flushQuits() {
	for len(h.quits) > 0 {
		sid := h.quits[0]
		h.quits = h.quits[1:]
		h.broadcast(quitMessage(sid))
	}
}

// disconnect sends an optional status to u and closes the connection
// once its queue has been flushed.
func (h *Hub) disconnect(u *core.User, reason route.QuitReason, status *adc.Message) {
	if u.Disconnecting() {
		if status != nil {
			status.Release()
		}
		return
	}
	if status != nil {
		h.send(u, status)
		if u.State() == core.StateClosed {
			return
		}
	}

	h.leave(u, reason)
	if u.Queue().Len() == 0 {
		h.terminate(u, reason)
		return
	}
	u.SetState(core.StateDisconnecting)
	h.leaving[u] = leaving{reason: reason, since: h.now()}
	slog.DebugContext(h.userContext(u), "flushing before disconnect", "queued_bytes", u.Queue().Bytes())
}

// leave takes u out of the directory, schedules its IQUI and fires the
// logout hook. It is a no-op for users that never logged in or already
// left.
func (h *Hub) leave(u *core.User, reason route.QuitReason) {
	if !h.dir.Remove(u.SID()) {
		return
	}
	h.quits = append(h.quits, u.SID())
	h.metrics.Users.Set(float64(h.dir.Len()))
	h.plugins.Logout(h.ctx, snapshot(u), string(reason))
	slog.InfoContext(h.userContext(u), "user left", "nick", u.Nick(), "reason", string(reason))
}

// terminate closes u immediately. Its queue is released and write
// interest disarmed before the socket closes.
func (h *Hub) terminate(u *core.User, reason route.QuitReason) {
	if u.State() == core.StateClosed {
		return
	}
	h.leave(u, reason)

	u.SetState(core.StateClosed)
	delete(h.leaving, u)
	u.Queue().Close()
	u.Conn().UnwatchWritable()
	if err := u.Conn().Close(); err != nil {
		slog.DebugContext(h.userContext(u), "error closing connection", "error", err)
	}
	delete(h.conns, u.Conn())
	if u.SID() != 0 {
		h.sids.Release(u.SID())
	}
	u.ReleaseInfo()

	h.metrics.DisconnectsTotal.WithLabelValues(string(reason)).Inc()
	slog.DebugContext(h.userContext(u), "connection closed", "reason", string(reason))
}

// sweep enforces the login and flush timeouts.
func (h *Hub) sweep() {
	now := h.now()
	for u, l := range h.leaving {
		if now.Sub(l.since) > h.opts.FlushTimeout {
			h.terminate(u, l.reason)
		}
	}
	for _, u := range h.conns {
		if u.State() < core.StateNormal && now.Sub(u.ConnectedAt()) > h.opts.LoginTimeout {
			h.disconnect(u, route.QuitLoginRejected, statusMessage(statusTimeout, "Login timeout"))
		}
	}
}

func (h *Hub) shutdown() {
	slog.Info("hub shutting down", "users", h.dir.Len(), "connections", len(h.conns))
	for _, u := range h.conns {
		h.terminate(u, route.QuitHubShutdown)
	}
	h.quits = nil
	h.plugins.Wait()
}

func (h *Hub) userContext(u *core.User) context.Context {
	return logging.WithAttrs(h.ctx,
		slog.String("conn_id", u.Conn().ID().String()),
		slog.String("sid", u.SID().String()),
	)
}

func snapshot(u *core.User) plugin.User {
	return plugin.User{
		SID:        u.SID(),
		CID:        u.CID(),
		Nick:       u.Nick(),
		Addr:       u.PeerAddr(),
		ShareSize:  u.ShareSize(),
		ShareFiles: u.ShareFiles(),
	}
}
