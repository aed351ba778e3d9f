// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

// Package core holds the hub's session bookkeeping: connected users and
// the directory that resolves them.
package core

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/adchub/adchub/internal/adc"
	"github.com/adchub/adchub/internal/route"
)

// Conn is the socket behind a user.
type Conn interface {
	ID() ulid.ULID
	RemoteAddr() string
	// Write performs one non-blocking write; see route.Transport.
	Write(b []byte) (int, error)
	// WatchWritable requests a single writable notification.
	WatchWritable()
	UnwatchWritable()
	// Watching reports whether a requested notification is still
	// outstanding.
	Watching() bool
	Close() error
}

// State is a connection's position in the login sequence.
type State uint8

const (
	StateProtocol State = iota // waiting for HSUP
	StateIdentify              // waiting for BINF
	StateNormal                // logged in
	StateDisconnecting         // flushing queue before close
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateProtocol:
		return "protocol"
	case StateIdentify:
		return "identify"
	case StateNormal:
		return "normal"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// User is one connection and, once logged in, its session. It implements
// route.Recipient. Users are owned by the hub loop and are not safe for
// concurrent mutation.
type User struct {
	conn        Conn
	queue       *route.Queue
	state       State
	sid         adc.SID
	connectedAt time.Time

	cid         string
	nick        string
	info        *adc.Message
	supports    map[string]struct{}
	features    map[string]struct{}
	natOverride bool
	fullRelay   bool
	shareSize   uint64
	shareFiles  uint64
}

// NewUser wraps a connection accepted at connectedAt.
func NewUser(conn Conn, connectedAt time.Time) *User {
	return &User{
		conn:        conn,
		queue:       route.NewQueue(),
		state:       StateProtocol,
		connectedAt: connectedAt,
		supports:    make(map[string]struct{}),
		features:    make(map[string]struct{}),
	}
}

func (u *User) Conn() Conn             { return u.conn }
func (u *User) SID() adc.SID           { return u.sid }
func (u *User) Queue() *route.Queue    { return u.queue }
func (u *User) State() State           { return u.state }
func (u *User) CID() string            { return u.cid }
func (u *User) Nick() string           { return u.nick }
func (u *User) FullRelay() bool        { return u.fullRelay }
func (u *User) NATOverride() bool      { return u.natOverride }
func (u *User) ShareSize() uint64      { return u.shareSize }
func (u *User) ShareFiles() uint64     { return u.shareFiles }
func (u *User) ConnectedAt() time.Time { return u.connectedAt }

// Info is the user's current INF without private fields. The user keeps
// ownership; callers that queue it go through the engine, which retains.
func (u *User) Info() *adc.Message { return u.info }

// Disconnecting reports whether the connection is on its way out.
func (u *User) Disconnecting() bool {
	return u.state >= StateDisconnecting
}

// LoggedIn reports whether the user completed BINF and is in the directory.
func (u *User) LoggedIn() bool { return u.state == StateNormal }

// PeerAddr is the remote IP without port.
func (u *User) PeerAddr() string {
	addr := u.conn.RemoteAddr()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// FeatureCast reports whether the client negotiated ADFEAT.
func (u *User) FeatureCast() bool { return u.Supports("FEAT") }

// HasFeature reports whether the user advertised token in its SU field.
func (u *User) HasFeature(token string) bool {
	_, ok := u.features[token]
	return ok
}

// Supports reports whether the client's HSUP added the extension.
func (u *User) Supports(ext string) bool {
	_, ok := u.supports[ext]
	return ok
}

func (u *User) SetState(s State)       { u.state = s }
func (u *User) SetSID(sid adc.SID)     { u.sid = sid }
func (u *User) SetFullRelay(on bool)   { u.fullRelay = on }
func (u *User) SetNATOverride(on bool) { u.natOverride = on }

// ApplySupports processes the AD/RM tokens of an HSUP message.
func (u *User) ApplySupports(sup *adc.Message) {
	for _, a := range sup.Args() {
		if len(a) != 6 {
			continue
		}
		switch a[:2] {
		case "AD":
			u.supports[a[2:]] = struct{}{}
		case "RM":
			delete(u.supports, a[2:])
		}
	}
}

// ApplyInfo merges an INF into the stored one and refreshes the cached
// fields. The private ID/PD pair is never stored. The first INF sets the
// CID; later updates cannot change it.
func (u *User) ApplyInfo(inf *adc.Message) {
	merged := inf.WithoutArgs(adc.ArgPID)
	if u.info != nil {
		merged.Release()
		merged = u.info.Retain()
		for _, kv := range inf.NamedArgs() {
			if kv[0] == adc.ArgPID || kv[0] == adc.ArgCID {
				continue
			}
			next := merged.WithArg(kv[0], kv[1])
			merged.Release()
			merged = next
		}
		u.info.Release()
	} else if cid, ok := inf.Arg(adc.ArgCID); ok {
		u.cid = cid
	}
	u.info = merged

	if v, ok := merged.Arg(adc.ArgNick); ok {
		u.nick = v
	}
	if v, ok := merged.Arg(adc.ArgShareSize); ok {
		u.shareSize, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := merged.Arg(adc.ArgShareFiles); ok {
		u.shareFiles, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := merged.Arg(adc.ArgSupports); ok {
		u.features = make(map[string]struct{})
		for _, f := range strings.Split(v, ",") {
			if f != "" {
				u.features[f] = struct{}{}
			}
		}
	}
}

// ReleaseInfo drops the stored INF. Called once when the user goes away.
func (u *User) ReleaseInfo() {
	if u.info != nil {
		u.info.Release()
		u.info = nil
	}
}
