// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package core

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/adchub/adchub/internal/adc"
	"github.com/adchub/adchub/internal/route"
)

// Directory tracks logged in users. Iteration order is login order.
// Reads are safe from any goroutine; the hub loop is the only writer.
type Directory struct {
	mu     sync.RWMutex
	bySID  map[adc.SID]*User
	byNick map[string]*User
	byCID  map[string]*User
	order  []*User
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		bySID:  make(map[adc.SID]*User),
		byNick: make(map[string]*User),
		byCID:  make(map[string]*User),
	}
}

func nickKey(nick string) string { return strings.ToLower(nick) }

// Add inserts a user that completed login. Nick (case-insensitive), CID
// and SID must all be unique.
func (d *Directory) Add(u *User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.bySID[u.SID()]; exists {
		return oops.Code("SID_IN_USE").With("sid", u.SID().String()).Errorf("session id already in use")
	}
	if _, exists := d.byNick[nickKey(u.Nick())]; exists {
		return oops.Code("NICK_TAKEN").With("nick", u.Nick()).Errorf("nick %q is taken", u.Nick())
	}
	if u.CID() != "" {
		if _, exists := d.byCID[u.CID()]; exists {
			return oops.Code("CID_TAKEN").With("cid", u.CID()).Errorf("cid already logged in")
		}
		d.byCID[u.CID()] = u
	}

	d.bySID[u.SID()] = u
	d.byNick[nickKey(u.Nick())] = u
	d.order = append(d.order, u)
	return nil
}

// Remove deletes a user by SID and reports whether it was present.
func (d *Directory) Remove(sid adc.SID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, exists := d.bySID[sid]
	if !exists {
		slog.Debug("remove called for unknown session", "sid", sid.String())
		return false
	}
	delete(d.bySID, sid)
	if d.byNick[nickKey(u.Nick())] == u {
		delete(d.byNick, nickKey(u.Nick()))
	}
	if u.CID() != "" && d.byCID[u.CID()] == u {
		delete(d.byCID, u.CID())
	}
	for i, o := range d.order {
		if o == u {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

// Rename moves a user's nick index entry after an INF update.
func (d *Directory) Rename(u *User, oldNick string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if nickKey(oldNick) == nickKey(u.Nick()) {
		return nil
	}
	if other, exists := d.byNick[nickKey(u.Nick())]; exists && other != u {
		return oops.Code("NICK_TAKEN").With("nick", u.Nick()).Errorf("nick %q is taken", u.Nick())
	}
	delete(d.byNick, nickKey(oldNick))
	d.byNick[nickKey(u.Nick())] = u
	return nil
}

// Lookup returns the user with sid.
func (d *Directory) Lookup(sid adc.SID) (*User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.bySID[sid]
	return u, ok
}

// LookupNick returns the user with nick, compared case-insensitively.
func (d *Directory) LookupNick(nick string) (*User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byNick[nickKey(nick)]
	return u, ok
}

// LookupCID returns the user with cid.
func (d *Directory) LookupCID(cid string) (*User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byCID[cid]
	return u, ok
}

// Users returns a snapshot in login order.
func (d *Directory) Users() []*User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]*User, len(d.order))
	copy(result, d.order)
	return result
}

// Len is the number of logged in users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// Recipient implements route.Directory.
func (d *Directory) Recipient(sid adc.SID) (route.Recipient, bool) {
	u, ok := d.Lookup(sid)
	if !ok {
		return nil, false
	}
	return u, true
}

// Recipients implements route.Directory with a snapshot copy.
func (d *Directory) Recipients() []route.Recipient {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]route.Recipient, len(d.order))
	for i, u := range d.order {
		result[i] = u
	}
	return result
}
