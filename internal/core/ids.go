// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/adchub/adchub/internal/adc"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewConnID returns a new connection identifier. Connection IDs are only
// used in logs; sessions are addressed by SID.
func NewConnID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// SIDPool hands out session identifiers. Released SIDs are reused only
// after the cursor wraps, so a stale direct message is unlikely to reach
// a newly connected user.
type SIDPool struct {
	mu    sync.Mutex
	used  map[adc.SID]struct{}
	next  adc.SID
	limit adc.SID
}

// NewSIDPool creates a pool serving SIDs 1..max. SID 0 (AAAA) is reserved
// for the hub itself.
func NewSIDPool(maxUsers int) *SIDPool {
	limit := adc.MaxSID
	if maxUsers > 0 && adc.SID(maxUsers) < limit {
		limit = adc.SID(maxUsers)
	}
	return &SIDPool{
		used:  make(map[adc.SID]struct{}),
		next:  1,
		limit: limit,
	}
}

// Allocate reserves a free SID.
func (p *SIDPool) Allocate() (adc.SID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.used) >= int(p.limit) {
		return 0, oops.Code("SID_POOL_EXHAUSTED").With("limit", int(p.limit)).Errorf("no free session ids")
	}
	for {
		sid := p.next
		p.next++
		if p.next > p.limit {
			p.next = 1
		}
		if _, taken := p.used[sid]; !taken {
			p.used[sid] = struct{}{}
			return sid, nil
		}
	}
}

// Release returns sid to the pool.
func (p *SIDPool) Release(sid adc.SID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, sid)
}

// InUse is the number of allocated SIDs.
func (p *SIDPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}
