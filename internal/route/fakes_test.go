// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package route

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/adchub/adchub/internal/adc"
)

type fakeRecipient struct {
	sid           adc.SID
	queue         *Queue
	disconnecting bool
	fullRelay     bool
	featureCast   bool
	features      map[string]bool
	nat           bool
	addr          string
}

func newRecipient(sid adc.SID, features ...string) *fakeRecipient {
	r := &fakeRecipient{
		sid:         sid,
		queue:       NewQueue(),
		featureCast: true,
		features:    make(map[string]bool),
		addr:        "192.0.2.1",
	}
	for _, f := range features {
		r.features[f] = true
	}
	return r
}

func (r *fakeRecipient) SID() adc.SID               { return r.sid }
func (r *fakeRecipient) Queue() *Queue              { return r.queue }
func (r *fakeRecipient) Disconnecting() bool        { return r.disconnecting }
func (r *fakeRecipient) FullRelay() bool            { return r.fullRelay }
func (r *fakeRecipient) FeatureCast() bool          { return r.featureCast }
func (r *fakeRecipient) HasFeature(tok string) bool { return r.features[tok] }
func (r *fakeRecipient) NATOverride() bool          { return r.nat }
func (r *fakeRecipient) PeerAddr() string           { return r.addr }

type writeResult struct {
	n   int // -1 means the whole buffer
	err error
}

// fakeTransport scripts write results per recipient. Without a script every
// write is accepted in full.
type fakeTransport struct {
	scripts    map[adc.SID][]writeResult
	written    map[adc.SID]*bytes.Buffer
	writes     int
	watching   map[adc.SID]bool
	terminated map[adc.SID]QuitReason
}

func newTransport() *fakeTransport {
	return &fakeTransport{
		scripts:    make(map[adc.SID][]writeResult),
		written:    make(map[adc.SID]*bytes.Buffer),
		watching:   make(map[adc.SID]bool),
		terminated: make(map[adc.SID]QuitReason),
	}
}

func (t *fakeTransport) script(sid adc.SID, results ...writeResult) {
	t.scripts[sid] = append(t.scripts[sid], results...)
}

func (t *fakeTransport) Write(r Recipient, b []byte) (int, error) {
	t.writes++
	res := writeResult{n: -1}
	if s := t.scripts[r.SID()]; len(s) > 0 {
		res, t.scripts[r.SID()] = s[0], s[1:]
	}
	n := res.n
	if n < 0 || n > len(b) {
		n = len(b)
	}
	if res.err != nil && res.n < 0 {
		n = 0
	}
	buf, ok := t.written[r.SID()]
	if !ok {
		buf = &bytes.Buffer{}
		t.written[r.SID()] = buf
	}
	buf.Write(b[:n])
	return n, res.err
}

func (t *fakeTransport) WatchWritable(r Recipient)   { t.watching[r.SID()] = true }
func (t *fakeTransport) UnwatchWritable(r Recipient) { t.watching[r.SID()] = false }

func (t *fakeTransport) Terminate(r Recipient, reason QuitReason) {
	t.terminated[r.SID()] = reason
	t.watching[r.SID()] = false
	r.Queue().Close()
}

func (t *fakeTransport) output(sid adc.SID) string {
	if buf, ok := t.written[sid]; ok {
		return buf.String()
	}
	return ""
}

type fakeDirectory struct {
	users []*fakeRecipient
}

func (d *fakeDirectory) Recipient(sid adc.SID) (Recipient, bool) {
	for _, u := range d.users {
		if u.sid == sid {
			return u, true
		}
	}
	return nil, false
}

func (d *fakeDirectory) Recipients() []Recipient {
	out := make([]Recipient, len(d.users))
	for i, u := range d.users {
		out[i] = u
	}
	return out
}

type delivery struct {
	sid adc.SID
	msg *adc.Message
}

type recordingDeliverer struct {
	got []delivery
}

func (d *recordingDeliverer) Deliver(r Recipient, msg *adc.Message) Outcome {
	d.got = append(d.got, delivery{sid: r.SID(), msg: msg})
	return Sent
}

func (d *recordingDeliverer) sids() []adc.SID {
	out := make([]adc.SID, len(d.got))
	for i, g := range d.got {
		out[i] = g.sid
	}
	return out
}

// sized builds a broadcast message whose payload is exactly n bytes.
func sized(n int, opts ...adc.Option) *adc.Message {
	const header = "BMSG AAAB "
	body := strings.Repeat("x", n-len(header)-1)
	return adc.MustParse(header+body, opts...)
}

// numbered builds a short message whose body identifies it.
func numbered(i int) *adc.Message {
	return adc.MustParse(fmt.Sprintf("BMSG AAAB message-%03d", i))
}
