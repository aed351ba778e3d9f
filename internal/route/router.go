// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package route

import (
	"net/netip"

	"github.com/samber/oops"

	"github.com/adchub/adchub/internal/adc"
)

// Deliverer delivers one message to one recipient. *Engine implements it.
type Deliverer interface {
	Deliver(r Recipient, msg *adc.Message) Outcome
}

// Router dispatches messages to their recipient set. It keeps no state
// between calls.
type Router struct {
	dir     Directory
	deliver Deliverer
}

// NewRouter creates a router over dir that hands deliveries to d.
func NewRouter(dir Directory, d Deliverer) *Router {
	return &Router{dir: dir, deliver: d}
}

// Route delivers msg according to its addressing mode. Unresolved direct
// targets and unrouted modes are silently ignored.
func (rt *Router) Route(sender Recipient, msg *adc.Message) error {
	if msg == nil {
		return oops.Code("ROUTE_NIL_MESSAGE").Errorf("cannot route nil message")
	}
	RoutedMessages.WithLabelValues(msg.Mode().String()).Inc()

	switch msg.Mode() {
	case adc.Broadcast:
		rt.broadcast(msg)

	case adc.Direct:
		if target, ok := rt.dir.Recipient(msg.Target()); ok {
			rt.deliver.Deliver(target, msg)
		}

	case adc.DirectEcho:
		if target, ok := rt.dir.Recipient(msg.Target()); ok {
			rt.deliver.Deliver(target, msg)
			if sender != nil {
				rt.deliver.Deliver(sender, msg)
			}
		}

	case adc.FeatureCast:
		rt.featureCast(msg)
	}
	return nil
}

func (rt *Router) broadcast(msg *adc.Message) {
	for _, r := range rt.dir.Recipients() {
		rt.deliver.Deliver(r, msg)
	}
}

func (rt *Router) featureCast(msg *adc.Message) {
	for _, r := range rt.dir.Recipients() {
		if r.FeatureCast() && matchFeatures(r, msg.Include(), msg.Exclude()) {
			rt.deliver.Deliver(r, msg)
		}
	}
}

// matchFeatures reports whether r supports every include token and none of
// the exclude tokens. Exclusion is only evaluated once inclusion passed.
func matchFeatures(r Recipient, include, exclude []string) bool {
	for _, f := range include {
		if !r.HasFeature(f) {
			return false
		}
	}
	for _, f := range exclude {
		if r.HasFeature(f) {
			return false
		}
	}
	return true
}

// RouteInfo broadcasts a user's INF. When the announcer asked for address
// substitution, recipients that also use it receive a copy carrying the
// announcer's observed address; everyone else receives info unchanged.
func (rt *Router) RouteInfo(announcer Recipient, info *adc.Message) error {
	if info == nil {
		return oops.Code("ROUTE_NIL_MESSAGE").Errorf("cannot route nil message")
	}
	if !announcer.NATOverride() {
		return rt.Route(announcer, info)
	}

	addr, err := netip.ParseAddr(announcer.PeerAddr())
	if err != nil {
		return oops.Code("ROUTE_BAD_PEER_ADDR").
			With("sid", announcer.SID().String()).
			With("addr", announcer.PeerAddr()).
			Wrap(err)
	}
	field := adc.ArgIPv4
	if !addr.Unmap().Is4() {
		field = adc.ArgIPv6
	}

	patched := info.WithArg(field, addr.Unmap().String())
	defer patched.Release()

	RoutedMessages.WithLabelValues(info.Mode().String()).Inc()
	for _, r := range rt.dir.Recipients() {
		if r.NATOverride() {
			rt.deliver.Deliver(r, patched)
		} else {
			rt.deliver.Deliver(r, info)
		}
	}
	return nil
}
