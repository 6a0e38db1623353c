// Package port implements Port (spec.md §4.4): the owner of one queue and
// 1..N endpoints, hiding fanout from actor code.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package port

import (
	"sort"

	"github.com/flowweave/transport/cmn/cos"
	"github.com/flowweave/transport/endpoint"
	"github.com/flowweave/transport/queue"
	"github.com/flowweave/transport/token"
)

// Direction is a port's data direction.
type Direction int

const (
	In Direction = iota
	Out
)

// Terminate is the kind of disconnect requested (spec.md §4.4).
type Terminate int

const (
	// Temporary keeps the queue, reconnect is expected.
	Temporary Terminate = iota
	// Full detaches and removes the endpoint. Port.Disconnect does not drop
	// the port's queue; it stays installed for every Terminate kind.
	Full
	// Exhaust flushes in-flight tokens to the peer before dropping.
	Exhaust
	// ExhaustPeer accepts the peer's in-flight tokens and drops.
	ExhaustPeer
)

// Port is an endpoint of an actor: a stable id, owning actor id, name,
// direction, one queue, and a collection of attached endpoints (0..N for
// out, 0..1 per peer for in).
type Port struct {
	id        string
	actorID   string
	name      string
	direction Direction

	q         queue.Queue
	endpoints map[string]endpoint.Endpoint // keyed by peer port id
}

// New constructs an empty Port (no queue, no endpoints) — SetQueue must
// be called before the port can be attached to.
func New(id, actorID, name string, dir Direction) *Port {
	return &Port{id: id, actorID: actorID, name: name, direction: dir, endpoints: make(map[string]endpoint.Endpoint)}
}

func (p *Port) ID() string           { return p.id }
func (p *Port) ActorID() string      { return p.actorID }
func (p *Port) Name() string         { return p.name }
func (p *Port) Direction() Direction { return p.direction }
func (p *Port) Queue() queue.Queue   { return p.q }

// SetQueue installs q as the port's queue. Legal only when no attached
// endpoint has observed tokens not yet committed (spec.md §3 invariant):
// replacing a queue out from under an endpoint with in-flight tentative
// reads would silently drop or duplicate them.
//
// The reader id to check against is direction-dependent: an in-endpoint
// registers its reader under this port's own id (it is the sole reader
// of its queue), while an out-endpoint registers under its peer's id
// (endpoint.LocalInEndpoint/TunnelInEndpoint and
// endpoint.LocalOutEndpoint/TunnelOutEndpoint resp.) — p.endpoints is
// keyed by peer id regardless of direction, so only the Out case can use
// that key directly as the reader id.
func (p *Port) SetQueue(q queue.Queue) error {
	if p.q == nil {
		p.q = q
		return nil
	}
	if p.direction == In {
		if len(p.endpoints) > 0 && !p.q.ComIsCommitted(p.id) {
			return cos.ErrQueueBusy
		}
	} else {
		for peerID := range p.endpoints {
			if !p.q.ComIsCommitted(peerID) {
				return cos.ErrQueueBusy
			}
		}
	}
	p.q = q
	return nil
}

// AttachEndpoint installs ep, keyed by its peer port id. If an endpoint
// already existed for that peer, it is detached and returned to the
// caller for destruction (spec.md §4.4: "replacing an earlier endpoint
// for the same peer returns the old one for destruction").
func (p *Port) AttachEndpoint(ep endpoint.Endpoint) endpoint.Endpoint {
	var displaced endpoint.Endpoint
	if old, ok := p.endpoints[ep.PeerPortID()]; ok {
		old.Detached()
		displaced = old
	}
	p.endpoints[ep.PeerPortID()] = ep
	ep.Attached()
	return displaced
}

// Endpoints returns every currently attached endpoint.
func (p *Port) Endpoints() []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, ep)
	}
	return out
}

// Disconnect detaches the endpoints for peerIDs (or all endpoints if
// peerIDs is empty) per the requested Terminate kind, returning the
// detached endpoints so the caller can unregister them from the Monitor
// and read RemainingTokens off each before discarding it.
func (p *Port) Disconnect(peerIDs []string, terminate Terminate) []endpoint.Endpoint {
	targets := peerIDs
	if len(targets) == 0 {
		targets = make([]string, 0, len(p.endpoints))
		for id := range p.endpoints {
			targets = append(targets, id)
		}
	}
	removed := make([]endpoint.Endpoint, 0, len(targets))
	for _, id := range targets {
		ep, ok := p.endpoints[id]
		if !ok {
			continue
		}
		if terminate != Temporary {
			delete(p.endpoints, id)
		}
		ep.Detached()
		removed = append(removed, ep)
	}
	return removed
}

// ExhaustedTokens receives leftover tokens from a disconnected peer
// (spec.md §4.5: "Feed peer's leftover into local port via
// exhausted_tokens") and injects them into this port's queue in
// ascending sequence order, so an in-flight token isn't lost just because
// the endpoint carrying it was torn down mid-transfer.
func (p *Port) ExhaustedTokens(residual map[int64]token.Token) {
	if len(residual) == 0 || p.q == nil {
		return
	}
	seqs := make([]int64, 0, len(residual))
	for s := range residual {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, s := range seqs {
		_ = p.q.Write(residual[s])
	}
}
