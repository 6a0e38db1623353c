// Package conn implements connection orchestration (spec.md §4.5):
// LocalConnection and TunnelConnection, each with Connect/Disconnect, plus
// the migration helpers that move a port's queue and redirect its tunnel
// endpoints to a new peer node. Grounded on
// original_source/calvin/.../connection/local.py's LocalConnection for the
// local case; the tunnel case is inferred from the same shape plus
// endpoint/tunnel.py's peer-facing RecvToken/Reply contract, since no
// connection/tunnel.py was retrieved into the pack — TunnelConnection
// therefore talks to the rest of a real deployment (dialing, remote
// allocation, remote disconnect) through the small Dialer/Allocator
// interfaces below rather than assuming a concrete RPC mechanism.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package conn

import (
	"github.com/flowweave/transport/cmn/cos"
	"github.com/flowweave/transport/directory"
	"github.com/flowweave/transport/endpoint"
	"github.com/flowweave/transport/monitor"
	"github.com/flowweave/transport/port"
	"github.com/flowweave/transport/queue"
	"github.com/flowweave/transport/scheduler"
	"github.com/flowweave/transport/token"
	"github.com/flowweave/transport/tunnel"
)

// ConnectInfo carries the information LocalConnection.connect's Python
// counterpart hands its callback (spec.md §4.5).
type ConnectInfo struct {
	ActorID      string
	PortName     string
	PortID       string
	PeerNodeID   string
	PeerActorID  string
	PeerPortName string
	PeerPortID   string
}

// Callback is invoked exactly once per logical connect/disconnect, with a
// non-nil err on failure (peer unreachable, queue busy, etc).
type Callback func(info ConnectInfo, err error)

func registerIfMonitored(mon *monitor.Monitor, ep endpoint.Endpoint) {
	if ep == nil || !ep.UseMonitor() || mon == nil {
		return
	}
	if comm, ok := ep.(monitor.Communicator); ok {
		mon.RegisterEndpoint(monitorKey(ep), comm)
	}
}

func unregisterIfMonitored(mon *monitor.Monitor, ep endpoint.Endpoint) {
	if ep == nil || !ep.UseMonitor() || mon == nil {
		return
	}
	mon.UnregisterEndpoint(monitorKey(ep))
}

func monitorKey(ep endpoint.Endpoint) string { return ep.PortID() + "->" + ep.PeerPortID() }

// ConnStats is an optional sink for connect/disconnect counts, implemented
// by stats.Registry. Nil disables reporting, the same "zero value means
// off" convention as endpoint.Extra.
type ConnStats interface {
	ConnectionOpened(kind string)
	ConnectionClosed(kind string)
}

func reportOpened(s ConnStats, kind string) {
	if s != nil {
		s.ConnectionOpened(kind)
	}
}

func reportClosed(s ConnStats, kind string) {
	if s != nil {
		s.ConnectionClosed(kind)
	}
}

func collectTokens(eps []endpoint.Endpoint) map[int64]token.Token {
	out := make(map[int64]token.Token)
	for _, ep := range eps {
		for seq, t := range ep.RemainingTokens() {
			out[seq] = t
		}
	}
	return out
}

func queueLength(n int) int {
	if n <= 0 {
		return queue.DefaultQueueLength
	}
	return n
}

// --- Local ------------------------------------------------------------

// LocalConnection connects two ports owned by actors on the same node
// (spec.md §4.5, grounded on connection/local.py's LocalConnection).
type LocalConnection struct {
	NodeID      string
	Port        *port.Port
	PeerPort    *port.Port
	Dir         directory.Store
	Mon         *monitor.Monitor
	Sched       scheduler.Handle
	QueueLength int
	Callback    Callback
	Stats       ConnStats
}

func (c *LocalConnection) info() ConnectInfo {
	return ConnectInfo{
		ActorID: c.Port.ActorID(), PortName: c.Port.Name(), PortID: c.Port.ID(),
		PeerActorID: c.PeerPort.ActorID(), PeerPortName: c.PeerPort.Name(), PeerPortID: c.PeerPort.ID(),
	}
}

// Connect allocates fresh queues for both ports (inport first, per
// spec.md §4.5), wires a LocalInEndpoint/LocalOutEndpoint pair between
// them, attaches both (displacing and tearing down any prior endpoint for
// the same peer), publishes both port records, and invokes Callback.
func (c *LocalConnection) Connect() error {
	inport, outport := c.Port, c.PeerPort
	if inport.Direction() != port.In {
		inport, outport = outport, inport
	}
	length := queueLength(c.QueueLength)

	if err := inport.SetQueue(queue.NewFanoutFIFO(length)); err != nil {
		if c.Callback != nil {
			c.Callback(c.info(), err)
		}
		return err
	}
	if err := outport.SetQueue(queue.NewFanoutFIFO(length)); err != nil {
		if c.Callback != nil {
			c.Callback(c.info(), err)
		}
		return err
	}

	ein := endpoint.NewLocalInEndpoint(inport.ID(), outport.ID(), inport.Queue())
	eout := endpoint.NewLocalOutEndpoint(outport.ID(), inport.ID(), outport.Queue(), inport.Queue(), c.Sched)

	registerIfMonitored(c.Mon, eout)
	registerIfMonitored(c.Mon, ein)

	if displaced := outport.AttachEndpoint(eout); displaced != nil {
		unregisterIfMonitored(c.Mon, displaced)
	}
	if displaced := inport.AttachEndpoint(ein); displaced != nil {
		unregisterIfMonitored(c.Mon, displaced)
	}

	if c.Dir != nil {
		_ = c.Dir.Put(inport.ID(), directory.PortRecord{NodeID: c.NodeID, ActorID: inport.ActorID()})
		_ = c.Dir.Put(outport.ID(), directory.PortRecord{NodeID: c.NodeID, ActorID: outport.ActorID()})
	}

	reportOpened(c.Stats, "local")
	if c.Callback != nil {
		c.Callback(c.info(), nil)
	}
	return nil
}

// Disconnect tears down both sides symmetrically (spec.md §4.5): each
// side's Port.Disconnect yields the endpoints removed, their
// RemainingTokens are fed into the *other* port via ExhaustedTokens, and
// (unless the disconnect is Temporary) the directory is updated with
// which peer is still draining.
func (c *LocalConnection) Disconnect(terminate port.Terminate) error {
	removed := c.Port.Disconnect([]string{c.PeerPort.ID()}, terminate)
	for _, ep := range removed {
		unregisterIfMonitored(c.Mon, ep)
	}
	remainingTokens := collectTokens(removed)

	peerTerminate := terminate
	if terminate == port.Exhaust {
		peerTerminate = port.ExhaustPeer
	}
	peerRemoved := c.PeerPort.Disconnect([]string{c.Port.ID()}, peerTerminate)
	for _, ep := range peerRemoved {
		unregisterIfMonitored(c.Mon, ep)
	}
	peerRemainingTokens := collectTokens(peerRemoved)

	c.Port.ExhaustedTokens(peerRemainingTokens)
	c.PeerPort.ExhaustedTokens(remainingTokens)

	if terminate != port.Temporary && c.Dir != nil {
		var localExhausting, peerExhausting []string
		if len(peerRemainingTokens) > 0 {
			localExhausting = []string{c.PeerPort.ID()}
		}
		if len(remainingTokens) > 0 {
			peerExhausting = []string{c.Port.ID()}
		}
		_ = c.Dir.Put(c.Port.ID(), directory.PortRecord{NodeID: c.NodeID, ActorID: c.Port.ActorID(), ExhaustingPeers: localExhausting})
		_ = c.Dir.Put(c.PeerPort.ID(), directory.PortRecord{NodeID: c.NodeID, ActorID: c.PeerPort.ActorID(), ExhaustingPeers: peerExhausting})
	}

	reportClosed(c.Stats, "local")
	if c.Callback != nil {
		c.Callback(c.info(), nil)
	}
	return nil
}

// --- Tunnel -------------------------------------------------------------

// Dialer obtains (dialing if necessary) the tunnel.Transport used to reach
// a peer node, e.g. tunnelnet.Dial.
type Dialer interface {
	Dial(peerNodeID string) (tunnel.Transport, error)
}

// AllocateRequest is what TunnelConnection.Connect sends the peer node to
// ask it to allocate the matching TunnelInEndpoint.
type AllocateRequest struct {
	RequestingNodeID string
	PortID           string // the requester's out port id
	PeerPortID       string // the in port id on the node receiving this request
	QueueLength      int
	Extra            endpoint.Extra
}

// DisconnectRequest is what TunnelConnection.Disconnect sends the peer
// node to ask it to symmetrically tear down its side.
type DisconnectRequest struct {
	RequestingNodeID string
	PortID           string // the peer's (receiving node's) port id
	PeerPortID       string // the requester's port id
	Terminate        port.Terminate
}

// Allocator is the remote half of tunnel connect/disconnect: a real
// deployment implements this over whatever RPC mechanism the rest of the
// actor runtime uses (outside this module's scope, spec.md §1).
type Allocator interface {
	AllocateTunnelIn(req AllocateRequest) error
	DisconnectPeer(req DisconnectRequest) (remainingTokens map[int64]token.Token, err error)
}

// TunnelConnection connects a local port to a port on a remote node
// (spec.md §4.5, inferred from endpoint/tunnel.py's peer-facing contract
// since no connection/tunnel.py source was retrieved).
type TunnelConnection struct {
	NodeID       string
	Port         *port.Port
	PeerPortID   string
	PeerPortName string
	PeerActorID  string

	Dir         directory.Store
	Mon         *monitor.Monitor
	Sched       scheduler.Handle
	Dialer      Dialer
	Allocator   Allocator
	QueueLength int
	Extra       endpoint.Extra
	Callback    Callback
	Stats       ConnStats

	peerNodeID string
}

func (c *TunnelConnection) info(err error) ConnectInfo {
	info := ConnectInfo{
		ActorID: c.Port.ActorID(), PortName: c.Port.Name(), PortID: c.Port.ID(),
		PeerNodeID: c.peerNodeID, PeerActorID: c.PeerActorID, PeerPortName: c.PeerPortName, PeerPortID: c.PeerPortID,
	}
	_ = err
	return info
}

// Connect looks the peer port up in the directory, dials (or reuses) a
// tunnel to its node, asks that node to allocate a matching
// TunnelInEndpoint, and on success attaches a TunnelOutEndpoint locally.
// On any failure — peer not found, dial failure, peer refusal — Callback
// fires with a non-nil error and no endpoint is attached (spec.md §4.5:
// "On peer-unreachable, callback err").
func (c *TunnelConnection) Connect() error {
	rec, found, err := c.Dir.Get(c.PeerPortID)
	if err != nil || !found {
		refErr := &cos.ErrPeerRefused{Peer: c.PeerPortID, Err: err}
		if c.Callback != nil {
			c.Callback(c.info(refErr), refErr)
		}
		return refErr
	}
	c.peerNodeID = rec.NodeID

	t, err := c.Dialer.Dial(rec.NodeID)
	if err != nil {
		unavailErr := &cos.ErrTunnelUnavailable{Peer: rec.NodeID, Err: err}
		if c.Callback != nil {
			c.Callback(c.info(unavailErr), unavailErr)
		}
		return unavailErr
	}

	length := queueLength(c.QueueLength)
	if err := c.Port.SetQueue(queue.NewFanoutFIFO(length)); err != nil {
		if c.Callback != nil {
			c.Callback(c.info(err), err)
		}
		return err
	}

	req := AllocateRequest{
		RequestingNodeID: c.NodeID, PortID: c.Port.ID(), PeerPortID: c.PeerPortID,
		QueueLength: length, Extra: c.Extra,
	}
	if err := c.Allocator.AllocateTunnelIn(req); err != nil {
		refErr := &cos.ErrPeerRefused{Peer: rec.NodeID, Err: err}
		if c.Callback != nil {
			c.Callback(c.info(refErr), refErr)
		}
		return refErr
	}

	eout := endpoint.NewTunnelOutEndpoint(c.Port.ID(), rec.NodeID, c.PeerPortID, c.Port.Queue(), t, c.Sched, c.Extra)
	registerIfMonitored(c.Mon, eout)
	if displaced := c.Port.AttachEndpoint(eout); displaced != nil {
		unregisterIfMonitored(c.Mon, displaced)
	}

	if c.Dir != nil {
		_ = c.Dir.Put(c.Port.ID(), directory.PortRecord{NodeID: c.NodeID, ActorID: c.Port.ActorID()})
	}

	reportOpened(c.Stats, "tunnel")
	if c.Callback != nil {
		c.Callback(c.info(nil), nil)
	}
	return nil
}

// Disconnect tears down the local TunnelOutEndpoint, asks the peer node
// (via Allocator) to symmetrically tear down its TunnelInEndpoint, and
// feeds whichever remaining tokens the peer reports back into this port
// (spec.md §4.5).
func (c *TunnelConnection) Disconnect(terminate port.Terminate) error {
	removed := c.Port.Disconnect([]string{c.PeerPortID}, terminate)
	for _, ep := range removed {
		unregisterIfMonitored(c.Mon, ep)
	}
	remainingTokens := collectTokens(removed)

	peerTerminate := terminate
	if terminate == port.Exhaust {
		peerTerminate = port.ExhaustPeer
	}

	var peerRemainingTokens map[int64]token.Token
	if c.Allocator != nil && c.peerNodeID != "" {
		peerRemainingTokens, _ = c.Allocator.DisconnectPeer(DisconnectRequest{
			RequestingNodeID: c.NodeID, PortID: c.PeerPortID, PeerPortID: c.Port.ID(), Terminate: peerTerminate,
		})
	}
	c.Port.ExhaustedTokens(peerRemainingTokens)

	if terminate != port.Temporary && c.Dir != nil {
		var exhausting []string
		if len(remainingTokens) > 0 {
			exhausting = []string{c.Port.ID()}
		}
		_ = c.Dir.Put(c.PeerPortID, directory.PortRecord{NodeID: c.peerNodeID, ActorID: c.PeerActorID, ExhaustingPeers: exhausting})
	}

	reportClosed(c.Stats, "tunnel")
	if c.Callback != nil {
		c.Callback(c.info(nil), nil)
	}
	return nil
}
