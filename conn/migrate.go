// Migration (spec.md §4.5): when an actor moves from node A to node B,
// each of its ports' queues is snapshotted (fifo contents plus
// tentative/committed positions) and restored at B; the actor's own new
// endpoints are built fresh, but endpoints on *other* nodes that still
// point at this actor's ports are redirected in place — peer_port_id
// never changes, so their committed positions (and, for a
// TunnelOutEndpoint, its backoff state) remain valid across the move.
package conn

import (
	"github.com/flowweave/transport/cmn/cos"
	"github.com/flowweave/transport/endpoint"
	"github.com/flowweave/transport/port"
	"github.com/flowweave/transport/queue"
	"github.com/flowweave/transport/tunnel"
)

// SnapshotQueue captures p's queue for transfer to the target node. The
// caller is responsible for actually shipping the bytes (e.g. over the
// same tunnel.Transport used for tokens, or via the directory) — this
// repo's scope is the snapshot format and its restoration, not the
// transfer mechanism (spec.md §1 out of scope: actor replication).
func SnapshotQueue(p *port.Port) (queue.Snapshot, error) {
	if p.Queue() == nil {
		return queue.Snapshot{}, &cos.ErrUnknownReader{Reader: p.ID()}
	}
	return p.Queue().Snapshot(), nil
}

// RestoreQueue reconstructs and installs a queue from snap onto p, used at
// the migration target. The ring size is taken from snap.N as is: neither
// RestoreQueue nor queue.Restore/RestoreRoundRobin compares it with any
// ring size on the target, so a snapshot is not rejected for its N.
func RestoreQueue(p *port.Port, snap queue.Snapshot) error {
	var (
		q   queue.Queue
		err error
	)
	switch snap.QueueType {
	case "fanout_fifo":
		q, err = queue.Restore(snap)
	case "round_robin_fifo":
		q, err = queue.RestoreRoundRobin(snap)
	default:
		return cos.ErrProtocolInvalid
	}
	if err != nil {
		return err
	}
	return p.SetQueue(q)
}

// RedirectPeer updates the peer_node_id of whichever of p's attached
// endpoints serves peerPortID, optionally rebinding it to a freshly dialed
// transport (pass nil to leave the existing transport, e.g. when only the
// logical peer identity changed and the physical tunnel is unaffected).
// Returns cos.ErrUnknownReader if no such endpoint is attached, and also
// if the attached endpoint isn't tunnel-backed (a local endpoint has no
// peer_node_id to redirect).
func RedirectPeer(p *port.Port, peerPortID, newPeerNodeID string, newTransport tunnel.Transport) error {
	for _, ep := range p.Endpoints() {
		if ep.PeerPortID() != peerPortID {
			continue
		}
		r, ok := ep.(endpoint.Redirectable)
		if !ok {
			return &cos.ErrUnknownReader{Reader: peerPortID}
		}
		r.Redirect(newPeerNodeID)
		if newTransport != nil {
			switch e := ep.(type) {
			case *endpoint.TunnelOutEndpoint:
				e.SetTransport(newTransport)
			case *endpoint.TunnelInEndpoint:
				e.SetTransport(newTransport)
			}
		}
		return nil
	}
	return &cos.ErrUnknownReader{Reader: peerPortID}
}
