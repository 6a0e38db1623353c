package conn_test

import (
	"time"

	"github.com/flowweave/transport/conn"
	"github.com/flowweave/transport/token"
	"github.com/flowweave/transport/tunnel"
)

type fakeHandle struct{ wakes int }

func (h *fakeHandle) Wake(time.Duration) { h.wakes++ }

type fakeTransport struct {
	peerNodeID string
	closed     bool
}

func (f *fakeTransport) PeerNodeID() string          { return f.peerNodeID }
func (f *fakeTransport) SendToken(tunnel.Token) error { return nil }
func (f *fakeTransport) SendReply(tunnel.TokenReply) error {
	return nil
}
func (f *fakeTransport) Closed() bool { return f.closed }

type fakeDialer struct {
	transport tunnel.Transport
	err       error
	dialed    []string
}

func (d *fakeDialer) Dial(peerNodeID string) (tunnel.Transport, error) {
	d.dialed = append(d.dialed, peerNodeID)
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

type fakeAllocator struct {
	allocateErr      error
	allocateRequests []conn.AllocateRequest
	disconnectTokens map[int64]token.Token
	disconnectErr    error
}

func (a *fakeAllocator) AllocateTunnelIn(req conn.AllocateRequest) error {
	a.allocateRequests = append(a.allocateRequests, req)
	return a.allocateErr
}

func (a *fakeAllocator) DisconnectPeer(conn.DisconnectRequest) (map[int64]token.Token, error) {
	return a.disconnectTokens, a.disconnectErr
}
