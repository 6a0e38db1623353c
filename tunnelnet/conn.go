package tunnelnet

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/flowweave/transport/cmn/nlog"
	"github.com/flowweave/transport/tunnel"
)

// sendQueueLen bounds the outbound buffered channel per Conn; once full,
// SendToken/SendReply return tunnel.ErrWouldBlock rather than blocking
// (spec.md §5), mirroring the teacher's channel-based MsgStream.Send
// (transport/sendmsg.go) with an explicit non-blocking variant instead of
// an implicit blocking one.
const sendQueueLen = 256

type outFrame struct {
	magic   [4]byte
	payload []byte
}

// Conn is a tunnel.Transport over one net.Conn: one reader goroutine
// decodes frames and dispatches them to a tunnel.Handler, one writer
// goroutine drains a bounded outbound channel so a slow peer can't block
// the caller's send.
type Conn struct {
	conn       net.Conn
	peerNodeID string
	handler    tunnel.Handler

	outCh  chan outFrame
	closed atomic.Bool
	doneCh chan struct{}

	closeOnce sync.Once
}

var _ tunnel.Transport = (*Conn)(nil)

// NewConn wraps an established net.Conn as a tunnel.Transport addressing
// peerNodeID, delivering decoded messages to handler. Callers own dialing
// (see Dial) or accepting the underlying net.Conn.
func NewConn(c net.Conn, peerNodeID string, handler tunnel.Handler) *Conn {
	tc := &Conn{
		conn: c, peerNodeID: peerNodeID, handler: handler,
		outCh:  make(chan outFrame, sendQueueLen),
		doneCh: make(chan struct{}),
	}
	go tc.readLoop()
	go tc.writeLoop()
	return tc
}

func (c *Conn) PeerNodeID() string { return c.peerNodeID }
func (c *Conn) Closed() bool       { return c.closed.Load() }

func (c *Conn) SendToken(t tunnel.Token) error {
	payload, err := encodeToken(t)
	if err != nil {
		return err
	}
	return c.enqueue(outFrame{magic: magicToken, payload: payload})
}

func (c *Conn) SendReply(r tunnel.TokenReply) error {
	payload, err := encodeReply(r)
	if err != nil {
		return err
	}
	return c.enqueue(outFrame{magic: magicReply, payload: payload})
}

func (c *Conn) enqueue(f outFrame) error {
	if c.closed.Load() {
		return tunnel.ErrWouldBlock
	}
	select {
	case c.outCh <- f:
		return nil
	default:
		return tunnel.ErrWouldBlock
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case f := <-c.outCh:
			if err := writeFrame(c.conn, f.magic, f.payload); err != nil {
				nlog.Warningf("tunnelnet: write to %s: %v", c.peerNodeID, err)
				c.shutdown()
				return
			}
		case <-c.doneCh:
			return
		}
	}
}

func (c *Conn) readLoop() {
	for {
		magic, payload, err := readFrame(c.conn)
		if err != nil {
			if err != io.EOF {
				nlog.Warningf("tunnelnet: read from %s: %v", c.peerNodeID, err)
			}
			c.shutdown()
			return
		}
		switch magic {
		case magicToken:
			tok, err := decodeToken(payload)
			if err != nil {
				nlog.Warningf("tunnelnet: decode token from %s: %v", c.peerNodeID, err)
				continue
			}
			c.handler.RecvToken(tok)
		case magicReply:
			reply, err := decodeReply(payload)
			if err != nil {
				nlog.Warningf("tunnelnet: decode reply from %s: %v", c.peerNodeID, err)
				continue
			}
			c.handler.RecvReply(reply)
		default:
			nlog.Warningf("tunnelnet: %v from %s", ErrInvalidMagic, c.peerNodeID)
			c.shutdown()
			return
		}
	}
}

// Close shuts the connection down; idempotent.
func (c *Conn) Close() error {
	c.shutdown()
	return c.conn.Close()
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.doneCh)
	})
}
