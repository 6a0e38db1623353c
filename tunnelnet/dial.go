package tunnelnet

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/flowweave/transport/tunnel"
)

// DialTimeout bounds how long Dial waits across all candidate addresses.
// A var, not a const, so cmn/config can apply an operator-configured
// value at startup (spec.md's ambient config layer, "dial_timeout").
var DialTimeout = 3 * time.Second

var ErrNoAddresses = errors.New("tunnelnet: no candidate addresses for peer")

// Dial races a TCP dial against every address a peer node advertises
// (useful when a node is reachable over more than one interface) and keeps
// the first successful connection, closing the rest — grounded on the
// teacher-adjacent reverse proxy's DialFast (controller/direct.go), here
// taking the candidate address list directly rather than performing DNS
// resolution itself, since resolving a peer node id to addresses is the
// caller's directory/discovery concern, not tunnelnet's.
func Dial(peerNodeID string, addrs []string, handler tunnel.Handler) (*Conn, error) {
	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}
	if len(addrs) == 1 {
		c, err := (&net.Dialer{Timeout: DialTimeout}).Dial("tcp", addrs[0])
		if err != nil {
			return nil, err
		}
		return NewConn(c, peerNodeID, handler), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()

	resCh := make(chan dialResult, len(addrs))
	for _, addr := range addrs {
		addr := addr
		go func() {
			d := &net.Dialer{Timeout: DialTimeout}
			c, err := d.DialContext(ctx, "tcp", addr)
			select {
			case resCh <- dialResult{conn: c, err: err}:
			case <-ctx.Done():
				if c != nil {
					_ = c.Close()
				}
			}
		}()
	}

	var firstErr error
	for i := 0; i < len(addrs); i++ {
		select {
		case r := <-resCh:
			if r.err != nil {
				if firstErr == nil {
					firstErr = r.err
				}
				continue
			}
			cancel()
			go drainAndClose(resCh, len(addrs)-i-1)
			return NewConn(r.conn, peerNodeID, handler), nil
		case <-ctx.Done():
			go drainAndClose(resCh, len(addrs)-i)
			return nil, firstErr
		}
	}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return nil, firstErr
}

type dialResult struct {
	conn net.Conn
	err  error
}

// drainAndClose closes any connections that win their dial race after
// Dial has already returned a winner (or given up), so a slower-but-still-
// successful dial doesn't leak a socket.
func drainAndClose(resCh <-chan dialResult, remaining int) {
	for i := 0; i < remaining; i++ {
		if r := <-resCh; r.conn != nil {
			_ = r.conn.Close()
		}
	}
}
