// Package endpoint implements the four endpoint variants that bind a
// port's queue to either another local queue or a remote tunnel
// (spec.md §4.2, §4.3). Endpoints never hold a pointer to their owning
// Port: per spec.md §9 ("Cyclic references... use arena + stable IDs.
// Endpoints hold the port's id and a handle to the scheduler's port table;
// queues are owned by ports; endpoints do not own ports"), an endpoint
// holds its port's id and a direct reference to the queue.Queue it drives
// — which the owning port handed it at attach time — plus a
// scheduler.Handle to request re-examination.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package endpoint

import (
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowweave/transport/cmn/mono"
	"github.com/flowweave/transport/cmn/nlog"
	"github.com/flowweave/transport/queue"
	"github.com/flowweave/transport/scheduler"
	"github.com/flowweave/transport/token"
	"github.com/flowweave/transport/tunnel"
)

// Endpoint is the contract every variant below satisfies; Port (§4.4)
// programs against this interface only.
type Endpoint interface {
	PortID() string
	PeerNodeID() string
	PeerPortID() string
	IsConnected() bool
	// UseMonitor reports whether this endpoint needs periodic Monitor
	// ticks to make progress (true only for TunnelOutEndpoint).
	UseMonitor() bool
	// Attached is called once by Port.attach_endpoint, after the
	// endpoint has been installed, to let it register itself as a
	// reader on whichever queue it drives.
	Attached()
	// Detached is called once by Port.disconnect before the endpoint is
	// discarded, so it can roll back any tentative reads left in flight.
	Detached()
	// RemainingTokens returns the unsent/unacked backlog this endpoint
	// was still holding at disconnect time, keyed by sequence number —
	// fed to the peer's Port.ExhaustedTokens (spec.md §4.5).
	RemainingTokens() map[int64]token.Token
}

// Redirectable is implemented by the two tunnel endpoint variants to
// support migration (spec.md §4.5): when the peer actor moves to a
// different node, peer_port_id is unchanged (so committed positions stay
// valid) but peer_node_id must be updated so outbound sends and inbound
// replies reach the peer's new location.
type Redirectable interface {
	Redirect(newPeerNodeID string)
}

// Observer is an optional sink for per-endpoint send/ack/nack events,
// implemented by stats.Registry. Left nil, an endpoint reports nothing —
// stats is an ambient concern the transport core must not require to
// function.
type Observer interface {
	TokenSent(portID string, bytes int)
	TokenAcked(portID string)
	TokenNacked(portID string)
}

// Extra carries the optional per-endpoint knobs from SPEC_FULL.md §4.3
// that layer on top of the core ACK/NACK protocol without changing its
// semantics: compression, a bulk-mode byte-rate cap, and a stats
// observer. Zero value means "off."
type Extra struct {
	Compression bool
	BytesPerSec float64
	Stats       Observer
}

// --- LocalIn / LocalOut --------------------------------------------------

// LocalInEndpoint is the passive half of a same-node connection: it exists
// so Port.disconnect has something symmetrical to tear down, but never
// drives the queues itself — LocalOutEndpoint.Communicate does all the
// work, synchronously, within one scheduler tick (spec.md §4.2).
type LocalInEndpoint struct {
	portID     string
	peerPortID string
	inQueue    queue.Queue
}

var _ Endpoint = (*LocalInEndpoint)(nil)

func NewLocalInEndpoint(portID, peerPortID string, inQueue queue.Queue) *LocalInEndpoint {
	return &LocalInEndpoint{portID: portID, peerPortID: peerPortID, inQueue: inQueue}
}

func (e *LocalInEndpoint) PortID() string     { return e.portID }
func (e *LocalInEndpoint) PeerNodeID() string { return "" } // same node
func (e *LocalInEndpoint) PeerPortID() string { return e.peerPortID }
func (e *LocalInEndpoint) IsConnected() bool  { return true }
func (e *LocalInEndpoint) UseMonitor() bool   { return false }

func (e *LocalInEndpoint) Attached() {
	if err := e.inQueue.AddReader(e.portID); err != nil {
		nlog.Warningf("local-in %s: add_reader: %v", e.portID, err)
	}
}

func (e *LocalInEndpoint) Detached() {
	e.inQueue.Cancel(e.portID)
}

func (e *LocalInEndpoint) RemainingTokens() map[int64]token.Token {
	pending, err := e.inQueue.Pending(e.portID)
	if err != nil {
		return nil
	}
	return pending
}

// LocalOutEndpoint couples an outport's queue directly to an inport's
// queue, draining one into the other on every scheduler tick with no
// sequence-number protocol — delivery is synchronous within the process.
type LocalOutEndpoint struct {
	portID     string
	peerPortID string // the inport's id; also the reader identity on outQueue
	outQueue   queue.Queue
	inQueue    queue.Queue
	sched      scheduler.Handle
}

var _ Endpoint = (*LocalOutEndpoint)(nil)

func NewLocalOutEndpoint(portID, peerPortID string, outQueue, inQueue queue.Queue, sched scheduler.Handle) *LocalOutEndpoint {
	return &LocalOutEndpoint{portID: portID, peerPortID: peerPortID, outQueue: outQueue, inQueue: inQueue, sched: sched}
}

func (e *LocalOutEndpoint) PortID() string     { return e.portID }
func (e *LocalOutEndpoint) PeerNodeID() string { return "" }
func (e *LocalOutEndpoint) PeerPortID() string { return e.peerPortID }
func (e *LocalOutEndpoint) IsConnected() bool  { return true }
func (e *LocalOutEndpoint) UseMonitor() bool   { return false }

func (e *LocalOutEndpoint) Attached() {
	if err := e.outQueue.AddReader(e.peerPortID); err != nil {
		nlog.Warningf("local-out %s: add_reader: %v", e.portID, err)
	}
}

func (e *LocalOutEndpoint) Detached() {
	e.outQueue.Cancel(e.peerPortID)
}

func (e *LocalOutEndpoint) RemainingTokens() map[int64]token.Token {
	pending, err := e.outQueue.Pending(e.peerPortID)
	if err != nil {
		return nil
	}
	return pending
}

// Communicate drains the outport's queue into the inport's queue while
// both sides have room, stopping (and relying on the caller to re-arm the
// trigger once the inport frees a slot) the moment the inport fills.
// Invariant (spec.md §4.2): between ticks, every token written to the
// outport is in exactly one of the two queues, never both, never neither.
func (e *LocalOutEndpoint) Communicate() (sent bool) {
	for e.outQueue.TokensAvailable(1, e.peerPortID) && e.inQueue.SlotsAvailable(1) {
		t, err := e.outQueue.Peek(e.peerPortID)
		if err != nil {
			break
		}
		if err := e.inQueue.Write(t); err != nil {
			// Shouldn't happen: SlotsAvailable(1) just said yes. Roll
			// back the peek and stop rather than lose the token.
			e.outQueue.Cancel(e.peerPortID)
			break
		}
		e.outQueue.Commit(e.peerPortID)
		sent = true
	}
	return sent
}

// --- Tunnel ---------------------------------------------------------------

// TunnelInEndpoint is the receiving half of the reliable ACK/NACK
// protocol (spec.md §4.3).
type TunnelInEndpoint struct {
	portID     string
	peerNodeID string
	peerPortID string
	q          queue.Queue
	t          tunnel.Transport
	sched      scheduler.Handle
	extra      Extra
}

var _ Endpoint = (*TunnelInEndpoint)(nil)

func NewTunnelInEndpoint(portID, peerNodeID, peerPortID string, q queue.Queue, t tunnel.Transport, sched scheduler.Handle, extra Extra) *TunnelInEndpoint {
	return &TunnelInEndpoint{portID: portID, peerNodeID: peerNodeID, peerPortID: peerPortID, q: q, t: t, sched: sched, extra: extra}
}

func (e *TunnelInEndpoint) PortID() string     { return e.portID }
func (e *TunnelInEndpoint) PeerNodeID() string { return e.peerNodeID }
func (e *TunnelInEndpoint) PeerPortID() string { return e.peerPortID }
func (e *TunnelInEndpoint) IsConnected() bool  { return true }
func (e *TunnelInEndpoint) UseMonitor() bool   { return false }

func (e *TunnelInEndpoint) Attached() {
	if err := e.q.AddReader(e.portID); err != nil {
		nlog.Warningf("tunnel-in %s: add_reader: %v", e.portID, err)
	}
}

func (e *TunnelInEndpoint) Detached() {
	e.q.Cancel(e.portID)
}

func (e *TunnelInEndpoint) RemainingTokens() map[int64]token.Token {
	pending, err := e.q.Pending(e.portID)
	if err != nil {
		return nil
	}
	return pending
}

var _ Redirectable = (*TunnelInEndpoint)(nil)

// Redirect updates the node this endpoint believes its peer lives on,
// leaving peer_port_id (and therefore all queue state) untouched.
func (e *TunnelInEndpoint) Redirect(newPeerNodeID string) { e.peerNodeID = newPeerNodeID }

// SetTransport swaps the tunnel.Transport this endpoint sends replies
// over; see TunnelOutEndpoint.SetTransport.
func (e *TunnelInEndpoint) SetTransport(t tunnel.Transport) { e.t = t }

// RecvToken handles an inbound TOKEN message: decode, com_write, and reply
// ACK/NACK according to the outcome (spec.md §4.3).
func (e *TunnelInEndpoint) RecvToken(msg tunnel.Token) {
	raw := msg.Encoded
	var decodeErr error
	if e.extra.Compression {
		raw, decodeErr = decompress(raw)
	}
	var ok bool
	if decodeErr != nil {
		ok = false
	} else if tok, err := token.Decode(raw); err != nil {
		ok = false
	} else if !e.q.SlotsAvailable(1) {
		ok = false // queue full: NACK without touching the queue
	} else {
		switch e.q.ComWrite(tok, msg.SequenceNbr) {
		case queue.Handled:
			ok = true
			e.sched.Wake(0)
		case queue.Unhandled:
			ok = true // duplicate, already accepted earlier
		case queue.Invalid:
			ok = false // future seq, sender must retransmit gaps
		}
	}
	value := tunnel.ACK
	if !ok {
		value = tunnel.NACK
	}
	reply := tunnel.NewTokenReply(e.portID, e.peerPortID, msg.SequenceNbr, value)
	if err := e.t.SendReply(reply); err != nil {
		nlog.Warningf("tunnel-in %s: send reply: %v", e.portID, err)
	}
}

// bulkMode/slowMode name the two TunnelOut modes (spec.md "State
// machine of a TunnelOut").
type sendMode int

const (
	bulkMode sendMode = iota
	slowMode
)

// TunnelOutEndpoint is the sending half: it maintains the adaptive-backoff
// state machine described in spec.md §4.3 and §9 and is the one endpoint
// variant that needs Monitor ticks (UseMonitor() == true).
type TunnelOutEndpoint struct {
	portID     string
	peerNodeID string
	peerPortID string
	q          queue.Queue
	t          tunnel.Transport
	sched      scheduler.Handle
	extra      Extra

	mode         sendMode
	backoff      float64 // seconds, in [0, 1]
	nextSendTime int64   // mono.NanoTime() deadline
	ackedOOO     []int64 // acked_out_of_order, kept sorted ascending

	limiter *rate.Limiter // nil unless extra.BytesPerSec > 0
}

var _ Endpoint = (*TunnelOutEndpoint)(nil)

func NewTunnelOutEndpoint(portID, peerNodeID, peerPortID string, q queue.Queue, t tunnel.Transport, sched scheduler.Handle, extra Extra) *TunnelOutEndpoint {
	e := &TunnelOutEndpoint{
		portID: portID, peerNodeID: peerNodeID, peerPortID: peerPortID,
		q: q, t: t, sched: sched, extra: extra,
		mode: bulkMode,
	}
	if extra.BytesPerSec > 0 {
		// Burst of one second's worth so a quiet endpoint can still send a
		// reasonably sized token the instant data shows up, rather than
		// starting empty and trickling from zero.
		e.limiter = rate.NewLimiter(rate.Limit(extra.BytesPerSec), int(extra.BytesPerSec))
	}
	return e
}

func (e *TunnelOutEndpoint) PortID() string     { return e.portID }
func (e *TunnelOutEndpoint) PeerNodeID() string { return e.peerNodeID }
func (e *TunnelOutEndpoint) PeerPortID() string { return e.peerPortID }
func (e *TunnelOutEndpoint) IsConnected() bool  { return true }
func (e *TunnelOutEndpoint) UseMonitor() bool   { return true }

func (e *TunnelOutEndpoint) Attached() {
	if err := e.q.AddReader(e.peerPortID); err != nil {
		nlog.Warningf("tunnel-out %s: add_reader: %v", e.portID, err)
	}
}

// Detached cancels any tentative reads back to committed: tokens sent but
// not yet acked will be re-peeked and re-sent once reattached, and the
// peer simply re-acks duplicates it already has (spec.md §4.3).
func (e *TunnelOutEndpoint) Detached() {
	e.q.Cancel(e.peerPortID)
}

func (e *TunnelOutEndpoint) RemainingTokens() map[int64]token.Token {
	pending, err := e.q.Pending(e.peerPortID)
	if err != nil {
		return nil
	}
	return pending
}

var _ Redirectable = (*TunnelOutEndpoint)(nil)

// Redirect updates the node this endpoint sends TOKEN messages to, leaving
// peer_port_id untouched so committed positions and in-flight backoff
// state survive the peer's migration unchanged.
func (e *TunnelOutEndpoint) Redirect(newPeerNodeID string) { e.peerNodeID = newPeerNodeID }

// SetTransport swaps the tunnel.Transport this endpoint sends over, used
// alongside Redirect when a migration also requires dialing a new
// connection to the peer's new node (the old Transport, if any, is left
// for the caller to close).
func (e *TunnelOutEndpoint) SetTransport(t tunnel.Transport) { e.t = t }

func (e *TunnelOutEndpoint) sendOne() bool {
	seq, tok, err := e.q.ComPeek(e.peerPortID)
	if err != nil {
		return false
	}
	encoded, err := tok.Encode()
	if err != nil {
		nlog.Errorf("tunnel-out %s: encode seq %d: %v", e.portID, seq, err)
		return false
	}
	if e.extra.Compression {
		encoded = compress(encoded)
	}
	if e.limiter != nil && !e.limiter.AllowN(time.Now(), len(encoded)) {
		// Over the configured byte rate for this tick; roll the tentative
		// read back so the next Monitor tick re-peeks and retries the same
		// seq rather than bursting unbounded. Delay is computed directly from
		// the configured rate rather than a second limiter reservation, which
		// would consume tokens this call never intended to spend.
		e.q.ComCancel(e.peerPortID, seq)
		delay := time.Duration(float64(len(encoded)) / e.extra.BytesPerSec * float64(time.Second))
		e.sched.Wake(delay)
		return false
	}
	msg := tunnel.NewToken(e.portID, e.peerPortID, seq, encoded)
	if err := e.t.SendToken(msg); err != nil {
		if err != tunnel.ErrWouldBlock {
			nlog.Warningf("tunnel-out %s: send seq %d: %v", e.portID, seq, err)
		}
		// Roll the tentative read back so the same seq is re-peeked and
		// re-sent on a later tick once the tunnel has room.
		e.q.ComCancel(e.peerPortID, seq)
		return false
	}
	if e.extra.Stats != nil {
		e.extra.Stats.TokenSent(e.portID, len(encoded))
	}
	return true
}

// Communicate is called by the Monitor and by actor triggers (spec.md
// §4.3). In bulk mode it drains everything available; in slow mode it
// sends at most one token, gated by backoff and by the peer having
// caught up on commits.
func (e *TunnelOutEndpoint) Communicate() (sent bool) {
	if e.mode == bulkMode {
		for e.q.TokensAvailable(1, e.peerPortID) {
			if !e.sendOne() {
				break
			}
			sent = true
		}
		return sent
	}

	now := mono.NanoTime()
	if e.q.TokensAvailable(1, e.peerPortID) &&
		e.q.ComIsCommitted(e.peerPortID) &&
		now >= e.nextSendTime {
		if e.sendOne() {
			sent = true
			e.nextSendTime = now + int64(e.backoff*float64(time.Second))
			e.sched.Wake(time.Duration(e.backoff * float64(time.Second)))
		}
	}
	return sent
}

// Reply handles an inbound TOKEN_REPLY (spec.md §4.3).
func (e *TunnelOutEndpoint) Reply(seq int64, value tunnel.ReplyValue) {
	switch value {
	case tunnel.ACK:
		e.replyAck(seq)
	case tunnel.NACK:
		e.replyNack(seq)
	default:
		// ABORT: declared, never emitted by any receiver in this design;
		// ignored safely per spec.md §9 Open Question.
	}
}

// replyAck implements spec.md §4.3's ACK branch precisely: "set bulk :=
// true, backoff := 0, trigger scheduler, then com_commit(peer_id, seq). If
// handled, also walk acked_out_of_order in sorted order and commit each
// whose seq now equals read_pos. Otherwise append seq to acked_out_of_order
// in sorted position." This deliberately differs from the walk-only-when-
// not-handled shape in the original source: committing the current seq can
// make an already-queued out-of-order ack newly committable, so the walk
// belongs on the handled path, not the unhandled one.
func (e *TunnelOutEndpoint) replyAck(seq int64) {
	e.mode = bulkMode
	e.backoff = 0
	e.sched.Wake(0) // maybe someone can fill the queue again
	if e.extra.Stats != nil {
		e.extra.Stats.TokenAcked(e.portID)
	}

	switch e.q.ComCommit(e.peerPortID, seq) {
	case queue.Handled:
		for _, n := range append([]int64(nil), e.ackedOOO...) {
			r := e.q.ComCommit(e.peerPortID, n)
			if r == queue.Handled || r == queue.Invalid {
				e.removeOOO(n)
			}
		}
	case queue.Unhandled:
		e.insertOOO(seq)
	case queue.Invalid:
		// Ack for a seq at or beyond the tentative read position (e.g. one
		// rewound by a NACK) or for an unknown reader; nothing to do.
	}
}

func (e *TunnelOutEndpoint) replyNack(seq int64) {
	if e.extra.Stats != nil {
		e.extra.Stats.TokenNacked(e.portID)
	}
	now := mono.NanoTime()
	if e.mode == bulkMode {
		e.nextSendTime = now
	}
	if e.nextSendTime <= now {
		e.sched.Wake(0)
	}
	e.mode = slowMode
	// Exact formula from spec.md §9: first NACK jumps to 0.1s, subsequent
	// doubles, capped at 1s. Constants matter under load — do not
	// approximate or replace with a library rate curve.
	if e.backoff < 0.1 {
		e.backoff = 0.1
	} else {
		e.backoff = e.backoff * 2.0
	}
	if e.backoff > 1.0 {
		e.backoff = 1.0
	}

	r := e.q.ComCancel(e.peerPortID, seq)
	if r == queue.Handled {
		kept := e.ackedOOO[:0]
		for _, n := range e.ackedOOO {
			if n < seq {
				kept = append(kept, n)
			}
		}
		e.ackedOOO = kept
	}
}

func (e *TunnelOutEndpoint) insertOOO(seq int64) {
	i := sort.Search(len(e.ackedOOO), func(i int) bool { return e.ackedOOO[i] >= seq })
	e.ackedOOO = append(e.ackedOOO, 0)
	copy(e.ackedOOO[i+1:], e.ackedOOO[i:])
	e.ackedOOO[i] = seq
}

func (e *TunnelOutEndpoint) removeOOO(seq int64) {
	for i, n := range e.ackedOOO {
		if n == seq {
			e.ackedOOO = append(e.ackedOOO[:i], e.ackedOOO[i+1:]...)
			return
		}
	}
}

// Backoff exposes the current backoff seconds, for tests and for the
// Monitor's scheduling decisions.
func (e *TunnelOutEndpoint) Backoff() float64 { return e.backoff }

// IsBulk reports whether the endpoint is currently in bulk (greedy-send)
// mode.
func (e *TunnelOutEndpoint) IsBulk() bool { return e.mode == bulkMode }
