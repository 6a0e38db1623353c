// Package queue implements the FanoutFIFO sequenced ring-buffer queue and
// its round-robin variant: the buffer that sits behind every Port (§4.1),
// shared between every reader attached to an out-port and exactly one
// reader on an in-port.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package queue

import (
	"sort"

	"github.com/flowweave/transport/cmn/cos"
	"github.com/flowweave/transport/cmn/debug"
	"github.com/flowweave/transport/token"
)

// Result is the three-way outcome of the sequence-numbered protocol
// operations (com_write/com_commit/com_cancel), mirroring the original's
// COMMIT_RESPONSE enum.
type Result int

const (
	// Handled means the call's sequence number matched expectations and
	// mutated state.
	Handled Result = iota
	// Unhandled means the call was a harmless duplicate/out-of-order
	// replay the caller should treat as success without retrying.
	Unhandled
	// Invalid means the sequence number was out of the acceptable range;
	// the caller (a TunnelIn/TunnelOutEndpoint) must NACK and retry.
	Invalid
)

func (r Result) String() string {
	switch r {
	case Handled:
		return "handled"
	case Unhandled:
		return "unhandled"
	default:
		return "invalid"
	}
}

// Queue is the shared contract both FanoutFIFO and RoundRobinFIFO satisfy;
// Port (§4.4) programs against this interface, never a concrete type.
type Queue interface {
	Write(t token.Token) error
	SlotsAvailable(n int) bool
	TokensAvailable(n int, reader string) bool
	Peek(reader string) (token.Token, error)
	Commit(reader string)
	Cancel(reader string)
	AddReader(reader string) error
	RemoveReader(reader string) error
	Readers() []string

	ComWrite(t token.Token, seq int64) Result
	ComPeek(reader string) (int64, token.Token, error)
	ComCommit(reader string, seq int64) Result
	ComCancel(reader string, seq int64) Result
	ComIsCommitted(reader string) bool

	// Pending returns every token from reader's committed position up to
	// write_pos, keyed by sequence number. Used when an endpoint
	// disconnects to compute remaining_tokens (spec.md §4.5) — the
	// unsent/unacked backlog handed to the peer's exhausted_tokens.
	Pending(reader string) (map[int64]token.Token, error)

	Snapshot() Snapshot
	QueueType() string
}

// Snapshot is the wire/migration form of a queue's full state (§6), encoded
// with the same json-iterator codec as tokens so it round-trips byte for
// byte between two FanoutFIFO instances.
type Snapshot struct {
	QueueType         string           `json:"queuetype"`
	Fifo              [][]byte         `json:"fifo"`
	N                 int              `json:"n"`
	Readers           []string         `json:"readers"`
	WritePos          int64            `json:"write_pos"`
	ReadPos           map[string]int64 `json:"read_pos"`
	TentativeReadPos  map[string]int64 `json:"tentative_read_pos"`
	// Assignment is only populated by RoundRobinFIFO: it remembers which
	// reader owns each still-buffered slot so migration preserves
	// per-reader backlog (spec.md §4.1 "Round-robin variant").
	Assignment []string `json:"assignment,omitempty"`
}

// DefaultQueueLength mirrors the original's default of 4 when the actor's
// deployment descriptor doesn't specify queue_length.
const DefaultQueueLength = 4

// FanoutFIFO is a sequence-numbered ring buffer with one writer and any
// number of independent readers, each with its own committed and tentative
// read position. See spec.md §4.1 for the full contract.
type FanoutFIFO struct {
	fifo             []token.Token
	n                int // capacity excluding the one reserved slot
	readers          map[string]struct{}
	writePos         int64
	readPos          map[string]int64
	tentativeReadPos map[string]int64
}

var _ Queue = (*FanoutFIFO)(nil)

// NewFanoutFIFO constructs a queue with room for `length` tokens (the
// caller passes the deployment-requested length; the ring itself reserves
// one extra slot to distinguish full from empty).
func NewFanoutFIFO(length int) *FanoutFIFO {
	if length <= 0 {
		length = DefaultQueueLength
	}
	return &FanoutFIFO{
		fifo:             make([]token.Token, length+1),
		n:                length,
		readers:          make(map[string]struct{}),
		readPos:          make(map[string]int64),
		tentativeReadPos: make(map[string]int64),
	}
}

func (q *FanoutFIFO) QueueType() string { return "fanout_fifo" }

func (q *FanoutFIFO) soleReader() (string, bool) {
	if len(q.readers) != 1 {
		return "", false
	}
	for r := range q.readers {
		return r, true
	}
	return "", false
}

// resolveReader implements the original's "metadata is None and there's
// exactly one reader" convenience: in-port queues have exactly one reader
// (the port's own id) and callers may omit it.
func (q *FanoutFIFO) resolveReader(reader string) string {
	if reader == "" {
		if sole, ok := q.soleReader(); ok {
			return sole
		}
	}
	return reader
}

func (q *FanoutFIFO) AddReader(reader string) error {
	if reader == "" {
		return &cos.ErrUnknownReader{Reader: reader}
	}
	if _, ok := q.readers[reader]; ok {
		return nil
	}
	q.readPos[reader] = 0
	q.tentativeReadPos[reader] = 0
	q.readers[reader] = struct{}{}
	return nil
}

func (q *FanoutFIFO) RemoveReader(reader string) error {
	if _, ok := q.readers[reader]; !ok {
		return &cos.ErrUnknownReader{Reader: reader}
	}
	delete(q.readPos, reader)
	delete(q.tentativeReadPos, reader)
	delete(q.readers, reader)
	return nil
}

func (q *FanoutFIFO) Readers() []string {
	out := make([]string, 0, len(q.readers))
	for r := range q.readers {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// SlotsAvailable reports whether n more writes fit without lapping the
// slowest (lowest read_pos) reader.
func (q *FanoutFIFO) SlotsAvailable(n int) bool {
	var last int64
	first := true
	for _, rp := range q.readPos {
		if first || rp < last {
			last = rp
			first = false
		}
	}
	backlog := q.writePos - last
	return int64(q.n)-backlog >= int64(n)
}

func (q *FanoutFIFO) Write(t token.Token) error {
	if !q.SlotsAvailable(1) {
		return cos.ErrQueueFull
	}
	q.fifo[int(q.writePos)%len(q.fifo)] = t
	q.writePos++
	return nil
}

func (q *FanoutFIFO) TokensAvailable(n int, reader string) bool {
	reader = q.resolveReader(reader)
	trp, ok := q.tentativeReadPos[reader]
	if !ok {
		return false
	}
	return q.writePos-trp >= int64(n)
}

func (q *FanoutFIFO) Peek(reader string) (token.Token, error) {
	reader = q.resolveReader(reader)
	if _, ok := q.readers[reader]; !ok {
		return token.Token{}, &cos.ErrUnknownReader{Reader: reader}
	}
	if !q.TokensAvailable(1, reader) {
		return token.Token{}, &cos.ErrQueueEmpty{Reader: reader}
	}
	pos := q.tentativeReadPos[reader]
	t := q.fifo[int(pos)%len(q.fifo)]
	q.tentativeReadPos[reader] = pos + 1
	return t, nil
}

func (q *FanoutFIFO) Commit(reader string) {
	reader = q.resolveReader(reader)
	q.readPos[reader] = q.tentativeReadPos[reader]
}

func (q *FanoutFIFO) Cancel(reader string) {
	reader = q.resolveReader(reader)
	q.tentativeReadPos[reader] = q.readPos[reader]
}

// ComWrite is write()'s sequence-numbered counterpart, used by
// TunnelInEndpoint.recv_token.
func (q *FanoutFIFO) ComWrite(t token.Token, seq int64) Result {
	switch {
	case seq == q.writePos:
		// Write cannot fail here on a queue full error turning into a
		// protocol violation: the caller (TunnelInEndpoint.RecvToken)
		// checks SlotsAvailable and NACKs a full queue before this is reached.
		if err := q.Write(t); err != nil {
			debug.AssertNoErr(err)
			return Invalid
		}
		return Handled
	case seq < q.writePos:
		return Unhandled
	default:
		return Invalid
	}
}

func (q *FanoutFIFO) ComPeek(reader string) (int64, token.Token, error) {
	pos, ok := q.tentativeReadPos[reader]
	if !ok {
		return 0, token.Token{}, &cos.ErrUnknownReader{Reader: reader}
	}
	t, err := q.Peek(reader)
	if err != nil {
		return 0, token.Token{}, err
	}
	return pos, t, nil
}

// ComCommit advances read_pos[reader] by exactly one when seq matches the
// next uncommitted slot; see spec.md §4.1.
func (q *FanoutFIFO) ComCommit(reader string, seq int64) Result {
	trp, ok := q.tentativeReadPos[reader]
	if !ok {
		return Invalid
	}
	if seq >= trp {
		return Invalid
	}
	rp := q.readPos[reader]
	if rp < trp {
		if seq == rp {
			q.readPos[reader] = rp + 1
			return Handled
		}
		return Unhandled
	}
	return Unhandled
}

// ComCancel rewinds tentative_read_pos[reader] to seq. The guard is the
// corrected one from DESIGN.md: the original source reads a nonexistent
// `self.reader_pos` field (a typo for read_pos) inside an AND condition
// that never fires due to the typo throwing first; the intended guard is
// an OR across "beyond what's been peeked" and "before what's committed".
func (q *FanoutFIFO) ComCancel(reader string, seq int64) Result {
	trp, ok := q.tentativeReadPos[reader]
	if !ok {
		return Invalid
	}
	rp, ok := q.readPos[reader]
	if !ok {
		return Invalid
	}
	if seq >= trp || seq < rp {
		return Invalid
	}
	q.tentativeReadPos[reader] = seq
	return Handled
}

func (q *FanoutFIFO) ComIsCommitted(reader string) bool {
	return q.tentativeReadPos[reader] == q.readPos[reader]
}

func (q *FanoutFIFO) Pending(reader string) (map[int64]token.Token, error) {
	rp, ok := q.readPos[reader]
	if !ok {
		return nil, &cos.ErrUnknownReader{Reader: reader}
	}
	out := make(map[int64]token.Token, q.writePos-rp)
	for seq := rp; seq < q.writePos; seq++ {
		out[seq] = q.fifo[int(seq)%len(q.fifo)]
	}
	return out, nil
}

func (q *FanoutFIFO) Snapshot() Snapshot {
	fifo := make([][]byte, len(q.fifo))
	for i, t := range q.fifo {
		b, err := t.Encode()
		debug.AssertNoErr(err)
		fifo[i] = b
	}
	readPos := make(map[string]int64, len(q.readPos))
	for k, v := range q.readPos {
		readPos[k] = v
	}
	trp := make(map[string]int64, len(q.tentativeReadPos))
	for k, v := range q.tentativeReadPos {
		trp[k] = v
	}
	return Snapshot{
		QueueType:        q.QueueType(),
		Fifo:             fifo,
		N:                q.n,
		Readers:          q.Readers(),
		WritePos:         q.writePos,
		ReadPos:          readPos,
		TentativeReadPos: trp,
	}
}

// Restore reconstructs a FanoutFIFO from a Snapshot, used by actor
// migration (spec.md §4.5) to fold an old endpoint's buffered tokens into
// the one taking over.
func Restore(s Snapshot) (*FanoutFIFO, error) {
	q := &FanoutFIFO{
		fifo:             make([]token.Token, len(s.Fifo)),
		n:                s.N,
		readers:          make(map[string]struct{}, len(s.Readers)),
		writePos:         s.WritePos,
		readPos:          make(map[string]int64, len(s.ReadPos)),
		tentativeReadPos: make(map[string]int64, len(s.TentativeReadPos)),
	}
	for i, b := range s.Fifo {
		t, err := token.Decode(b)
		if err != nil {
			return nil, err
		}
		q.fifo[i] = t
	}
	for _, r := range s.Readers {
		q.readers[r] = struct{}{}
	}
	for k, v := range s.ReadPos {
		q.readPos[k] = v
	}
	for k, v := range s.TentativeReadPos {
		q.tentativeReadPos[k] = v
	}
	return q, nil
}
