package queue

import (
	"sort"

	"github.com/flowweave/transport/cmn/cos"
	"github.com/flowweave/transport/token"
)

// RoundRobinFIFO spreads writes 1→N across its readers instead of fanning
// each token out to all of them. spec.md §4.1 describes this as "the token
// is written into a virtual subqueue selected by (write_ordinal mod
// |readers|)". com_write's sequence-numbered protocol (§4.1) is only ever
// invoked on single-reader in-port queues in this design — never against a
// round-robin out-port queue — so there is no shared sequence space to
// preserve across readers here; each reader is given its own independent
// FanoutFIFO (with exactly one fixed internal reader) and the router just
// picks which one a given write lands in. This reuses FanoutFIFO's
// already-correct single-reader peek/commit/cancel logic verbatim instead
// of duplicating it for the round-robin case (see DESIGN.md, "Round-robin
// queue design").
type RoundRobinFIFO struct {
	length       int
	order        []string // stable reader ordering, used for write_ordinal routing
	subs         map[string]*FanoutFIFO
	writeOrdinal int64
}

var _ Queue = (*RoundRobinFIFO)(nil)

func NewRoundRobinFIFO(length int) *RoundRobinFIFO {
	if length <= 0 {
		length = DefaultQueueLength
	}
	return &RoundRobinFIFO{
		length: length,
		subs:   make(map[string]*FanoutFIFO),
	}
}

func (q *RoundRobinFIFO) QueueType() string { return "round_robin_fifo" }

func (q *RoundRobinFIFO) reorder() {
	q.order = q.order[:0]
	for r := range q.subs {
		q.order = append(q.order, r)
	}
	sort.Strings(q.order)
}

func (q *RoundRobinFIFO) AddReader(reader string) error {
	if reader == "" {
		return &cos.ErrUnknownReader{Reader: reader}
	}
	if _, ok := q.subs[reader]; ok {
		return nil
	}
	sub := NewFanoutFIFO(q.length)
	if err := sub.AddReader(reader); err != nil {
		return err
	}
	q.subs[reader] = sub
	q.reorder()
	return nil
}

func (q *RoundRobinFIFO) RemoveReader(reader string) error {
	if _, ok := q.subs[reader]; !ok {
		return &cos.ErrUnknownReader{Reader: reader}
	}
	delete(q.subs, reader)
	q.reorder()
	return nil
}

// Sub returns the independent FanoutFIFO backing one reader, for callers
// (conn's migration path) that need to snapshot/restore buffered token
// bytes per reader rather than through the flattened Snapshot above.
func (q *RoundRobinFIFO) Sub(reader string) (*FanoutFIFO, bool) {
	sub, ok := q.subs[reader]
	return sub, ok
}

func (q *RoundRobinFIFO) Readers() []string {
	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}

// next picks the destination for the next write, writeOrdinal mod the
// number of readers, and advances writeOrdinal. Full readers are not
// skipped: the ordinal advances even when the chosen reader is full and
// Write then returns ErrQueueFull.
func (q *RoundRobinFIFO) next() (string, bool) {
	if len(q.order) == 0 {
		return "", false
	}
	idx := int(q.writeOrdinal % int64(len(q.order)))
	q.writeOrdinal++
	return q.order[idx], true
}

func (q *RoundRobinFIFO) Write(t token.Token) error {
	reader, ok := q.next()
	if !ok {
		return &cos.ErrUnknownReader{}
	}
	sub := q.subs[reader]
	if !sub.SlotsAvailable(1) {
		return cos.ErrQueueFull
	}
	return sub.Write(t)
}

func (q *RoundRobinFIFO) SlotsAvailable(n int) bool {
	if len(q.order) == 0 {
		return false
	}
	// Conservative: a round-robin write only needs ONE destination (the
	// next one in rotation) to have room, since that's the only sub the
	// write will actually land in.
	reader := q.order[int(q.writeOrdinal%int64(len(q.order)))]
	return q.subs[reader].SlotsAvailable(n)
}

func (q *RoundRobinFIFO) TokensAvailable(n int, reader string) bool {
	sub, ok := q.subs[reader]
	if !ok {
		return false
	}
	return sub.TokensAvailable(n, reader)
}

func (q *RoundRobinFIFO) Peek(reader string) (token.Token, error) {
	sub, ok := q.subs[reader]
	if !ok {
		return token.Token{}, &cos.ErrUnknownReader{Reader: reader}
	}
	return sub.Peek(reader)
}

func (q *RoundRobinFIFO) Commit(reader string) {
	if sub, ok := q.subs[reader]; ok {
		sub.Commit(reader)
	}
}

func (q *RoundRobinFIFO) Cancel(reader string) {
	if sub, ok := q.subs[reader]; ok {
		sub.Cancel(reader)
	}
}

func (q *RoundRobinFIFO) ComWrite(t token.Token, seq int64) Result {
	// com_write is a single-reader in-port operation in this design (see
	// package doc); a round-robin out-port queue never receives it.
	reader, ok := q.next()
	if !ok {
		return Invalid
	}
	return q.subs[reader].ComWrite(t, seq)
}

func (q *RoundRobinFIFO) ComPeek(reader string) (int64, token.Token, error) {
	sub, ok := q.subs[reader]
	if !ok {
		return 0, token.Token{}, &cos.ErrUnknownReader{Reader: reader}
	}
	return sub.ComPeek(reader)
}

func (q *RoundRobinFIFO) ComCommit(reader string, seq int64) Result {
	sub, ok := q.subs[reader]
	if !ok {
		return Invalid
	}
	return sub.ComCommit(reader, seq)
}

func (q *RoundRobinFIFO) ComCancel(reader string, seq int64) Result {
	sub, ok := q.subs[reader]
	if !ok {
		return Invalid
	}
	return sub.ComCancel(reader, seq)
}

func (q *RoundRobinFIFO) ComIsCommitted(reader string) bool {
	sub, ok := q.subs[reader]
	if !ok {
		return true
	}
	return sub.ComIsCommitted(reader)
}

func (q *RoundRobinFIFO) Pending(reader string) (map[int64]token.Token, error) {
	sub, ok := q.subs[reader]
	if !ok {
		return nil, &cos.ErrUnknownReader{Reader: reader}
	}
	return sub.Pending(reader)
}

// Snapshot flattens every sub-queue's state into one Snapshot, recording
// which reader owns each sub-queue's slots in Assignment so Restore can
// rebuild the same per-reader routing (spec.md §4.1: "Assignment is
// remembered so that migration preserves per-reader backlog"). Buffered
// token bytes are intentionally not flattened here (each sub already has
// its own independent ring, unlike FanoutFIFO's single shared one) — a
// caller migrating a round-robin queue snapshots and restores each
// q.subs[reader] individually via the plain FanoutFIFO Snapshot/Restore
// pair for the token payloads, and uses this merged Snapshot only for the
// position/assignment bookkeeping.
func (q *RoundRobinFIFO) Snapshot() Snapshot {
	var merged Snapshot
	merged.QueueType = q.QueueType()
	merged.N = q.length
	merged.ReadPos = make(map[string]int64)
	merged.TentativeReadPos = make(map[string]int64)
	for _, reader := range q.order {
		sub := q.subs[reader].Snapshot()
		merged.Readers = append(merged.Readers, reader)
		merged.ReadPos[reader] = sub.ReadPos[reader]
		merged.TentativeReadPos[reader] = sub.TentativeReadPos[reader]
		merged.Assignment = append(merged.Assignment, reader)
	}
	merged.WritePos = q.writeOrdinal
	return merged
}

// RestoreRoundRobin rebuilds a RoundRobinFIFO from a Snapshot produced by
// Snapshot, recreating one independent FanoutFIFO per reader and seeding
// each one's position maps from the flattened state.
func RestoreRoundRobin(s Snapshot) (*RoundRobinFIFO, error) {
	q := NewRoundRobinFIFO(s.N)
	for _, reader := range s.Readers {
		if err := q.AddReader(reader); err != nil {
			return nil, err
		}
		sub := q.subs[reader]
		if rp, ok := s.ReadPos[reader]; ok {
			sub.readPos[reader] = rp
		}
		if trp, ok := s.TentativeReadPos[reader]; ok {
			sub.tentativeReadPos[reader] = trp
		}
	}
	q.writeOrdinal = s.WritePos
	q.reorder()
	return q, nil
}
