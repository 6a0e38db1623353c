// Scenarios wires spec.md §8's demo scenarios (S1-S3, S6) over the real
// queue/endpoint/port/conn stack instead of a test harness, so the
// end-to-end path is exercised at least once outside of ginkgo.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package main

import (
	"fmt"
	"io"

	"github.com/flowweave/transport/conn"
	"github.com/flowweave/transport/directory"
	"github.com/flowweave/transport/endpoint"
	"github.com/flowweave/transport/port"
	"github.com/flowweave/transport/queue"
	"github.com/flowweave/transport/scheduler"
	"github.com/flowweave/transport/stats"
	"github.com/flowweave/transport/token"
)

// defaultQueueLength is overridden by applyConfig when -config names a
// queue.default_length, otherwise falls back to queue.DefaultQueueLength.
var defaultQueueLength = queue.DefaultQueueLength

type scenario func(w io.Writer, reg *stats.Registry, dir directory.Store) error

var scenarios = map[string]scenario{
	"s1": runS1,
	"s2": runS2,
	"s3": runS3,
	"s6": runS6,
}

func ints(tokens []token.Token) []int {
	out := make([]int, len(tokens))
	for i, t := range tokens {
		out[i] = t.Value().(int)
	}
	return out
}

// drain reads every currently available token off a single-reader port
// queue (in-ports have exactly one reader: themselves), committing each as
// it goes.
func drain(q queue.Queue) []token.Token {
	var out []token.Token
	for {
		t, err := q.Peek("")
		if err != nil {
			break
		}
		q.Commit("")
		out = append(out, t)
	}
	return out
}

// runS1 is spec.md §8 S1: a counter outputting 1..10 connected directly to
// one sink. Expected sink tokens: [1..10].
func runS1(w io.Writer, reg *stats.Registry, dir directory.Store) error {
	sched := scheduler.NewLoop(func() {})
	src := port.New("s1.src", "a.counter", "out", port.Out)
	sink := port.New("s1.sink", "a.sink", "in", port.In)

	lc := &conn.LocalConnection{
		NodeID: "node0", Port: sink, PeerPort: src, Dir: dir,
		Sched: sched, QueueLength: defaultQueueLength, Stats: reg,
	}
	if err := lc.Connect(); err != nil {
		return fmt.Errorf("s1: connect: %w", err)
	}

	// Interleave each write with a drive-and-drain, the real dataflow
	// cadence: the source and sink queues are sized to spec.md's default
	// burst (queue.DefaultQueueLength), not to the full 10-token batch, so
	// sending the whole batch before draining would overflow both.
	var got []int
	for i := 1; i <= 10; i++ {
		if err := src.Queue().Write(token.New("int", i)); err != nil {
			return fmt.Errorf("s1: write %d: %w", i, err)
		}
		communicateAll(src)
		got = append(got, ints(drain(sink.Queue()))...)
	}

	fmt.Fprintf(w, "s1: sink received %v\n", got)
	return expectSeq(got, 1, 10)
}

// runS2 is spec.md §8 S2: a counter fanning out to two sinks, both of
// which must receive the full [1..10] run. conn.LocalConnection's
// Connect replaces both ports' queues on every call, which would orphan
// the first sink's endpoint if it were invoked twice against the same
// source port — so the fanout wiring here is done directly against
// port/endpoint/queue, the way LocalConnection itself is built internally,
// installing the shared FanoutFIFO on the source exactly once.
func runS2(w io.Writer, reg *stats.Registry, dir directory.Store) error {
	sched := scheduler.NewLoop(func() {})
	src := port.New("s2.src", "a.counter", "out", port.Out)
	sinkA := port.New("s2.sinkA", "a.sinkA", "in", port.In)
	sinkB := port.New("s2.sinkB", "a.sinkB", "in", port.In)

	if err := src.SetQueue(queue.NewFanoutFIFO(defaultQueueLength)); err != nil {
		return fmt.Errorf("s2: src queue: %w", err)
	}
	if err := sinkA.SetQueue(queue.NewFanoutFIFO(defaultQueueLength)); err != nil {
		return fmt.Errorf("s2: sinkA queue: %w", err)
	}
	if err := sinkB.SetQueue(queue.NewFanoutFIFO(defaultQueueLength)); err != nil {
		return fmt.Errorf("s2: sinkB queue: %w", err)
	}

	wireLocalPair(src, sinkA, sched)
	wireLocalPair(src, sinkB, sched)
	publish(dir, "node0", src, sinkA, sinkB)

	// As in S1, interleave each write with a drive-and-drain of both sinks:
	// the shared source queue and each sink's queue are all sized to the
	// default burst, not to the full batch.
	var gotA, gotB []int
	for i := 1; i <= 10; i++ {
		if err := src.Queue().Write(token.New("int", i)); err != nil {
			return fmt.Errorf("s2: write %d: %w", i, err)
		}
		communicateAll(src)
		gotA = append(gotA, ints(drain(sinkA.Queue()))...)
		gotB = append(gotB, ints(drain(sinkB.Queue()))...)
	}

	fmt.Fprintf(w, "s2: sinkA received %v, sinkB received %v\n", gotA, gotB)
	if err := expectSeq(gotA, 1, 10); err != nil {
		return fmt.Errorf("s2 sinkA: %w", err)
	}
	if err := expectSeq(gotB, 1, 10); err != nil {
		return fmt.Errorf("s2 sinkB: %w", err)
	}
	return nil
}

// runS3 is spec.md §8 S3: a counter routing round-robin across two sinks;
// the sink with the lower port id gets the odd integers, the other gets
// the even ones. Same direct port/endpoint/queue wiring as S2, but the
// source queue is a RoundRobinFIFO instead of a FanoutFIFO.
func runS3(w io.Writer, reg *stats.Registry, dir directory.Store) error {
	sched := scheduler.NewLoop(func() {})
	src := port.New("s3.src", "a.counter", "out", port.Out)
	sinkA := port.New("s3.sinkA", "a.sinkA", "in", port.In) // lower id: odds
	sinkB := port.New("s3.sinkB", "a.sinkB", "in", port.In)

	if err := src.SetQueue(queue.NewRoundRobinFIFO(defaultQueueLength)); err != nil {
		return fmt.Errorf("s3: src queue: %w", err)
	}
	if err := sinkA.SetQueue(queue.NewFanoutFIFO(defaultQueueLength)); err != nil {
		return fmt.Errorf("s3: sinkA queue: %w", err)
	}
	if err := sinkB.SetQueue(queue.NewFanoutFIFO(defaultQueueLength)); err != nil {
		return fmt.Errorf("s3: sinkB queue: %w", err)
	}

	wireLocalPair(src, sinkA, sched)
	wireLocalPair(src, sinkB, sched)
	publish(dir, "node0", src, sinkA, sinkB)

	// Same interleaved drive-and-drain cadence as S2; only one of the two
	// sinks actually gets a token on a given iteration, but draining both
	// every time keeps their independent sub-queues from ever backing up.
	var gotA, gotB []int
	for i := 1; i <= 10; i++ {
		if err := src.Queue().Write(token.New("int", i)); err != nil {
			return fmt.Errorf("s3: write %d: %w", i, err)
		}
		communicateAll(src)
		gotA = append(gotA, ints(drain(sinkA.Queue()))...)
		gotB = append(gotB, ints(drain(sinkB.Queue()))...)
	}

	fmt.Fprintf(w, "s3: sinkA (lower id, odds) received %v, sinkB received %v\n", gotA, gotB)
	wantA := []int{1, 3, 5, 7, 9}
	wantB := []int{2, 4, 6, 8, 10}
	if err := expectEqual(gotA, wantA); err != nil {
		return fmt.Errorf("s3 sinkA: %w", err)
	}
	return expectEqual(gotB, wantB)
}

// runS6 is spec.md §8 S6: with 7 tokens in-flight (written but never
// drained to the sink), an EXHAUST disconnect from the sender must still
// deliver all 7 to the sink's queue before returning.
func runS6(w io.Writer, reg *stats.Registry, dir directory.Store) error {
	sched := scheduler.NewLoop(func() {})
	src := port.New("s6.src", "a.counter", "out", port.Out)
	sink := port.New("s6.sink", "a.sink", "in", port.In)

	// This scenario deliberately never drains mid-batch — the 7 tokens
	// must still be sitting unsent when Disconnect(Exhaust) runs — so the
	// queue is sized to hold the whole batch rather than the default
	// burst, unlike S1/S2/S3 which interleave drains instead.
	lc := &conn.LocalConnection{
		NodeID: "node0", Port: src, PeerPort: sink, Dir: dir,
		Sched: sched, QueueLength: atLeast(defaultQueueLength, 7), Stats: reg,
	}
	if err := lc.Connect(); err != nil {
		return fmt.Errorf("s6: connect: %w", err)
	}

	for i := 1; i <= 7; i++ {
		if err := src.Queue().Write(token.New("int", i)); err != nil {
			return fmt.Errorf("s6: write %d: %w", i, err)
		}
	}
	// Deliberately do not communicateAll here: the 7 tokens stay in-flight
	// in src's queue, unsent to sink, exactly as the scenario requires.

	if err := lc.Disconnect(port.Exhaust); err != nil {
		return fmt.Errorf("s6: disconnect: %w", err)
	}

	got := ints(drain(sink.Queue()))
	fmt.Fprintf(w, "s6: sink received %d token(s) after EXHAUST disconnect: %v\n", len(got), got)
	return expectSeq(got, 1, 7)
}

// wireLocalPair attaches a LocalOutEndpoint/LocalInEndpoint pair between an
// already-queued out port and in port, without touching either port's
// queue — the caller is responsible for SetQueue, exactly once per port,
// before calling this for each peer.
func wireLocalPair(out, in *port.Port, sched scheduler.Handle) {
	ein := endpoint.NewLocalInEndpoint(in.ID(), out.ID(), in.Queue())
	eout := endpoint.NewLocalOutEndpoint(out.ID(), in.ID(), out.Queue(), in.Queue(), sched)
	out.AttachEndpoint(eout)
	in.AttachEndpoint(ein)
}

// communicateAll drives every LocalOutEndpoint attached to src until none
// of them report further progress, the demo's stand-in for the scheduler
// ticks a real actor runtime would supply.
func communicateAll(src *port.Port) {
	for {
		progressed := false
		for _, ep := range src.Endpoints() {
			if out, ok := ep.(*endpoint.LocalOutEndpoint); ok {
				if out.Communicate() {
					progressed = true
				}
			}
		}
		if !progressed {
			return
		}
	}
}

func atLeast(n, min int) int {
	if n < min {
		return min
	}
	return n
}

func publish(dir directory.Store, nodeID string, ports ...*port.Port) {
	if dir == nil {
		return
	}
	for _, p := range ports {
		_ = dir.Put(p.ID(), directory.PortRecord{NodeID: nodeID, ActorID: p.ActorID()})
	}
}

func expectSeq(got []int, from, to int) error {
	want := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		want = append(want, i)
	}
	return expectEqual(got, want)
}

func expectEqual(got, want []int) error {
	if len(got) != len(want) {
		return fmt.Errorf("expected %v, got %v", want, got)
	}
	for i := range got {
		if got[i] != want[i] {
			return fmt.Errorf("expected %v, got %v", want, got)
		}
	}
	return nil
}
