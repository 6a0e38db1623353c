// Package monitor drives periodic TunnelOutEndpoint retransmission
// (spec.md's Monitor component, §2). Grounded on the teacher's
// transport/collect.go StreamCollector: a ticker-driven loop that fans a
// single goroutine's worth of housekeeping out over every endpoint that
// asked for it (endpoint.Endpoint.UseMonitor() == true). Registrations are
// kept in a map and a container/heap, but each tick calls Communicate() on
// every registered endpoint; the heap's due times do not gate the calls.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package monitor

import (
	"container/heap"
	"time"

	"github.com/flowweave/transport/cmn/cos"
	"github.com/flowweave/transport/cmn/mono"
	"github.com/flowweave/transport/cmn/nlog"
)

// Communicator is the subset of TunnelOutEndpoint the Monitor drives.
// Only TunnelOutEndpoint implements it among the endpoint variants; Local
// endpoints and TunnelInEndpoint never register.
type Communicator interface {
	Communicate() (sent bool)
}

// DefaultTick is the base polling interval; a registered endpoint whose
// backoff is smaller than this still gets driven no more often than this
// (the endpoint's own scheduler.Handle.Wake(backoff) call, not the
// Monitor, is what drives sub-tick retries — the Monitor's job is the
// steady-state safety net, not the fast path).
const DefaultTick = 50 * time.Millisecond

type entry struct {
	id    string
	comm  Communicator
	index int // heap index, maintained by Swap
	dueAt int64
}

type dueHeap []*entry

func (h dueHeap) Len() int           { return len(h) }
func (h dueHeap) Less(i, j int) bool { return h[i].dueAt < h[j].dueAt }
func (h dueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *dueHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

type registerMsg struct {
	id   string
	comm Communicator // nil means unregister
}

// TickObserver is an optional stats sink for the Monitor's own activity,
// implemented by stats.Registry. Left nil, the Monitor reports nothing.
type TickObserver interface {
	MonitorTick()
	CommunicatePanicRecovered()
}

// Monitor periodically calls Communicate on every registered endpoint.
type Monitor struct {
	tick     time.Duration
	entries  map[string]*entry
	h        dueHeap
	ctrlCh   chan registerMsg
	stopCh   *cos.StopCh
	observer TickObserver
}

// New constructs a Monitor that ticks every `tick` (DefaultTick if zero).
func New(tick time.Duration) *Monitor {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Monitor{
		tick:    tick,
		entries: make(map[string]*entry),
		ctrlCh:  make(chan registerMsg, 16),
		stopCh:  cos.NewStopCh(),
	}
}

// SetObserver wires a stats sink for tick/panic counts; pass nil to disable.
func (m *Monitor) SetObserver(o TickObserver) { m.observer = o }

// RegisterEndpoint adds comm (keyed by id, typically portID+peerPortID) to
// the rotation. Called from conn at attach time for any endpoint whose
// UseMonitor() is true (spec.md §4.5's connect() sequence).
func (m *Monitor) RegisterEndpoint(id string, comm Communicator) {
	m.ctrlCh <- registerMsg{id: id, comm: comm}
}

// UnregisterEndpoint removes id from the rotation. Called at disconnect
// time, symmetric with RegisterEndpoint.
func (m *Monitor) UnregisterEndpoint(id string) {
	m.ctrlCh <- registerMsg{id: id, comm: nil}
}

// Run blocks, ticking the registered endpoints until Stop is called. It is
// meant to run on its own goroutine, exactly one per node (spec.md §5:
// single-threaded cooperative per node — the Monitor is the one thing
// that legitimately runs off the main event-loop goroutine, since all it
// does is call the non-blocking, already-reentrant Communicate()).
func (m *Monitor) Run() {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.do()
		case msg := <-m.ctrlCh:
			m.applyRegister(msg)
		case <-m.stopCh.Listen():
			return
		}
	}
}

func (m *Monitor) applyRegister(msg registerMsg) {
	if msg.comm != nil {
		if _, exists := m.entries[msg.id]; exists {
			return
		}
		e := &entry{id: msg.id, comm: msg.comm, dueAt: mono.NanoTime()}
		m.entries[msg.id] = e
		heap.Push(&m.h, e)
		return
	}
	e, ok := m.entries[msg.id]
	if !ok {
		return
	}
	delete(m.entries, msg.id)
	heap.Remove(&m.h, e.index)
}

func (m *Monitor) do() {
	if m.observer != nil {
		m.observer.MonitorTick()
	}
	for _, e := range m.entries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					nlog.Errorf("monitor: endpoint %s panicked: %v", e.id, r)
					if m.observer != nil {
						m.observer.CommunicatePanicRecovered()
					}
				}
			}()
			e.comm.Communicate()
		}()
	}
}

// Stop halts Run's loop.
func (m *Monitor) Stop() { m.stopCh.Close() }
