// Package scheduler provides the trigger-loop contract the rest of this
// module suspends through. spec.md treats the actor scheduler as an
// external collaborator (§1 Out of scope); this package gives it one
// method so endpoints, ports, and connections never depend on anything
// more than "wake me, optionally after a delay" (spec.md §9: "Trigger-loop
// callback passed everywhere: model as a scheduler handle interface with
// one method wake(after?: duration). This is the only suspension-inducing
// dependency.").
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/flowweave/transport/cmn/mono"
)

// Handle is what endpoints and ports hold onto to ask the scheduler to
// re-examine their work, optionally after a delay (used by the ACK/NACK
// backoff timer, spec.md §4.3).
type Handle interface {
	// Wake requests another pass over ports with pending work. after == 0
	// means "as soon as possible."
	Wake(after time.Duration)
}

// Loop is a minimal single-goroutine reference scheduler: it runs one
// user-supplied tick function whenever woken, either immediately or after
// a requested delay, collapsing any wakes that arrive while already
// pending into the earliest requested time. cmd/flowctl's demo scenarios
// hand one (with a no-op tick) to their endpoints as the scheduler handle;
// flowweave's core packages only ever see the Handle interface above.
type Loop struct {
	mu      sync.Mutex
	pending *wakeHeap
	tick    func()
	stopCh  chan struct{}
	wakeNow chan struct{}
}

type wake struct {
	at int64 // mono.NanoTime() deadline
}

type wakeHeap []wake

func (h wakeHeap) Len() int            { return len(h) }
func (h wakeHeap) Less(i, j int) bool  { return h[i].at < h[j].at }
func (h wakeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *wakeHeap) Push(x interface{}) { *h = append(*h, x.(wake)) }
func (h *wakeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewLoop constructs a Loop that invokes tick on every wake.
func NewLoop(tick func()) *Loop {
	h := &wakeHeap{}
	heap.Init(h)
	return &Loop{
		pending: h,
		tick:    tick,
		stopCh:  make(chan struct{}),
		wakeNow: make(chan struct{}, 1),
	}
}

var _ Handle = (*Loop)(nil)

func (l *Loop) Wake(after time.Duration) {
	l.mu.Lock()
	heap.Push(l.pending, wake{at: mono.NanoTime() + int64(after)})
	l.mu.Unlock()
	select {
	case l.wakeNow <- struct{}{}:
	default:
	}
}

// Run blocks, invoking tick each time the earliest pending wake's deadline
// arrives, until Stop is called.
func (l *Loop) Run() {
	for {
		l.mu.Lock()
		var timer <-chan time.Time
		if l.pending.Len() > 0 {
			d := time.Duration((*l.pending)[0].at - mono.NanoTime())
			if d < 0 {
				d = 0
			}
			timer = time.After(d)
		}
		l.mu.Unlock()

		select {
		case <-l.stopCh:
			return
		case <-l.wakeNow:
		case <-timer:
		}

		l.mu.Lock()
		now := mono.NanoTime()
		fired := false
		for l.pending.Len() > 0 && (*l.pending)[0].at <= now {
			heap.Pop(l.pending)
			fired = true
		}
		l.mu.Unlock()
		if fired {
			l.tick()
		}
	}
}

func (l *Loop) Stop() { close(l.stopCh) }
