// Parallel-connection fan-in (SPEC_FULL.md §4.5 [NEW]): when one logical
// connect request spawns several independent LocalConnection/
// TunnelConnection attempts (_parallel_connections in
// connection/local.py), the caller wants exactly one completion callback,
// fired by whichever attempt finishes last. Grounded on the teacher's own
// use of golang.org/x/sync/errgroup for "wait for the last of N
// independent completions" (fs/walkbck.go, ext/dsort/dsort.go).
package conn

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// FanIn runs N independent connect attempts concurrently and invokes a
// single shared callback exactly once, when the last of them completes —
// mirroring local.py's disconnect(): "if not
// self._parallel_connections: ... fire the caller's callback once."
type FanIn struct {
	eg        errgroup.Group
	remaining int32
	callback  Callback
}

// NewFanIn prepares a fan-in for n attempts. callback may be nil, in
// which case Run's attempts still execute but nothing is invoked on
// completion.
func NewFanIn(n int, callback Callback) *FanIn {
	return &FanIn{remaining: int32(n), callback: callback}
}

// Run launches attempt on its own goroutine. attempt should itself fire
// any per-attempt side effects (e.g. errors logged); its returned info/err
// feed the shared callback only when it's the last attempt to finish.
func (f *FanIn) Run(attempt func() (ConnectInfo, error)) {
	f.eg.Go(func() error {
		info, err := attempt()
		if atomic.AddInt32(&f.remaining, -1) == 0 && f.callback != nil {
			f.callback(info, err)
		}
		return err
	})
}

// Wait blocks until every attempt has returned, yielding the first
// non-nil error if any attempt failed (errgroup.Group semantics) — the
// per-attempt errors that fed the shared callback are not otherwise lost.
func (f *FanIn) Wait() error { return f.eg.Wait() }
