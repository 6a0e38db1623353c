// Package mono provides a monotonic time source for backoff timestamps,
// idle-tick accounting, and stream age bookkeeping.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start, monotonic
// (never decreasing, though two calls may return the same value) for the
// lifetime of the process (it never observes wall-clock
// adjustments because it is derived from time.Since, which carries Go's
// monotonic reading).
func NanoTime() int64 { return int64(time.Since(start)) }

// Since returns the monotonic duration elapsed since a NanoTime() reading.
func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }
