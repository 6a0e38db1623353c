// Package ids generates the stable opaque identifiers used for ports,
// actors, and tunnel sessions throughout flowweave, grounded on the
// teacher's cmn/cos UUID generation (cos.GenUUID/cos.GenTie): a short,
// alphabet-restricted ID generator with a cheap tie-breaker for the
// occasional string that would otherwise start or end with a separator.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package ids

import (
	"fmt"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// alphabet mirrors the teacher's uuidABC: 64 characters, none of them
// ambiguous in URLs or in the TOKEN/TOKEN_REPLY wire frames (§6).
const alphabet = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	gen *shortid.Shortid
	tie atomic.Uint32
)

// Seed must be called once at process start (or relies on the lazy default
// seed of 1 for tests that never call it explicitly).
func Seed(seed uint64) {
	gen, _ = shortid.New(4, alphabet, seed)
}

func generator() *shortid.Shortid {
	if gen == nil {
		gen, _ = shortid.New(4, alphabet, 1)
	}
	return gen
}

// NewID returns a stable, opaque, URL-safe identifier. kind is folded into
// nothing on the wire (IDs carry no visible type tag) but documents intent
// at call sites, e.g. ids.NewID("port").
func NewID(kind string) string {
	_ = kind
	raw, err := generator().Generate()
	if err != nil {
		// generator() never errors in practice (fixed alphabet/worker); fall
		// back to a hash-derived ID rather than panicking a hot path.
		h := xxhash.ChecksumString64(fmt.Sprintf("%s-%d", kind, tie.Add(1)))
		return hashTie() + itoa62(h)
	}
	return tieBreak(raw)
}

// tieBreak prepends a single tie-break character when raw starts with a
// separator and appends one when it ends with one, so NewID() output is always safe to use unquoted in
// the port_<id> directory key (§6).
func tieBreak(raw string) string {
	if len(raw) == 0 {
		return raw
	}
	out := raw
	if c := raw[0]; c == '-' || c == '_' {
		out = hashTie() + out
	}
	if c := raw[len(raw)-1]; c == '-' || c == '_' {
		out += hashTie()
	}
	return out
}

func hashTie() string {
	t := tie.Add(1)
	return string(rune('a' + t%26))
}

func itoa62(v uint64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	if v == 0 {
		return "0"
	}
	var b []byte
	for v > 0 {
		b = append([]byte{digits[v%62]}, b...)
		v /= 62
	}
	return string(b)
}

// Valid reports whether id looks like something NewID could have produced:
// non-empty, reasonably short, and not starting or ending with a separator.
func Valid(id string) bool {
	if len(id) == 0 || len(id) > 48 {
		return false
	}
	c0, c1 := id[0], id[len(id)-1]
	if c0 == '-' || c0 == '_' || c1 == '-' || c1 == '_' {
		return false
	}
	return true
}
