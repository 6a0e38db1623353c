// Package token defines the opaque data carrier that flows between actor
// ports. Tokens are immutable once constructed and encode/decode through a
// self-describing wire form via github.com/json-iterator/go, the same
// fast-but-compatible JSON codec the teacher reaches for throughout its
// wire-facing code.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package token

import (
	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Token is an immutable carrier of one unit of user data. Type is a
// caller-chosen tag (e.g. "int", "record") kept alongside Value purely so
// that Decode can round-trip heterogeneous payloads without the receiver
// guessing; flowweave itself never inspects Type or Value (spec.md §1:
// "no token content inspection").
type Token struct {
	typ   string
	value any
}

// wireToken is the self-describing encoding: {"type": ..., "value": ...}.
type wireToken struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// New constructs a Token. typ is an arbitrary, caller-defined tag; value
// must be JSON-marshalable.
func New(typ string, value any) Token {
	return Token{typ: typ, value: value}
}

func (t Token) Type() string { return t.typ }
func (t Token) Value() any   { return t.value }

// Encode serializes t to its self-describing wire form.
func (t Token) Encode() ([]byte, error) {
	return api.Marshal(wireToken{Type: t.typ, Value: t.value})
}

// Decode parses the wire form produced by Encode. The decoded Value is
// whatever encoding/json-compatible shape the bytes describe (map[string]any,
// []any, float64, string, bool, or nil) — Decode does not know the original
// Go type, only the bytes that were written.
func Decode(b []byte) (Token, error) {
	var w wireToken
	if err := api.Unmarshal(b, &w); err != nil {
		return Token{}, err
	}
	return Token{typ: w.Type, value: w.Value}, nil
}

// DecodeInto is a convenience for callers that know the concrete shape of
// Value ahead of time (e.g. a built-in leaf actor's own record type).
func DecodeInto(b []byte, out any) error {
	var w struct {
		Type  string          `json:"type"`
		Value jsoniter.RawMessage `json:"value"`
	}
	if err := api.Unmarshal(b, &w); err != nil {
		return err
	}
	return api.Unmarshal(w.Value, out)
}
