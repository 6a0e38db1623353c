// Package tunnelnet is a reference tunnel.Transport over plain TCP:
// framing grounded on the teacher-adjacent backup protocol's magic-byte
// framed messages (internal/protocol/frames.go: distinct 4-byte magic per
// message kind, explicit big-endian length-prefixed fields), adapted here
// to carry the two tunnel.Transport message kinds instead of a backup
// handshake.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package tunnelnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/flowweave/transport/tunnel"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Magic bytes identifying each frame kind on the wire, so a misaligned
// reader fails fast (ErrInvalidMagic) instead of silently decoding
// garbage into the wrong message type.
var (
	magicToken = [4]byte{'T', 'O', 'K', 'N'}
	magicReply = [4]byte{'T', 'R', 'P', 'Y'}
)

// maxFrameLen bounds a single frame's payload, guarding a malicious or
// corrupt peer from making a reader allocate an unbounded buffer off a
// forged length field.
const maxFrameLen = 64 << 20 // 64 MiB

var (
	ErrInvalidMagic   = errors.New("tunnelnet: invalid frame magic")
	ErrFrameTooLarge  = errors.New("tunnelnet: frame exceeds maximum length")
	ErrTruncatedFrame = errors.New("tunnelnet: truncated frame")
)

// writeFrame writes [4B magic][4B big-endian length][payload].
func writeFrame(w io.Writer, magic [4]byte, payload []byte) error {
	if _, err := w.Write(magic[:]); err != nil {
		return fmt.Errorf("tunnelnet: writing frame magic: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("tunnelnet: writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("tunnelnet: writing frame payload: %w", err)
	}
	return nil
}

// readFrame reads one frame, returning its magic and payload.
func readFrame(r io.Reader) (magic [4]byte, payload []byte, err error) {
	if _, err = io.ReadFull(r, magic[:]); err != nil {
		return magic, nil, err
	}
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return magic, nil, ErrTruncatedFrame
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return magic, nil, ErrFrameTooLarge
	}
	payload = make([]byte, n)
	if _, err = io.ReadFull(r, payload); err != nil {
		return magic, nil, ErrTruncatedFrame
	}
	return magic, payload, nil
}

// wireToken/wireReply are the on-the-wire shapes of tunnel.Token/
// tunnel.TokenReply (spec.md §6): self-describing JSON objects, codec
// shared with the token package's own wire form.
type wireToken struct {
	PortID      string `json:"port_id"`
	PeerPortID  string `json:"peer_port_id"`
	SequenceNbr int64  `json:"sequencenbr"`
	Encoded     []byte `json:"token"`
}

type wireReply struct {
	PortID      string `json:"port_id"`
	PeerPortID  string `json:"peer_port_id"`
	SequenceNbr int64  `json:"sequencenbr"`
	Value       string `json:"value"`
}

func encodeToken(t tunnel.Token) ([]byte, error) {
	return api.Marshal(wireToken{
		PortID: t.PortID, PeerPortID: t.PeerPortID, SequenceNbr: t.SequenceNbr, Encoded: t.Encoded,
	})
}

func decodeToken(b []byte) (tunnel.Token, error) {
	var w wireToken
	if err := api.Unmarshal(b, &w); err != nil {
		return tunnel.Token{}, err
	}
	return tunnel.NewToken(w.PortID, w.PeerPortID, w.SequenceNbr, w.Encoded), nil
}

func encodeReply(r tunnel.TokenReply) ([]byte, error) {
	return api.Marshal(wireReply{
		PortID: r.PortID, PeerPortID: r.PeerPortID, SequenceNbr: r.SequenceNbr, Value: string(r.Value),
	})
}

func decodeReply(b []byte) (tunnel.TokenReply, error) {
	var w wireReply
	if err := api.Unmarshal(b, &w); err != nil {
		return tunnel.TokenReply{}, err
	}
	return tunnel.NewTokenReply(w.PortID, w.PeerPortID, w.SequenceNbr, tunnel.ReplyValue(w.Value)), nil
}
