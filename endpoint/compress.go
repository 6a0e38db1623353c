package endpoint

import "github.com/klauspost/compress/s2"

// compress/decompress wrap encoded token bytes with s2 framing when
// Extra.Compression is set (SPEC_FULL.md §4.3). This is negotiated once at
// connect time by the owning Connection — both TunnelIn and TunnelOut on a
// given stream must agree — and never changes sequence numbers or
// ACK/NACK semantics, which always operate on the logical (decompressed)
// token bytes.
func compress(b []byte) []byte {
	return s2.Encode(nil, b)
}

func decompress(b []byte) ([]byte, error) {
	return s2.Decode(nil, b)
}
