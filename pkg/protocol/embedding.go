package protocol

import (
	"encoding/binary"
	"math"
)

// Embeddings are stored in the turns table as compact little-endian float32
// BLOBs (4 bytes per component). The vector index is a rebuildable cache of
// these blobs, so the store stays the single durable source of truth.

// MarshalEmbedding serializes a float32 vector to its BLOB form.
// An empty vector marshals to nil.
func MarshalEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// UnmarshalEmbedding deserializes a BLOB back to a float32 vector.
// Returns nil for empty or truncated input.
func UnmarshalEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	n := len(data) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v
}
