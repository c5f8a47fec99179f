package embeddings

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultTextDim is the dimensionality used for zero vectors when a
// page has no text to embed, matching text-embedding-3-large.
const DefaultTextDim = 3072

// PackF32 serializes a vector as little-endian float32, dim*4 bytes,
// the storage format of every vector blob in the catalog.
func PackF32(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// UnpackF32 reverses PackF32.
func UnpackF32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// ZeroVector is the stand-in embedding for pages with no text.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}
