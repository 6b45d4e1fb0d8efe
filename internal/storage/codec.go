package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

const float64Size = 8

// encodeEmbedding packs a vector as little-endian float64s. A nil vector encodes as nil.
func encodeEmbedding(v []float64) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v)*float64Size)
	for i, x := range v {
		binary.LittleEndian.PutUint64(out[i*float64Size:], math.Float64bits(x))
	}
	return out
}

func decodeEmbedding(b []byte) ([]float64, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%float64Size != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of %d", len(b), float64Size)
	}
	out := make([]float64, len(b)/float64Size)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*float64Size:]))
	}
	return out, nil
}
