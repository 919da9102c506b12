package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strconv"
)

// hashEncoder derives vectors from SHA-256 in counter mode. The same text
// always yields the same unit-length vector, which is what retrieval tests
// need; semantic similarity is obviously not preserved.
type hashEncoder struct {
	dim   int
	model string
}

func (h *hashEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	return hashVector(text, h.dim), nil
}

func (h *hashEncoder) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, h.dim)
	}
	return out, nil
}

func (h *hashEncoder) Dimension() int { return h.dim }

func (h *hashEncoder) Model() string {
	if h.model == "" {
		return "hash-" + strconv.Itoa(h.dim)
	}
	return h.model
}

// hashVector expands sha256(text||counter) into dim floats in [-1,1] and
// normalizes to unit length.
func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	var counter uint32
	i := 0
	for i < dim {
		var block [4]byte
		binary.LittleEndian.PutUint32(block[:], counter)
		sum := sha256.Sum256(append([]byte(text), block[:]...))
		counter++
		for off := 0; off+4 <= len(sum) && i < dim; off += 4 {
			u := binary.LittleEndian.Uint32(sum[off : off+4])
			vec[i] = float32(u)/float32(math.MaxUint32)*2 - 1
			i++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
