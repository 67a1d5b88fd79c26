package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// Static derives deterministic pseudo-embeddings from the text alone.
// It keeps local runs and tests off the network; identical text always
// maps to an identical unit vector.
type Static struct {
	Dimensions int
}

func (s *Static) GetEmbedding(_ context.Context, text string) ([]float32, error) {
	dims := s.Dimensions
	if dims <= 0 {
		dims = 128
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()

	vector := make([]float32, dims)
	var norm float64
	for i := range vector {
		// xorshift keeps the sequence stable across runs.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float64(int64(state%2000)-1000) / 1000.0
		vector[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}
