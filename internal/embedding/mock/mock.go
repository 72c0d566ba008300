// Package mock provides a deterministic embedder for tests and offline
// runs. Tokens are hashed into buckets of a fixed-size vector, so texts
// sharing words produce correlated embeddings and identical texts produce
// identical ones. It is not a semantic model; it only has to behave like one
// under cosine similarity.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultDimensions matches the all-MiniLM-L6-v2 model commonly used in
// production deployments.
const DefaultDimensions = 384

// Embedder is a deterministic token-bucket embedder.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with DefaultDimensions.
func New() *Embedder {
	return NewWithDimensions(DefaultDimensions)
}

// NewWithDimensions creates a mock embedder with a custom vector length.
// Small dimensions increase bucket collisions; tests that assert ordering
// should stick to the default.
func NewWithDimensions(d int) *Embedder {
	if d < 1 {
		d = DefaultDimensions
	}
	return &Embedder{dimensions: d}
}

// Embed hashes each lowercased token into a bucket and normalizes the
// resulting histogram to a unit vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimensions))
		// Sign bit from the hash spreads tokens across both directions so
		// unrelated texts don't all end up in the positive orthant.
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	return normalize(vec), nil
}

// Dimensions returns the fixed vector length.
func (e *Embedder) Dimensions() int { return e.dimensions }

// normalize scales the vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
