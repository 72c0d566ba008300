// Package embedding defines the embedding collaborator contract and the
// resilience decorator the memory subsystem wraps around it. The embedding
// model itself lives elsewhere; tiers only ever see the Embedder interface.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbedding indicates the embedding function failed on its input.
// Background cycles retry on the next pass; direct calls surface it.
var ErrEmbedding = errors.New("embedding failed")

// Embedder turns text into a fixed-length vector. Implementations must be
// deterministic for identical input within a given model version.
type Embedder interface {
	// Embed returns the embedding vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed vector length D for this deployment.
	Dimensions() int
}
