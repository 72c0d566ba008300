package mock

import (
	"context"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestEmbedder_Deterministic(t *testing.T) {
	e := New()
	ctx := context.Background()

	a, err := e.Embed(ctx, "the cat sat on the mat")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	b, err := e.Embed(ctx, "the cat sat on the mat")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}

	if sim := cosine(a, b); sim < 0.999 {
		t.Errorf("identical texts: similarity = %f, want ~1.0", sim)
	}
}

func TestEmbedder_SharedTokensCorrelate(t *testing.T) {
	e := New()
	ctx := context.Background()

	a, _ := e.Embed(ctx, "weather forecast for tomorrow morning")
	b, _ := e.Embed(ctx, "weather forecast updates")
	c, _ := e.Embed(ctx, "quarterly revenue spreadsheet totals")

	related := cosine(a, b)
	unrelated := cosine(a, c)
	if related <= unrelated {
		t.Errorf("related similarity %f should exceed unrelated %f", related, unrelated)
	}
}

func TestEmbedder_UnitVector(t *testing.T) {
	e := New()

	vec, err := e.Embed(context.Background(), "normalize me")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("vector norm² = %f, want 1.0", norm)
	}
}

func TestEmbedder_Dimensions(t *testing.T) {
	if d := New().Dimensions(); d != DefaultDimensions {
		t.Errorf("Dimensions() = %d, want %d", d, DefaultDimensions)
	}
	if d := NewWithDimensions(16).Dimensions(); d != 16 {
		t.Errorf("Dimensions() = %d, want 16", d)
	}
}
