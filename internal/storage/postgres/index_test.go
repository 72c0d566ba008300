package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage"
)

// newTestIndex connects to the database named by AGENT_TEST_POSTGRES_DSN.
// Tests are skipped when the variable is unset so the suite stays runnable
// without a PostgreSQL server.
func newTestIndex(t *testing.T) *Index {
	t.Helper()

	dsn := os.Getenv("AGENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AGENT_TEST_POSTGRES_DSN not set; skipping postgres backend tests")
	}

	x, err := Open(dsn, 3)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() {
		_, _ = x.db.Exec(`DELETE FROM entries`)
		_ = x.Close()
	})
	return x
}

func TestIndex_AddQueryRoundTrip(t *testing.T) {
	x := newTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec := &storage.IndexRecord{
		ID:          "pg-a",
		Content:     "postgres round trip",
		ContentHash: "hash-pg-a",
		Embedding:   []float32{1, 0, 0},
		Importance:  0.7,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := x.Add(ctx, "memory", rec); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	matches, err := x.Query(ctx, "memory", []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Record.ID != "pg-a" {
		t.Fatalf("Query() = %+v, want record pg-a", matches)
	}
	if matches[0].Similarity < 0.99 {
		t.Errorf("similarity = %f, want ~1.0", matches[0].Similarity)
	}
}

func TestIndex_AddRejectsWrongDimension(t *testing.T) {
	x := newTestIndex(t)

	rec := &storage.IndexRecord{
		ID:        "bad-dim",
		Content:   "wrong dimension",
		Embedding: []float32{1, 0}, // index dimension is 3
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	err := x.Add(context.Background(), "memory", rec)
	if !errors.Is(err, storage.ErrDimensionMismatch) {
		t.Errorf("Add() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestIndex_BackupRestoreRoundTrip(t *testing.T) {
	x := newTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for _, id := range []string{"a", "b"} {
		rec := &storage.IndexRecord{
			ID:          id,
			Content:     "content " + id,
			ContentHash: "hash-" + id,
			Embedding:   []float32{1, 0, 0},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := x.Add(ctx, "memory", rec); err != nil {
			t.Fatalf("Add(%s) failed: %v", id, err)
		}
	}

	dir := t.TempDir()
	if err := x.Backup(ctx, dir); err != nil {
		t.Fatalf("Backup() failed: %v", err)
	}
	if err := x.Delete(ctx, "memory", "a"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := x.Restore(ctx, dir); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	n, err := x.Count(ctx, "memory")
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d after restore, want 2", n)
	}
}
