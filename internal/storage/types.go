// Package storage defines the tier-neutral storage contracts: the
// nearest-neighbor index backend consumed by the long-term store, the
// records it persists, and the sentinel errors shared by every tier.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a read miss. It is a normal empty result to
	// callers, never a failure to retry.
	ErrNotFound = errors.New("entry not found")

	// ErrDimensionMismatch indicates an embedding vector whose length does
	// not match the dimensionality of the collection it targets.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrBackupCorrupt indicates a snapshot that failed validation during
	// restore. The store remains in its prior valid state.
	ErrBackupCorrupt = errors.New("backup corrupt")

	// ErrTimeout indicates a backend call that exceeded its deadline.
	// Background cycles retry on the next pass; direct calls surface it.
	ErrTimeout = errors.New("storage operation timed out")
)

// Clock produces timestamps for TTL and age-based logic. Injected so tests
// can drive time deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// IndexRecord is the persisted shape of a long-term entry inside an index
// backend: one durable collection per category, each record holding content,
// embedding, and metadata.
type IndexRecord struct {
	ID          string                 `json:"id"`
	Content     string                 `json:"content"`
	ContentHash string                 `json:"content_hash"`
	Embedding   []float32              `json:"embedding"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Importance  float64                `json:"importance"`
	AccessCount int                    `json:"access_count"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// IndexMatch is a nearest-neighbor hit with its cosine similarity in [-1,1].
type IndexMatch struct {
	Record     *IndexRecord
	Similarity float64
}

// RetentionFilter selects records for bulk deletion. Zero values disable a
// criterion. A record is deleted when it is older than OlderThan, or when
// UnimportantFloor is set and the record scores below it AND was never
// accessed.
type RetentionFilter struct {
	// OlderThan deletes records created strictly before this time.
	OlderThan time.Time

	// UnimportantFloor deletes never-accessed records with importance
	// strictly below this value. Zero disables the criterion.
	UnimportantFloor float64
}

// Matches reports whether the record satisfies the filter. Backends that
// cannot push the filter into a query evaluate it in memory with this.
func (f RetentionFilter) Matches(rec *IndexRecord) bool {
	if !f.OlderThan.IsZero() && rec.CreatedAt.Before(f.OlderThan) {
		return true
	}
	if f.UnimportantFloor > 0 && rec.Importance < f.UnimportantFloor && rec.AccessCount == 0 {
		return true
	}
	return false
}

// VectorIndex is the pluggable nearest-neighbor backend consumed by the
// long-term store. Implementations guarantee that Add with an existing id
// replaces the record atomically: a concurrent Query never observes the id
// as missing.
type VectorIndex interface {
	// Add inserts or replaces a record in the named collection.
	Add(ctx context.Context, collection string, rec *IndexRecord) error

	// Get returns the record by id, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (*IndexRecord, error)

	// FindByHash returns the first record whose content hash matches, or
	// ErrNotFound.
	FindByHash(ctx context.Context, collection, hash string) (*IndexRecord, error)

	// Query returns up to k records ranked by cosine similarity to the
	// vector, descending. Ties are broken by more recent CreatedAt.
	Query(ctx context.Context, collection string, vector []float32, k int) ([]IndexMatch, error)

	// Delete removes a record by id. Deleting an absent id is not an error.
	Delete(ctx context.Context, collection, id string) error

	// DeleteWhere bulk-deletes records matching the filter and reports how
	// many were removed.
	DeleteWhere(ctx context.Context, collection string, filter RetentionFilter) (int, error)

	// Collections lists the collections that currently hold records.
	Collections(ctx context.Context) ([]string, error)

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Backup writes a self-contained snapshot of the whole index into dir.
	Backup(ctx context.Context, dir string) error

	// Restore replaces the index contents from a snapshot directory
	// produced by Backup. On validation failure the previous contents are
	// kept and ErrBackupCorrupt is returned.
	Restore(ctx context.Context, dir string) error

	// Close releases backend resources.
	Close() error
}

// SearchOptions bundles the tunable parts of a long-term search.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default: 10,
	// max: 100).
	Limit int

	// MinSimilarity filters out results below this cosine similarity.
	MinSimilarity float64
}

// Normalize applies defaults and clamps the options.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.MinSimilarity < -1 {
		o.MinSimilarity = -1
	}
	if o.MinSimilarity > 1 {
		o.MinSimilarity = 1
	}
}
