// Package chromem implements the storage.VectorIndex contract on top of
// chromem-go, a pure Go embedded vector database. The index lives entirely
// in process memory, which makes it the right backend for tests and for
// ephemeral deployments where the long-term tier is rebuilt on start.
//
// chromem collections handle the nearest-neighbor ranking; a sidecar record
// map serves exact-id reads, hash lookups, and snapshot export.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage"
)

// snapshotFileName is the snapshot file written into a backup directory.
const snapshotFileName = "records.json"

// Index is an in-memory VectorIndex backed by chromem-go.
type Index struct {
	mu          sync.RWMutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
	records     map[string]map[string]*storage.IndexRecord // collection -> id -> record
}

// New creates an empty chromem-backed index.
func New() *Index {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		records:     make(map[string]map[string]*storage.IndexRecord),
	}
}

// Close releases nothing: the index is process memory only.
func (x *Index) Close() error { return nil }

// collection returns the chromem collection for the name, creating it on
// first use. Caller must hold the write lock.
func (x *Index) collection(name string) (*chromem.Collection, error) {
	if col, ok := x.collections[name]; ok {
		return col, nil
	}
	// No embedding func: vectors are always supplied by the caller.
	// Default distance is cosine, which is what every tier expects.
	col, err := x.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection %s: %w", name, err)
	}
	x.collections[name] = col
	x.records[name] = make(map[string]*storage.IndexRecord)
	return col, nil
}

// Add inserts or replaces a record.
func (x *Index) Add(ctx context.Context, collection string, rec *storage.IndexRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("chromem: record with id is required")
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("chromem: record %s has no embedding", rec.ID)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	col, err := x.collection(collection)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata:  map[string]string{"content_hash": rec.ContentHash},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem: add document: %w", err)
	}

	clone := *rec
	x.records[collection][rec.ID] = &clone
	return nil
}

// Get returns a record by id.
func (x *Index) Get(_ context.Context, collection, id string) (*storage.IndexRecord, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	rec, ok := x.records[collection][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

// FindByHash returns the most recent record whose content hash matches.
func (x *Index) FindByHash(_ context.Context, collection, hash string) (*storage.IndexRecord, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var best *storage.IndexRecord
	for _, rec := range x.records[collection] {
		if rec.ContentHash != hash {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	clone := *best
	return &clone, nil
}

// Query ranks records by cosine similarity, descending, breaking ties by
// more recent CreatedAt.
func (x *Index) Query(ctx context.Context, collection string, vector []float32, k int) ([]storage.IndexMatch, error) {
	if len(vector) == 0 || k < 1 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	col, ok := x.collections[collection]
	if !ok {
		return nil, nil
	}

	// chromem rejects nResults larger than the collection size.
	if size := len(x.records[collection]); k > size {
		k = size
	}
	if k == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	matches := make([]storage.IndexMatch, 0, len(results))
	for _, res := range results {
		rec, ok := x.records[collection][res.ID]
		if !ok {
			continue
		}
		clone := *rec
		matches = append(matches, storage.IndexMatch{Record: &clone, Similarity: float64(res.Similarity)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Record.CreatedAt.After(matches[j].Record.CreatedAt)
	})
	return matches, nil
}

// Delete removes a record by id. Absent ids are not an error.
func (x *Index) Delete(ctx context.Context, collection, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	col, ok := x.collections[collection]
	if !ok {
		return nil
	}
	if _, ok := x.records[collection][id]; !ok {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem: delete %s: %w", id, err)
	}
	delete(x.records[collection], id)
	return nil
}

// DeleteWhere bulk-deletes records matching the retention filter.
func (x *Index) DeleteWhere(ctx context.Context, collection string, filter storage.RetentionFilter) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	col, ok := x.collections[collection]
	if !ok {
		return 0, nil
	}

	var doomed []string
	for id, rec := range x.records[collection] {
		if filter.Matches(rec) {
			doomed = append(doomed, id)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	if err := col.Delete(ctx, nil, nil, doomed...); err != nil {
		return 0, fmt.Errorf("chromem: bulk delete: %w", err)
	}
	for _, id := range doomed {
		delete(x.records[collection], id)
	}
	return len(doomed), nil
}

// Collections lists collections that currently hold records.
func (x *Index) Collections(_ context.Context) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []string
	for name, recs := range x.records {
		if len(recs) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the number of records in a collection.
func (x *Index) Count(_ context.Context, collection string) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records[collection]), nil
}

// Backup writes all records as a single JSON snapshot into dir.
func (x *Index) Backup(_ context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("chromem: failed to create backup directory: %w", err)
	}

	x.mu.RLock()
	snapshot := make(map[string][]*storage.IndexRecord, len(x.records))
	for name, recs := range x.records {
		for _, rec := range recs {
			clone := *rec
			snapshot[name] = append(snapshot[name], &clone)
		}
	}
	x.mu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("chromem: failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, snapshotFileName), data, 0o644); err != nil {
		return fmt.Errorf("chromem: failed to write snapshot: %w", err)
	}
	return nil
}

// Restore replaces the index contents from a snapshot directory. The
// snapshot is fully parsed and loaded into a staging index first; only then
// is the live state swapped, so a bad snapshot leaves the index untouched.
func (x *Index) Restore(ctx context.Context, dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, snapshotFileName))
	if err != nil {
		return fmt.Errorf("%w: snapshot missing: %v", storage.ErrBackupCorrupt, err)
	}

	var snapshot map[string][]*storage.IndexRecord
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrBackupCorrupt, err)
	}

	staging := New()
	for name, recs := range snapshot {
		for _, rec := range recs {
			if err := staging.Add(ctx, name, rec); err != nil {
				return fmt.Errorf("%w: %v", storage.ErrBackupCorrupt, err)
			}
		}
	}

	x.mu.Lock()
	x.db = staging.db
	x.collections = staging.collections
	x.records = staging.records
	x.mu.Unlock()
	return nil
}
