// Package longterm implements the durable, semantically searchable memory
// tier. It layers embedding, similarity filtering, retention, and staged
// backup/restore on top of a pluggable VectorIndex backend, with one
// collection per category.
package longterm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/embedding"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage"
	"github.com/TatyanaRTV/ai-agent-sub000/pkg/types"
)

const (
	// DefaultMinSimilarity filters search results whose cosine similarity
	// falls below it when the caller does not override the threshold.
	DefaultMinSimilarity = 0.25

	// DefaultOpTimeout caps backend calls when the caller's context has no
	// deadline of its own.
	DefaultOpTimeout = 10 * time.Second

	manifestFile = "manifest.json"
)

// Config controls store behavior.
type Config struct {
	// MinSimilarity is the default similarity floor for Search. Zero keeps
	// the package default.
	MinSimilarity float64

	// OpTimeout bounds a single backend call when the incoming context has
	// no deadline. Zero keeps the package default, negative disables it.
	OpTimeout time.Duration

	// DataDir is the backend's on-disk location, used only for the size
	// estimate in Stats. Empty reports zero size (in-memory backends).
	DataDir string

	// Clock supplies timestamps; defaults to the system clock.
	Clock storage.Clock
}

// Match is a search hit with its cosine similarity.
type Match struct {
	Entry      *types.Entry
	Similarity float64
}

// Store is the long-term tier. Point reads and writes delegate atomicity to
// the index backend; the store's own mutex serializes only the compound
// operations (Update's read-modify-write, Restore's swap) so a concurrent
// Search never observes a half-applied update.
type Store struct {
	mu       sync.Mutex
	index    storage.VectorIndex
	embedder embedding.Embedder

	minSimilarity float64
	opTimeout     time.Duration
	dataDir       string
	clock         storage.Clock

	lastBackup time.Time
}

// New creates a store over the given index backend and embedder.
func New(index storage.VectorIndex, embedder embedding.Embedder, cfg Config) *Store {
	if cfg.MinSimilarity == 0 {
		cfg.MinSimilarity = DefaultMinSimilarity
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = storage.SystemClock{}
	}
	return &Store{
		index:         index,
		embedder:      embedder,
		minSimilarity: cfg.MinSimilarity,
		opTimeout:     cfg.OpTimeout,
		dataDir:       cfg.DataDir,
		clock:         cfg.Clock,
	}
}

// opContext applies the store's operation timeout when the caller did not
// bring a deadline.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// mapErr converts a context deadline into the tier's timeout error so
// callers and cycles can classify it.
func mapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", storage.ErrTimeout, err)
	}
	return err
}

// Store embeds content and persists it under a fresh id in the category's
// collection. Repeated calls with identical content create distinct
// entries; callers wanting dedup pre-check with FindByContentHash.
func (s *Store) Store(ctx context.Context, content string, category types.Category, metadata map[string]interface{}, importance float64) (string, error) {
	e, err := types.NewEntry(content, category, importance, s.clock.Now())
	if err != nil {
		return "", err
	}
	e.Metadata = metadata
	return s.StoreEntry(ctx, e)
}

// StoreEntry persists an existing entry under a freshly generated long-term
// id, embedding the content unless the entry already carries a vector of
// the deployed dimensionality. Used by consolidation to migrate short-term
// entries.
func (s *Store) StoreEntry(ctx context.Context, e *types.Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("%w: nil entry", types.ErrInvalidEntry)
	}
	if err := e.Validate(); err != nil {
		return "", err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	vector := e.Embedding
	if len(vector) == 0 {
		var err error
		vector, err = s.embed(opCtx, e.Content)
		if err != nil {
			return "", err
		}
	} else if len(vector) != s.embedder.Dimensions() {
		return "", fmt.Errorf("%w: got %d, store uses %d",
			storage.ErrDimensionMismatch, len(vector), s.embedder.Dimensions())
	}

	now := s.clock.Now()
	rec := &storage.IndexRecord{
		ID:          uuid.NewString(),
		Content:     e.Content,
		ContentHash: e.ContentHash(),
		Embedding:   vector,
		Metadata:    e.Metadata,
		Importance:  e.Importance,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.index.Add(opCtx, string(e.Category), rec); err != nil {
		return "", mapErr(fmt.Errorf("add to index: %w", err))
	}
	return rec.ID, nil
}

// Search embeds the query and returns matches at or above the similarity
// floor, ordered by similarity descending with recency breaking ties.
// An empty category searches every collection.
func (s *Store) Search(ctx context.Context, query string, category types.Category, opts storage.SearchOptions) ([]Match, error) {
	if opts.MinSimilarity == 0 {
		opts.MinSimilarity = s.minSimilarity
	}
	opts.Normalize()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	vector, err := s.embed(opCtx, query)
	if err != nil {
		return nil, err
	}

	collections, err := s.targetCollections(opCtx, category)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, col := range collections {
		hits, err := s.index.Query(opCtx, col, vector, opts.Limit)
		if err != nil {
			return nil, mapErr(fmt.Errorf("query %s: %w", col, err))
		}
		for _, hit := range hits {
			if hit.Similarity < opts.MinSimilarity {
				continue
			}
			matches = append(matches, Match{
				Entry:      recordToEntry(hit.Record, types.Category(col)),
				Similarity: hit.Similarity,
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Entry.CreatedAt.After(matches[j].Entry.CreatedAt)
	})
	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

// Get returns the entry and bumps its access bookkeeping.
func (s *Store) Get(ctx context.Context, category types.Category, id string) (*types.Entry, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.index.Get(opCtx, string(category), id)
	if err != nil {
		return nil, mapErr(err)
	}
	rec.AccessCount++
	rec.UpdatedAt = s.clock.Now()
	if err := s.index.Add(opCtx, string(category), rec); err != nil {
		return nil, mapErr(fmt.Errorf("record access: %w", err))
	}
	return recordToEntry(rec, category), nil
}

// FindByContentHash returns the first entry in the category whose content
// hash matches, or ErrNotFound. Used for opportunistic dedup before Store.
func (s *Store) FindByContentHash(ctx context.Context, category types.Category, hash string) (*types.Entry, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	rec, err := s.index.FindByHash(opCtx, string(category), hash)
	if err != nil {
		return nil, mapErr(err)
	}
	return recordToEntry(rec, category), nil
}

// Update modifies content and/or metadata in place, re-embedding when the
// content changes. The read-modify-write runs under the store mutex and the
// backend's Add replaces atomically, so a concurrent Search never sees the
// id missing.
func (s *Store) Update(ctx context.Context, category types.Category, id string, content *string, metadata map[string]interface{}) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	var vector []float32
	if content != nil {
		if *content == "" {
			return fmt.Errorf("%w: content must not be empty", types.ErrInvalidEntry)
		}
		var err error
		vector, err = s.embed(opCtx, *content)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.index.Get(opCtx, string(category), id)
	if err != nil {
		return mapErr(err)
	}
	if content != nil {
		rec.Content = *content
		rec.ContentHash = types.HashContent(*content)
		rec.Embedding = vector
	}
	if metadata != nil {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			rec.Metadata[k] = v
		}
	}
	rec.UpdatedAt = s.clock.Now()

	if err := s.index.Add(opCtx, string(category), rec); err != nil {
		return mapErr(fmt.Errorf("reinsert %s: %w", id, err))
	}
	return nil
}

// Delete removes the entry from the category's collection. Deleting an
// absent id is not an error.
func (s *Store) Delete(ctx context.Context, category types.Category, id string) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return mapErr(s.index.Delete(opCtx, string(category), id))
}

// Locate scans every collection for the id. Used by forget calls that do
// not know the entry's category.
func (s *Store) Locate(ctx context.Context, id string) (types.Category, *types.Entry, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	collections, err := s.index.Collections(opCtx)
	if err != nil {
		return "", nil, mapErr(err)
	}
	for _, col := range collections {
		rec, err := s.index.Get(opCtx, col, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", nil, mapErr(err)
		}
		return types.Category(col), recordToEntry(rec, types.Category(col)), nil
	}
	return "", nil, storage.ErrNotFound
}

// DeleteWhere bulk-deletes records matching the retention filter. An empty
// category applies the filter to every collection. Returns the total number
// of records removed.
func (s *Store) DeleteWhere(ctx context.Context, category types.Category, filter storage.RetentionFilter) (int, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	collections, err := s.targetCollections(opCtx, category)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, col := range collections {
		n, err := s.index.DeleteWhere(opCtx, col, filter)
		if err != nil {
			return total, mapErr(fmt.Errorf("retention delete in %s: %w", col, err))
		}
		total += n
	}
	return total, nil
}

// Stats summarises the tier: per-category counts, an on-disk size estimate,
// and the last successful backup time.
type Stats struct {
	TotalEntries   int            `json:"total_entries"`
	CategoryCounts map[string]int `json:"category_counts"`
	DiskSizeBytes  int64          `json:"disk_size_bytes"`
	LastBackup     time.Time      `json:"last_backup,omitempty"`
}

// Stats returns current counts and sizes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	st := Stats{CategoryCounts: make(map[string]int)}

	collections, err := s.index.Collections(opCtx)
	if err != nil {
		return st, mapErr(err)
	}
	for _, col := range collections {
		n, err := s.index.Count(opCtx, col)
		if err != nil {
			return st, mapErr(fmt.Errorf("count %s: %w", col, err))
		}
		st.CategoryCounts[col] = n
		st.TotalEntries += n
	}
	st.DiskSizeBytes = s.diskSize()

	s.mu.Lock()
	st.LastBackup = s.lastBackup
	s.mu.Unlock()
	return st, nil
}

// Manifest describes a backup directory. It is written next to the backend
// snapshot and validated before any restore touches live data.
type Manifest struct {
	Timestamp      time.Time      `json:"timestamp"`
	TotalEntries   int            `json:"total_entries"`
	CategoryCounts map[string]int `json:"category_counts"`
	Dimensions     int            `json:"dimensions"`
}

// Backup writes a self-contained snapshot of the store into dir: the
// backend's native snapshot plus a manifest. Returns the directory path.
func (s *Store) Backup(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.index.Backup(opCtx, dir); err != nil {
		return "", mapErr(fmt.Errorf("backend snapshot: %w", err))
	}

	m := Manifest{
		Timestamp:      s.clock.Now(),
		CategoryCounts: make(map[string]int),
		Dimensions:     s.embedder.Dimensions(),
	}
	collections, err := s.index.Collections(opCtx)
	if err != nil {
		return "", mapErr(err)
	}
	for _, col := range collections {
		n, err := s.index.Count(opCtx, col)
		if err != nil {
			return "", mapErr(err)
		}
		m.CategoryCounts[col] = n
		m.TotalEntries += n
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	s.mu.Lock()
	s.lastBackup = m.Timestamp
	s.mu.Unlock()

	log.Printf("[longterm] backup written to %s (%d entries)", dir, m.TotalEntries)
	return dir, nil
}

// Restore replaces the store contents from a backup directory. The manifest
// is validated first and the backend stages its snapshot before swapping,
// so a failed restore leaves the previous data intact.
func (s *Store) Restore(ctx context.Context, dir string) error {
	m, err := ReadManifest(dir)
	if err != nil {
		return err
	}
	if m.Dimensions != 0 && m.Dimensions != s.embedder.Dimensions() {
		return fmt.Errorf("%w: snapshot dimensions %d, store uses %d",
			storage.ErrBackupCorrupt, m.Dimensions, s.embedder.Dimensions())
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Restore(opCtx, dir); err != nil {
		return mapErr(err)
	}
	log.Printf("[longterm] restored %d entries from %s", m.TotalEntries, dir)
	return nil
}

// ReadManifest loads and validates a backup directory's manifest.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return m, fmt.Errorf("%w: read manifest: %v", storage.ErrBackupCorrupt, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: decode manifest: %v", storage.ErrBackupCorrupt, err)
	}
	if m.Timestamp.IsZero() {
		return m, fmt.Errorf("%w: manifest missing timestamp", storage.ErrBackupCorrupt)
	}
	return m, nil
}

// Close releases the index backend.
func (s *Store) Close() error {
	return s.index.Close()
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, mapErr(fmt.Errorf("embed: %w", err))
	}
	if len(vector) != s.embedder.Dimensions() {
		return nil, fmt.Errorf("%w: embedder returned %d, declares %d",
			storage.ErrDimensionMismatch, len(vector), s.embedder.Dimensions())
	}
	return vector, nil
}

// targetCollections resolves a category to the collections to operate on.
func (s *Store) targetCollections(ctx context.Context, category types.Category) ([]string, error) {
	if category != "" {
		if !types.IsValidCategory(category) {
			return nil, fmt.Errorf("%w: unknown category %q", types.ErrInvalidEntry, category)
		}
		return []string{string(category)}, nil
	}
	collections, err := s.index.Collections(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return collections, nil
}

func (s *Store) diskSize() int64 {
	if s.dataDir == "" {
		return 0
	}
	var total int64
	_ = filepath.WalkDir(s.dataDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// recordToEntry converts a persisted record back into the entry shape the
// rest of the subsystem speaks.
func recordToEntry(rec *storage.IndexRecord, category types.Category) *types.Entry {
	return &types.Entry{
		ID:          rec.ID,
		Content:     rec.Content,
		Category:    category,
		Metadata:    rec.Metadata,
		Embedding:   rec.Embedding,
		Importance:  rec.Importance,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		AccessCount: rec.AccessCount,
	}
}
