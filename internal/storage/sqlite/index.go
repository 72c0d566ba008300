// Package sqlite implements the storage.VectorIndex contract on an embedded
// SQLite database. Embeddings are stored as little-endian float32 BLOBs and
// ranked by cosine similarity in Go; for typical agent datasets (< 10k
// entries per collection) a brute-force scan stays well under a millisecond.
// For larger deployments use the postgres backend with indexed ANN search.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage"
)

// backupFileName is the snapshot file written into a backup directory.
const backupFileName = "store.db"

// Index is a durable VectorIndex backed by a single SQLite database.
type Index struct {
	// mu serialises Restore's attach-and-swap against concurrent queries.
	// Regular operations rely on the database's own locking.
	mu sync.RWMutex
	db *sql.DB

	path string // empty for in-memory databases
}

// Open opens (or creates) the index database at path. An empty path opens an
// in-memory database, useful for tests.
func Open(path string) (*Index, error) {
	dsn := ":memory:"
	if path != "" {
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent
	// load; WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s failed: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Index{db: db, path: path}, nil
}

// Close closes the underlying database.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.db.Close()
}

// Add inserts or replaces a record (upsert keyed by collection+id). The
// replace happens in a single statement, so concurrent queries never see the
// id missing.
func (x *Index) Add(ctx context.Context, collection string, rec *storage.IndexRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("sqlite: record with id is required")
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("sqlite: record %s has no embedding", rec.ID)
	}

	var metadataJSON []byte
	if rec.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal metadata: %w", err)
		}
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	_, err := x.db.ExecContext(ctx, `
		INSERT INTO entries (collection, id, content, content_hash, embedding, dimension,
			metadata, importance, access_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			content = excluded.content,
			content_hash = excluded.content_hash,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			metadata = excluded.metadata,
			importance = excluded.importance,
			access_count = excluded.access_count,
			updated_at = excluded.updated_at`,
		collection, rec.ID, rec.Content, rec.ContentHash,
		storage.SerializeVector(rec.Embedding), len(rec.Embedding),
		nullableJSON(metadataJSON), rec.Importance, rec.AccessCount,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: failed to store record %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns a record by id.
func (x *Index) Get(ctx context.Context, collection, id string) (*storage.IndexRecord, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	row := x.db.QueryRowContext(ctx, selectColumns+` WHERE collection = ? AND id = ?`, collection, id)
	return scanRecord(row)
}

// FindByHash returns the most recent record whose content hash matches.
func (x *Index) FindByHash(ctx context.Context, collection, hash string) (*storage.IndexRecord, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	row := x.db.QueryRowContext(ctx, selectColumns+`
		WHERE collection = ? AND content_hash = ?
		ORDER BY created_at DESC LIMIT 1`, collection, hash)
	return scanRecord(row)
}

// queryMaxCandidates caps the number of embeddings loaded during a query.
// Candidates are selected newest-first so recent records are always ranked.
const queryMaxCandidates = 10_000

// Query ranks records by cosine similarity to the vector, descending, with
// more recent created_at breaking ties.
func (x *Index) Query(ctx context.Context, collection string, vector []float32, k int) ([]storage.IndexMatch, error) {
	if len(vector) == 0 || k < 1 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	rows, err := x.db.QueryContext(ctx, `
		SELECT id, embedding, dimension, created_at FROM entries
		WHERE collection = ?
		ORDER BY created_at DESC LIMIT ?`, collection, queryMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		id        string
		score     float64
		createdAt int64
	}
	var candidates []scored

	for rows.Next() {
		var (
			id        string
			blob      []byte
			dim       int
			createdAt int64
		)
		if err := rows.Scan(&id, &blob, &dim, &createdAt); err != nil {
			continue
		}
		embedding, err := storage.DeserializeVector(blob, dim)
		if err != nil {
			log.Printf("sqlite: skipping record %s with bad embedding: %v", id, err)
			continue
		}
		candidates = append(candidates, scored{id, storage.Cosine(vector, embedding), createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating embeddings: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].createdAt > candidates[j].createdAt
	})

	if k > len(candidates) {
		k = len(candidates)
	}

	matches := make([]storage.IndexMatch, 0, k)
	for _, c := range candidates[:k] {
		row := x.db.QueryRowContext(ctx, selectColumns+` WHERE collection = ? AND id = ?`, collection, c.id)
		rec, err := scanRecord(row)
		if err != nil {
			continue // deleted between ranking and fetch
		}
		matches = append(matches, storage.IndexMatch{Record: rec, Similarity: c.score})
	}
	return matches, nil
}

// Delete removes a record by id. Absent ids are not an error.
func (x *Index) Delete(ctx context.Context, collection, id string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if _, err := x.db.ExecContext(ctx,
		`DELETE FROM entries WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("sqlite: failed to delete %s: %w", id, err)
	}
	return nil
}

// DeleteWhere bulk-deletes records matching the retention filter.
func (x *Index) DeleteWhere(ctx context.Context, collection string, filter storage.RetentionFilter) (int, error) {
	clauses := ""
	args := []interface{}{collection}

	if !filter.OlderThan.IsZero() {
		clauses = "created_at < ?"
		args = append(args, filter.OlderThan.UnixNano())
	}
	if filter.UnimportantFloor > 0 {
		if clauses != "" {
			clauses += " OR "
		}
		clauses += "(importance < ? AND access_count = 0)"
		args = append(args, filter.UnimportantFloor)
	}
	if clauses == "" {
		return 0, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	res, err := x.db.ExecContext(ctx,
		`DELETE FROM entries WHERE collection = ? AND (`+clauses+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: bulk delete failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Collections lists collections that currently hold records.
func (x *Index) Collections(ctx context.Context) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	rows, err := x.db.QueryContext(ctx, `SELECT DISTINCT collection FROM entries ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the number of records in a collection.
func (x *Index) Count(ctx context.Context, collection string) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var n int
	err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count failed: %w", err)
	}
	return n, nil
}

// Backup writes a consistent point-in-time snapshot into dir using VACUUM
// INTO, which handles WAL mode correctly.
func (x *Index) Backup(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sqlite: failed to create backup directory: %w", err)
	}
	dest := filepath.Join(dir, backupFileName)
	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sqlite: failed to clear previous snapshot: %w", err)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if _, err := x.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return fmt.Errorf("sqlite: snapshot failed: %w", err)
	}
	return nil
}

// Restore replaces the index contents from a snapshot directory. The
// snapshot is validated first (integrity_check plus schema probe); the swap
// itself runs in one transaction, so a failure keeps the previous contents.
func (x *Index) Restore(ctx context.Context, dir string) error {
	snapshot := filepath.Join(dir, backupFileName)
	if err := verifySnapshot(snapshot); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrBackupCorrupt, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin restore: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE '%s' AS snapshot", snapshot)); err != nil {
		return fmt.Errorf("sqlite: failed to attach snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("sqlite: failed to clear entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO entries SELECT * FROM snapshot.entries`); err != nil {
		return fmt.Errorf("sqlite: failed to import snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit restore: %w", err)
	}

	// Detach outside the transaction; failure here does not affect data.
	if _, err := x.db.ExecContext(ctx, `DETACH DATABASE snapshot`); err != nil {
		log.Printf("sqlite: failed to detach snapshot database: %v", err)
	}
	return nil
}

// verifySnapshot opens the snapshot read-only and checks its integrity and
// schema before anything touches the live database.
func verifySnapshot(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("snapshot missing: %v", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %v", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed to run: %v", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return fmt.Errorf("snapshot has no entries table: %v", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, content, content_hash, embedding, dimension, metadata,
		importance, access_count, created_at, updated_at
	FROM entries`

// scanRecord reads one record row, translating sql.ErrNoRows into
// storage.ErrNotFound.
func scanRecord(row *sql.Row) (*storage.IndexRecord, error) {
	var (
		rec          storage.IndexRecord
		blob         []byte
		dim          int
		metadataJSON sql.NullString
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(&rec.ID, &rec.Content, &rec.ContentHash, &blob, &dim,
		&metadataJSON, &rec.Importance, &rec.AccessCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan failed: %w", err)
	}

	rec.Embedding, err = storage.DeserializeVector(blob, dim)
	if err != nil {
		return nil, fmt.Errorf("sqlite: record %s: %w", rec.ID, err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite: record %s has bad metadata: %w", rec.ID, err)
		}
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	return &rec, nil
}

// nullableJSON stores NULL instead of an empty blob for absent metadata.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
