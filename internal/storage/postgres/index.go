// Package postgres implements the storage.VectorIndex contract on
// PostgreSQL with the pgvector extension. Unlike the sqlite backend, which
// ranks candidates in Go, nearest-neighbor queries are pushed into the
// database using the cosine distance operator, so this backend scales past
// the point where brute-force scans stop being free.
//
// The pgvector extension is required: this backend exists solely for vector
// search, so a missing extension is an error rather than a degraded mode.
package postgres

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage"
)

// snapshotFileName is the snapshot file written into a backup directory.
const snapshotFileName = "entries.jsonl"

// Index is a VectorIndex backed by PostgreSQL + pgvector.
type Index struct {
	db        *sql.DB
	dimension int
}

// Open connects to PostgreSQL, verifies the pgvector extension, and creates
// the schema. The embedding dimension is fixed per deployment because the
// vector column type carries it.
func Open(dsn string, dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("postgres: dimension must be positive")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping: %w", err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: pgvector extension not available: %w", err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS entries (
			collection   TEXT        NOT NULL,
			id           TEXT        NOT NULL,
			content      TEXT        NOT NULL,
			content_hash TEXT        NOT NULL,
			embedding    vector(%d)  NOT NULL,
			metadata     JSONB,
			importance   DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			access_count INTEGER     NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_entries_hash
			ON entries(collection, content_hash);
	`, dimension)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	// HNSW gives indexed ANN search on recent pgvector versions. Older
	// servers fall back to sequential scans, which still return correct
	// results, so a failure here is logged and tolerated.
	if _, err := db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_entries_embedding ON entries USING hnsw (embedding vector_cosine_ops)"); err != nil {
		log.Printf("postgres: HNSW index not created (ANN disabled, queries still correct): %v", err)
	}

	return &Index{db: db, dimension: dimension}, nil
}

// Close closes the connection pool.
func (x *Index) Close() error { return x.db.Close() }

// Add inserts or replaces a record (upsert keyed by collection+id).
func (x *Index) Add(ctx context.Context, collection string, rec *storage.IndexRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("postgres: record with id is required")
	}
	if len(rec.Embedding) != x.dimension {
		return fmt.Errorf("%w: got %d, index dimension is %d",
			storage.ErrDimensionMismatch, len(rec.Embedding), x.dimension)
	}

	var metadataJSON []byte
	if rec.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: failed to marshal metadata: %w", err)
		}
	}

	_, err := x.db.ExecContext(ctx, `
		INSERT INTO entries (collection, id, content, content_hash, embedding,
			metadata, importance, access_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (collection, id) DO UPDATE SET
			content = excluded.content,
			content_hash = excluded.content_hash,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			importance = excluded.importance,
			access_count = excluded.access_count,
			updated_at = excluded.updated_at`,
		collection, rec.ID, rec.Content, rec.ContentHash,
		pgvector.NewVector(rec.Embedding), nullableJSON(metadataJSON),
		rec.Importance, rec.AccessCount, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to store record %s: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, content, content_hash, embedding, metadata,
		importance, access_count, created_at, updated_at
	FROM entries`

// Get returns a record by id.
func (x *Index) Get(ctx context.Context, collection, id string) (*storage.IndexRecord, error) {
	row := x.db.QueryRowContext(ctx,
		selectColumns+` WHERE collection = $1 AND id = $2`, collection, id)
	return scanRecord(row)
}

// FindByHash returns the most recent record whose content hash matches.
func (x *Index) FindByHash(ctx context.Context, collection, hash string) (*storage.IndexRecord, error) {
	row := x.db.QueryRowContext(ctx, selectColumns+`
		WHERE collection = $1 AND content_hash = $2
		ORDER BY created_at DESC LIMIT 1`, collection, hash)
	return scanRecord(row)
}

// Query ranks records by cosine similarity in the database. pgvector's <=>
// operator is cosine distance, so similarity = 1 - distance.
func (x *Index) Query(ctx context.Context, collection string, vector []float32, k int) ([]storage.IndexMatch, error) {
	if len(vector) == 0 || k < 1 {
		return nil, nil
	}
	if len(vector) != x.dimension {
		return nil, fmt.Errorf("%w: got %d, index dimension is %d",
			storage.ErrDimensionMismatch, len(vector), x.dimension)
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT id, content, content_hash, embedding, metadata,
			importance, access_count, created_at, updated_at,
			1 - (embedding <=> $2) AS similarity
		FROM entries
		WHERE collection = $1
		ORDER BY embedding <=> $2, created_at DESC
		LIMIT $3`, collection, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.IndexMatch
	for rows.Next() {
		var (
			rec          storage.IndexRecord
			vec          pgvector.Vector
			metadataJSON sql.NullString
			similarity   float64
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.ContentHash, &vec, &metadataJSON,
			&rec.Importance, &rec.AccessCount, &rec.CreatedAt, &rec.UpdatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("postgres: scan failed: %w", err)
		}
		rec.Embedding = vec.Slice()
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: record %s has bad metadata: %w", rec.ID, err)
			}
		}
		matches = append(matches, storage.IndexMatch{Record: &rec, Similarity: similarity})
	}
	return matches, rows.Err()
}

// Delete removes a record by id. Absent ids are not an error.
func (x *Index) Delete(ctx context.Context, collection, id string) error {
	if _, err := x.db.ExecContext(ctx,
		`DELETE FROM entries WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("postgres: failed to delete %s: %w", id, err)
	}
	return nil
}

// DeleteWhere bulk-deletes records matching the retention filter.
func (x *Index) DeleteWhere(ctx context.Context, collection string, filter storage.RetentionFilter) (int, error) {
	clauses := ""
	args := []interface{}{collection}

	if !filter.OlderThan.IsZero() {
		args = append(args, filter.OlderThan)
		clauses = fmt.Sprintf("created_at < $%d", len(args))
	}
	if filter.UnimportantFloor > 0 {
		if clauses != "" {
			clauses += " OR "
		}
		args = append(args, filter.UnimportantFloor)
		clauses += fmt.Sprintf("(importance < $%d AND access_count = 0)", len(args))
	}
	if clauses == "" {
		return 0, nil
	}

	res, err := x.db.ExecContext(ctx,
		`DELETE FROM entries WHERE collection = $1 AND (`+clauses+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: bulk delete failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Collections lists collections that currently hold records.
func (x *Index) Collections(ctx context.Context) ([]string, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT DISTINCT collection FROM entries ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list collections: %w", err)
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
	var n int
	err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE collection = $1`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count failed: %w", err)
	}
	return n, nil
}

// snapshotRow is one line of the JSONL snapshot.
type snapshotRow struct {
	Collection string               `json:"collection"`
	Record     *storage.IndexRecord `json:"record"`
}

// Backup exports every record as JSONL into dir. The export runs in a
// single repeatable-read transaction so the snapshot is consistent.
func (x *Index) Backup(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("postgres: failed to create backup directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, snapshotFileName))
	if err != nil {
		return fmt.Errorf("postgres: failed to create snapshot file: %w", err)
	}
	defer func() { _ = f.Close() }()
	w := bufio.NewWriter(f)

	tx, err := x.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("postgres: failed to begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT collection, id, content, content_hash, embedding, metadata,
			importance, access_count, created_at, updated_at
		FROM entries ORDER BY collection, id`)
	if err != nil {
		return fmt.Errorf("postgres: snapshot query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	enc := json.NewEncoder(w)
	for rows.Next() {
		var (
			row          snapshotRow
			rec          storage.IndexRecord
			vec          pgvector.Vector
			metadataJSON sql.NullString
		)
		if err := rows.Scan(&row.Collection, &rec.ID, &rec.Content, &rec.ContentHash, &vec,
			&metadataJSON, &rec.Importance, &rec.AccessCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return fmt.Errorf("postgres: snapshot scan failed: %w", err)
		}
		rec.Embedding = vec.Slice()
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
				return fmt.Errorf("postgres: record %s has bad metadata: %w", rec.ID, err)
			}
		}
		row.Record = &rec
		if err := enc.Encode(&row); err != nil {
			return fmt.Errorf("postgres: snapshot write failed: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: snapshot iteration failed: %w", err)
	}
	return w.Flush()
}

// Restore replaces the table contents from a JSONL snapshot. The snapshot
// is parsed completely before the transaction starts; the delete+reload runs
// in one transaction, so a failure keeps the previous contents.
func (x *Index) Restore(ctx context.Context, dir string) error {
	f, err := os.Open(filepath.Join(dir, snapshotFileName))
	if err != nil {
		return fmt.Errorf("%w: snapshot missing: %v", storage.ErrBackupCorrupt, err)
	}
	defer func() { _ = f.Close() }()

	var staged []snapshotRow
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var row snapshotRow
		if err := dec.Decode(&row); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrBackupCorrupt, err)
		}
		if row.Record == nil || row.Record.ID == "" || len(row.Record.Embedding) != x.dimension {
			return fmt.Errorf("%w: malformed record in snapshot", storage.ErrBackupCorrupt)
		}
		staged = append(staged, row)
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin restore: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("postgres: failed to clear entries: %w", err)
	}
	for _, row := range staged {
		rec := row.Record
		var metadataJSON []byte
		if rec.Metadata != nil {
			metadataJSON, err = json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("postgres: failed to marshal metadata: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entries (collection, id, content, content_hash, embedding,
				metadata, importance, access_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			row.Collection, rec.ID, rec.Content, rec.ContentHash,
			pgvector.NewVector(rec.Embedding), nullableJSON(metadataJSON),
			rec.Importance, rec.AccessCount, rec.CreatedAt, rec.UpdatedAt); err != nil {
			return fmt.Errorf("postgres: failed to import record %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// scanRecord reads one record row, translating sql.ErrNoRows into
// storage.ErrNotFound.
func scanRecord(row *sql.Row) (*storage.IndexRecord, error) {
	var (
		rec          storage.IndexRecord
		vec          pgvector.Vector
		metadataJSON sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Content, &rec.ContentHash, &vec, &metadataJSON,
		&rec.Importance, &rec.AccessCount, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan failed: %w", err)
	}
	rec.Embedding = vec.Slice()
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: record %s has bad metadata: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// nullableJSON stores NULL instead of an empty blob for absent metadata.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
