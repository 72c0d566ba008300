package sqlite

// schema creates the entries table. Timestamps are stored as Unix
// nanoseconds so comparisons in retention queries are plain integer
// comparisons regardless of the driver's time handling.
const schema = `
CREATE TABLE IF NOT EXISTS entries (
	collection   TEXT    NOT NULL,
	id           TEXT    NOT NULL,
	content      TEXT    NOT NULL,
	content_hash TEXT    NOT NULL,
	embedding    BLOB    NOT NULL,
	dimension    INTEGER NOT NULL,
	metadata     TEXT,
	importance   REAL    NOT NULL DEFAULT 0.5,
	access_count INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_entries_hash
	ON entries(collection, content_hash);

CREATE INDEX IF NOT EXISTS idx_entries_created
	ON entries(collection, created_at);
`
