package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createCacheTableSQL = `
CREATE TABLE IF NOT EXISTS cache_entries (
    key TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    doc_type VARCHAR(50) NOT NULL,
    doc_id VARCHAR(255) NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    citation TEXT NOT NULL DEFAULT '',
    cached_at TIMESTAMP NOT NULL,
    hit_count INTEGER NOT NULL DEFAULT 0,
    indexed INTEGER NOT NULL DEFAULT 0,
    indexed_at TIMESTAMP,
    page_count INTEGER NOT NULL DEFAULT 0,
    content_hash VARCHAR(64) NOT NULL,
    owner_fingerprint VARCHAR(255) NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_cache_owner ON cache_entries(owner_fingerprint);
CREATE INDEX IF NOT EXISTS idx_cache_doc_type ON cache_entries(doc_type);
`

// SQLiteStore keeps envelopes in a single sqlite database. Suited to
// deployments that want one file instead of a cache tree.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, createCacheTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Envelope, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	env, err := scanEnvelope(tx.QueryRowContext(ctx,
		`SELECT content, doc_type, doc_id, title, citation, cached_at, hit_count,
		        indexed, indexed_at, page_count, content_hash, owner_fingerprint, metadata
		 FROM cache_entries WHERE key = ?`, key))
	if err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE cache_entries SET hit_count = hit_count + 1 WHERE key = ?`, key); err != nil {
		return nil, fmt.Errorf("failed to record cache hit: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cache hit: %w", err)
	}

	env.HitCount++
	return env, nil
}

func (s *SQLiteStore) Peek(ctx context.Context, key string) (*Envelope, error) {
	return scanEnvelope(s.db.QueryRowContext(ctx,
		`SELECT content, doc_type, doc_id, title, citation, cached_at, hit_count,
		        indexed, indexed_at, page_count, content_hash, owner_fingerprint, metadata
		 FROM cache_entries WHERE key = ?`, key))
}

func (s *SQLiteStore) Put(ctx context.Context, key string, env *Envelope) error {
	if env == nil {
		return fmt.Errorf("cannot cache nil envelope")
	}

	stamped := *env
	if stamped.CachedAt.IsZero() {
		stamped.CachedAt = time.Now().UTC()
	}
	if stamped.ContentHash == "" {
		stamped.ContentHash = HashContent([]byte(stamped.Content))
	}

	metadataJSON := []byte("{}")
	if stamped.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(stamped.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	var indexedAt interface{}
	if stamped.IndexedAt != nil {
		indexedAt = *stamped.IndexedAt
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO cache_entries (key, content, doc_type, doc_id, title, citation, cached_at,
                           hit_count, indexed, indexed_at, page_count, content_hash,
                           owner_fingerprint, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    content = excluded.content,
    doc_type = excluded.doc_type,
    doc_id = excluded.doc_id,
    title = excluded.title,
    citation = excluded.citation,
    cached_at = excluded.cached_at,
    hit_count = excluded.hit_count,
    indexed = excluded.indexed,
    indexed_at = excluded.indexed_at,
    page_count = excluded.page_count,
    content_hash = excluded.content_hash,
    owner_fingerprint = excluded.owner_fingerprint,
    metadata = excluded.metadata
`,
		key, stamped.Content, stamped.DocType, stamped.DocID, stamped.Title,
		stamped.Citation, stamped.CachedAt, stamped.HitCount, stamped.Indexed,
		indexedAt, stamped.PageCount, stamped.ContentHash,
		stamped.OwnerFingerprint, string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkIndexed(ctx context.Context, key string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET indexed = 1, indexed_at = ? WHERE key = ?`, at, key)
	if err != nil {
		return fmt.Errorf("failed to mark entry indexed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE key LIKE ? ORDER BY key ASC`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan cache key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache keys: %w", err)
	}
	return keys, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEnvelope(row rowScanner) (*Envelope, error) {
	var (
		env          Envelope
		indexedAt    sql.NullTime
		metadataJSON string
	)

	err := row.Scan(&env.Content, &env.DocType, &env.DocID, &env.Title, &env.Citation,
		&env.CachedAt, &env.HitCount, &env.Indexed, &indexedAt, &env.PageCount,
		&env.ContentHash, &env.OwnerFingerprint, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache entry: %w", err)
	}

	if indexedAt.Valid {
		t := indexedAt.Time
		env.IndexedAt = &t
	}
	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &env.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt cache metadata: %w", err)
		}
	}

	return &env, nil
}
