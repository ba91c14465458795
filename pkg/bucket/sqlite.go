package bucket

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "modernc.org/sqlite"

	errs "github.com/matzehuels/neonfeed/pkg/errors"
)

const sqliteDriver = "sqlite"

const sqliteSchema = `CREATE TABLE IF NOT EXISTS entries (
	bucket    TEXT    NOT NULL,
	key       TEXT    NOT NULL,
	url       TEXT    NOT NULL,
	status    INTEGER NOT NULL,
	header    TEXT    NOT NULL,
	body      BLOB    NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (bucket, key)
)`

const sqliteUpsert = `INSERT INTO entries (bucket, key, url, status, header, body, stored_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (bucket, key) DO UPDATE SET
	url = excluded.url,
	status = excluded.status,
	header = excluded.header,
	body = excluded.body,
	stored_at = excluded.stored_at`

// SQLiteStore keeps all buckets in one sqlite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:"
// for a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errs.New(errs.ErrCodeInvalidConfig, "sqlite store requires a path")
	}
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create entries table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Names(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT DISTINCT bucket FROM entries ORDER BY bucket`)
}

func (s *SQLiteStore) Match(ctx context.Context, bucket, key string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, status, header, body, stored_at FROM entries WHERE bucket = ? AND key = ?`,
		bucket, key)

	var (
		e        Entry
		header   string
		storedAt int64
	)
	err := row.Scan(&e.URL, &e.Status, &header, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read entry %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return Entry{}, false, fmt.Errorf("decode header of %s: %w", key, err)
	}
	if storedAt != 0 {
		e.StoredAt = time.Unix(0, storedAt).UTC()
	}
	return e, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, bucket, key string, entry Entry) error {
	return s.PutAll(ctx, bucket, map[string]Entry{key: entry})
}

// PutAll writes every entry in one transaction.
func (s *SQLiteStore) PutAll(ctx context.Context, bucket string, entries map[string]Entry) error {
	if err := errs.ValidateBucketName(bucket); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, k := range sortedKeys(entries) {
		e := entries[k]
		header := e.Header
		if header == nil {
			header = http.Header{}
		}
		hdr, err := json.Marshal(header)
		if err != nil {
			return fmt.Errorf("encode header of %s: %w", k, err)
		}
		body := e.Body
		if body == nil {
			body = []byte{}
		}
		var storedAt int64
		if !e.StoredAt.IsZero() {
			storedAt = e.StoredAt.UnixNano()
		}
		if _, err := stmt.ExecContext(ctx, bucket, k, e.URL, e.Status, string(hdr), body, storedAt); err != nil {
			return fmt.Errorf("put entry %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context, bucket string) ([]string, error) {
	return s.strings(ctx, `SELECT key FROM entries WHERE bucket = ? ORDER BY key`, bucket)
}

func (s *SQLiteStore) DeleteBucket(ctx context.Context, bucket string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE bucket = ?`, bucket)
	if err != nil {
		return false, fmt.Errorf("delete bucket %s: %w", bucket, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete bucket %s: %w", bucket, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
