// Package records stores per-file analysis records in a SQLite database
// under the output directory.
package records

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"
)

const dbFile = "records.db"

// Record is the analysis of one file.
type Record struct {
	Path         string    `json:"path"`
	BatchID      int       `json:"batch_id"`
	Summary      string    `json:"summary"`
	Symbols      []string  `json:"symbols,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Risks        []string  `json:"risks,omitempty"`
	Body         string    `json:"body,omitempty"`
	Digest       string    `json:"digest,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ErrNotFound is returned by Get for unknown paths.
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS records (
	path TEXT PRIMARY KEY,
	batch_id INTEGER NOT NULL,
	digest TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	body BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_batch ON records(batch_id);
`

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Store is the record database.
type Store struct {
	db *sql.DB
}

// Open opens or creates dir/records.db.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	dsn := filepath.Join(dir, dbFile) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	// One writer; batches complete concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply records schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put inserts or replaces records in one transaction.
func (s *Store) Put(ctx context.Context, recs ...Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := insert(ctx, tx, recs); err != nil {
		return err
	}
	return tx.Commit()
}

func insert(ctx context.Context, tx *sql.Tx, recs []Record) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO records (path, batch_id, digest, updated_at, body) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = time.Now().UTC()
		}
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", r.Path, err)
		}
		body := encoder.EncodeAll(raw, nil)
		if _, err := stmt.ExecContext(ctx, r.Path, r.BatchID, r.Digest, r.UpdatedAt.UnixMilli(), body); err != nil {
			return fmt.Errorf("insert record %s: %w", r.Path, err)
		}
	}
	return nil
}

// Get returns the record for path.
func (s *Store) Get(ctx context.Context, path string) (*Record, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM records WHERE path = ?`, path).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("query record %s: %w", path, err)
	}
	return decode(body)
}

// All returns every record ordered by path.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM records ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r, err := decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Paths returns the path of every record, sorted.
func (s *Store) Paths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM records ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query record paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan record path: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes the records of paths. Unknown paths are ignored.
func (s *Store) Delete(ctx context.Context, paths ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, p := range paths {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, p); err != nil {
			return fmt.Errorf("delete record %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// Relabel moves records from old to new paths, replacing any record already
// stored under the new path. The whole move is one transaction; every old
// record is read and deleted before the new ones are written, so swapped
// paths exchange their records.
func (s *Store) Relabel(ctx context.Context, renames map[string]string) error {
	if len(renames) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	moved := make([]Record, 0, len(renames))
	for from, to := range renames {
		var body []byte
		err := tx.QueryRowContext(ctx, `SELECT body FROM records WHERE path = ?`, from).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("query record %s: %w", from, err)
		}
		r, err := decode(body)
		if err != nil {
			return err
		}
		r.Path = to
		moved = append(moved, *r)
	}
	for from := range renames {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, from); err != nil {
			return fmt.Errorf("delete record %s: %w", from, err)
		}
	}
	if err := insert(ctx, tx, moved); err != nil {
		return err
	}
	return tx.Commit()
}

func decode(body []byte) (*Record, error) {
	raw, err := decoder.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return &r, nil
}

// Digest returns the blake3 hex digest of content.
func Digest(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}
