// Package depgraph builds and reads dependency graph stores.
//
// A store is a sqlite file holding one row per "author/name" key whose value
// is the JSON list of every published version of that module. A store is
// never patched: each publish builds a new file beside the old one and
// renames it into place, so readers always see a whole store.
package depgraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "modernc.org/sqlite"
)

var log = logging.Logger("depgraph")

const (
	// StoreFilename is the dependency store inside a published repository
	// directory.
	StoreFilename = ".dependency_db"
	// IndexFilename is the browsable module index beside the store.
	IndexFilename = "modules.json"
)

// ErrNotPublished is returned when a repository has no store for a protocol.
var ErrNotPublished = errors.New("repository not published")

const storeSchema = `CREATE TABLE deps (key TEXT PRIMARY KEY, value BLOB NOT NULL)`

// VersionRecord describes one published version of a module.
type VersionRecord struct {
	Version string `json:"version"`
	// File is the URL path the archive is served at.
	File    string `json:"file"`
	FileMD5 string `json:"file_md5"`
	// Dependencies are [name, version requirement] pairs as declared by the
	// module, never expanded.
	Dependencies [][2]string `json:"dependencies"`
}

// RepoDir is the published directory of a repository for one protocol.
func RepoDir(base, protocol, repoID string) string {
	return filepath.Join(base, protocol, repoID)
}

// StorePath is the store file of a repository for one protocol.
func StorePath(base, protocol, repoID string) string {
	return filepath.Join(RepoDir(base, protocol, repoID), StoreFilename)
}

// Store is a read-only handle on a published store.
type Store struct {
	db      *sql.DB
	path    string
	modTime time.Time
	size    int64
}

// Open opens the store at path for reading. A missing file yields
// ErrNotPublished.
func Open(ctx context.Context, path string) (*Store, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotPublished, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat dependency store %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening dependency store %s: %w", path, err)
	}
	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM deps LIMIT 1`).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		db.Close()
		return nil, fmt.Errorf("reading dependency store %s: %w", path, err)
	}
	return &Store{db: db, path: path, modTime: info.ModTime(), size: info.Size()}, nil
}

// Path returns the file the store was opened from.
func (s *Store) Path() string {
	return s.path
}

// ModTime returns the modification time of the store when it was opened.
// A publish always changes it.
func (s *Store) ModTime() time.Time {
	return s.modTime
}

// Size returns the size of the store file when it was opened.
func (s *Store) Size() int64 {
	return s.size
}

// Get returns the version records for an "author/name" key. ok is false when
// the store has no such module.
func (s *Store) Get(ctx context.Context, key string) (records []VersionRecord, ok bool, err error) {
	var value []byte
	err = s.db.QueryRowContext(ctx, `SELECT value FROM deps WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s from %s: %w", key, s.path, err)
	}
	if err := json.Unmarshal(value, &records); err != nil {
		return nil, false, fmt.Errorf("decoding %s from %s: %w", key, s.path, err)
	}
	return records, true, nil
}

// Keys lists every module key in the store.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM deps ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("listing keys of %s: %w", s.path, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("listing keys of %s: %w", s.path, err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// writeStore builds a store holding records and atomically replaces path
// with it.
func writeStore(ctx context.Context, path string, records map[string][]VersionRecord) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), StoreFilename+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary store: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	db, err := sql.Open("sqlite", tmpPath)
	if err != nil {
		return fmt.Errorf("opening temporary store: %w", err)
	}
	if err := fill(ctx, db, records); err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing temporary store: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing store %s: %w", path, err)
	}
	return nil
}

func fill(ctx context.Context, db *sql.DB, records map[string][]VersionRecord) error {
	if _, err := db.ExecContext(ctx, storeSchema); err != nil {
		return fmt.Errorf("creating store schema: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting store transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO deps (key, value) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing store insert: %w", err)
	}
	defer stmt.Close()
	for key, versions := range records {
		value, err := json.Marshal(versions)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		if _, err := stmt.ExecContext(ctx, key, value); err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing store: %w", err)
	}
	return nil
}
