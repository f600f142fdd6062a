package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/wippyai/wasm-space/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	address    TEXT NOT NULL,
	version    TEXT NOT NULL,
	digest     TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (address, version)
);

CREATE TABLE IF NOT EXISTS journal (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	command    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
`

// SQLite stores artifacts and the command journal in one SQLite database.
// It implements both Artifacts and Journal.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for a
// private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Store("open database", err)
	}
	if path == ":memory:" {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Store("set pragma", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Store("create schema", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// Path returns the database location.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Get(ctx context.Context, key, version string) ([]byte, error) {
	var data []byte
	var digest string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, digest FROM artifacts WHERE address = ? AND version = ?`,
		key, version,
	).Scan(&data, &digest)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(errors.PhaseStore, key, "version "+version+" not published")
	}
	if err != nil {
		return nil, errors.Store("get artifact", err)
	}
	if sum := digestOf(data); sum != digest {
		return nil, errors.Store("get artifact", fmt.Errorf("digest mismatch for %s@%s", key, version))
	}
	return data, nil
}

func (s *SQLite) Put(ctx context.Context, key, version string, data []byte) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (address, version, digest, data, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (address, version) DO NOTHING`,
		key, version, digestOf(data), data, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return errors.Store("put artifact", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Store("put artifact", err)
	}
	if n == 0 {
		return errors.DuplicateVersion(key, version)
	}
	return nil
}

func (s *SQLite) Versions(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM artifacts WHERE address = ?`, key)
	if err != nil {
		return nil, errors.Store("list versions", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Store("scan version", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Store("list versions", err)
	}
	SortVersions(out)
	return out, nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE address = ?`, key); err != nil {
		return errors.Store("delete artifacts", err)
	}
	return nil
}

// Append records a command in the journal.
func (s *SQLite) Append(ctx context.Context, command []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (command, created_at) VALUES (?, ?)`,
		command, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return errors.Store("append journal", err)
	}
	return nil
}

// Entries returns the journal in append order.
func (s *SQLite) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, command, created_at FROM journal ORDER BY seq`)
	if err != nil {
		return nil, errors.Store("read journal", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.Seq, &e.Command, &at); err != nil {
			return nil, errors.Store("scan journal", err)
		}
		e.At = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Store("read journal", err)
	}
	return out, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
