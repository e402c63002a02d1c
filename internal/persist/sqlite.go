package persist

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/crystaldolphin/memshard/internal/ranges"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ranges (
	chat_key        TEXT    NOT NULL,
	seq             INTEGER NOT NULL,
	start_idx       INTEGER NOT NULL,
	end_idx         INTEGER NOT NULL,
	hidden          INTEGER,
	ignore_collapse INTEGER NOT NULL DEFAULT 0,
	ignore_names    TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (chat_key, seq)
);`

// SQLiteStore keeps the ranges of every chat in one SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("persist: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open database: %w", err)
	}
	// One writer keeps transactions from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("persist: pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: migration: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// ForChat returns the persistence for chat key.
func (s *SQLiteStore) ForChat(key string) ranges.Persistence {
	return &chatRows{db: s.db, key: key}
}

// Chats lists every chat key with at least one stored range.
func (s *SQLiteStore) Chats() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT chat_key FROM ranges ORDER BY chat_key`)
	if err != nil {
		return nil, fmt.Errorf("persist: list chats: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("persist: scan chat: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

type chatRows struct {
	db  *sql.DB
	key string
}

func (c *chatRows) Ranges() ([]ranges.Range, error) {
	rows, err := c.db.Query(`
		SELECT start_idx, end_idx, hidden, ignore_collapse, ignore_names
		FROM ranges WHERE chat_key = ? ORDER BY seq`, c.key)
	if err != nil {
		return nil, fmt.Errorf("persist: query ranges: %w", err)
	}
	defer rows.Close()

	var out []ranges.Range
	for rows.Next() {
		var (
			r        ranges.Range
			hidden   sql.NullBool
			collapse bool
			names    string
		)
		if err := rows.Scan(&r.Start, &r.End, &hidden, &collapse, &names); err != nil {
			return nil, fmt.Errorf("persist: scan range: %w", err)
		}
		if hidden.Valid {
			r.Hidden = ranges.Bool(hidden.Bool)
		}
		r.IgnoreCollapse = collapse
		r.IgnoreNames = ranges.ParseNames(names)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *chatRows) SaveRanges(rs []ranges.Range) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("persist: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM ranges WHERE chat_key = ?`, c.key); err != nil {
		return fmt.Errorf("persist: clear ranges: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO ranges (chat_key, seq, start_idx, end_idx, hidden, ignore_collapse, ignore_names)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("persist: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rs {
		var hidden sql.NullBool
		if r.Hidden != nil {
			hidden = sql.NullBool{Bool: *r.Hidden, Valid: true}
		}
		_, err := stmt.Exec(c.key, i, r.Start, r.End, hidden, r.IgnoreCollapse, strings.Join(r.IgnoreNames, ","))
		if err != nil {
			return fmt.Errorf("persist: insert range %d: %w", i, err)
		}
	}
	return tx.Commit()
}
