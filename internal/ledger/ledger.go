// Package ledger records one row per capture iteration in a local SQLite
// database so the status server can list recent captures.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// Entry is one capture iteration.
type Entry struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Index          int64     `json:"index"`
	CapturedAt     time.Time `json:"captured_at"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Bytes          int       `json:"bytes"`
	Quality        int       `json:"quality"`
	MetCeiling     bool      `json:"met_ceiling"`
	Hash           string    `json:"hash,omitempty"`
	ArchivePath    string    `json:"archive_path,omitempty"`
	LocationStatus string    `json:"location_status,omitempty"`
	Delivered      bool      `json:"delivered"`
	Error          string    `json:"error,omitempty"`
}

// Store wraps the captures table.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir: %w", err)
	}
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS captures(
	  id              TEXT    PRIMARY KEY,
	  session_id      TEXT    NOT NULL,
	  idx             INTEGER NOT NULL,
	  captured_at     INTEGER NOT NULL,
	  width           INTEGER NOT NULL,
	  height          INTEGER NOT NULL,
	  bytes           INTEGER NOT NULL,
	  quality         INTEGER NOT NULL,
	  met_ceiling     INTEGER NOT NULL,
	  hash            TEXT,
	  archive_path    TEXT,
	  location_status TEXT,
	  delivered       INTEGER NOT NULL,
	  error           TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_captures_session ON captures(session_id, idx);
	CREATE INDEX IF NOT EXISTS idx_captures_time    ON captures(captured_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create ledger tables: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts e.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" || e.SessionID == "" {
		return fmt.Errorf("ledger entry needs id and session id")
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO captures(id, session_id, idx, captured_at, width, height, bytes, quality,
	  met_ceiling, hash, archive_path, location_status, delivered, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Index, e.CapturedAt.UnixNano(), e.Width, e.Height, e.Bytes, e.Quality,
		e.MetCeiling, e.Hash, e.ArchivePath, e.LocationStatus, e.Delivered, e.Error)
	if err != nil {
		return fmt.Errorf("failed to record capture %d: %w", e.Index, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, session_id, idx, captured_at, width, height, bytes, quality,
	  met_ceiling, hash, archive_path, location_status, delivered, error
	FROM captures ORDER BY captured_at DESC, idx DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query captures: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			nanos  int64
			hash   sql.NullString
			path   sql.NullString
			loc    sql.NullString
			errStr sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Index, &nanos, &e.Width, &e.Height, &e.Bytes, &e.Quality,
			&e.MetCeiling, &hash, &path, &loc, &e.Delivered, &errStr); err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		e.CapturedAt = time.Unix(0, nanos)
		e.Hash, e.ArchivePath, e.LocationStatus, e.Error = hash.String, path.String, loc.String, errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of entries for session, or all entries when
// session is empty.
func (s *Store) Count(ctx context.Context, session string) (int64, error) {
	var (
		n   int64
		err error
	)
	if session == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures WHERE session_id = ?`, session).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count captures: %w", err)
	}
	return n, nil
}
