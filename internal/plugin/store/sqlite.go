package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLite stores choices in a single-table SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS plugin_state (
		plugin_id TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create plugin_state table: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database path.
func (s *SQLite) Path() string { return s.path }

// Load implements Store.
func (s *SQLite) Load(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT plugin_id, enabled FROM plugin_state`)
	if err != nil {
		return nil, fmt.Errorf("select plugin_state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	state := make(map[string]bool)
	for rows.Next() {
		var (
			id      string
			enabled bool
		)
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		state[id] = enabled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plugin_state: %w", err)
	}
	return state, nil
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugin_state (plugin_id, enabled) VALUES (?, ?)
		 ON CONFLICT(plugin_id) DO UPDATE SET enabled = excluded.enabled`,
		id, enabled)
	if err != nil {
		return fmt.Errorf("upsert plugin_state: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM plugin_state WHERE plugin_id = ?`, id); err != nil {
		return fmt.Errorf("delete plugin_state: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
